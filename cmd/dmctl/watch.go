package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/dmsync/internal/rpc"
	"github.com/matheus3301/dmsync/internal/session"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [namespace]",
	Short: "Stream change notifications",
	Long:  "Stream change notifications until interrupted. A namespace such as \"store\" or \"status\" filters by kind prefix.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace := ""
		if len(args) == 1 {
			namespace = args[0]
		}
		name, err := sessionName()
		if err != nil {
			return err
		}
		c, err := rpc.Dial(session.SocketPath(name))
		if err != nil {
			return fmt.Errorf("cannot connect to dmd for session %q: %w", name, err)
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stream, err := c.Watch(ctx, namespace)
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		for {
			ev, err := stream.Recv()
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			if jsonFlag {
				if err := outputJSON(ev); err != nil {
					return err
				}
				continue
			}
			printEvent(ev)
		}
	},
}

func printEvent(ev *rpc.Event) {
	line := fmt.Sprintf("%s %-22s", ev.Timestamp.Local().Format(time.TimeOnly), ev.Kind)
	if ev.Conversation != "" {
		line += " conv=" + ev.Conversation
	}
	if ev.From != "" || ev.To != "" {
		line += fmt.Sprintf(" %s -> %s", ev.From, ev.To)
	}
	if ev.Detail != "" {
		line += " " + ev.Detail
	}
	fmt.Println(line)
}
