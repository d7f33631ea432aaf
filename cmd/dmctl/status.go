package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/rpc"
	"github.com/matheus3301/dmsync/internal/session"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection status of the session",
	Long:  "Show the live channel status, or who holds the session when the control socket does not answer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			fmt.Printf("Session:       %s\n", resp.Session)
			fmt.Printf("User:          %s\n", resp.UserID)
			fmt.Printf("Status:        %s (since %s)\n", resp.Status, resp.Since.Format(time.RFC3339))
			fmt.Printf("Uptime:        %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
			fmt.Printf("Conversations: %d\n", resp.Conversations)
			fmt.Printf("Open:          %s\n", valueOrDefault(resp.Active, "(none)"))
			fmt.Printf("Online:        %s\n", valueOrDefault(strings.Join(resp.Online, ", "), "(nobody)"))
			if resp.DroppedEvents > 0 {
				fmt.Printf("Dropped events: %d\n", resp.DroppedEvents)
			}
			return nil
		})
		if err == nil {
			return nil
		}

		name, nameErr := sessionName()
		if nameErr != nil {
			return err
		}
		owner, held, lockErr := lock.Holder(session.LockPath(name))
		if lockErr != nil || !held {
			return fmt.Errorf("session %q is not running: %w", name, err)
		}
		return fmt.Errorf("session %q is held by PID %d but not answering: %w", name, owner.PID, err)
	},
}
