package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matheus3301/dmsync/internal/rpc"
)

var convFlag bool

func init() {
	sendCmd.Flags().BoolVarP(&convFlag, "conversation", "c", false, "treat the first argument as a conversation id")
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <user-id> <text...>",
	Short: "Send a text message",
	Long:  "Send a text message. It shows up immediately as pending and is confirmed when the server echoes it.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.SendRequest{Text: strings.Join(args[1:], " ")}
		if convFlag {
			req.ConversationID = args[0]
		} else {
			req.To = args[0]
		}
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.Send(ctx, req)
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			fmt.Printf("queued %s in %s\n", resp.Message.ID, resp.Message.ConversationID)
			return nil
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Make a conversation the open one",
	Long:  "Make a conversation the open one. Its messages are loaded once and incoming messages are marked read.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.Open(ctx, args[0])
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			conv := resp.Conversation
			fmt.Printf("opened %s with %s\n", conv.ID, valueOrDefault(conv.CounterpartName, conv.CounterpartID))
			return nil
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the open conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			return c.CloseConversation(ctx)
		})
	},
}
