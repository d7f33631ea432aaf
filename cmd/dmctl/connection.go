package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matheus3301/dmsync/internal/rpc"
)

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(refreshCmd)
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open the live channel with the configured credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.Connect(ctx)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			fmt.Println(resp.Status)
			return nil
		})
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Close the live channel and stop reconnecting",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.Disconnect(ctx)
			if err != nil {
				return fmt.Errorf("disconnect: %w", err)
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			fmt.Println(resp.Status)
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refetch conversation summaries over REST",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.Refresh(ctx)
			if err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			fmt.Printf("%d conversations\n", resp.Conversations)
			return nil
		})
	},
}
