package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/dmsync/internal/archive"
	"github.com/matheus3301/dmsync/internal/rpc"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/store"
)

var (
	limitFlag   int
	offlineFlag bool
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(messagesCmd)
	for _, c := range []*cobra.Command{conversationsCmd, messagesCmd} {
		c.Flags().IntVarP(&limitFlag, "limit", "n", 20, "maximum entries to show (0 for all)")
		c.Flags().BoolVar(&offlineFlag, "offline", false, "read the session archive instead of the running client")
	}
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if offlineFlag {
			return withArchive(func(db *archive.DB) error {
				convs, err := db.ListConversations(limitFlag)
				if err != nil {
					return err
				}
				out := make([]rpc.Conversation, 0, len(convs))
				for _, c := range convs {
					out = append(out, rpc.ConversationFrom(c))
				}
				return printConversations(out)
			})
		}
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.ListConversations(ctx, limitFlag)
			if err != nil {
				return err
			}
			return printConversations(resp.Conversations)
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show the tail of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if offlineFlag {
			return withArchive(func(db *archive.DB) error {
				msgs, err := db.ListMessages(args[0], limitFlag)
				if err != nil {
					return err
				}
				out := make([]rpc.Message, 0, len(msgs))
				for _, m := range msgs {
					out = append(out, rpc.MessageFrom(m))
				}
				return printMessages(out)
			})
		}
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.ListMessages(ctx, args[0], limitFlag)
			if err != nil {
				return err
			}
			return printMessages(resp.Messages)
		})
	},
}

func withArchive(fn func(db *archive.DB) error) error {
	name, err := sessionName()
	if err != nil {
		return err
	}
	db, err := archive.Open(session.ArchivePath(name))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		return err
	}
	return fn(db)
}

func printConversations(convs []rpc.Conversation) error {
	if jsonFlag {
		return outputJSON(convs)
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, c := range convs {
		flags := ""
		if c.Online {
			flags += "●"
		}
		if c.Typing {
			flags += " typing…"
		}
		unread := ""
		if c.Unread > 0 {
			unread = fmt.Sprintf("(%d)", c.Unread)
		}
		fmt.Printf("%-24s %-20s %-5s %-16s %s %s\n",
			c.ID,
			valueOrDefault(c.CounterpartName, c.CounterpartID),
			unread,
			stamp(c.LastMessageAt),
			c.LastMessage,
			flags,
		)
	}
	return nil
}

func printMessages(msgs []rpc.Message) error {
	if jsonFlag {
		return outputJSON(msgs)
	}
	for _, m := range msgs {
		body := m.Text
		if m.Kind != string(store.KindText) {
			body = fmt.Sprintf("[%s] %s", m.Kind, valueOrDefault(m.URL, m.Text))
		}
		pending := ""
		if m.Provisional {
			pending = " (sending)"
		}
		fmt.Printf("%s  %-16s %s  [%s]%s\n", stamp(m.Timestamp), m.From, body, m.Status, pending)
	}
	return nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
