package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/rpc"
	"github.com/matheus3301/dmsync/internal/session"
)

var (
	sessionFlag string
	configFlag  string
	jsonFlag    bool
	timeoutFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "dmctl",
	Short: "Control a running dmsync client",
	Long: "Command-line interface for dmsync.\n" +
		"Talks to the dmd process of a session over its control socket, or reads the session archive with --offline.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ~/.dmsync/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configPath() string {
	if configFlag != "" {
		return configFlag
	}
	return session.ConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// sessionName resolves and validates the session the command targets.
func sessionName() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	name := session.Resolve(sessionFlag, cfg)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// withClient dials the session's daemon and runs fn with a request context.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *rpc.Client) error) error {
	name, err := sessionName()
	if err != nil {
		return err
	}
	c, err := rpc.Dial(session.SocketPath(name))
	if err != nil {
		return fmt.Errorf("cannot connect to dmd for session %q: %w", name, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func valueOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
