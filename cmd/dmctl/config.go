package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/session"
)

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage dmsync configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		shown := *cfg
		if shown.Token != "" {
			shown.Token = "***"
		}
		if jsonFlag {
			return outputJSON(shown)
		}
		fmt.Printf("# %s\n", configPath())
		if _, ok := os.LookupEnv(config.TokenEnv); ok {
			fmt.Printf("# token overridden by %s\n", config.TokenEnv)
		}
		return toml.NewEncoder(os.Stdout).Encode(shown)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.MkdirAll(session.BaseDir(), 0o700); err != nil {
			return err
		}
		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Keys: default_session, server_url, api_url, user_id, token,\n" +
		"resync_on_connect, reconnect.base, reconnect.max, reconnect.max_attempts,\n" +
		"typing.debounce, typing.ttl, log.level, archive.enabled.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setKey(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := os.MkdirAll(session.BaseDir(), 0o700); err != nil {
			return err
		}
		return config.Save(configPath(), cfg)
	},
}

func setKey(cfg *config.Config, key, value string) error {
	switch key {
	case "default_session":
		if err := session.ValidateName(value); err != nil {
			return err
		}
		cfg.DefaultSession = value
	case "server_url":
		cfg.ServerURL = value
	case "api_url":
		cfg.APIURL = value
	case "user_id":
		cfg.UserID = value
	case "token":
		cfg.Token = value
	case "resync_on_connect":
		return setBool(&cfg.ResyncOnConnect, value)
	case "archive.enabled":
		return setBool(&cfg.Archive.Enabled, value)
	case "reconnect.base":
		return setDuration(&cfg.Reconnect.Base, value)
	case "reconnect.max":
		return setDuration(&cfg.Reconnect.Max, value)
	case "reconnect.max_attempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.Reconnect.MaxAttempts = n
	case "typing.debounce":
		return setDuration(&cfg.Typing.Debounce, value)
	case "typing.ttl":
		return setDuration(&cfg.Typing.TTL, value)
	case "log.level":
		cfg.Log.Level = value
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func setBool(dst *bool, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setDuration(dst *config.Duration, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	dst.Duration = d
	return nil
}
