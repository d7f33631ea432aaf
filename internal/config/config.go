package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string ("800ms", "30s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.dmsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// ServerURL is the live channel endpoint (ws:// or wss://).
	ServerURL string `toml:"server_url"`
	// APIURL is the REST base for snapshot reads.
	APIURL string `toml:"api_url"`
	UserID string `toml:"user_id"`
	// Token is the bearer credential. DMSYNC_TOKEN overrides it.
	Token string `toml:"token"`

	ResyncOnConnect bool `toml:"resync_on_connect"`

	Reconnect Reconnect `toml:"reconnect"`
	Typing    Typing    `toml:"typing"`
	Log       Log       `toml:"log"`
	Archive   Archive   `toml:"archive"`
}

type Reconnect struct {
	Base        Duration `toml:"base"`
	Max         Duration `toml:"max"`
	MaxAttempts int      `toml:"max_attempts"` // 0 retries forever
}

type Typing struct {
	// Debounce is the idle window after the last keystroke before stop_typing.
	Debounce Duration `toml:"debounce"`
	// TTL expires a counterpart's indicator when no stop arrives.
	TTL Duration `toml:"ttl"`
}

type Log struct {
	Level string `toml:"level"`
}

type Archive struct {
	Enabled bool `toml:"enabled"`
}

// TokenEnv names the environment variable that overrides Config.Token.
const TokenEnv = "DMSYNC_TOKEN"

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ServerURL:       "ws://localhost:4002/ws",
		APIURL:          "http://localhost:4002/api",
		ResyncOnConnect: true,
		Reconnect: Reconnect{
			Base: Duration{time.Second},
			Max:  Duration{30 * time.Second},
		},
		Typing: Typing{
			Debounce: Duration{800 * time.Millisecond},
			TTL:      Duration{5 * time.Second},
		},
		Log:     Log{Level: "info"},
		Archive: Archive{Enabled: true},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Credential returns the bearer token, preferring the environment.
func (c *Config) Credential() string {
	if tok := os.Getenv(TokenEnv); tok != "" {
		return tok
	}
	return c.Token
}

// Validate reports the first setting a client cannot run with.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return errors.New("user_id is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("server_url %q: want ws:// or wss:// URL", c.ServerURL)
	}
	u, err = url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url %q: want http:// or https:// URL", c.APIURL)
	}
	if c.Reconnect.Base.Duration <= 0 || c.Reconnect.Max.Duration < c.Reconnect.Base.Duration {
		return fmt.Errorf("reconnect: base %s must be positive and not exceed max %s", c.Reconnect.Base, c.Reconnect.Max)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must not be negative")
	}
	if c.Typing.Debounce.Duration <= 0 || c.Typing.TTL.Duration <= 0 {
		return errors.New("typing durations must be positive")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level)
	}
	return nil
}
