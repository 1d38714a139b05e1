// Package config handles loading, validating, and defaulting Hookrelay
// configuration. Configuration is resolved once at process start and
// treated as read-only afterwards.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Output/format constants for configuration defaults.
const (
	DefaultListen    = "127.0.0.1:8787"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"
	DefaultWorksheet = "Sheet1"
	DefaultFilePath  = "events.csv"
	OutputFile       = "file"
	OutputBoth       = "both"
)

// Config is the top-level Hookrelay configuration.
type Config struct {
	Version   int      `yaml:"version"`
	Listen    string   `yaml:"listen"`
	Sheets    Sheets   `yaml:"sheets"`
	FileSink  FileSink `yaml:"file_sink"`
	SQLite    SQLite   `yaml:"sqlite"`
	Channels  Channels `yaml:"channels"`
	Logging   Logging  `yaml:"logging"`
	Limits    Limits   `yaml:"limits"`
	SentryDSN string   `yaml:"sentry_dsn"`
}

// Sheets configures the remote tabular sink. The capability is enabled
// only when a spreadsheet id and one credential source are present.
type Sheets struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	Worksheet       string `yaml:"worksheet"`
	CredentialsFile string `yaml:"credentials_file"`
	CredentialsJSON string `yaml:"credentials_json"` // usually injected via GOOGLE_CREDENTIALS_JSON
}

// FileSink configures the local rotating CSV sink. It is on by default;
// every dispatch leaves a durable local trace unless explicitly disabled.
type FileSink struct {
	Enabled  *bool  `yaml:"enabled"` // nil = true (default)
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// SQLite configures the optional local database sink. Empty path
// disables it.
type SQLite struct {
	Path string `yaml:"path"`
}

// Channels configures the outbound notification targets. Each is
// independently optional; absence disables exactly that channel.
type Channels struct {
	Slack    Slack    `yaml:"slack"`
	Discord  Discord  `yaml:"discord"`
	Telegram Telegram `yaml:"telegram"`
}

// Slack holds the incoming-webhook URL.
type Slack struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Discord holds the webhook URL.
type Discord struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Telegram holds the Bot API token and destination chat.
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Logging configures structured audit logging.
type Logging struct {
	Format          string `yaml:"format"` // json, text
	Output          string `yaml:"output"` // stdout, file, both
	File            string `yaml:"file"`
	IncludeAccepted *bool  `yaml:"include_accepted"` // nil = true (default)
}

// Limits configures intake rate limiting. Zero disables it.
type Limits struct {
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute"`
}

// FileSinkEnabled reports whether the local file sink is on.
// Defaults to true when Enabled is nil (not set in config).
func (c *Config) FileSinkEnabled() bool {
	return c.FileSink.Enabled == nil || *c.FileSink.Enabled
}

// IncludeAccepted reports whether accepted dispatches are logged.
// Defaults to true when not set in config.
func (c *Config) IncludeAccepted() bool {
	return c.Logging.IncludeAccepted == nil || *c.Logging.IncludeAccepted
}

// SheetsConfigured reports whether the remote tabular sink has what it
// needs: a spreadsheet id plus a credential blob or file path.
func (c *Config) SheetsConfigured() bool {
	return c.Sheets.SpreadsheetID != "" &&
		(c.Sheets.CredentialsJSON != "" || c.Sheets.CredentialsFile != "")
}

// SQLiteConfigured reports whether the database sink has a path.
func (c *Config) SQLiteConfigured() bool {
	return c.SQLite.Path != ""
}

// SlackConfigured reports whether the Slack channel has a webhook URL.
func (c *Config) SlackConfigured() bool {
	return c.Channels.Slack.WebhookURL != ""
}

// DiscordConfigured reports whether the Discord channel has a webhook URL.
func (c *Config) DiscordConfigured() bool {
	return c.Channels.Discord.WebhookURL != ""
}

// TelegramConfigured reports whether the Telegram channel has both a
// bot token and a chat id.
func (c *Config) TelegramConfigured() bool {
	return c.Channels.Telegram.BotToken != "" && c.Channels.Telegram.ChatID != ""
}

// SheetsCredentials resolves the service-account credential blob:
// inline JSON wins, otherwise the file is read.
func (c *Config) SheetsCredentials() ([]byte, error) {
	if c.Sheets.CredentialsJSON != "" {
		return []byte(c.Sheets.CredentialsJSON), nil
	}
	data, err := os.ReadFile(c.Sheets.CredentialsFile) //nolint:gosec // G304: path from operator config
	if err != nil {
		return nil, fmt.Errorf("reading credentials file %s: %w", c.Sheets.CredentialsFile, err)
	}
	return data, nil
}

// Load reads, parses, defaults, and validates a Hookrelay config file,
// then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	cfg.ApplyDefaults()

	// Resolve relative credentials path relative to config file directory.
	if cfg.Sheets.CredentialsFile != "" && !filepath.IsAbs(cfg.Sheets.CredentialsFile) {
		cfg.Sheets.CredentialsFile = filepath.Join(filepath.Dir(path), cfg.Sheets.CredentialsFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a config from defaults plus environment overrides.
// Used when no config file is given.
func FromEnv() (*Config, error) {
	cfg := Defaults()
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides config fields from environment variables. The
// variable names match the original deployment so existing setups keep
// working.
func (c *Config) ApplyEnv() {
	setIfEnv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setIfEnv(&c.Listen, "HOOKRELAY_LISTEN")
	setIfEnv(&c.Sheets.SpreadsheetID, "SHEET_ID")
	setIfEnv(&c.Sheets.Worksheet, "SHEET_NAME")
	setIfEnv(&c.Sheets.CredentialsJSON, "GOOGLE_CREDENTIALS_JSON")
	setIfEnv(&c.Sheets.CredentialsFile, "CREDENTIALS_FILE")
	setIfEnv(&c.Channels.Slack.WebhookURL, "SLACK_WEBHOOK_URL")
	setIfEnv(&c.Channels.Discord.WebhookURL, "DISCORD_WEBHOOK_URL")
	setIfEnv(&c.Channels.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setIfEnv(&c.Channels.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setIfEnv(&c.SentryDSN, "SENTRY_DSN")
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Sheets.Worksheet == "" {
		c.Sheets.Worksheet = DefaultWorksheet
	}
	if c.FileSink.Path == "" {
		c.FileSink.Path = DefaultFilePath
	}
	if c.FileSink.MaxBytes <= 0 {
		c.FileSink.MaxBytes = 1 << 20 // 1 MiB
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
}

// Validate checks the config for errors. Must be called after ApplyDefaults.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}

	switch c.Logging.Format {
	case DefaultLogFormat, "text":
		// valid
	default:
		return fmt.Errorf("invalid logging format %q: must be json or text", c.Logging.Format)
	}

	switch c.Logging.Output {
	case DefaultLogOutput, OutputFile, OutputBoth:
		// valid
	default:
		return fmt.Errorf("invalid logging output %q: must be stdout, file, or both", c.Logging.Output)
	}

	if (c.Logging.Output == OutputFile || c.Logging.Output == OutputBoth) && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when output is %q", c.Logging.Output)
	}

	// Half-configured Telegram is a deployment mistake, not a disabled
	// capability.
	if (c.Channels.Telegram.BotToken == "") != (c.Channels.Telegram.ChatID == "") {
		return fmt.Errorf("telegram requires both bot_token and chat_id")
	}

	if c.Limits.MaxRequestsPerMinute < 0 {
		return fmt.Errorf("limits.max_requests_per_minute must not be negative")
	}

	if c.Sheets.CredentialsFile != "" {
		info, err := os.Stat(c.Sheets.CredentialsFile)
		if err != nil {
			return fmt.Errorf("credentials_file %q: %w", c.Sheets.CredentialsFile, err)
		}
		if info.Mode().Perm()&0o004 != 0 {
			return fmt.Errorf("credentials_file %q is world-readable (mode %04o): restrict to 0600", c.Sheets.CredentialsFile, info.Mode().Perm())
		}
	}

	return nil
}

// Defaults returns a Config with all capabilities disabled and
// standard listen/logging/file-sink settings.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Listen:  DefaultListen,
		Sheets: Sheets{
			Worksheet: DefaultWorksheet,
		},
		FileSink: FileSink{
			Path:     DefaultFilePath,
			MaxBytes: 1 << 20,
		},
		Logging: Logging{
			Format: DefaultLogFormat,
			Output: DefaultLogOutput,
		},
	}
}

// MaskSecret returns the first 10 characters of a secret followed by
// an ellipsis, for diagnostic output. Empty secrets stay empty.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) > 10 {
		r = r[:10]
	}
	return string(r) + "..."
}
