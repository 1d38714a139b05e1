package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/hookrelay/internal/audit"
	"github.com/luckyPipewrench/hookrelay/internal/channel"
	"github.com/luckyPipewrench/hookrelay/internal/config"
	"github.com/luckyPipewrench/hookrelay/internal/dispatch"
	"github.com/luckyPipewrench/hookrelay/internal/metrics"
	"github.com/luckyPipewrench/hookrelay/internal/server"
	"github.com/luckyPipewrench/hookrelay/internal/sink"
)

func serveCmd() *cobra.Command {
	var configFile string
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Hookrelay intake server",
		Long: `Start the HTTP server that accepts webhook events and fans them out
to the configured sinks and notification channels.

Without --config, configuration is taken from environment variables
(SLACK_WEBHOOK_URL, SHEET_ID, GOOGLE_CREDENTIALS_JSON, and friends),
matching a bare container deployment.

Examples:
  hookrelay serve
  hookrelay serve --config hookrelay.yaml
  hookrelay serve --listen 0.0.0.0:8787`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *config.Config
			var err error

			if configFile != "" {
				cfg, err = config.Load(configFile)
			} else {
				cfg, err = config.FromEnv()
			}
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid config: %w", err)
				}
			}

			logger, err := audit.New(
				cfg.Logging.Format,
				cfg.Logging.Output,
				cfg.Logging.File,
				cfg.IncludeAccepted(),
			)
			if err != nil {
				return fmt.Errorf("creating audit logger: %w", err)
			}
			defer logger.Close()

			if cfg.SentryDSN != "" {
				if err := sentry.Init(sentry.ClientOptions{
					Dsn:     cfg.SentryDSN,
					Release: "hookrelay@" + Version,
				}); err != nil {
					return fmt.Errorf("initializing sentry: %w", err)
				}
				defer sentry.Flush(2 * time.Second)
			}

			ctx, cancel := signal.NotifyContext(
				context.Background(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer cancel()

			m := metrics.New()
			sinks := buildSinks(ctx, cfg, logger, m)
			defer func() {
				for _, s := range sinks {
					_ = s.Close()
				}
			}()
			channels := buildChannels(cfg)

			d := dispatch.New(sinks, channels, logger, m)
			srv := server.New(cfg, d, logger, m)

			fmt.Fprintf(os.Stderr, "Hookrelay v%s starting\n", Version)
			fmt.Fprintf(os.Stderr, "  Listen:  %s\n", cfg.Listen)
			fmt.Fprintf(os.Stderr, "  Webhook: http://%s/webhook\n", cfg.Listen)
			fmt.Fprintf(os.Stderr, "  Relay:   http://%s/relay\n", cfg.Listen)
			fmt.Fprintf(os.Stderr, "  Health:  http://%s/health\n", cfg.Listen)
			fmt.Fprintf(os.Stderr, "  Stats:   http://%s/stats\n", cfg.Listen)
			printCapabilities(os.Stderr, cfg)

			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}

			fmt.Fprintln(os.Stderr, "\nHookrelay stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&listen, "listen", "l", config.DefaultListen, "listen address")

	return cmd
}

// buildSinks resolves the configured sink set. Every known sink is
// always present so unconfigured ones show up as skipped outcomes; a
// sink whose initialization fails degrades to unconfigured rather than
// aborting startup.
func buildSinks(ctx context.Context, cfg *config.Config, logger *audit.Logger, m *metrics.Metrics) []sink.Sink {
	sinks := make([]sink.Sink, 0, 3)

	if cfg.FileSinkEnabled() {
		sinks = append(sinks, sink.NewFile(cfg.FileSink.Path, cfg.FileSink.MaxBytes, logger, m))
	} else {
		sinks = append(sinks, sink.Disabled("file"))
	}

	if cfg.SheetsConfigured() {
		sinks = append(sinks, buildSheetsSink(ctx, cfg, logger))
	} else {
		sinks = append(sinks, sink.Disabled("sheets"))
	}

	if cfg.SQLiteConfigured() {
		db, err := sink.NewSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			logger.LogSinkError("sqlite", "startup", err)
			sinks = append(sinks, sink.Disabled("sqlite"))
		} else {
			sinks = append(sinks, db)
		}
	} else {
		sinks = append(sinks, sink.Disabled("sqlite"))
	}

	return sinks
}

func buildSheetsSink(ctx context.Context, cfg *config.Config, logger *audit.Logger) sink.Sink {
	creds, err := cfg.SheetsCredentials()
	if err != nil {
		logger.LogSinkError("sheets", "startup", err)
		return sink.Disabled("sheets")
	}
	s, err := sink.NewSheets(ctx, cfg.Sheets.SpreadsheetID, cfg.Sheets.Worksheet, creds)
	if err != nil {
		logger.LogSinkError("sheets", "startup", err)
		return sink.Disabled("sheets")
	}
	return s
}

// buildChannels resolves the configured channel set. Like sinks, every
// known channel is always present.
func buildChannels(cfg *config.Config) []channel.Channel {
	channels := make([]channel.Channel, 0, 3)

	if cfg.SlackConfigured() {
		channels = append(channels, channel.NewSlack(cfg.Channels.Slack.WebhookURL))
	} else {
		channels = append(channels, channel.Disabled("slack"))
	}

	if cfg.DiscordConfigured() {
		channels = append(channels, channel.NewDiscord(cfg.Channels.Discord.WebhookURL))
	} else {
		channels = append(channels, channel.Disabled("discord"))
	}

	if cfg.TelegramConfigured() {
		channels = append(channels, channel.NewTelegram(cfg.Channels.Telegram.BotToken, cfg.Channels.Telegram.ChatID))
	} else {
		channels = append(channels, channel.Disabled("telegram"))
	}

	return channels
}

func printCapabilities(w *os.File, cfg *config.Config) {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	fmt.Fprintf(w, "  Sinks:    file=%s sheets=%s sqlite=%s\n",
		onOff(cfg.FileSinkEnabled()), onOff(cfg.SheetsConfigured()), onOff(cfg.SQLiteConfigured()))
	fmt.Fprintf(w, "  Channels: slack=%s discord=%s telegram=%s\n",
		onOff(cfg.SlackConfigured()), onOff(cfg.DiscordConfigured()), onOff(cfg.TelegramConfigured()))
}
