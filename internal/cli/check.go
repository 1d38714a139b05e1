package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/hookrelay/internal/config"
)

func checkCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate config and show enabled capabilities",
		Long: `Validate a Hookrelay config file and print which sinks and channels
would be active with it.

Examples:
  hookrelay check --config hookrelay.yaml
  hookrelay check`,
		RunE: func(_ *cobra.Command, _ []string) error {
			var cfg *config.Config
			var err error

			if configFile != "" {
				cfg, err = config.Load(configFile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Config validation FAILED: %v\n", err)
					return err
				}
				fmt.Println("Config validation: OK")
			} else {
				cfg, err = config.FromEnv()
				if err != nil {
					fmt.Fprintf(os.Stderr, "Environment config FAILED: %v\n", err)
					return err
				}
				fmt.Println("Using environment config (no --config specified)")
			}

			fmt.Printf("  Listen:     %s\n", cfg.Listen)
			fmt.Printf("  File sink:  %s\n", describeFileSink(cfg))
			fmt.Printf("  Sheets:     %s\n", describeEnabled(cfg.SheetsConfigured()))
			fmt.Printf("  SQLite:     %s\n", describeEnabled(cfg.SQLiteConfigured()))
			fmt.Printf("  Slack:      %s\n", describeEnabled(cfg.SlackConfigured()))
			fmt.Printf("  Discord:    %s\n", describeEnabled(cfg.DiscordConfigured()))
			fmt.Printf("  Telegram:   %s\n", describeEnabled(cfg.TelegramConfigured()))
			if cfg.Limits.MaxRequestsPerMinute > 0 {
				fmt.Printf("  Rate limit: %d req/min per client\n", cfg.Limits.MaxRequestsPerMinute)
			} else {
				fmt.Println("  Rate limit: disabled")
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path to validate")

	return cmd
}

func describeFileSink(cfg *config.Config) string {
	if !cfg.FileSinkEnabled() {
		return "disabled"
	}
	return fmt.Sprintf("enabled (%s, rotate at %d bytes)", cfg.FileSink.Path, cfg.FileSink.MaxBytes)
}

func describeEnabled(on bool) string {
	if on {
		return "enabled"
	}
	return "not configured"
}
