// Package cli implements the Hookrelay command-line interface using cobra.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hookrelay",
		Short: "Webhook intake relay",
		Long: `Hookrelay accepts event notifications over HTTP and fans each one out
to every configured sink (local CSV file, Google Sheets, SQLite) and
notification channel (Slack, Discord, Telegram), best effort.

Targets are independent: a sink or channel that is down or unconfigured
never blocks the others, and the sender still gets a success response
with per-target outcomes.

Quick start:
  hookrelay serve
  hookrelay serve --config hookrelay.yaml
  hookrelay check --config hookrelay.yaml`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		serveCmd(),
		checkCmd(),
		healthcheckCmd(),
		versionCmd(),
	)

	return cmd
}
