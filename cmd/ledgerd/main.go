package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Leveraged position ledger and risk engine",
	Long: `ledgerd keeps per-customer accounts, orders, positions and an immutable
transaction log for leveraged CFD trading, gates new orders through a
pre-trade risk check and raises risk alerts as prices move.

Commands:
  serve    - run the HTTP API, price poller and alert dispatch
  replay   - recompute trading statistics from a SQLite journal
  version  - print the build version`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional YAML config file (environment variables take precedence)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
