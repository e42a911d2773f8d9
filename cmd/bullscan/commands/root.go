package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	env     string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bullscan",
	Short: "A-share bull-stock screener",
	Long: `bullscan screens the A-share market for stocks whose weekly
chart resembles the buy point of past bull stocks.

Usage:
  go run ./cmd/bullscan [command]

Examples:
  go run ./cmd/bullscan train --roster config/bull_stocks.yaml
  go run ./cmd/bullscan scan --min-score 0.93 --limit 500
  go run ./cmd/bullscan buypoints 600519
  go run ./cmd/bullscan api`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("env") {
			_ = os.Setenv("ENV", env)
		}
		if verbose {
			_ = os.Setenv("LOG_LEVEL", "debug")
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&env, "env", "development", "environment (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
