package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/phylaxsystems/credible-backtest/logging"
)

// rootCmd is the root CLI command object which all other commands stem from.
var rootCmd = &cobra.Command{
	Use:   "credible-backtest",
	Short: "A backtesting harness for credible-layer assertions",
	Long:  "credible-backtest replays historical transactions against credible-layer assertions to validate them before deployment",
}

// cmdLogger is the logger that will be used for the cmd package.
var cmdLogger = logging.NewLogger(zerolog.InfoLevel, true)

// Execute provides an exportable function to invoke the CLI.
func Execute() error {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	return rootCmd.Execute()
}
