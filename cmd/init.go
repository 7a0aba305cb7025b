package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phylaxsystems/credible-backtest/backtesting/config"
	"github.com/phylaxsystems/credible-backtest/cmd/exitcodes"
	"github.com/phylaxsystems/credible-backtest/logging/colors"
)

// initCmd represents the command provider for initializing a new run configuration file
var initCmd = &cobra.Command{
	Use:           "init",
	Short:         "Initializes a backtest configuration file",
	Long:          `Initializes a backtest configuration file with default values for editing`,
	Args:          cmdValidateInitArgs,
	RunE:          cmdRunInit,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	initCmd.Flags().String("out", "", "output path for the initialized config file")
	rootCmd.AddCommand(initCmd)
}

// cmdValidateInitArgs makes sure that there are no positional arguments provided to the init command
func cmdValidateInitArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		err = fmt.Errorf("init does not accept any positional arguments, only flags and their associated values")
		cmdLogger.Error("Failed to validate args to the init command", err)
		return err
	}
	return nil
}

// cmdRunInit writes a default configuration file for the user to edit. An existing file is never overwritten.
func cmdRunInit(cmd *cobra.Command, args []string) error {
	outputPath, err := cmd.Flags().GetString("out")
	if err != nil {
		cmdLogger.Error("Failed to run the init command", err)
		return err
	}
	if outputPath == "" {
		workingDirectory, err := os.Getwd()
		if err != nil {
			cmdLogger.Error("Failed to run the init command", err)
			return err
		}
		outputPath = filepath.Join(workingDirectory, DefaultBacktestConfigFilename)
	}

	if _, err = os.Stat(outputPath); err == nil {
		err = fmt.Errorf("a config file already exists at %s", outputPath)
		cmdLogger.Error("Failed to run the init command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	if err = config.GetDefaultBacktestConfig().WriteToFile(outputPath); err != nil {
		cmdLogger.Error("Failed to run the init command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	cmdLogger.Info("Initialized a config file at: ", colors.Bold, outputPath, colors.Reset)
	cmdLogger.Info("Fill in the target contract, endpoints, block range and assertion material before running a backtest")
	return nil
}
