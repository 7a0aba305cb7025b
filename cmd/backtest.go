package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/net/context"

	"github.com/phylaxsystems/credible-backtest/backtesting"
	"github.com/phylaxsystems/credible-backtest/backtesting/config"
	"github.com/phylaxsystems/credible-backtest/cmd/exitcodes"
	"github.com/phylaxsystems/credible-backtest/logging"
	"github.com/phylaxsystems/credible-backtest/logging/colors"
)

// backtestCmd represents the command provider for backtest runs
var backtestCmd = &cobra.Command{
	Use:               "backtest",
	Short:             "Runs a backtest of an assertion over a historical block range",
	Long:              `Runs a backtest of an assertion over a historical block range`,
	Args:              cmdValidateBacktestArgs,
	ValidArgsFunction: cmdValidBacktestArgs,
	RunE:              cmdRunBacktest,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	// Add all the flags allowed for the backtest command
	addBacktestFlags()

	// Add the backtest command and its associated flags to the root command
	rootCmd.AddCommand(backtestCmd)
}

// cmdValidBacktestArgs will return which flags are valid for dynamic completion for the backtest command
func cmdValidBacktestArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	// Gather a list of flags that are available to be used in the current command but have not been used yet
	var unusedFlags []string
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			unusedFlags = append(unusedFlags, "--"+flag.Name)
		}
	})
	return unusedFlags, cobra.ShellCompDirectiveNoFileComp
}

// cmdValidateBacktestArgs makes sure that there are no positional arguments provided to the backtest command
func cmdValidateBacktestArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		err = fmt.Errorf("backtest does not accept any positional arguments, only flags and their associated values")
		cmdLogger.Error("Failed to validate args to the backtest command", err)
		return err
	}
	return nil
}

// loadBacktestConfig resolves the run configuration for a command: an explicit --config path must exist, the
// default backtest.json is used when present, and the built-in defaults apply otherwise. CLI flags override
// whatever the file provided.
func loadBacktestConfig(cmd *cobra.Command) (*config.BacktestConfig, error) {
	configFlagUsed := cmd.Flags().Changed("config")
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// If --config was not used, look for the default config file in the current work directory
	if !configFlagUsed {
		workingDirectory, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(workingDirectory, DefaultBacktestConfigFilename)
	}

	var backtestConfig *config.BacktestConfig
	_, existenceError := os.Stat(configPath)
	if existenceError == nil {
		cmdLogger.Info("Reading the configuration file at: ", colors.Bold, configPath, colors.Reset)
		backtestConfig, err = config.ReadBacktestConfigFromFile(configPath)
		if err != nil {
			return nil, err
		}
	} else if configFlagUsed {
		// An explicitly named config file must exist
		return nil, existenceError
	} else {
		backtestConfig = config.GetDefaultBacktestConfig()
	}

	// Update the configuration with whatever flags were set using the CLI
	if err = updateBacktestConfigWithFlags(cmd, backtestConfig); err != nil {
		return nil, err
	}
	return backtestConfig, nil
}

// setupGlobalLogging reconfigures the global logger to the run's log level and coloring preferences.
func setupGlobalLogging(cfg config.LoggingConfig) {
	if cfg.NoColor {
		// Route console output through an uncolored unstructured writer instead of the colorized console logger
		logging.GlobalLogger = logging.NewLogger(cfg.Level, false)
		logging.GlobalLogger.AddWriter(os.Stdout, logging.UNSTRUCTURED)
	} else {
		logging.GlobalLogger = logging.NewLogger(cfg.Level, true)
	}
}

// cmdRunBacktest executes the CLI backtest command: it resolves the run configuration, connects to the assertion
// executor, and runs the backtest to completion. A completed run that detected protocol violations exits with a
// dedicated exit code so CI gates can distinguish violations from harness errors.
func cmdRunBacktest(cmd *cobra.Command, args []string) error {
	backtestConfig, err := loadBacktestConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the backtest command", err)
		return err
	}
	if err = backtestConfig.Validate(); err != nil {
		cmdLogger.Error("Failed to run the backtest command", err)
		return err
	}
	setupGlobalLogging(backtestConfig.Logging)

	executor, err := backtesting.NewExecutorClient(backtestConfig.ExecutorURL, backtestConfig.Fetcher.ClientPoolSize)
	if err != nil {
		cmdLogger.Error("Failed to run the backtest command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer executor.Close()

	backtester, err := backtesting.NewBacktester(*backtestConfig, executor)
	if err != nil {
		cmdLogger.Error("Failed to run the backtest command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer backtester.Close()

	// Stop the run on keyboard interrupts
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		cancel()
	}()

	if err = backtester.Run(ctx); err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeBacktestError)
	}

	// A run that surfaced violations gets its own exit code
	if backtester.Results().HasProtocolViolations() {
		return exitcodes.NewErrorWithExitCode(nil, exitcodes.ExitCodeProtocolViolation)
	}
	return nil
}
