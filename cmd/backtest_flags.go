package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phylaxsystems/credible-backtest/backtesting/config"
)

// addBacktestFlags adds the various flags for the backtest command
func addBacktestFlags() {
	defaultConfig := config.GetDefaultBacktestConfig()

	// Prevent alphabetical sorting of usage message
	backtestCmd.Flags().SortFlags = false

	// Config file
	backtestCmd.Flags().String("config", "", "path to config file")

	// Run parameters
	backtestCmd.Flags().String("rpc-url", "", "JSON-RPC endpoint to fetch historical data from")
	backtestCmd.Flags().String("executor-url", "", "endpoint of the assertion executor")
	backtestCmd.Flags().String("target-contract", "", "address of the contract whose transactions are replayed")
	backtestCmd.Flags().Uint64("end-block", 0, "last block (inclusive) of the backtested range")
	backtestCmd.Flags().Uint64("block-range", 0, "number of blocks ending at --end-block to backtest")
	backtestCmd.Flags().Bool("fork-by-block", false,
		"fork at block boundaries instead of exact pre-transaction state (legacy, unsound for mid-block transactions)")

	// Assertion material
	backtestCmd.Flags().String("assertion-bytecode", "", "hex-encoded creation bytecode of the assertion contract")
	backtestCmd.Flags().String("constructor-args", "", "hex-encoded ABI encoding of the assertion's constructor arguments")
	backtestCmd.Flags().String("trigger-selector", "", "hex-encoded 4-byte selector the assertion's trigger is registered for")
	backtestCmd.Flags().String("trigger-signature", "",
		"canonical function signature to derive the trigger selector from (e.g. \"transfer(address,uint256)\")")

	// Fetcher tuning
	backtestCmd.Flags().Int("batch-size", 0,
		fmt.Sprintf("number of consecutive blocks fetched per batch (unless a config file is provided, default is %d)", defaultConfig.Fetcher.BatchSize))
	backtestCmd.Flags().Int("max-concurrent", 0,
		fmt.Sprintf("maximum in-flight block fetches within a batch (unless a config file is provided, default is %d)", defaultConfig.Fetcher.MaxConcurrent))
	backtestCmd.Flags().String("cache-dir", "",
		"directory path for the on-disk record cache (caching is disabled when empty)")

	// Output control
	backtestCmd.Flags().Bool("no-color", false, "disable colorized console output")
}

// updateBacktestConfigWithFlags will update the given backtestConfig with any CLI arguments that were provided to
// the backtest command
func updateBacktestConfigWithFlags(cmd *cobra.Command, backtestConfig *config.BacktestConfig) error {
	var err error

	// Update the RPC endpoint
	if cmd.Flags().Changed("rpc-url") {
		backtestConfig.RPCUrl, err = cmd.Flags().GetString("rpc-url")
		if err != nil {
			return err
		}
	}

	// Update the executor endpoint
	if cmd.Flags().Changed("executor-url") {
		backtestConfig.ExecutorURL, err = cmd.Flags().GetString("executor-url")
		if err != nil {
			return err
		}
	}

	// Update the target contract
	if cmd.Flags().Changed("target-contract") {
		backtestConfig.TargetContract, err = cmd.Flags().GetString("target-contract")
		if err != nil {
			return err
		}
	}

	// Update the block range
	if cmd.Flags().Changed("end-block") {
		backtestConfig.EndBlock, err = cmd.Flags().GetUint64("end-block")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("block-range") {
		backtestConfig.BlockRange, err = cmd.Flags().GetUint64("block-range")
		if err != nil {
			return err
		}
	}

	// Update the forking mode
	if cmd.Flags().Changed("fork-by-block") {
		backtestConfig.ForkByBlock, err = cmd.Flags().GetBool("fork-by-block")
		if err != nil {
			return err
		}
	}

	// Update the assertion material
	if cmd.Flags().Changed("assertion-bytecode") {
		backtestConfig.Assertion.CreationBytecode, err = cmd.Flags().GetString("assertion-bytecode")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("constructor-args") {
		backtestConfig.Assertion.ConstructorArgs, err = cmd.Flags().GetString("constructor-args")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("trigger-selector") {
		backtestConfig.Assertion.TriggerSelector, err = cmd.Flags().GetString("trigger-selector")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("trigger-signature") {
		backtestConfig.Assertion.TriggerSignature, err = cmd.Flags().GetString("trigger-signature")
		if err != nil {
			return err
		}
	}

	// Update the fetcher tuning
	if cmd.Flags().Changed("batch-size") {
		backtestConfig.Fetcher.BatchSize, err = cmd.Flags().GetInt("batch-size")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("max-concurrent") {
		backtestConfig.Fetcher.MaxConcurrent, err = cmd.Flags().GetInt("max-concurrent")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("cache-dir") {
		backtestConfig.Fetcher.CacheDirectory, err = cmd.Flags().GetString("cache-dir")
		if err != nil {
			return err
		}
	}

	// Update the output control
	if cmd.Flags().Changed("no-color") {
		backtestConfig.Logging.NoColor, err = cmd.Flags().GetBool("no-color")
		if err != nil {
			return err
		}
	}
	return nil
}
