package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/phylaxsystems/credible-backtest/backtesting/config"
)

// fetchFlagValues carries the resolved flag values of one fetch invocation.
type fetchFlagValues struct {
	rpcURL         string
	targetContract string
	startBlock     uint64
	endBlock       uint64
	fetcher        config.FetcherConfig
}

// addFetchFlags adds the various flags for the fetch command
func addFetchFlags() {
	defaultConfig := config.GetDefaultBacktestConfig()

	// Prevent alphabetical sorting of usage message
	fetchCmd.Flags().SortFlags = false

	fetchCmd.Flags().String("rpc-url", "", "JSON-RPC endpoint to fetch historical data from")
	fetchCmd.Flags().String("target-contract", "", "address of the contract whose transactions are fetched")
	fetchCmd.Flags().Uint64("start-block", 0, "first block (inclusive) of the fetched range")
	fetchCmd.Flags().Uint64("end-block", 0, "last block (inclusive) of the fetched range")
	fetchCmd.Flags().Int("batch-size", defaultConfig.Fetcher.BatchSize,
		fmt.Sprintf("number of consecutive blocks fetched per batch (default is %d)", defaultConfig.Fetcher.BatchSize))
	fetchCmd.Flags().Int("max-concurrent", defaultConfig.Fetcher.MaxConcurrent,
		fmt.Sprintf("maximum in-flight block fetches within a batch (default is %d)", defaultConfig.Fetcher.MaxConcurrent))
	fetchCmd.Flags().String("output-format", defaultConfig.Fetcher.OutputFormat,
		"wire encoding of the printed payload: \"simple\" or \"json\"")
	fetchCmd.Flags().String("cache-dir", "",
		"directory path for the on-disk record cache (caching is disabled when empty)")
}

// collectFetchFlags gathers and fail-fast validates the fetch command's flag values before any network call.
func collectFetchFlags(cmd *cobra.Command) (*fetchFlagValues, error) {
	values := &fetchFlagValues{
		fetcher: config.GetDefaultBacktestConfig().Fetcher,
	}
	var err error

	if values.rpcURL, err = cmd.Flags().GetString("rpc-url"); err != nil {
		return nil, err
	}
	if values.targetContract, err = cmd.Flags().GetString("target-contract"); err != nil {
		return nil, err
	}
	if values.startBlock, err = cmd.Flags().GetUint64("start-block"); err != nil {
		return nil, err
	}
	if values.endBlock, err = cmd.Flags().GetUint64("end-block"); err != nil {
		return nil, err
	}
	if values.fetcher.BatchSize, err = cmd.Flags().GetInt("batch-size"); err != nil {
		return nil, err
	}
	if values.fetcher.MaxConcurrent, err = cmd.Flags().GetInt("max-concurrent"); err != nil {
		return nil, err
	}
	if values.fetcher.OutputFormat, err = cmd.Flags().GetString("output-format"); err != nil {
		return nil, err
	}
	if values.fetcher.CacheDirectory, err = cmd.Flags().GetString("cache-dir"); err != nil {
		return nil, err
	}

	if values.rpcURL == "" {
		return nil, errors.New("an RPC URL must be provided with --rpc-url")
	}
	if values.targetContract == "" {
		return nil, errors.New("a target contract address must be provided with --target-contract")
	}
	if values.startBlock == 0 || values.startBlock > values.endBlock {
		return nil, errors.Errorf("invalid block range: [%d, %d]", values.startBlock, values.endBlock)
	}
	if values.fetcher.BatchSize <= 0 || values.fetcher.MaxConcurrent <= 0 {
		return nil, errors.New("the batch size and concurrency cap must be greater than zero")
	}
	if values.fetcher.OutputFormat != "simple" && values.fetcher.OutputFormat != "json" {
		return nil, errors.Errorf("unsupported output format %q, expected \"simple\" or \"json\"", values.fetcher.OutputFormat)
	}
	return values, nil
}
