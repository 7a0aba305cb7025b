package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/net/context"

	"github.com/phylaxsystems/credible-backtest/backtesting/fetcher"
	"github.com/phylaxsystems/credible-backtest/chain/rpc"
	"github.com/phylaxsystems/credible-backtest/cmd/exitcodes"
	"github.com/phylaxsystems/credible-backtest/utils"
)

// fetchCmd represents the command provider for standalone transaction fetches
var fetchCmd = &cobra.Command{
	Use:               "fetch",
	Short:             "Fetches a contract's historical transactions and prints them to stdout",
	Long: `Fetches a contract's historical transactions and prints them to stdout between TRANSACTION_DATA sentinel
lines, so a consuming process can extract the payload from otherwise noisy output`,
	Args:              cmdValidateBacktestArgs,
	ValidArgsFunction: cmdValidBacktestArgs,
	RunE:              cmdRunFetch,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	// Add all the flags allowed for the fetch command
	addFetchFlags()

	// Add the fetch command and its associated flags to the root command
	rootCmd.AddCommand(fetchCmd)
}

// cmdRunFetch executes the CLI fetch command. All diagnostics go to the logger; only the sentinel-framed payload is
// printed to stdout so downstream parsers see exactly one well-formed frame.
func cmdRunFetch(cmd *cobra.Command, args []string) error {
	fetchConfig, err := collectFetchFlags(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the fetch command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	targetContract, err := utils.HexStringToAddress(fetchConfig.targetContract)
	if err != nil {
		cmdLogger.Error("Failed to run the fetch command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	pool, err := rpc.NewClientPool(fetchConfig.rpcURL, fetchConfig.fetcher.ClientPoolSize)
	if err != nil {
		cmdLogger.Error("Failed to run the fetch command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer pool.Close()

	txFetcher, err := fetcher.NewFetcher(pool, targetContract, fetchConfig.fetcher, nil)
	if err != nil {
		cmdLogger.Error("Failed to run the fetch command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer func() { _ = txFetcher.Close() }()

	// Abort the fetch on keyboard interrupts
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		cancel()
	}()

	records, err := txFetcher.FetchRange(ctx, fetchConfig.startBlock, fetchConfig.endBlock)
	if err != nil {
		cmdLogger.Error("Failed to run the fetch command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	cmdLogger.Info("fetched ", len(records), " transactions (trace capability: ", txFetcher.Capability().String(), ")")

	var payload string
	if fetchConfig.fetcher.OutputFormat == "json" {
		payload, err = fetcher.EncodeJSON(records)
		if err != nil {
			cmdLogger.Error("Failed to run the fetch command", err)
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
		}
	} else {
		payload = fetcher.EncodeSimple(records)
	}

	fmt.Println(fetcher.WritePayload(payload))
	return nil
}
