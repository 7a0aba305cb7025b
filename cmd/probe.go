package cmd

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"

	"github.com/phylaxsystems/credible-backtest/chain"
	"github.com/phylaxsystems/credible-backtest/chain/rpc"
	"github.com/phylaxsystems/credible-backtest/cmd/exitcodes"
	"github.com/phylaxsystems/credible-backtest/logging/colors"
	"github.com/phylaxsystems/credible-backtest/utils"
)

// probeCmd represents the command provider for trace-capability probing
var probeCmd = &cobra.Command{
	Use:               "probe",
	Short:             "Probes which trace methods an RPC endpoint supports",
	Long:              `Probes which trace methods an RPC endpoint supports, in the priority order the fetcher uses them`,
	Args:              cmdValidateBacktestArgs,
	ValidArgsFunction: cmdValidBacktestArgs,
	RunE:              cmdRunProbe,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	// Add all the flags allowed for the probe command
	addProbeFlags()

	// Add the probe command and its associated flags to the root command
	rootCmd.AddCommand(probeCmd)
}

// cmdRunProbe executes the CLI probe command, issuing one probe per trace method and reporting each outcome.
func cmdRunProbe(cmd *cobra.Command, args []string) error {
	probeConfig, err := collectProbeFlags(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the probe command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	var target *common.Address
	if probeConfig.targetContract != "" {
		address, err := utils.HexStringToAddress(probeConfig.targetContract)
		if err != nil {
			cmdLogger.Error("Failed to run the probe command", err)
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
		}
		target = &address
	}

	pool, err := rpc.NewClientPool(probeConfig.rpcURL, 1)
	if err != nil {
		cmdLogger.Error("Failed to run the probe command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer pool.Close()

	cmdLogger.Info("probing trace capabilities of ", colors.Bold, probeConfig.rpcURL, colors.Reset, " at block ", probeConfig.blockNumber)
	reports := chain.NewProber(pool, cmdLogger).Probe(context.Background(), probeConfig.blockNumber, target)

	for _, report := range reports {
		switch report.Status {
		case chain.ProbeSupported:
			cmdLogger.Info(colors.Green, report.Capability.String(), ": supported", colors.Reset)
		case chain.ProbeUnsupported:
			cmdLogger.Info(colors.Yellow, report.Capability.String(), ": unsupported", colors.Reset)
		case chain.ProbeSkipped:
			cmdLogger.Info(colors.DarkGray, report.Capability.String(), ": skipped (", report.Detail, ")", colors.Reset)
		default:
			cmdLogger.Warn(colors.Red, report.Capability.String(), ": error (", report.Detail, ")", colors.Reset)
		}
	}
	return nil
}
