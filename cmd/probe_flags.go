package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// probeFlagValues carries the resolved flag values of one probe invocation.
type probeFlagValues struct {
	rpcURL         string
	targetContract string
	blockNumber    uint64
}

// addProbeFlags adds the various flags for the probe command
func addProbeFlags() {
	// Prevent alphabetical sorting of usage message
	probeCmd.Flags().SortFlags = false

	probeCmd.Flags().String("rpc-url", "", "JSON-RPC endpoint to probe")
	probeCmd.Flags().Uint64("block", 0, "block number the probes are issued against")
	probeCmd.Flags().String("target-contract", "",
		"address used for the trace_filter probe (the probe is skipped when omitted)")
}

// collectProbeFlags gathers and fail-fast validates the probe command's flag values.
func collectProbeFlags(cmd *cobra.Command) (*probeFlagValues, error) {
	values := &probeFlagValues{}
	var err error

	if values.rpcURL, err = cmd.Flags().GetString("rpc-url"); err != nil {
		return nil, err
	}
	if values.blockNumber, err = cmd.Flags().GetUint64("block"); err != nil {
		return nil, err
	}
	if values.targetContract, err = cmd.Flags().GetString("target-contract"); err != nil {
		return nil, err
	}

	if values.rpcURL == "" {
		return nil, errors.New("an RPC URL must be provided with --rpc-url")
	}
	if values.blockNumber == 0 {
		return nil, errors.New("a block number must be provided with --block")
	}
	return values, nil
}
