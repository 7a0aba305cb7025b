package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethRpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/net/context"

	"github.com/phylaxsystems/credible-backtest/chain/rpc"
	"github.com/phylaxsystems/credible-backtest/logging"
)

// TraceCapability identifies a trace method an RPC endpoint may support, ranked from most to least capable.
// Exactly one capability is selected per backtest run and held for its duration.
type TraceCapability int

const (
	// TraceFilter is the fastest capability. It requires a target address to filter on.
	TraceFilter TraceCapability = iota
	// DebugTraceBlockByNumber traces every transaction in a block with the call tracer.
	DebugTraceBlockByNumber
	// DebugTraceTransaction traces a single transaction. When it is the best available capability it must be
	// applied per-transaction, which is considerably slower than the block-level methods.
	DebugTraceTransaction
	// DirectCallsOnly indicates no trace method is available. Internal calls to the target cannot be detected and
	// fetching proceeds in degraded mode.
	DirectCallsOnly
)

// String returns the JSON-RPC method name for the capability, or a descriptive label for DirectCallsOnly.
func (c TraceCapability) String() string {
	switch c {
	case TraceFilter:
		return "trace_filter"
	case DebugTraceBlockByNumber:
		return "debug_traceBlockByNumber"
	case DebugTraceTransaction:
		return "debug_traceTransaction"
	case DirectCallsOnly:
		return "direct-calls-only"
	default:
		return fmt.Sprintf("unknown capability (%d)", int(c))
	}
}

// ProbeStatus classifies the outcome of probing one trace method.
type ProbeStatus string

const (
	// ProbeSupported indicates the endpoint answered the probe without an error.
	ProbeSupported ProbeStatus = "supported"
	// ProbeUnsupported indicates the endpoint rejected the method as unknown.
	ProbeUnsupported ProbeStatus = "unsupported"
	// ProbeError indicates the endpoint was reachable but the request failed for a reason other than the method
	// being unknown. This is non-fatal; fetching continues with the fallback chain.
	ProbeError ProbeStatus = "error"
	// ProbeSkipped indicates a prerequisite for the probe was missing (e.g. no target address for trace_filter, or
	// no sample transaction for debug_traceTransaction).
	ProbeSkipped ProbeStatus = "skipped"
)

// ProbeReport is the result of probing a single trace method.
type ProbeReport struct {
	Capability TraceCapability
	Status     ProbeStatus
	Detail     string
}

// methodNotFoundFragments are error-message substrings that identify a "method not found" response from endpoints
// that do not use the standard -32601 code. Matched case-insensitively.
var methodNotFoundFragments = []string{
	"method not found",
	"does not exist",
	"not available",
	"unknown method",
	"not supported",
}

// ClassifyRPCError maps an error returned by a trace method call onto a ProbeStatus. A nil error is supported, a
// standard -32601 code or a known "method not found" message is unsupported, and anything else is an error (the
// endpoint is reachable but rejected the request).
func ClassifyRPCError(err error) ProbeStatus {
	if err == nil {
		return ProbeSupported
	}
	if rpcErr, ok := err.(gethRpc.Error); ok && rpcErr.ErrorCode() == -32601 {
		return ProbeUnsupported
	}
	message := strings.ToLower(err.Error())
	for _, fragment := range methodNotFoundFragments {
		if strings.Contains(message, fragment) {
			return ProbeUnsupported
		}
	}
	return ProbeError
}

// sampleTransactionSearchDepth is how many blocks (ending at the probe block) are scanned when looking for a sample
// transaction hash to feed debug_traceTransaction.
const sampleTransactionSearchDepth = 5

// Prober determines which trace methods an RPC endpoint supports without requiring the caller to know in advance.
// It is a diagnostic/pre-flight tool; the fetcher re-evaluates the same priority order at fetch time and falls back
// automatically.
type Prober struct {
	pool   *rpc.ClientPool
	logger *logging.Logger
}

// NewProber returns a Prober issuing its probes through the provided client pool.
func NewProber(pool *rpc.ClientPool, logger *logging.Logger) *Prober {
	if logger == nil {
		logger = logging.GlobalLogger.NewSubLogger("module", logging.CHAIN_SERVICE)
	}
	return &Prober{
		pool:   pool,
		logger: logger,
	}
}

// Probe attempts each trace method in priority order against the given block and returns one report per method.
// A completely unreachable endpoint still produces a report for every capability rather than aborting early.
func (p *Prober) Probe(ctx context.Context, blockNumber uint64, target *common.Address) []ProbeReport {
	return []ProbeReport{
		p.probeTraceFilter(ctx, blockNumber, target),
		p.probeDebugTraceBlockByNumber(ctx, blockNumber),
		p.probeDebugTraceTransaction(ctx, blockNumber),
	}
}

func (p *Prober) probeTraceFilter(ctx context.Context, blockNumber uint64, target *common.Address) ProbeReport {
	// trace_filter needs an address to filter on. Without one the probe is skipped, not failed.
	if target == nil {
		return ProbeReport{
			Capability: TraceFilter,
			Status:     ProbeSkipped,
			Detail:     "no target contract provided",
		}
	}

	var result []map[string]any
	blockHex := hexutil.EncodeUint64(blockNumber)
	err := p.pool.ExecuteRequestBlocking(ctx, &result, "trace_filter", map[string]any{
		"fromBlock": blockHex,
		"toBlock":   blockHex,
		"toAddress": []string{target.Hex()},
	})
	return p.makeReport(TraceFilter, err)
}

func (p *Prober) probeDebugTraceBlockByNumber(ctx context.Context, blockNumber uint64) ProbeReport {
	var result []map[string]any
	err := p.pool.ExecuteRequestBlocking(ctx, &result, "debug_traceBlockByNumber", hexutil.EncodeUint64(blockNumber), map[string]any{
		"tracer": "callTracer",
	})
	return p.makeReport(DebugTraceBlockByNumber, err)
}

func (p *Prober) probeDebugTraceTransaction(ctx context.Context, blockNumber uint64) ProbeReport {
	// debug_traceTransaction needs a sample transaction. Scan up to sampleTransactionSearchDepth preceding blocks
	// for the first available transaction hash.
	sampleHash, err := p.findSampleTransaction(ctx, blockNumber)
	if err != nil {
		return ProbeReport{
			Capability: DebugTraceTransaction,
			Status:     ProbeError,
			Detail:     err.Error(),
		}
	}
	if sampleHash == nil {
		return ProbeReport{
			Capability: DebugTraceTransaction,
			Status:     ProbeSkipped,
			Detail:     fmt.Sprintf("no sample transaction found in the %d blocks ending at %d", sampleTransactionSearchDepth, blockNumber),
		}
	}

	var result map[string]any
	err = p.pool.ExecuteRequestBlocking(ctx, &result, "debug_traceTransaction", sampleHash.Hex(), map[string]any{
		"tracer": "callTracer",
	})
	return p.makeReport(DebugTraceTransaction, err)
}

// findSampleTransaction returns the hash of the first transaction found while scanning backwards from blockNumber,
// or nil if none of the scanned blocks contain one.
func (p *Prober) findSampleTransaction(ctx context.Context, blockNumber uint64) (*common.Hash, error) {
	for i := uint64(0); i < sampleTransactionSearchDepth && blockNumber >= i; i++ {
		var block struct {
			Transactions []common.Hash `json:"transactions"`
		}
		err := p.pool.ExecuteRequestBlocking(ctx, &block, "eth_getBlockByNumber", hexutil.EncodeUint64(blockNumber-i), false)
		if err != nil {
			return nil, err
		}
		if len(block.Transactions) > 0 {
			return &block.Transactions[0], nil
		}
	}
	return nil, nil
}

func (p *Prober) makeReport(capability TraceCapability, err error) ProbeReport {
	report := ProbeReport{
		Capability: capability,
		Status:     ClassifyRPCError(err),
	}
	if err != nil {
		report.Detail = err.Error()
	}
	p.logger.Debug("probed ", capability.String(), ": ", string(report.Status))
	return report
}
