package backtesting

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/net/context"

	"github.com/phylaxsystems/credible-backtest/backtesting/fetcher"
	"github.com/phylaxsystems/credible-backtest/logging"
	"github.com/phylaxsystems/credible-backtest/logging/colors"
)

// defaultGasLimit is the effective gas limit used for replay when a record carries none (legacy wire layout).
const defaultGasLimit = 1 << 24

// Validator replays historical transactions against a forked blockchain state with the assertion under test
// attached, and classifies each result. Forks are not reused across transactions; each replay gets an independent,
// freshly forked state to guarantee isolation between assertion executions.
type Validator struct {
	executor   AssertionExecutor
	classifier OutcomeClassifier
	logger     *logging.Logger

	targetContract common.Address
	assertion      Assertion

	// forkByBlock selects block-boundary forking instead of exact pre-transaction forking. Block-boundary state
	// is post-state for any transaction after the first in its block, so this mode is unsound; it is retained
	// only for compatibility.
	forkByBlock bool
}

// NewValidator constructs a Validator replaying through the given executor.
func NewValidator(executor AssertionExecutor, classifier OutcomeClassifier, targetContract common.Address, assertion Assertion, forkByBlock bool, logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.GlobalLogger.NewSubLogger("module", logging.BACKTESTING_SERVICE)
	}
	if forkByBlock {
		logger.Warn("fork-by-block mode is enabled: replays will observe post-transaction state for any transaction after the first in its block")
	}
	return &Validator{
		executor:       executor,
		classifier:     classifier,
		logger:         logger,
		targetContract: targetContract,
		assertion:      assertion,
		forkByBlock:    forkByBlock,
	}
}

// ValidateTransaction replays one transaction under the assertion and classifies the result. Executor failures
// surface as OutcomeUnknownError rather than aborting the run. On a detected protocol violation, the transaction is
// replayed a second time with full tracing, without the assertion, purely to surface diagnostics.
func (v *Validator) ValidateTransaction(ctx context.Context, record fetcher.TransactionRecord) ValidationOutcome {
	// Fork to the state the transaction originally executed against.
	if err := v.fork(ctx, record); err != nil {
		return ValidationOutcome{Kind: OutcomeUnknownError, Message: err.Error()}
	}

	// Attach the assertion to the target for this execution context only.
	if err := v.executor.AttachAssertion(ctx, v.targetContract, v.assertion); err != nil {
		return ValidationOutcome{Kind: OutcomeUnknownError, Message: err.Error()}
	}

	call := v.makeReplayCall(record)
	if err := v.capBaseFee(ctx, record.From, call.GasLimit); err != nil {
		return ValidationOutcome{Kind: OutcomeUnknownError, Message: err.Error()}
	}

	result, err := v.executor.ExecuteCall(ctx, call)
	if err != nil {
		return ValidationOutcome{Kind: OutcomeUnknownError, Message: err.Error()}
	}

	outcome := v.classifier(result.Success, result.RevertMessage)
	if outcome.Kind == OutcomeAssertionFailed {
		v.replayWithTrace(ctx, record, call)
	}
	return outcome
}

// fork reconstructs the transaction's pre-state, either exactly (by transaction hash) or at its block boundary in
// the legacy mode.
func (v *Validator) fork(ctx context.Context, record fetcher.TransactionRecord) error {
	if v.forkByBlock {
		return v.executor.ForkAtBlock(ctx, record.BlockNumber)
	}
	return v.executor.ForkPreTransaction(ctx, record.Hash)
}

// makeReplayCall builds the raw call for a record: original sender, value and calldata, with the effective gas
// parameters. The effective gas price prefers a non-zero EIP-1559 fee cap over the legacy gas price.
func (v *Validator) makeReplayCall(record fetcher.TransactionRecord) ReplayCall {
	gasPrice := record.GasPrice
	if record.MaxFeePerGas != nil && record.MaxFeePerGas.Sign() > 0 {
		gasPrice = record.MaxFeePerGas
	}
	gasLimit := record.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	return ReplayCall{
		From:     record.From,
		To:       record.To,
		Value:    record.Value,
		Data:     record.Data,
		GasLimit: gasLimit,
		GasPrice: gasPrice,
	}
}

// capBaseFee caps the forked block's base fee against the sender's affordable maximum (balance / gas limit). This
// prevents spurious replay failures caused purely by fee-market drift between the original execution and the
// replay.
func (v *Validator) capBaseFee(ctx context.Context, sender common.Address, gasLimit uint64) error {
	baseFee, err := v.executor.BlockBaseFee(ctx)
	if err != nil {
		return err
	}
	if baseFee == nil || baseFee.Sign() == 0 {
		return nil
	}

	balance, err := v.executor.SenderBalance(ctx, sender)
	if err != nil {
		return err
	}

	balanceWords, overflow := uint256.FromBig(balance)
	if overflow {
		return nil
	}
	affordable := new(uint256.Int).Div(balanceWords, uint256.NewInt(gasLimit))

	baseFeeWords, overflow := uint256.FromBig(baseFee)
	if overflow || baseFeeWords.Gt(affordable) {
		return v.executor.SetBlockBaseFee(ctx, affordable.ToBig())
	}
	return nil
}

// replayWithTrace re-executes a violating transaction with full tracing and without the assertion attached, purely
// to surface the execution trace for human debugging. Its result is neither classified nor counted.
func (v *Validator) replayWithTrace(ctx context.Context, record fetcher.TransactionRecord, call ReplayCall) {
	if err := v.fork(ctx, record); err != nil {
		v.logger.Warn("could not re-fork for traced replay of ", record.Hash.Hex(), err)
		return
	}
	_, trace, err := v.executor.ExecuteCallTraced(ctx, call)
	if err != nil {
		v.logger.Warn("traced replay of ", record.Hash.Hex(), " failed", err)
		return
	}
	v.logger.Info(colors.Yellow, "execution trace for violating transaction ", record.Hash.Hex(), ":\n", colors.Reset, trace)
}
