package backtesting

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/net/context"
)

// Assertion describes the assertion contract attached to the target during replay.
type Assertion struct {
	// CreationBytecode is the assertion contract's creation bytecode.
	CreationBytecode []byte

	// ConstructorArgs is the ABI encoding of the assertion's constructor arguments, appended to the creation
	// bytecode on deployment.
	ConstructorArgs []byte

	// TriggerSelector is the 4-byte selector the assertion's trigger is registered for.
	TriggerSelector [4]byte
}

// ReplayCall describes the raw call re-issued during replay: the original sender, recipient, value and calldata of
// the historical transaction, with the replay's effective gas parameters.
type ReplayCall struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
	GasPrice *big.Int
}

// ExecutionResult carries the outcome of one replayed call. The executor exposes no structured error taxonomy
// across its call boundary; on failure only the revert data and its decoded message are available.
type ExecutionResult struct {
	// Success indicates whether the call completed without reverting.
	Success bool

	// ReturnData is the raw return or revert data of the call.
	ReturnData []byte

	// RevertMessage is the human-readable form of the revert reason, empty on success.
	RevertMessage string
}

// AssertionExecutor is the client-side interface over the external assertion-execution harness (the PhEvm
// precompile host). The backtester treats it as an opaque black box reachable only via fork, attach, call and
// result inspection; its internal state-diffing and forking algorithm is out of scope.
type AssertionExecutor interface {
	// ForkPreTransaction forks blockchain state to the point immediately preceding the given transaction,
	// replaying all prior transactions in the same block to reconstruct exact pre-state.
	ForkPreTransaction(ctx context.Context, txHash common.Hash) error

	// ForkAtBlock forks blockchain state at the given block boundary. This yields post-transaction state for
	// every transaction but the first in a block and exists only to support the legacy fork-by-block mode.
	ForkAtBlock(ctx context.Context, blockNumber uint64) error

	// AttachAssertion attaches an assertion to the adopter address for the current execution context only.
	AttachAssertion(ctx context.Context, adopter common.Address, assertion Assertion) error

	// SenderBalance returns the balance of the given account in the current fork.
	SenderBalance(ctx context.Context, account common.Address) (*big.Int, error)

	// SetBlockBaseFee overrides the base fee of the forked block for the next execution.
	SetBlockBaseFee(ctx context.Context, baseFee *big.Int) error

	// ExecuteCall executes a raw call in the current fork and reports its result. Attached assertions run as part
	// of the call; their reverts surface through the result's revert message.
	ExecuteCall(ctx context.Context, call ReplayCall) (*ExecutionResult, error)

	// ExecuteCallTraced behaves like ExecuteCall but captures a full execution trace, returned in printable form.
	// It is used to surface diagnostics after a detected protocol violation.
	ExecuteCallTraced(ctx context.Context, call ReplayCall) (*ExecutionResult, string, error)

	// BlockBaseFee returns the base fee of the currently forked block.
	BlockBaseFee(ctx context.Context) (*big.Int, error)
}
