package backtesting

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"golang.org/x/net/context"

	"github.com/phylaxsystems/credible-backtest/chain/rpc"
)

// ExecutorClient is an AssertionExecutor backed by a remote assertion-execution service speaking JSON-RPC under the
// phevm namespace. All state (the current fork, attached assertions, base-fee overrides) lives server-side; the
// client is stateless beyond its connection pool.
type ExecutorClient struct {
	pool *rpc.ClientPool
}

// executorAssertion mirrors Assertion in the executor's wire representation.
type executorAssertion struct {
	Adopter          common.Address `json:"adopter"`
	CreationBytecode hexutil.Bytes  `json:"creationBytecode"`
	ConstructorArgs  hexutil.Bytes  `json:"constructorArgs,omitempty"`
	TriggerSelector  hexutil.Bytes  `json:"triggerSelector"`
}

// executorCall mirrors ReplayCall in the executor's wire representation.
type executorCall struct {
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Value    *hexutil.Big   `json:"value,omitempty"`
	Data     hexutil.Bytes  `json:"data,omitempty"`
	Gas      hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big   `json:"gasPrice,omitempty"`
}

// executorCallResult mirrors the executor's response to a call, traced or not.
type executorCallResult struct {
	Success    bool          `json:"success"`
	ReturnData hexutil.Bytes `json:"returnData"`
	Trace      string        `json:"trace,omitempty"`
}

// NewExecutorClient dials the assertion executor at the given endpoint.
func NewExecutorClient(endpoint string, poolSize uint) (*ExecutorClient, error) {
	pool, err := rpc.NewClientPool(endpoint, poolSize)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to the assertion executor at %s", endpoint)
	}
	return &ExecutorClient{pool: pool}, nil
}

// Close releases the client's connections.
func (e *ExecutorClient) Close() {
	e.pool.Close()
}

// ForkPreTransaction forks executor state to the point immediately preceding the given transaction.
func (e *ExecutorClient) ForkPreTransaction(ctx context.Context, txHash common.Hash) error {
	var ok bool
	return e.pool.ExecuteRequestBlocking(ctx, &ok, "phevm_forkPreTransaction", txHash)
}

// ForkAtBlock forks executor state at the given block boundary.
func (e *ExecutorClient) ForkAtBlock(ctx context.Context, blockNumber uint64) error {
	var ok bool
	return e.pool.ExecuteRequestBlocking(ctx, &ok, "phevm_forkAtBlock", hexutil.Uint64(blockNumber))
}

// AttachAssertion deploys and registers the assertion against the adopter in the current fork.
func (e *ExecutorClient) AttachAssertion(ctx context.Context, adopter common.Address, assertion Assertion) error {
	var ok bool
	return e.pool.ExecuteRequestBlocking(ctx, &ok, "phevm_attachAssertion", executorAssertion{
		Adopter:          adopter,
		CreationBytecode: assertion.CreationBytecode,
		ConstructorArgs:  assertion.ConstructorArgs,
		TriggerSelector:  assertion.TriggerSelector[:],
	})
}

// SenderBalance returns the balance of the given account in the current fork.
func (e *ExecutorClient) SenderBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var balance hexutil.Big
	if err := e.pool.ExecuteRequestBlocking(ctx, &balance, "phevm_getBalance", account); err != nil {
		return nil, err
	}
	return balance.ToInt(), nil
}

// SetBlockBaseFee overrides the base fee of the forked block.
func (e *ExecutorClient) SetBlockBaseFee(ctx context.Context, baseFee *big.Int) error {
	var ok bool
	return e.pool.ExecuteRequestBlocking(ctx, &ok, "phevm_setBlockBaseFee", (*hexutil.Big)(baseFee))
}

// BlockBaseFee returns the base fee of the currently forked block.
func (e *ExecutorClient) BlockBaseFee(ctx context.Context) (*big.Int, error) {
	var baseFee hexutil.Big
	if err := e.pool.ExecuteRequestBlocking(ctx, &baseFee, "phevm_getBlockBaseFee"); err != nil {
		return nil, err
	}
	return baseFee.ToInt(), nil
}

// ExecuteCall executes a raw call in the current fork. The revert message is decoded client-side from the raw
// return data since the executor only reports success and bytes.
func (e *ExecutorClient) ExecuteCall(ctx context.Context, call ReplayCall) (*ExecutionResult, error) {
	result, err := e.call(ctx, "phevm_call", call)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExecuteCallTraced behaves like ExecuteCall but also captures the executor's printable execution trace.
func (e *ExecutorClient) ExecuteCallTraced(ctx context.Context, call ReplayCall) (*ExecutionResult, string, error) {
	var raw executorCallResult
	if err := e.pool.ExecuteRequestBlocking(ctx, &raw, "phevm_callTraced", makeExecutorCall(call)); err != nil {
		return nil, "", err
	}
	return makeExecutionResult(raw), raw.Trace, nil
}

func (e *ExecutorClient) call(ctx context.Context, method string, call ReplayCall) (*ExecutionResult, error) {
	var raw executorCallResult
	if err := e.pool.ExecuteRequestBlocking(ctx, &raw, method, makeExecutorCall(call)); err != nil {
		return nil, err
	}
	return makeExecutionResult(raw), nil
}

func makeExecutorCall(call ReplayCall) executorCall {
	return executorCall{
		From:     call.From,
		To:       call.To,
		Value:    (*hexutil.Big)(call.Value),
		Data:     call.Data,
		Gas:      hexutil.Uint64(call.GasLimit),
		GasPrice: (*hexutil.Big)(call.GasPrice),
	}
}

func makeExecutionResult(raw executorCallResult) *ExecutionResult {
	result := &ExecutionResult{
		Success:    raw.Success,
		ReturnData: raw.ReturnData,
	}
	if !raw.Success {
		result.RevertMessage = DecodeRevertReason(raw.ReturnData)
	}
	return result
}
