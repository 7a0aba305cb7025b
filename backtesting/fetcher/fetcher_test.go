package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phylaxsystems/credible-backtest/backtesting/config"
	"github.com/phylaxsystems/credible-backtest/chain"
	"github.com/phylaxsystems/credible-backtest/chain/rpc"
	"github.com/phylaxsystems/credible-backtest/logging"
)

const (
	testTarget = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testOther  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testSender = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func testHash(i byte) string {
	b := make([]byte, 32)
	b[31] = i
	return common.BytesToHash(b).Hex()
}

// rpcHandler resolves one JSON-RPC method call to a result or an error.
type rpcHandler func(method string, params []json.RawMessage) (any, map[string]any)

// newFakeRPCServer runs an httptest server speaking enough JSON-RPC for the fetcher and prober tests.
func newFakeRPCServer(t *testing.T, handler rpcHandler) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))

		result, rpcError := handler(request.Method, request.Params)
		response := map[string]any{
			"jsonrpc": "2.0",
			"id":      request.ID,
		}
		if rpcError != nil {
			response["error"] = rpcError
		} else {
			response["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	t.Cleanup(server.Close)
	return server
}

func methodNotFound() map[string]any {
	return map[string]any{"code": -32601, "message": "the method does not exist/is not available"}
}

// makeFakeBlock renders an eth_getBlockByNumber result with full transaction objects.
func makeFakeBlock(number string, txs []map[string]any) map[string]any {
	return map[string]any{
		"number":       number,
		"transactions": txs,
	}
}

func makeFakeTx(hash string, to string, index string) map[string]any {
	return map[string]any{
		"hash":             hash,
		"from":             testSender,
		"to":               to,
		"value":            "0xde0b6b3a7640000",
		"input":            "0xa9059cbb",
		"transactionIndex": index,
		"gas":              "0x5208",
		"gasPrice":         "0x3b9aca00",
	}
}

func newTestFetcher(t *testing.T, endpoint string) *Fetcher {
	pool, err := rpc.NewClientPool(endpoint, 1)
	require.NoError(t, err)

	cfg := config.GetDefaultBacktestConfig().Fetcher
	cfg.BatchSize = 2
	cfg.MaxConcurrent = 2

	fetcher, err := NewFetcher(pool, common.HexToAddress(testTarget), cfg, logging.NewLogger(zerolog.Disabled, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fetcher.Close() })
	return fetcher
}

// TestFetchDirectCalls verifies direct-recipient filtering, case-insensitive address comparison, per-block failure
// recovery and result ordering.
func TestFetchDirectCalls(t *testing.T) {
	server := newFakeRPCServer(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		switch method {
		case "eth_getBlockByNumber":
			var blockNumber string
			require.NoError(t, json.Unmarshal(params[0], &blockNumber))
			switch blockNumber {
			case "0x64": // block 100: one direct call (upper-cased recipient) and one unrelated transaction
				return makeFakeBlock("0x64", []map[string]any{
					makeFakeTx(testHash(1), "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "0x0"),
					makeFakeTx(testHash(2), testOther, "0x1"),
				}), nil
			case "0x65": // block 101: fetch failure, must be skipped without aborting the run
				return nil, map[string]any{"code": -32000, "message": "header not found"}
			case "0x66": // block 102: one more direct call
				return makeFakeBlock("0x66", []map[string]any{
					makeFakeTx(testHash(3), testTarget, "0x0"),
				}), nil
			}
			return nil, map[string]any{"code": -32000, "message": "unexpected block"}
		case "trace_filter", "debug_traceBlockByNumber", "debug_traceTransaction":
			return nil, methodNotFound()
		}
		return nil, methodNotFound()
	})

	fetcher := newTestFetcher(t, server.URL)
	records, err := fetcher.FetchRange(context.Background(), 100, 102)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, testHash(1), records[0].Hash.Hex())
	assert.EqualValues(t, 100, records[0].BlockNumber)
	assert.Equal(t, testHash(3), records[1].Hash.Hex())
	assert.EqualValues(t, 102, records[1].BlockNumber)

	// With every trace method unsupported, the cascade must land on direct-calls-only.
	assert.Equal(t, chain.DirectCallsOnly, fetcher.Capability())
}

// TestFetchFallsBackToTraceBlock verifies the capability fallback: when trace_filter is unsupported but
// debug_traceBlockByNumber is available, internal calls to the target are still detected rather than silently
// degrading to direct-calls-only.
func TestFetchFallsBackToTraceBlock(t *testing.T) {
	traceBlockCalls := 0
	server := newFakeRPCServer(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		switch method {
		case "eth_getBlockByNumber":
			// Block 200: tx1 calls the target directly, tx2 reaches it through an intermediary contract.
			return makeFakeBlock("0xc8", []map[string]any{
				makeFakeTx(testHash(1), testTarget, "0x0"),
				makeFakeTx(testHash(2), testOther, "0x1"),
			}), nil
		case "trace_filter":
			return nil, methodNotFound()
		case "debug_traceBlockByNumber":
			traceBlockCalls++
			return []map[string]any{
				{
					"txHash": testHash(1),
					"result": map[string]any{"type": "CALL", "from": testSender, "to": testTarget},
				},
				{
					"txHash": testHash(2),
					"result": map[string]any{
						"type": "CALL",
						"from": testSender,
						"to":   testOther,
						"calls": []map[string]any{
							{"type": "CALL", "from": testOther, "to": testTarget},
						},
					},
				},
			}, nil
		}
		return nil, methodNotFound()
	})

	fetcher := newTestFetcher(t, server.URL)
	records, err := fetcher.FetchRange(context.Background(), 200, 200)
	require.NoError(t, err)

	// Both the direct call and the internal call must be present exactly once, in index order.
	require.Len(t, records, 2)
	assert.Equal(t, testHash(1), records[0].Hash.Hex())
	assert.Equal(t, testHash(2), records[1].Hash.Hex())

	assert.Equal(t, chain.DebugTraceBlockByNumber, fetcher.Capability())
	assert.Greater(t, traceBlockCalls, 0)
}

// TestFetchPerTransactionTraceFallback verifies the final per-transaction fallback when no block-level trace
// method is available.
func TestFetchPerTransactionTraceFallback(t *testing.T) {
	server := newFakeRPCServer(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		switch method {
		case "eth_getBlockByNumber":
			return makeFakeBlock("0x12c", []map[string]any{
				makeFakeTx(testHash(7), testOther, "0x0"),
			}), nil
		case "trace_filter", "debug_traceBlockByNumber":
			return nil, methodNotFound()
		case "debug_traceTransaction":
			var hash string
			require.NoError(t, json.Unmarshal(params[0], &hash))
			assert.Equal(t, testHash(7), hash)
			return map[string]any{
				"type": "CALL",
				"from": testSender,
				"to":   testOther,
				"calls": []map[string]any{
					{"type": "DELEGATECALL", "from": testOther, "to": testTarget},
				},
			}, nil
		}
		return nil, methodNotFound()
	})

	fetcher := newTestFetcher(t, server.URL)
	records, err := fetcher.FetchRange(context.Background(), 300, 300)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, testHash(7), records[0].Hash.Hex())
	assert.Equal(t, chain.DebugTraceTransaction, fetcher.Capability())
}

// newCachingFetcher builds a fetcher with the on-disk record cache rooted at cacheDir.
func newCachingFetcher(t *testing.T, endpoint string, cacheDir string) *Fetcher {
	pool, err := rpc.NewClientPool(endpoint, 1)
	require.NoError(t, err)

	cfg := config.GetDefaultBacktestConfig().Fetcher
	cfg.BatchSize = 2
	cfg.MaxConcurrent = 2
	cfg.CacheDirectory = cacheDir

	fetcher, err := NewFetcher(pool, common.HexToAddress(testTarget), cfg, logging.NewLogger(zerolog.Disabled, false))
	require.NoError(t, err)
	return fetcher
}

// TestFetchRangeServesFromCache verifies that a fetched record set survives the on-disk cache round trip with all
// fields intact, and that a cache hit is served without re-querying the endpoint.
func TestFetchRangeServesFromCache(t *testing.T) {
	var blockRequests int
	server := newFakeRPCServer(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		switch method {
		case "eth_getBlockByNumber":
			blockRequests++
			return makeFakeBlock("0x64", []map[string]any{
				makeFakeTx(testHash(1), testTarget, "0x0"),
			}), nil
		}
		return nil, methodNotFound()
	})

	cacheDir := t.TempDir()
	fetcher := newCachingFetcher(t, server.URL, cacheDir)
	records, err := fetcher.FetchRange(context.Background(), 100, 100)
	require.NoError(t, err)
	require.NoError(t, fetcher.Close())
	require.Len(t, records, 1)
	require.Greater(t, blockRequests, 0)

	// A second fetcher over the same cache directory and endpoint must serve the hit without any new block
	// request, and must restore the capability the records were collected with.
	requestsBeforeHit := blockRequests
	cached := newCachingFetcher(t, server.URL, cacheDir)
	defer cached.Close()

	cachedRecords, err := cached.FetchRange(context.Background(), 100, 100)
	require.NoError(t, err)
	assert.Equal(t, requestsBeforeHit, blockRequests)
	assert.Equal(t, chain.DirectCallsOnly, cached.Capability())

	require.Len(t, cachedRecords, 1)
	assert.Equal(t, records[0].Hash, cachedRecords[0].Hash)
	assert.Equal(t, records[0].From, cachedRecords[0].From)
	assert.Equal(t, records[0].To, cachedRecords[0].To)
	assert.Equal(t, records[0].Data, cachedRecords[0].Data)
	assert.Equal(t, records[0].BlockNumber, cachedRecords[0].BlockNumber)
	assert.Equal(t, records[0].TransactionIndex, cachedRecords[0].TransactionIndex)
	assert.Equal(t, records[0].GasLimit, cachedRecords[0].GasLimit)
	assert.Zero(t, records[0].Value.Cmp(cachedRecords[0].Value))
	assert.Zero(t, records[0].GasPrice.Cmp(cachedRecords[0].GasPrice))
	assert.Nil(t, cachedRecords[0].MaxFeePerGas)
	assert.Nil(t, cachedRecords[0].MaxPriorityFeePerGas)
}

// TestFetchTransientTraceFailureNotCached verifies that a run whose trace capability degraded because a supported
// method failed does not persist its possibly incomplete record set.
func TestFetchTransientTraceFailureNotCached(t *testing.T) {
	var blockRequests int
	server := newFakeRPCServer(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		switch method {
		case "eth_getBlockByNumber":
			blockRequests++
			return makeFakeBlock("0x64", []map[string]any{
				makeFakeTx(testHash(1), testTarget, "0x0"),
			}), nil
		case "trace_filter":
			// A supported method failing transiently, not a missing one.
			return nil, map[string]any{"code": -32000, "message": "request timed out"}
		}
		return nil, methodNotFound()
	})

	cacheDir := t.TempDir()
	fetcher := newCachingFetcher(t, server.URL, cacheDir)
	_, err := fetcher.FetchRange(context.Background(), 100, 100)
	require.NoError(t, err)
	require.NoError(t, fetcher.Close())

	// A later run over the same range must fetch again rather than hit a cache entry.
	requestsAfterFirstRun := blockRequests
	refetcher := newCachingFetcher(t, server.URL, cacheDir)
	defer refetcher.Close()

	_, err = refetcher.FetchRange(context.Background(), 100, 100)
	require.NoError(t, err)
	assert.Greater(t, blockRequests, requestsAfterFirstRun)
}

// TestFetchConcurrencyCap verifies that block fetches never exceed the configured in-flight cap, counting a fetch
// as in flight until its response is written.
func TestFetchConcurrencyCap(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	peak := 0
	server := newFakeRPCServer(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		switch method {
		case "eth_getBlockByNumber":
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return makeFakeBlock("0x64", nil), nil
		}
		return nil, methodNotFound()
	})

	pool, err := rpc.NewClientPool(server.URL, 4)
	require.NoError(t, err)

	cfg := config.GetDefaultBacktestConfig().Fetcher
	cfg.BatchSize = 12
	cfg.MaxConcurrent = 2

	fetcher, err := NewFetcher(pool, common.HexToAddress(testTarget), cfg, logging.NewLogger(zerolog.Disabled, false))
	require.NoError(t, err)
	defer fetcher.Close()

	_, err = fetcher.FetchRange(context.Background(), 100, 111)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
	assert.Greater(t, peak, 1)
}

// TestCachedRecordRejectsInvalidHash verifies that a corrupt cache entry surfaces an error instead of producing a
// record with a mangled hash.
func TestCachedRecordRejectsInvalidHash(t *testing.T) {
	entry := newCachedRecord(TransactionRecord{Hash: common.HexToHash(testHash(1))})
	entry.Hash = entry.Hash[:16]
	_, err := entry.toRecord()
	assert.Error(t, err)
}

// TestFetchRejectsInvalidRange verifies fail-fast argument validation before any network call.
func TestFetchRejectsInvalidRange(t *testing.T) {
	server := newFakeRPCServer(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		t.Fatal("no RPC call expected for an invalid range")
		return nil, nil
	})

	fetcher := newTestFetcher(t, server.URL)
	_, err := fetcher.FetchRange(context.Background(), 500, 400)
	assert.Error(t, err)
	_, err = fetcher.FetchRange(context.Background(), 0, 400)
	assert.Error(t, err)
}
