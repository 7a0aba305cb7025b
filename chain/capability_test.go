package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phylaxsystems/credible-backtest/chain/rpc"
	"github.com/phylaxsystems/credible-backtest/logging"
)

// rpcHandler resolves one JSON-RPC method call to a result or an error.
type rpcHandler func(method string, params []json.RawMessage) (any, map[string]any)

// newFakeRPCServer runs an httptest server speaking enough JSON-RPC for the prober tests.
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

func newTestProber(t *testing.T, handler rpcHandler) *Prober {
	server := newFakeRPCServer(t, handler)
	pool, err := rpc.NewClientPool(server.URL, 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewProber(pool, logging.NewLogger(zerolog.Disabled, false))
}

// statusByCapability indexes a probe's reports for assertion convenience.
func statusByCapability(reports []ProbeReport) map[TraceCapability]ProbeStatus {
	statuses := make(map[TraceCapability]ProbeStatus)
	for _, report := range reports {
		statuses[report.Capability] = report.Status
	}
	return statuses
}

// TestClassifyRPCError ensures both the standard -32601 code and known message fragments identify an unsupported
// method, while other failures classify as errors.
func TestClassifyRPCError(t *testing.T) {
	assert.Equal(t, ProbeSupported, ClassifyRPCError(nil))
	assert.Equal(t, ProbeUnsupported, ClassifyRPCError(errors.New("the method trace_filter does not exist")))
	assert.Equal(t, ProbeUnsupported, ClassifyRPCError(errors.New("Method Not Found")))
	assert.Equal(t, ProbeUnsupported, ClassifyRPCError(errors.New("this endpoint is not supported")))
	assert.Equal(t, ProbeError, ClassifyRPCError(errors.New("connection reset by peer")))
}

// TestProbeAllSupported ensures a fully capable endpoint reports every method as supported.
func TestProbeAllSupported(t *testing.T) {
	sampleTx := common.HexToHash("0x01")
	prober := newTestProber(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		switch method {
		case "trace_filter":
			return []map[string]any{}, nil
		case "debug_traceBlockByNumber":
			return []map[string]any{}, nil
		case "eth_getBlockByNumber":
			return map[string]any{"transactions": []string{sampleTx.Hex()}}, nil
		case "debug_traceTransaction":
			return map[string]any{"type": "CALL"}, nil
		}
		return nil, map[string]any{"code": -32601, "message": "the method does not exist/is not available"}
	})

	target := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	statuses := statusByCapability(prober.Probe(context.Background(), 100, &target))
	assert.Equal(t, ProbeSupported, statuses[TraceFilter])
	assert.Equal(t, ProbeSupported, statuses[DebugTraceBlockByNumber])
	assert.Equal(t, ProbeSupported, statuses[DebugTraceTransaction])
}

// TestProbeWithoutTarget ensures the trace_filter probe is skipped rather than failed when no address is given.
func TestProbeWithoutTarget(t *testing.T) {
	prober := newTestProber(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		switch method {
		case "eth_getBlockByNumber":
			return map[string]any{"transactions": []string{}}, nil
		case "debug_traceBlockByNumber":
			return []map[string]any{}, nil
		}
		return nil, map[string]any{"code": -32601, "message": "the method does not exist/is not available"}
	})

	statuses := statusByCapability(prober.Probe(context.Background(), 100, nil))
	assert.Equal(t, ProbeSkipped, statuses[TraceFilter])
	assert.Equal(t, ProbeSupported, statuses[DebugTraceBlockByNumber])
	// No sample transaction could be found in the scanned blocks.
	assert.Equal(t, ProbeSkipped, statuses[DebugTraceTransaction])
}

// TestProbeUnsupportedMethods ensures -32601 responses classify every trace method as unsupported.
func TestProbeUnsupportedMethods(t *testing.T) {
	sampleTx := common.HexToHash("0x02")
	prober := newTestProber(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		if method == "eth_getBlockByNumber" {
			return map[string]any{"transactions": []string{sampleTx.Hex()}}, nil
		}
		return nil, map[string]any{"code": -32601, "message": "the method does not exist/is not available"}
	})

	target := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	statuses := statusByCapability(prober.Probe(context.Background(), 100, &target))
	assert.Equal(t, ProbeUnsupported, statuses[TraceFilter])
	assert.Equal(t, ProbeUnsupported, statuses[DebugTraceBlockByNumber])
	assert.Equal(t, ProbeUnsupported, statuses[DebugTraceTransaction])
}
