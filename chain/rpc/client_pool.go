package rpc

import (
	"encoding/json"
	"sync"
	"time"

	gethRpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/net/context"
)

const maxRetries = 3

// DefaultCallTimeout is applied to every request issued through the pool when the caller's context carries no
// deadline of its own. A timed-out call fails that single request, never the whole run.
const DefaultCallTimeout = 30 * time.Second

// ClientPool maintains a fixed-size set of JSON-RPC clients against a single endpoint. Requests are round-robined
// across clients, deduplicated while in flight, and retried with a linear backoff on transport failure.
type ClientPool struct {
	rpcClients       []*gethRpc.Client
	currentClientIdx int
	clientLock       sync.Mutex

	inflightRequests map[requestKey]*inflightRequest
	inflightLock     sync.Mutex

	endpoint   string
	maxRetries int
}

// NewClientPool dials the given endpoint poolSize times and returns a pool ready for use.
func NewClientPool(endpoint string, poolSize uint) (*ClientPool, error) {
	pool := &ClientPool{
		rpcClients:       make([]*gethRpc.Client, poolSize),
		clientLock:       sync.Mutex{},
		inflightRequests: make(map[requestKey]*inflightRequest),
		inflightLock:     sync.Mutex{},
		endpoint:         endpoint,
		maxRetries:       maxRetries,
	}

	// dial out
	for i := uint(0); i < poolSize; i++ {
		client, err := gethRpc.Dial(endpoint)
		if err != nil {
			return nil, err
		}
		pool.rpcClients[i] = client
	}

	return pool, nil
}

// Endpoint returns the endpoint URL this pool was dialed against.
func (c *ClientPool) Endpoint() string {
	return c.endpoint
}

// Close closes every underlying client. In-flight requests fail with a connection error.
func (c *ClientPool) Close() {
	c.clientLock.Lock()
	defer c.clientLock.Unlock()
	for _, client := range c.rpcClients {
		client.Close()
	}
}

// ExecuteRequestBlocking issues a request and blocks until its result can be unmarshalled into result or an error
// occurs.
func (c *ClientPool) ExecuteRequestBlocking(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	pending, err := c.ExecuteRequestAsync(ctx, method, args...)
	if err != nil {
		return err
	}
	return pending.GetResultBlocking(result)
}

// ExecuteRequestAsync issues a request without blocking, returning a PendingResult the caller can wait on. If an
// identical request is already in flight, the caller is attached to it rather than issuing a duplicate.
func (c *ClientPool) ExecuteRequestAsync(ctx context.Context, method string, args ...interface{}) (*PendingResult, error) {
	key, err := makeRequestKey(method, args...)
	if err != nil {
		return nil, err
	}

	// check for in-flight requests
	c.inflightLock.Lock()
	if inflight, exists := c.inflightRequests[key]; exists {
		c.inflightLock.Unlock()
		return newPendingResult(inflight), nil
	} else {
		// no inflight requests
		inflight = &inflightRequest{
			Done:    make(chan struct{}),
			Context: ctx,
		}
		c.inflightRequests[key] = inflight
		c.inflightLock.Unlock()
		client := c.getClient()

		go c.launchRequest(client, key, inflight, method, args...)
		return newPendingResult(inflight), nil
	}
}

func (c *ClientPool) getClient() *gethRpc.Client {
	c.clientLock.Lock()
	defer c.clientLock.Unlock()

	client := c.rpcClients[c.currentClientIdx]
	c.currentClientIdx = (c.currentClientIdx + 1) % len(c.rpcClients)

	return client
}

func (c *ClientPool) launchRequest(
	client *gethRpc.Client,
	key requestKey,
	request *inflightRequest,
	method string,
	args ...interface{}) {
	defer func() {
		// Drop the request from the dedup table before signalling completion so a later identical request
		// re-executes rather than observing a stale result.
		c.inflightLock.Lock()
		delete(c.inflightRequests, key)
		c.inflightLock.Unlock()
		close(request.Done)
	}()

	// Apply the default call timeout if the caller did not set a deadline.
	ctx := request.Context
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	var err error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		var result json.RawMessage
		err = client.CallContext(ctx, &result, method, args...)
		if err == nil {
			request.Result = result
			return
		}

		// JSON-RPC level errors (including "method not found") will not succeed on retry; only transport
		// failures are worth another attempt.
		if _, isRpcErr := err.(gethRpc.Error); isRpcErr {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	request.Error = err
}
