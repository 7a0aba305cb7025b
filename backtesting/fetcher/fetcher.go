package fetcher

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"golang.org/x/net/context"

	"github.com/phylaxsystems/credible-backtest/backtesting/config"
	"github.com/phylaxsystems/credible-backtest/backtesting/fetcher/cache"
	"github.com/phylaxsystems/credible-backtest/chain"
	"github.com/phylaxsystems/credible-backtest/chain/rpc"
	"github.com/phylaxsystems/credible-backtest/logging"
	"github.com/phylaxsystems/credible-backtest/utils"
)

// errUnsupported signals that the currently selected trace capability was rejected by the endpoint and the fetcher
// should fall back to the next one.
var errUnsupported = errors.New("trace method unsupported by endpoint")

// Fetcher retrieves every transaction in a block range where the target contract is either the direct recipient or,
// when a trace capability is available, an internal-call recipient within the transaction's execution trace.
type Fetcher struct {
	pool           *rpc.ClientPool
	logger         *logging.Logger
	targetContract common.Address
	config         config.FetcherConfig

	// capability is the trace capability currently selected by the cascading fallback. It is chosen during the
	// first internal-call collection and reused for the remainder of the run.
	capability chain.TraceCapability

	// degradedByError records whether the cascading fallback ever downgraded because a supported trace method
	// failed, rather than because the endpoint rejected it as unknown. A run degraded this way may have collected an
	// incomplete record set and must not be persisted to the cache.
	degradedByError bool

	// recordCache is the optional on-disk cache of fetched record sets. Nil when caching is disabled.
	recordCache *cache.RecordCache
}

// cachedFetch is the envelope persisted per fetched range. It carries the trace capability the records were
// collected with, so a cache hit restores the capability alongside the records.
type cachedFetch struct {
	Capability int            `cbor:"capability"`
	Records    []cachedRecord `cbor:"records"`
}

// NewFetcher constructs a Fetcher issuing its requests through the given client pool. When the configuration names
// a cache directory, fetched record sets are persisted there.
func NewFetcher(pool *rpc.ClientPool, targetContract common.Address, cfg config.FetcherConfig, logger *logging.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = logging.GlobalLogger.NewSubLogger("module", logging.FETCHER_SERVICE)
	}

	fetcher := &Fetcher{
		pool:           pool,
		logger:         logger,
		targetContract: targetContract,
		config:         cfg,
		capability:     chain.TraceFilter,
	}

	if cfg.CacheDirectory != "" {
		recordCache, err := cache.OpenRecordCache(cfg.CacheDirectory, pool.Endpoint())
		if err != nil {
			return nil, err
		}
		fetcher.recordCache = recordCache
	}
	return fetcher, nil
}

// Close releases the fetcher's cache resources, if any.
func (f *Fetcher) Close() error {
	if f.recordCache != nil {
		return f.recordCache.Close()
	}
	return nil
}

// Capability returns the trace capability currently selected by the cascading fallback.
func (f *Fetcher) Capability() chain.TraceCapability {
	return f.capability
}

// FetchRange retrieves all relevant transactions in [startBlock, endBlock], ordered by ascending
// (blockNumber, transactionIndex). Individual block failures are logged and skipped; only argument validation and a
// cancelled context abort the fetch.
func (f *Fetcher) FetchRange(ctx context.Context, startBlock uint64, endBlock uint64) ([]TransactionRecord, error) {
	if startBlock == 0 || startBlock > endBlock {
		return nil, errors.Errorf("invalid block range: [%d, %d]", startBlock, endBlock)
	}

	// Serve from the on-disk cache when possible.
	cacheKey := cache.Key{
		TargetContract: f.targetContract.Hex(),
		StartBlock:     startBlock,
		EndBlock:       endBlock,
	}
	if f.recordCache != nil {
		var cached cachedFetch
		found, err := f.recordCache.Get(cacheKey, &cached)
		if err != nil {
			f.logger.Warn("record cache lookup failed, refetching", err)
		} else if found {
			if records, err := restoreCachedFetch(cached); err != nil {
				f.logger.Warn("record cache entry is unreadable, refetching", err)
			} else {
				f.capability = chain.TraceCapability(cached.Capability)
				f.logger.Info("serving ", len(records), " transactions from the record cache")
				return records, nil
			}
		}
	}

	startTime := time.Now()
	f.logger.Info("starting fetch: blocks ", startBlock, " to ", endBlock,
		" (batch size: ", f.config.BatchSize, ", max concurrent: ", f.config.MaxConcurrent, ")")

	var allRecords []TransactionRecord
	blocksProcessed := 0

	// Process blocks in batches. Across batches processing is strictly sequential: batch N+1 does not start until
	// batch N's concurrent pool fully drains.
	for batchStart := startBlock; batchStart <= endBlock; batchStart += uint64(f.config.BatchSize) {
		batchEnd := batchStart + uint64(f.config.BatchSize) - 1
		if batchEnd > endBlock {
			batchEnd = endBlock
		}
		f.logger.Debug("processing batch: blocks ", batchStart, " to ", batchEnd)

		blockRecords, fetched := f.fetchBatch(ctx, batchStart, batchEnd)
		if utils.CheckContextDone(ctx) {
			return nil, ctx.Err()
		}
		blocksProcessed += fetched

		// Index every transaction in the batch by hash, and collect the direct-call set.
		byHash := make(map[common.Hash]TransactionRecord)
		matched := make(map[common.Hash]struct{})
		for _, records := range blockRecords {
			for _, record := range records {
				byHash[record.Hash] = record
				if record.To == f.targetContract {
					if _, exists := matched[record.Hash]; !exists {
						matched[record.Hash] = struct{}{}
						allRecords = append(allRecords, record)
					}
				}
			}
		}

		// Union in transactions whose execution trace includes a call to the target at any depth.
		for _, record := range f.collectInternalCalls(ctx, batchStart, batchEnd, byHash) {
			if _, exists := matched[record.Hash]; !exists {
				matched[record.Hash] = struct{}{}
				allRecords = append(allRecords, record)
			}
		}
	}

	// Per-block results are merged in block order regardless of completion order; enforce the global ordering
	// guarantee across the direct and traced sets as well.
	slices.SortStableFunc(allRecords, func(a TransactionRecord, b TransactionRecord) int {
		if a.BlockNumber != b.BlockNumber {
			if a.BlockNumber < b.BlockNumber {
				return -1
			}
			return 1
		}
		if a.TransactionIndex != b.TransactionIndex {
			if a.TransactionIndex < b.TransactionIndex {
				return -1
			}
			return 1
		}
		return 0
	})

	duration := time.Since(startTime)
	f.logger.Info("fetch completed in ", duration.Round(time.Millisecond).String(),
		": processed ", blocksProcessed, " blocks, found ", len(allRecords), " transactions")

	// Persist the fetched set, unless a supported trace method failed mid-run: such a set may be missing
	// internal-call transactions and serving it from the cache would hide that permanently.
	if f.recordCache != nil {
		if f.degradedByError {
			f.logger.Warn("not caching this fetch: a trace method failed mid-run and the record set may be incomplete")
		} else if err := f.recordCache.Put(cacheKey, newCachedFetch(f.capability, allRecords)); err != nil {
			f.logger.Warn("could not persist fetched records to the cache", err)
		}
	}
	return allRecords, nil
}

// newCachedFetch flattens a fetched record set into its cacheable envelope.
func newCachedFetch(capability chain.TraceCapability, records []TransactionRecord) cachedFetch {
	cached := cachedFetch{
		Capability: int(capability),
		Records:    make([]cachedRecord, 0, len(records)),
	}
	for _, record := range records {
		cached.Records = append(cached.Records, newCachedRecord(record))
	}
	return cached
}

// restoreCachedFetch rebuilds the record set from a cache hit.
func restoreCachedFetch(cached cachedFetch) ([]TransactionRecord, error) {
	records := make([]TransactionRecord, 0, len(cached.Records))
	for _, entry := range cached.Records {
		record, err := entry.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// blockResult carries the outcome of one concurrent block fetch.
type blockResult struct {
	blockNumber uint64
	records     []TransactionRecord
	err         error
}

// fetchBatch fetches per-block transaction lists for [batchStart, batchEnd] concurrently with a sliding-window
// admission policy: a new block fetch starts only when the in-flight count drops below the configured cap. Results
// are merged in block-number order. Failed blocks are logged and skipped so one bad block does not drop the rest of
// the batch. Returns the per-block records and the number of blocks successfully fetched.
func (f *Fetcher) fetchBatch(ctx context.Context, batchStart uint64, batchEnd uint64) (map[uint64][]TransactionRecord, int) {
	// Each in-flight fetch writes into its own single-entry channel; the slot queue fixes the merge order at
	// admission time while the semaphore bounds concurrency. A semaphore token is held for the full lifetime of a
	// block fetch, so at no point are more than MaxConcurrent requests in flight.
	slots := make(chan chan blockResult, f.config.MaxConcurrent)
	sem := make(chan struct{}, f.config.MaxConcurrent)
	go func() {
		for blockNumber := batchStart; blockNumber <= batchEnd; blockNumber++ {
			sem <- struct{}{}
			slot := make(chan blockResult, 1)
			slots <- slot
			go func(n uint64) {
				defer func() { <-sem }()
				records, err := f.fetchBlock(ctx, n)
				slot <- blockResult{blockNumber: n, records: records, err: err}
			}(blockNumber)
			if utils.CheckContextDone(ctx) {
				break
			}
		}
		close(slots)
	}()

	blockRecords := make(map[uint64][]TransactionRecord)
	fetched := 0
	for slot := range slots {
		result := <-slot
		if result.err != nil {
			f.logger.Warn("skipping block ", result.blockNumber, " after fetch failure", result.err)
			continue
		}
		blockRecords[result.blockNumber] = result.records
		fetched++
		if len(result.records) > 0 {
			f.logger.Debug("block ", result.blockNumber, ": ", len(result.records), " transactions")
		}
	}
	return blockRecords, fetched
}

// fetchBlock retrieves one block with full transaction objects and normalizes its transactions.
func (f *Fetcher) fetchBlock(ctx context.Context, blockNumber uint64) ([]TransactionRecord, error) {
	var block *rpcBlock
	err := f.pool.ExecuteRequestBlocking(ctx, &block, "eth_getBlockByNumber", hexutil.EncodeUint64(blockNumber), true)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, errors.Errorf("block %d not found", blockNumber)
	}

	records := make([]TransactionRecord, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		record, err := newRecordFromRPC(tx, blockNumber)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// collectInternalCalls discovers transactions in [batchStart, batchEnd] whose execution trace contains a call to the
// target contract, using the best trace capability the endpoint supports. The cascading fallback is walked at most
// once per run; the selected capability is reused for all later batches.
func (f *Fetcher) collectInternalCalls(ctx context.Context, batchStart uint64, batchEnd uint64, byHash map[common.Hash]TransactionRecord) []TransactionRecord {
	for {
		var records []TransactionRecord
		var err error
		switch f.capability {
		case chain.TraceFilter:
			records, err = f.collectViaTraceFilter(ctx, batchStart, batchEnd, byHash)
		case chain.DebugTraceBlockByNumber:
			records, err = f.collectViaTraceBlock(ctx, batchStart, batchEnd, byHash)
		case chain.DebugTraceTransaction:
			records, err = f.collectViaTraceTransaction(ctx, byHash)
		case chain.DirectCallsOnly:
			return nil
		}

		if err == nil {
			return records
		}
		if utils.CheckContextDone(ctx) {
			return nil
		}
		f.downgradeCapability(err)
	}
}

// downgradeCapability moves the cascading fallback one step down after the current capability failed, logging why.
func (f *Fetcher) downgradeCapability(err error) {
	if errors.Is(err, errUnsupported) {
		f.logger.Info("trace method ", f.capability.String(), " is not supported by the endpoint, falling back")
	} else {
		// A supported method that fails may leave internal calls undiscovered; taint the run so its record set is
		// not cached.
		f.degradedByError = true
		f.logger.Warn("trace method ", f.capability.String(), " failed, falling back", err)
	}

	f.capability++
	if f.capability == chain.DirectCallsOnly {
		f.logger.Warn("no trace method available: internal calls to the target contract will not be detected")
	}
}

// traceFilterEntry mirrors the subset of a trace_filter result entry the fetcher consumes.
type traceFilterEntry struct {
	TransactionHash string `json:"transactionHash"`
}

// collectViaTraceFilter discovers internal calls with a single trace_filter call over the batch range.
func (f *Fetcher) collectViaTraceFilter(ctx context.Context, batchStart uint64, batchEnd uint64, byHash map[common.Hash]TransactionRecord) ([]TransactionRecord, error) {
	var entries []traceFilterEntry
	err := f.pool.ExecuteRequestBlocking(ctx, &entries, "trace_filter", map[string]any{
		"fromBlock": hexutil.EncodeUint64(batchStart),
		"toBlock":   hexutil.EncodeUint64(batchEnd),
		"toAddress": []string{f.targetContract.Hex()},
	})
	if err != nil {
		return nil, f.classifyTraceError(err)
	}

	var records []TransactionRecord
	seen := make(map[common.Hash]struct{})
	for _, entry := range entries {
		hashBytes, err := utils.HexStringToBytes(entry.TransactionHash)
		if err != nil || len(hashBytes) != common.HashLength {
			f.logger.Warn("skipping trace entry with invalid transaction hash: ", entry.TransactionHash)
			continue
		}
		hash := common.BytesToHash(hashBytes)
		if _, exists := seen[hash]; exists {
			continue
		}
		seen[hash] = struct{}{}

		if record, exists := byHash[hash]; exists {
			records = append(records, record)
			continue
		}
		// The trace references a transaction outside the fetched block set (e.g. the block itself failed to
		// fetch); recover it individually rather than dropping it.
		record, err := f.fetchTransaction(ctx, hash)
		if err != nil {
			f.logger.Warn("skipping traced transaction ", hash.Hex(), " after fetch failure", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// blockTraceEntry mirrors one entry of a debug_traceBlockByNumber callTracer result.
type blockTraceEntry struct {
	TxHash string    `json:"txHash"`
	Result callFrame `json:"result"`
}

// collectViaTraceBlock discovers internal calls by tracing each block in the batch with the call tracer.
func (f *Fetcher) collectViaTraceBlock(ctx context.Context, batchStart uint64, batchEnd uint64, byHash map[common.Hash]TransactionRecord) ([]TransactionRecord, error) {
	var records []TransactionRecord
	for blockNumber := batchStart; blockNumber <= batchEnd; blockNumber++ {
		var entries []blockTraceEntry
		err := f.pool.ExecuteRequestBlocking(ctx, &entries, "debug_traceBlockByNumber", hexutil.EncodeUint64(blockNumber), map[string]any{
			"tracer": "callTracer",
		})
		if err != nil {
			classified := f.classifyTraceError(err)
			if errors.Is(classified, errUnsupported) {
				return nil, classified
			}
			// A transient per-block trace failure skips the block, consistent with the block fetch policy.
			f.logger.Warn("skipping trace of block ", blockNumber, " after failure", err)
			continue
		}

		for _, entry := range entries {
			if !entry.Result.containsCallTo(f.targetContract) {
				continue
			}
			hashBytes, err := utils.HexStringToBytes(entry.TxHash)
			if err != nil || len(hashBytes) != common.HashLength {
				continue
			}
			if record, exists := byHash[common.BytesToHash(hashBytes)]; exists {
				records = append(records, record)
			}
		}
	}
	return records, nil
}

// collectViaTraceTransaction discovers internal calls by tracing every transaction of the batch individually. This
// is the slowest capability and is only used once no block-level trace method is available.
func (f *Fetcher) collectViaTraceTransaction(ctx context.Context, byHash map[common.Hash]TransactionRecord) ([]TransactionRecord, error) {
	var records []TransactionRecord
	for hash, record := range byHash {
		// Direct calls are already collected; only trace the remainder.
		if record.To == f.targetContract {
			continue
		}

		var frame callFrame
		err := f.pool.ExecuteRequestBlocking(ctx, &frame, "debug_traceTransaction", hash.Hex(), map[string]any{
			"tracer": "callTracer",
		})
		if err != nil {
			classified := f.classifyTraceError(err)
			if errors.Is(classified, errUnsupported) {
				return nil, classified
			}
			f.logger.Warn("skipping trace of transaction ", hash.Hex(), " after failure", err)
			continue
		}
		if frame.containsCallTo(f.targetContract) {
			records = append(records, record)
		}
	}
	return records, nil
}

// fetchTransaction retrieves and normalizes a single transaction by hash.
func (f *Fetcher) fetchTransaction(ctx context.Context, hash common.Hash) (TransactionRecord, error) {
	var tx *rpcTransaction
	err := f.pool.ExecuteRequestBlocking(ctx, &tx, "eth_getTransactionByHash", hash.Hex())
	if err != nil {
		return TransactionRecord{}, err
	}
	if tx == nil {
		return TransactionRecord{}, errors.Errorf("transaction %s not found", hash.Hex())
	}
	blockNumber, err := utils.HexOrDecimalToUint64(tx.BlockNumber)
	if err != nil {
		return TransactionRecord{}, errors.Wrapf(err, "invalid block number in transaction %s", hash.Hex())
	}
	return newRecordFromRPC(*tx, blockNumber)
}

// classifyTraceError maps a trace call error to errUnsupported when the endpoint rejected the method as unknown, so
// the cascade can distinguish capability gaps from transient failures.
func (f *Fetcher) classifyTraceError(err error) error {
	if chain.ClassifyRPCError(err) == chain.ProbeUnsupported {
		return errors.Wrap(errUnsupported, err.Error())
	}
	return err
}

// callFrame is a recursive callTracer frame. Only the fields needed for target detection are decoded.
type callFrame struct {
	From  string      `json:"from"`
	To    string      `json:"to"`
	Input string      `json:"input"`
	Type  string      `json:"type"`
	Calls []callFrame `json:"calls,omitempty"`
}

// containsCallTo reports whether the frame or any nested frame calls the target address. Address comparison is
// case-insensitive.
func (c *callFrame) containsCallTo(target common.Address) bool {
	if utils.AddressesEqual(c.To, target.Hex()) {
		return true
	}
	for i := range c.Calls {
		if c.Calls[i].containsCallTo(target) {
			return true
		}
	}
	return false
}
