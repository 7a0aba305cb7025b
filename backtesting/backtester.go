package backtesting

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/net/context"

	"github.com/phylaxsystems/credible-backtest/backtesting/config"
	"github.com/phylaxsystems/credible-backtest/backtesting/fetcher"
	"github.com/phylaxsystems/credible-backtest/chain/rpc"
	"github.com/phylaxsystems/credible-backtest/logging"
	"github.com/phylaxsystems/credible-backtest/logging/colors"
	"github.com/phylaxsystems/credible-backtest/utils"
)

// Backtester represents one backtest run over a historical block range: it fetches the target contract's
// transactions, replays each against forked state with the assertion attached, and aggregates the classified
// outcomes.
type Backtester struct {
	// config describes the run parameters.
	config config.BacktestConfig

	// logger describes the Backtester's log object and is the parent of every component sub-logger.
	logger *logging.Logger

	// pool provides the JSON-RPC clients used to fetch historical data.
	pool *rpc.ClientPool

	// fetcher collects the target contract's historical transactions.
	fetcher *fetcher.Fetcher

	// validator replays and classifies individual transactions.
	validator *Validator

	// results aggregates classified outcomes for the current run. It is nil until Run is called.
	results *BacktestResults

	// Events describes the event system for the Backtester.
	Events BacktesterEvents
}

// NewBacktester validates the provided config, wires up the fetching and validation components against the given
// assertion executor, and returns a Backtester ready to Run.
func NewBacktester(cfg config.BacktestConfig, executor AssertionExecutor) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.GlobalLogger.NewSubLogger("module", logging.BACKTESTING_SERVICE)
	if cfg.Logging.LogDirectory != "" {
		if err := os.MkdirAll(cfg.Logging.LogDirectory, 0777); err != nil {
			return nil, errors.WithStack(err)
		}
		file, err := os.Create(filepath.Join(cfg.Logging.LogDirectory, "backtest.log"))
		if err != nil {
			return nil, errors.Wrap(err, "could not create the run's log file")
		}
		logging.GlobalLogger.AddWriter(file, logging.UNSTRUCTURED)
	}

	targetContract, err := utils.HexStringToAddress(cfg.TargetContract)
	if err != nil {
		return nil, err
	}
	assertion, err := buildAssertion(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := rpc.NewClientPool(cfg.RPCUrl, cfg.Fetcher.ClientPoolSize)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to the RPC endpoint %s", cfg.RPCUrl)
	}
	txFetcher, err := fetcher.NewFetcher(pool, targetContract, cfg.Fetcher, logger.NewSubLogger("module", logging.FETCHER_SERVICE))
	if err != nil {
		pool.Close()
		return nil, err
	}

	classifier, err := NewOutcomeClassifier(cfg.Validation)
	if err != nil {
		pool.Close()
		return nil, err
	}
	validator := NewValidator(executor, classifier, targetContract, assertion, cfg.ForkByBlock, logger)

	return &Backtester{
		config:    cfg,
		logger:    logger,
		pool:      pool,
		fetcher:   txFetcher,
		validator: validator,
	}, nil
}

// buildAssertion decodes the configured assertion material into its binary form.
func buildAssertion(cfg config.BacktestConfig) (Assertion, error) {
	bytecode, err := utils.HexStringToBytes(cfg.Assertion.CreationBytecode)
	if err != nil {
		return Assertion{}, errors.Wrap(err, "invalid assertion creation bytecode")
	}
	var constructorArgs []byte
	if cfg.Assertion.ConstructorArgs != "" {
		constructorArgs, err = utils.HexStringToBytes(cfg.Assertion.ConstructorArgs)
		if err != nil {
			return Assertion{}, errors.Wrap(err, "invalid assertion constructor arguments")
		}
	}
	selector, err := cfg.TriggerSelector()
	if err != nil {
		return Assertion{}, err
	}
	return Assertion{
		CreationBytecode: bytecode,
		ConstructorArgs:  constructorArgs,
		TriggerSelector:  selector,
	}, nil
}

// Results returns the aggregated results of the last run, or nil if no run has started.
func (b *Backtester) Results() *BacktestResults {
	return b.results
}

// Run executes the backtest: fetch the target's transactions over the configured range, replay each one under the
// assertion, and aggregate the outcomes. It blocks until the run completes, the context is cancelled, or an event
// handler signals an error. A completed run with protocol violations is not an error; callers inspect Results.
func (b *Backtester) Run(ctx context.Context) error {
	startBlock, endBlock := b.config.StartBlock(), b.config.EndBlock
	b.logger.Info("fetching transactions to ", colors.Bold, b.config.TargetContract, colors.Reset, " over blocks ", startBlock, " to ", endBlock)

	records, err := b.fetcher.FetchRange(ctx, startBlock, endBlock)
	if err != nil {
		return err
	}
	b.logger.Info("fetched ", colors.Bold, len(records), colors.Reset, " transactions (trace capability: ", b.fetcher.Capability().String(), ")")

	b.results = NewBacktestResults(uint64(len(records)))
	err = b.Events.RunStarting.Publish(RunStartingEvent{
		RunID:            b.results.RunID,
		TransactionCount: b.results.TotalTransactions,
	})
	if err != nil {
		return errors.Wrap(err, "a run-starting event handler returned an error")
	}

	for _, record := range records {
		if utils.CheckContextDone(ctx) {
			b.logger.Warn("backtest run cancelled after ", b.results.ProcessedTransactions, " of ", b.results.TotalTransactions, " transactions")
			break
		}

		outcome := b.validator.ValidateTransaction(ctx, record)
		b.results.Record(outcome)
		b.logOutcome(record, outcome)

		err = b.Events.TransactionValidated.Publish(TransactionValidatedEvent{
			Record:  record,
			Outcome: outcome,
		})
		if err != nil {
			return errors.Wrap(err, "a transaction-validated event handler returned an error")
		}
	}

	b.results.LogSummary(b.logger)
	err = b.Events.RunCompleted.Publish(RunCompletedEvent{Results: b.results})
	if err != nil {
		return errors.Wrap(err, "a run-completed event handler returned an error")
	}
	return nil
}

// logOutcome logs a single classified replay at a level and color matching its severity.
func (b *Backtester) logOutcome(record fetcher.TransactionRecord, outcome ValidationOutcome) {
	switch outcome.Kind {
	case OutcomeSuccess:
		b.logger.Info(colors.Green, "PASS ", colors.Reset, record.Hash.Hex())
	case OutcomeSkipped:
		b.logger.Debug(colors.DarkGray, "SKIP ", record.Hash.Hex(), colors.Reset)
	case OutcomeAssertionFailed:
		b.logger.Error(colors.RedBold, "VIOLATION ", colors.Reset, record.Hash.Hex(), ": ", outcome.Message)
	case OutcomeReplayFailure:
		b.logger.Warn(colors.Yellow, "REPLAY FAILURE ", colors.Reset, record.Hash.Hex(), ": ", outcome.Message)
	default:
		b.logger.Warn(colors.Magenta, "ERROR ", colors.Reset, record.Hash.Hex(), ": ", outcome.Message)
	}
}

// Close releases the Backtester's network and disk resources.
func (b *Backtester) Close() {
	if err := b.fetcher.Close(); err != nil {
		b.logger.Warn("could not close the record cache cleanly", err)
	}
	b.pool.Close()
}
