package backtesting

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phylaxsystems/credible-backtest/logging"
	"github.com/phylaxsystems/credible-backtest/logging/colors"
)

// BacktestResults aggregates per-transaction validation outcomes over a run. Counters only ever increase and
// ProcessedTransactions always equals the sum of the per-outcome counters.
type BacktestResults struct {
	// RunID uniquely identifies the backtest run that produced these results.
	RunID uuid.UUID

	// TotalTransactions is the number of transactions the fetcher handed to the validator.
	TotalTransactions uint64

	// ProcessedTransactions is the number of transactions that have been classified so far.
	ProcessedTransactions uint64

	// SuccessfulValidations counts replays where the assertion executed and passed.
	SuccessfulValidations uint64

	// SkippedTransactions counts replays where the assertion was never triggered.
	SkippedTransactions uint64

	// AssertionFailures counts detected protocol violations.
	AssertionFailures uint64

	// ReplayFailures counts transactions whose replay itself failed before the assertion could be judged.
	ReplayFailures uint64

	// UnknownErrors counts transactions lost to executor or transport failures.
	UnknownErrors uint64
}

// NewBacktestResults creates an empty result set for a run expecting totalTransactions transactions.
func NewBacktestResults(totalTransactions uint64) *BacktestResults {
	return &BacktestResults{
		RunID:             uuid.New(),
		TotalTransactions: totalTransactions,
	}
}

// Record tallies one classified outcome.
func (r *BacktestResults) Record(outcome ValidationOutcome) {
	r.ProcessedTransactions++
	switch outcome.Kind {
	case OutcomeSuccess:
		r.SuccessfulValidations++
	case OutcomeSkipped:
		r.SkippedTransactions++
	case OutcomeAssertionFailed:
		r.AssertionFailures++
	case OutcomeReplayFailure:
		r.ReplayFailures++
	default:
		r.UnknownErrors++
	}
}

// HasProtocolViolations indicates whether any replay surfaced an assertion failure.
func (r *BacktestResults) HasProtocolViolations() bool {
	return r.AssertionFailures > 0
}

// SuccessRate returns the share of conclusive replays that validated successfully, as a percentage. Skipped
// transactions are excluded from the denominator since the assertion never ran for them. A run with no conclusive
// replays has a success rate of zero.
func (r *BacktestResults) SuccessRate() decimal.Decimal {
	conclusive := r.ProcessedTransactions - r.SkippedTransactions
	if conclusive == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(r.SuccessfulValidations).
		Div(decimal.NewFromUint64(conclusive)).
		Mul(decimal.NewFromInt(100))
}

// LogSummary emits a human-readable summary of the run to the given logger.
func (r *BacktestResults) LogSummary(logger *logging.Logger) {
	violationColor := colors.Green
	if r.HasProtocolViolations() {
		violationColor = colors.RedBold
	}
	logger.Info(
		"backtest run ", r.RunID.String(), " complete: ",
		r.ProcessedTransactions, "/", r.TotalTransactions, " transactions processed, ",
		colors.Green, r.SuccessfulValidations, " passed", colors.Reset, ", ",
		r.SkippedTransactions, " skipped, ",
		violationColor, r.AssertionFailures, " assertion failures", colors.Reset, ", ",
		r.ReplayFailures, " replay failures, ",
		r.UnknownErrors, " unknown errors (success rate ", r.SuccessRate().Round(2).String(), "%)",
	)
}
