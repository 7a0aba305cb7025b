package backtesting

import (
	"github.com/google/uuid"

	"github.com/phylaxsystems/credible-backtest/backtesting/fetcher"
	"github.com/phylaxsystems/credible-backtest/events"
)

// BacktesterEvents defines event emitters for a Backtester.
type BacktesterEvents struct {
	// RunStarting emits events when the Backtester has fetched its transaction set and is about to begin
	// validation.
	RunStarting events.EventEmitter[RunStartingEvent]

	// TransactionValidated emits events when a single transaction replay has been classified.
	TransactionValidated events.EventEmitter[TransactionValidatedEvent]

	// RunCompleted emits events when a backtest run has finished and its results are final.
	RunCompleted events.EventEmitter[RunCompletedEvent]
}

// RunStartingEvent describes an event where a backtest run is about to begin validating transactions.
type RunStartingEvent struct {
	// RunID identifies the run.
	RunID uuid.UUID

	// TransactionCount is the number of transactions queued for validation.
	TransactionCount uint64
}

// TransactionValidatedEvent describes an event where one transaction replay has been classified.
type TransactionValidatedEvent struct {
	// Record is the transaction that was replayed.
	Record fetcher.TransactionRecord

	// Outcome is the classification of the replay.
	Outcome ValidationOutcome
}

// RunCompletedEvent describes an event where a backtest run has completed.
type RunCompletedEvent struct {
	// Results holds the final aggregated results of the run.
	Results *BacktestResults
}
