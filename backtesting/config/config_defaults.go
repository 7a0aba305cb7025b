package config

import "github.com/rs/zerolog"

// Default revert-message prefixes the outcome classifier matches against. These mirror the wording of the current
// assertion executor release and are treated as an external, versioned contract; override them through
// ValidationConfig when the executor's wording changes.
var (
	// DefaultSkippedPrefixes indicate the assertion's trigger selector never matched the replayed transaction.
	DefaultSkippedPrefixes = []string{
		"Expected 1 assertion to be executed, but 0",
	}

	// DefaultReplayFailurePrefixes indicate the transaction failed before the assertion could execute. These are
	// pre-state/context problems, not protocol violations.
	DefaultReplayFailurePrefixes = []string{
		"Mock Transaction Reverted:",
		"Assertion Executor Error: ForkTxExecutionError",
	}
)

// DefaultExecutorVersion is the assertion executor version the default prefix tables were written against.
const DefaultExecutorVersion = "1.0.0"

// GetDefaultBacktestConfig obtains a default configuration for a backtest run. Every optional field carries an
// explicit default; callers fill in the run-specific values (target, endpoint, range, assertion) and validate.
func GetDefaultBacktestConfig() *BacktestConfig {
	return &BacktestConfig{
		ForkByBlock: false,
		Fetcher: FetcherConfig{
			BatchSize:      10,
			MaxConcurrent:  5,
			OutputFormat:   "simple",
			CacheDirectory: "",
			ClientPoolSize: 5,
		},
		Validation: ValidationConfig{
			ExecutorVersion:       DefaultExecutorVersion,
			SkippedPrefixes:       DefaultSkippedPrefixes,
			ReplayFailurePrefixes: DefaultReplayFailurePrefixes,
		},
		Logging: LoggingConfig{
			Level:        zerolog.InfoLevel,
			LogDirectory: "",
			NoColor:      false,
		},
	}
}
