package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/phylaxsystems/credible-backtest/utils"
)

// BacktestConfig describes the immutable parameters of one backtest run.
type BacktestConfig struct {
	// TargetContract is the address of the adopter contract whose historical transactions are replayed.
	TargetContract string `json:"targetContract"`

	// RPCUrl is the JSON-RPC endpoint historical data is fetched from.
	RPCUrl string `json:"rpcUrl"`

	// ExecutorURL is the endpoint of the assertion executor that performs state forking and replay.
	ExecutorURL string `json:"executorUrl"`

	// EndBlock is the last block (inclusive) of the backtested range.
	EndBlock uint64 `json:"endBlock"`

	// BlockRange is the count of blocks ending at EndBlock to backtest. The computed start block is clamped so
	// that it is never below 1.
	BlockRange uint64 `json:"blockRange"`

	// ForkByBlock replays transactions against block-boundary state instead of exact pre-transaction state.
	// Forking at a block boundary yields post-transaction state for every transaction but the first in a block,
	// which corrupts pre-state checks. It is retained only for compatibility and defaults to off.
	ForkByBlock bool `json:"forkByBlock"`

	// Assertion describes the assertion contract attached to the target during replay.
	Assertion AssertionConfig `json:"assertion"`

	// Fetcher describes the configuration used by the transaction fetcher.
	Fetcher FetcherConfig `json:"fetcher"`

	// Validation describes the configuration used to classify replay outcomes.
	Validation ValidationConfig `json:"validation"`

	// Logging describes the configuration used for logging.
	Logging LoggingConfig `json:"logging"`
}

// AssertionConfig describes the assertion under test.
type AssertionConfig struct {
	// CreationBytecode is the hex-encoded creation bytecode of the assertion contract.
	CreationBytecode string `json:"creationBytecode"`

	// ConstructorArgs is the hex-encoded ABI encoding of the assertion's constructor arguments, if any.
	ConstructorArgs string `json:"constructorArgs"`

	// TriggerSelector is the hex-encoded 4-byte selector the assertion's trigger is registered for. Mutually
	// exclusive with TriggerSignature.
	TriggerSelector string `json:"triggerSelector"`

	// TriggerSignature is a canonical function signature (e.g. "transfer(address,uint256)") from which the
	// trigger selector is derived when TriggerSelector is not given.
	TriggerSignature string `json:"triggerSignature"`
}

// FetcherConfig describes the configuration options used by the transaction fetcher.
type FetcherConfig struct {
	// BatchSize is the number of consecutive blocks fetched per batch.
	BatchSize int `json:"batchSize"`

	// MaxConcurrent caps the number of in-flight block fetches within a batch.
	MaxConcurrent int `json:"maxConcurrent"`

	// OutputFormat selects the wire encoding for standalone fetches: "simple" or "json".
	OutputFormat string `json:"outputFormat"`

	// CacheDirectory, when non-empty, enables the on-disk record cache rooted at this directory.
	CacheDirectory string `json:"cacheDirectory"`

	// ClientPoolSize is the number of RPC clients dialed against the endpoint.
	ClientPoolSize uint `json:"clientPoolSize"`
}

// ValidationConfig describes the configuration used to classify replay outcomes. The revert-string prefixes are an
// external, versioned contract owned by the assertion executor; they are injectable here so they can be updated
// independently of the replay loop when the executor's wording changes.
type ValidationConfig struct {
	// ExecutorVersion is the semantic version of the assertion executor the prefix tables below were written
	// against. Classifier construction rejects versions outside the supported range.
	ExecutorVersion string `json:"executorVersion"`

	// SkippedPrefixes are revert-message prefixes indicating the assertion's trigger never matched.
	SkippedPrefixes []string `json:"skippedPrefixes"`

	// ReplayFailurePrefixes are revert-message prefixes indicating the transaction failed before the assertion
	// could execute.
	ReplayFailurePrefixes []string `json:"replayFailurePrefixes"`
}

// LoggingConfig describes the configuration options used for logging.
type LoggingConfig struct {
	// Level describes the log level.
	Level zerolog.Level `json:"level"`

	// LogDirectory, when non-empty, receives an unstructured log file of the run in addition to console output.
	LogDirectory string `json:"logDirectory"`

	// NoColor disables colorized console output.
	NoColor bool `json:"noColor"`
}

// ReadBacktestConfigFromFile reads a JSON-serialized BacktestConfig from the given path and validates it.
// Unrecognized fields are rejected rather than silently ignored.
func ReadBacktestConfigFromFile(path string) (*BacktestConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	config := GetDefaultBacktestConfig()
	decoder := json.NewDecoder(bytes.NewReader(b))
	decoder.DisallowUnknownFields()
	if err = decoder.Decode(config); err != nil {
		return nil, errors.Wrapf(err, "could not parse config file %s", path)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// WriteToFile serializes the config as indented JSON at the given path.
func (c *BacktestConfig) WriteToFile(path string) error {
	b, err := json.MarshalIndent(c, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(path, b, 0644))
}

// StartBlock computes the first block of the backtested range, clamped so it is never below 1.
func (c *BacktestConfig) StartBlock() uint64 {
	if c.BlockRange >= c.EndBlock {
		return 1
	}
	return c.EndBlock - c.BlockRange + 1
}

// TriggerSelector resolves the assertion trigger selector, preferring the raw selector and falling back to deriving
// it from the trigger signature.
func (c *BacktestConfig) TriggerSelector() ([4]byte, error) {
	if c.Assertion.TriggerSelector != "" {
		return utils.ParseFunctionSelector(c.Assertion.TriggerSelector)
	}
	if c.Assertion.TriggerSignature != "" {
		return utils.ComputeFunctionSelector(c.Assertion.TriggerSignature), nil
	}
	return [4]byte{}, errors.New("either a trigger selector or a trigger signature must be configured")
}

// Validate performs sanity checks on all configuration values, failing fast before any network call is made.
func (c *BacktestConfig) Validate() error {
	if c.RPCUrl == "" {
		return errors.New("an RPC URL must be configured")
	}
	if c.TargetContract == "" {
		return errors.New("a target contract address must be configured")
	}
	if _, err := utils.HexStringToAddress(c.TargetContract); err != nil {
		return errors.Wrap(err, "invalid target contract address")
	}
	if c.EndBlock == 0 {
		return errors.New("the end block must be greater than zero")
	}
	if c.BlockRange == 0 {
		return errors.New("the block range must be greater than zero")
	}
	if c.Fetcher.BatchSize <= 0 {
		return errors.New("the fetcher batch size must be greater than zero")
	}
	if c.Fetcher.MaxConcurrent <= 0 {
		return errors.New("the fetcher concurrency cap must be greater than zero")
	}
	if c.Fetcher.OutputFormat != "simple" && c.Fetcher.OutputFormat != "json" {
		return errors.Errorf("unsupported output format %q, expected \"simple\" or \"json\"", c.Fetcher.OutputFormat)
	}
	if c.Fetcher.ClientPoolSize == 0 {
		return errors.New("the RPC client pool size must be greater than zero")
	}
	if c.Assertion.CreationBytecode == "" {
		return errors.New("the assertion creation bytecode must be configured")
	}
	if _, err := utils.HexStringToBytes(c.Assertion.CreationBytecode); err != nil {
		return errors.Wrap(err, "invalid assertion creation bytecode")
	}
	if c.Assertion.ConstructorArgs != "" {
		if _, err := utils.HexStringToBytes(c.Assertion.ConstructorArgs); err != nil {
			return errors.Wrap(err, "invalid assertion constructor arguments")
		}
	}
	if _, err := c.TriggerSelector(); err != nil {
		return err
	}
	return nil
}
