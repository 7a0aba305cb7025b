package backtesting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phylaxsystems/credible-backtest/backtesting/config"
)

// defaultValidationConfig returns the default classifier configuration used across the tests below.
func defaultValidationConfig() config.ValidationConfig {
	return config.ValidationConfig{
		ExecutorVersion:       config.DefaultExecutorVersion,
		SkippedPrefixes:       config.DefaultSkippedPrefixes,
		ReplayFailurePrefixes: config.DefaultReplayFailurePrefixes,
	}
}

// TestClassifyOutcomes ensures the classifier maps executor revert wording onto the right outcome categories.
func TestClassifyOutcomes(t *testing.T) {
	classify, err := NewOutcomeClassifier(defaultValidationConfig())
	assert.NoError(t, err)

	// A successful replay classifies as success regardless of any message.
	outcome := classify(true, "")
	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.False(t, outcome.IsProtocolViolation)

	// The assertion's trigger never matched the transaction.
	outcome = classify(false, "Expected 1 assertion to be executed, but 0 were executed.")
	assert.Equal(t, OutcomeSkipped, outcome.Kind)
	assert.False(t, outcome.IsProtocolViolation)

	// The replayed transaction itself failed before the assertion could run.
	outcome = classify(false, "Mock Transaction Reverted: out of gas")
	assert.Equal(t, OutcomeReplayFailure, outcome.Kind)
	assert.False(t, outcome.IsProtocolViolation)

	outcome = classify(false, "Assertion Executor Error: ForkTxExecutionError: insufficient funds")
	assert.Equal(t, OutcomeReplayFailure, outcome.Kind)

	// Anything unrecognized is treated as a protocol violation.
	outcome = classify(false, "Sender balance not decreased correctly")
	assert.Equal(t, OutcomeAssertionFailed, outcome.Kind)
	assert.True(t, outcome.IsProtocolViolation)
	assert.Equal(t, "Sender balance not decreased correctly", outcome.Message)
}

// TestClassifierPrefixesAreInjectable ensures customized prefix tables replace the defaults wholesale.
func TestClassifierPrefixesAreInjectable(t *testing.T) {
	cfg := defaultValidationConfig()
	cfg.SkippedPrefixes = []string{"no assertion was triggered"}
	classify, err := NewOutcomeClassifier(cfg)
	assert.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, classify(false, "no assertion was triggered for this call").Kind)
	// The default skip wording is no longer recognized and falls through to a violation.
	assert.Equal(t, OutcomeAssertionFailed, classify(false, "Expected 1 assertion to be executed, but 0 were executed.").Kind)
}

// TestClassifierRejectsUnsupportedExecutorVersions ensures classification never proceeds against an executor whose
// revert wording has not been verified.
func TestClassifierRejectsUnsupportedExecutorVersions(t *testing.T) {
	cfg := defaultValidationConfig()

	cfg.ExecutorVersion = "2.0.0"
	_, err := NewOutcomeClassifier(cfg)
	assert.Error(t, err)

	cfg.ExecutorVersion = "0.0.1"
	_, err = NewOutcomeClassifier(cfg)
	assert.Error(t, err)

	cfg.ExecutorVersion = "not-a-version"
	_, err = NewOutcomeClassifier(cfg)
	assert.Error(t, err)

	cfg.ExecutorVersion = "1.3.7"
	_, err = NewOutcomeClassifier(cfg)
	assert.NoError(t, err)
}
