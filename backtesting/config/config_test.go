package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newValidConfig returns a default config with the run-specific required fields filled in.
func newValidConfig() *BacktestConfig {
	c := GetDefaultBacktestConfig()
	c.TargetContract = "0x1111111111111111111111111111111111111111"
	c.RPCUrl = "http://localhost:8545"
	c.EndBlock = 1000
	c.BlockRange = 100
	c.Assertion.CreationBytecode = "0x6080604052"
	c.Assertion.TriggerSelector = "0xa9059cbb"
	return c
}

// TestValidateRequiredFields ensures that each required field is enforced before any network call could be made.
func TestValidateRequiredFields(t *testing.T) {
	require.NoError(t, newValidConfig().Validate())

	c := newValidConfig()
	c.RPCUrl = ""
	assert.Error(t, c.Validate())

	c = newValidConfig()
	c.TargetContract = ""
	assert.Error(t, c.Validate())

	c = newValidConfig()
	c.TargetContract = "not an address"
	assert.Error(t, c.Validate())

	c = newValidConfig()
	c.BlockRange = 0
	assert.Error(t, c.Validate())

	c = newValidConfig()
	c.Fetcher.OutputFormat = "xml"
	assert.Error(t, c.Validate())

	c = newValidConfig()
	c.Assertion.CreationBytecode = ""
	assert.Error(t, c.Validate())

	c = newValidConfig()
	c.Assertion.TriggerSelector = ""
	c.Assertion.TriggerSignature = ""
	assert.Error(t, c.Validate())
}

// TestStartBlockClamping verifies that the computed start block never falls below 1.
func TestStartBlockClamping(t *testing.T) {
	c := newValidConfig()
	c.EndBlock = 1000
	c.BlockRange = 100
	assert.EqualValues(t, 901, c.StartBlock())

	// A range wider than the chain clamps to the genesis-adjacent block.
	c.BlockRange = 5000
	assert.EqualValues(t, 1, c.StartBlock())

	c.BlockRange = 1000
	assert.EqualValues(t, 1, c.StartBlock())
}

// TestTriggerSelectorResolution verifies both the raw selector and the signature derivation paths.
func TestTriggerSelectorResolution(t *testing.T) {
	c := newValidConfig()
	selector, err := c.TriggerSelector()
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0xa9, 0x05, 0x9c, 0xbb}, selector)

	c.Assertion.TriggerSelector = ""
	c.Assertion.TriggerSignature = "transfer(address,uint256)"
	selector, err = c.TriggerSelector()
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0xa9, 0x05, 0x9c, 0xbb}, selector)
}

// TestReadWriteRoundTrip verifies that a config survives serialization to disk and that unknown fields are rejected.
func TestReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backtest.json")

	original := newValidConfig()
	original.Fetcher.BatchSize = 20
	original.Fetcher.MaxConcurrent = 10
	require.NoError(t, original.WriteToFile(path))

	loaded, err := ReadBacktestConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)

	// An unrecognized field must be rejected, never silently ignored.
	require.NoError(t, os.WriteFile(path, []byte(`{"useTraceFilter": true}`), 0644))
	_, err = ReadBacktestConfigFromFile(path)
	assert.Error(t, err)
}
