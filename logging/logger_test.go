package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// TestAddWriter will test the Logger.AddWriter function to ensure that writers are added exactly once and receive
// log output.
func TestAddWriter(t *testing.T) {
	// Create a base logger
	logger := NewLogger(zerolog.InfoLevel, false)

	// Add a writer and then try to add the same writer again
	var buf bytes.Buffer
	logger.AddWriter(&buf, STRUCTURED)
	logger.AddWriter(&buf, STRUCTURED)

	// We should expect the underlying data structure is correctly updated
	assert.Equal(t, 1, len(logger.writers))

	// Log a message and make sure it made it to the writer
	logger.Info("hello")
	assert.Contains(t, buf.String(), "hello")
}

// TestSubLogger will test that a sub-logger carries its key-value context into log output.
func TestSubLogger(t *testing.T) {
	logger := NewLogger(zerolog.InfoLevel, false)

	var buf bytes.Buffer
	logger.AddWriter(&buf, STRUCTURED)

	subLogger := logger.NewSubLogger("module", FETCHER_SERVICE)
	subLogger.Info("fetching")

	assert.True(t, strings.Contains(buf.String(), "fetcher"))
	assert.True(t, strings.Contains(buf.String(), "fetching"))
}

// TestSetLevel will test that messages below the configured level are suppressed.
func TestSetLevel(t *testing.T) {
	logger := NewLogger(zerolog.InfoLevel, false)

	var buf bytes.Buffer
	logger.AddWriter(&buf, STRUCTURED)

	logger.SetLevel(zerolog.ErrorLevel)
	logger.Info("should not appear")
	assert.NotContains(t, buf.String(), "should not appear")

	logger.Error("should appear")
	assert.Contains(t, buf.String(), "should appear")
}
