package backtesting

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

// encodeErrorString builds an Error(string) revert payload the way the Solidity compiler does.
func encodeErrorString(message string) []byte {
	payload := append([]byte{}, errorStringSelector[:]...)
	offset := make([]byte, 32)
	offset[31] = 0x20
	payload = append(payload, offset...)
	length := make([]byte, 32)
	big.NewInt(int64(len(message))).FillBytes(length)
	payload = append(payload, length...)
	data := make([]byte, (len(message)+31)/32*32)
	copy(data, message)
	return append(payload, data...)
}

// encodePanic builds a Panic(uint256) revert payload for the given code.
func encodePanic(code uint64) []byte {
	payload := append([]byte{}, panicSelector[:]...)
	argument := make([]byte, 32)
	new(big.Int).SetUint64(code).FillBytes(argument)
	return append(payload, argument...)
}

// TestDecodePanicCodes ensures known panic codes map onto their descriptions and unknown codes are still surfaced.
func TestDecodePanicCodes(t *testing.T) {
	assert.Equal(t, "Panic: arithmetic overflow", DecodeRevertReason(encodePanic(0x11)))
	assert.Equal(t, "Panic: array out-of-bounds access", DecodeRevertReason(encodePanic(0x32)))
	assert.Equal(t, "Panic: division or modulo by zero", DecodeRevertReason(encodePanic(0x12)))
	assert.Contains(t, DecodeRevertReason(encodePanic(0x99)), "unknown code")
}

// TestDecodeErrorString ensures require/revert reason strings are extracted from their ABI encoding.
func TestDecodeErrorString(t *testing.T) {
	assert.Equal(t, "test error", DecodeRevertReason(encodeErrorString("test error")))
	assert.Equal(t, "Mock Transaction Reverted: out of gas", DecodeRevertReason(encodeErrorString("Mock Transaction Reverted: out of gas")))
}

// TestDecodeCustomError ensures unrecognized selectors are rendered rather than swallowed.
func TestDecodeCustomError(t *testing.T) {
	reason := DecodeRevertReason([]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02})
	assert.Equal(t, "Custom error: 0xdeadbeef", reason)
}

// TestDecodeShortPayloads ensures payloads shorter than a selector, and malformed payload bodies, do not panic.
func TestDecodeShortPayloads(t *testing.T) {
	assert.Equal(t, "Unknown error", DecodeRevertReason(nil))
	assert.Equal(t, "Unknown error", DecodeRevertReason([]byte{0x08, 0xc3}))
	// Error(string) selector with a truncated body
	assert.Equal(t, "Unknown error", DecodeRevertReason(errorStringSelector[:]))
	// Panic(uint256) selector with a truncated argument
	assert.Equal(t, "Unknown error", DecodeRevertReason(append(panicSelector[:], 0x01)))
}
