package backtesting

import (
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Well-known revert payload selectors.
var (
	// errorStringSelector is the selector of Error(string), the payload produced by require/revert with a reason.
	errorStringSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0}
	// panicSelector is the selector of Panic(uint256), the payload produced by compiler-inserted checks.
	panicSelector = [4]byte{0x4e, 0x48, 0x7b, 0x71}
)

// panicCodeDescriptions maps the Solidity panic codes onto human-readable descriptions.
var panicCodeDescriptions = map[uint64]string{
	0x00: "generic compiler inserted panic",
	0x01: "assertion failed",
	0x11: "arithmetic overflow",
	0x12: "division or modulo by zero",
	0x21: "conversion into non-existent enum type",
	0x22: "incorrectly encoded storage byte array",
	0x31: "pop() on an empty array",
	0x32: "array out-of-bounds access",
	0x41: "memory allocation overflow",
	0x51: "call to a zero-initialized variable of internal function type",
}

// DecodeRevertReason converts raw revert return-data into a human-readable message. It recognizes the Panic(uint256)
// and Error(string) payload shapes; any other payload is rendered as a custom error selector. Payloads shorter than
// a selector yield "Unknown error".
func DecodeRevertReason(returnData []byte) string {
	if len(returnData) < 4 {
		return "Unknown error"
	}

	var selector [4]byte
	copy(selector[:], returnData[:4])

	switch selector {
	case panicSelector:
		return decodePanic(returnData[4:])
	case errorStringSelector:
		if message, ok := decodeErrorString(returnData[4:]); ok {
			return message
		}
		return "Unknown error"
	default:
		return fmt.Sprintf("Custom error: %s", hexutil.Encode(selector[:]))
	}
}

// decodePanic maps a Panic(uint256) argument onto its known description, or an "unknown code" message otherwise.
func decodePanic(argument []byte) string {
	if len(argument) != 32 {
		return "Unknown error"
	}
	code := new(big.Int).SetBytes(argument)
	if code.IsUint64() {
		if description, known := panicCodeDescriptions[code.Uint64()]; known {
			return fmt.Sprintf("Panic: %s", description)
		}
	}
	return fmt.Sprintf("Panic: unknown code 0x%x", code)
}

// decodeErrorString decodes the ABI encoding of Error(string): a 32-byte offset, a 32-byte length, then the UTF-8
// string data padded to a 32-byte boundary.
func decodeErrorString(argument []byte) (string, bool) {
	if len(argument) < 64 {
		return "", false
	}
	offset := new(big.Int).SetBytes(argument[:32])
	if !offset.IsUint64() || offset.Uint64()+32 > uint64(len(argument)) {
		return "", false
	}
	lengthStart := offset.Uint64()
	length := new(big.Int).SetBytes(argument[lengthStart : lengthStart+32])
	if !length.IsUint64() || lengthStart+32+length.Uint64() > uint64(len(argument)) {
		return "", false
	}
	message := string(argument[lengthStart+32 : lengthStart+32+length.Uint64()])
	if !utf8.ValidString(message) {
		return "", false
	}
	return strings.TrimRight(message, "\x00"), true
}
