package utils

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// HexOrDecimalToBig parses a numeric string that may be either "0x"-prefixed hexadecimal or plain decimal into a
// big.Int. RPC endpoints return hex quantities while the wire format carries decimal, so both forms must be accepted.
// The empty string parses to zero.
func HexOrDecimalToBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	value, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, errors.Errorf("could not parse numeric string: %q", s)
	}
	return value, nil
}

// HexOrDecimalToUint64 parses a numeric string that may be either "0x"-prefixed hexadecimal or plain decimal into a
// uint64. Returns an error if the value does not fit.
func HexOrDecimalToUint64(s string) (uint64, error) {
	value, err := HexOrDecimalToBig(s)
	if err != nil {
		return 0, err
	}
	if !value.IsUint64() {
		return 0, errors.Errorf("numeric string out of uint64 range: %q", s)
	}
	return value.Uint64(), nil
}

// HexStringToBytes decodes a hex string (with or without the "0x" prefix) into a byte slice. The empty string and a
// bare "0x" decode to an empty slice.
func HexStringToBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}
