package utils

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// HexStringToAddress converts a hex string (with or without the "0x" prefix) to a common.Address. The empty string
// maps to the zero address, matching the contract-creation convention used by the transaction wire format. Returns
// the parsed address, or an error if one occurs during conversion.
func HexStringToAddress(s string) (common.Address, error) {
	// An empty "to" field denotes contract creation, which we represent with the zero address.
	if s == "" {
		return common.Address{}, nil
	}

	// Remove the 0x prefix and decode the hex string into a byte array. Address comparison must be case-insensitive,
	// so we lower the string before decoding rather than relying on checksum casing.
	b, err := hex.DecodeString(strings.ToLower(strings.TrimPrefix(s, "0x")))
	if err != nil {
		return common.Address{}, errors.WithStack(err)
	}

	// Parse the bytes as an address and return them.
	address := common.Address{}
	address.SetBytes(b)
	return address, nil
}

// AddressesEqual compares two hex address strings case-insensitively, treating the "0x" prefix as optional on
// either side.
func AddressesEqual(a string, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}
