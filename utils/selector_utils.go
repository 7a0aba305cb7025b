package utils

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// ComputeFunctionSelector derives the 4-byte function selector for a canonical Solidity function signature such as
// "transfer(address,uint256)" by taking the first four bytes of its keccak-256 hash.
func ComputeFunctionSelector(signature string) [4]byte {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(signature))
	var selector [4]byte
	copy(selector[:], hash.Sum(nil)[:4])
	return selector
}

// ParseFunctionSelector parses a 4-byte function selector from a hex string (with or without the "0x" prefix).
func ParseFunctionSelector(s string) ([4]byte, error) {
	var selector [4]byte
	b, err := HexStringToBytes(s)
	if err != nil {
		return selector, err
	}
	if len(b) != 4 {
		return selector, errors.Errorf("function selector must be exactly 4 bytes, got %d", len(b))
	}
	copy(selector[:], b)
	return selector, nil
}
