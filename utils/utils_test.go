package utils

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHexStringToAddress verifies case-insensitive address parsing and the empty-string-to-zero-address convention.
func TestHexStringToAddress(t *testing.T) {
	upper, err := HexStringToAddress("0xAB5801A7D398351B8BE11C439E05C5B3259AEC9B")
	require.NoError(t, err)
	lower, err := HexStringToAddress("0xab5801a7d398351b8be11c439e05c5b3259aec9b")
	require.NoError(t, err)
	assert.Equal(t, upper, lower)

	// Empty string maps to the zero address (contract creation convention).
	zero, err := HexStringToAddress("")
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, zero)

	// Garbage should error rather than silently truncate.
	_, err = HexStringToAddress("0xzz")
	assert.Error(t, err)
}

// TestAddressesEqual verifies case and prefix insensitivity of the string comparison helper.
func TestAddressesEqual(t *testing.T) {
	assert.True(t, AddressesEqual("0xABCDEF0123456789abcdef0123456789ABCDEF01", "0xabcdef0123456789ABCDEF0123456789abcdef01"))
	assert.True(t, AddressesEqual("ABCDEF0123456789abcdef0123456789ABCDEF01", "0xabcdef0123456789abcdef0123456789abcdef01"))
	assert.False(t, AddressesEqual("0x1111111111111111111111111111111111111111", "0x2222222222222222222222222222222222222222"))
}

// TestHexOrDecimalParsing verifies that both hex and decimal numeric strings normalize to the same values.
func TestHexOrDecimalParsing(t *testing.T) {
	hexValue, err := HexOrDecimalToBig("0xff")
	require.NoError(t, err)
	decimalValue, err := HexOrDecimalToBig("255")
	require.NoError(t, err)
	assert.Zero(t, hexValue.Cmp(decimalValue))

	empty, err := HexOrDecimalToBig("")
	require.NoError(t, err)
	assert.Zero(t, empty.Sign())

	u, err := HexOrDecimalToUint64("0x10")
	require.NoError(t, err)
	assert.EqualValues(t, 16, u)

	_, err = HexOrDecimalToUint64("0xffffffffffffffffff")
	assert.Error(t, err)
}

// TestComputeFunctionSelector verifies selector derivation against a well-known signature.
func TestComputeFunctionSelector(t *testing.T) {
	// keccak256("transfer(address,uint256)")[:4] == 0xa9059cbb
	selector := ComputeFunctionSelector("transfer(address,uint256)")
	assert.Equal(t, [4]byte{0xa9, 0x05, 0x9c, 0xbb}, selector)

	parsed, err := ParseFunctionSelector("0xa9059cbb")
	require.NoError(t, err)
	assert.Equal(t, selector, parsed)

	_, err = ParseFunctionSelector("0xa9059c")
	assert.Error(t, err)
}
