package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storedEntry mirrors the shape callers persist: byte slices for hashes and decimal strings for big integers, the
// forms that survive a CBOR round trip.
type storedEntry struct {
	Hash        []byte
	Value       string
	BlockNumber uint64
}

// TestRecordCacheRoundTrip verifies that an entry survives a put/get cycle across cache reopens.
func TestRecordCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	endpoint := "http://localhost:8545"
	key := Key{TargetContract: "0x1111111111111111111111111111111111111111", StartBlock: 100, EndBlock: 200}

	cache, err := OpenRecordCache(dir, endpoint)
	require.NoError(t, err)

	// A lookup before any write must report a miss.
	var out []storedEntry
	found, err := cache.Get(key, &out)
	require.NoError(t, err)
	assert.False(t, found)

	entries := []storedEntry{
		{Hash: []byte{0x01, 0x02}, Value: "1000000000000000000", BlockNumber: 100},
		{Hash: []byte{0x03, 0x04}, Value: "0", BlockNumber: 150},
	}
	require.NoError(t, cache.Put(key, entries))
	require.NoError(t, cache.Close())

	// Reopen and verify the entry persisted.
	cache, err = OpenRecordCache(dir, endpoint)
	require.NoError(t, err)
	defer cache.Close()

	found, err = cache.Get(key, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, entries, out)

	// A different range is a distinct entry.
	found, err = cache.Get(Key{TargetContract: key.TargetContract, StartBlock: 100, EndBlock: 201}, &out)
	require.NoError(t, err)
	assert.False(t, found)
}
