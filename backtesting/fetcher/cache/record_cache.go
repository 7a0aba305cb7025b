package cache

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// recordBucket is the bbolt bucket all cached record sets live in.
var recordBucket = []byte("records")

// RecordCache provides an on-disk cache of fetched transaction record sets so that a re-run backtest over the same
// range does not refetch from the RPC endpoint. One cache file exists per endpoint; entries are keyed by target
// contract and block range.
type RecordCache struct {
	db *bbolt.DB
}

// Key identifies one cached record set.
type Key struct {
	TargetContract string
	StartBlock     uint64
	EndBlock       uint64
}

func (k Key) bytes() []byte {
	return []byte(fmt.Sprintf("%s:%d:%d", k.TargetContract, k.StartBlock, k.EndBlock))
}

// OpenRecordCache opens (creating if necessary) the cache file for the given endpoint under workingDir.
func OpenRecordCache(workingDir string, endpoint string) (*RecordCache, error) {
	cacheDir, err := createCacheDirectory(workingDir)
	if err != nil {
		return nil, err
	}

	cacheFile := filepath.Join(cacheDir, getCacheFilename(endpoint))
	db, err := bbolt.Open(cacheFile, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "could not open record cache")
	}

	// create default bucket if it doesn't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordBucket)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &RecordCache{db: db}, nil
}

// Get looks up the record set for key, decoding it into out. The boolean reports whether the entry existed.
func (c *RecordCache) Get(key Key, out interface{}) (bool, error) {
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(recordBucket).Get(key.bytes())
		if data == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(data, out)
	})
	if err != nil {
		return false, errors.Wrap(err, "could not read from record cache")
	}
	return found, nil
}

// Put stores the record set for key.
func (c *RecordCache) Put(key Key, value interface{}) error {
	serialized, err := cbor.Marshal(value, cbor.EncOptions{})
	if err != nil {
		return errors.Wrap(err, "could not serialize records for caching")
	}
	return errors.Wrap(c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordBucket).Put(key.bytes(), serialized)
	}), "could not write to record cache")
}

// Close flushes and closes the underlying database.
func (c *RecordCache) Close() error {
	return c.db.Close()
}

func createCacheDirectory(workingDir string) (string, error) {
	cachePath := filepath.Join(workingDir, ".backtestcache")
	_, err := os.Stat(cachePath)
	if os.IsNotExist(err) {
		// Create directory with 0755 permissions if it doesn't exist
		if err = os.Mkdir(cachePath, 0755); err != nil {
			return "", errors.Wrap(err, "failed to create cache directory")
		}
	} else if err != nil {
		return "", errors.Wrap(err, "failed to check cache directory")
	}
	return cachePath, nil
}

func getCacheFilename(endpoint string) string {
	h := sha256.New()
	h.Write([]byte(endpoint))
	bs := h.Sum(nil)
	return fmt.Sprintf("%x.dat", bs[0:10])
}
