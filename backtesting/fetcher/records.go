package fetcher

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/phylaxsystems/credible-backtest/utils"
)

// TransactionRecord represents one historical transaction relevant to the target contract. Records are created by
// the fetcher from raw RPC block/trace data, are immutable thereafter, and are consumed once by the validator.
type TransactionRecord struct {
	// Hash is the transaction hash. It is non-zero for any successfully fetched record.
	Hash common.Hash

	// From is the sender address.
	From common.Address

	// To is the recipient address. It is the zero address for contract creation.
	To common.Address

	// Value is the transferred amount in wei.
	Value *big.Int

	// Data is the transaction calldata.
	Data []byte

	// BlockNumber is the block the transaction was included in.
	BlockNumber uint64

	// TransactionIndex is the transaction's position within its block.
	TransactionIndex uint64

	// GasPrice is the effective gas price the transaction was submitted with.
	GasPrice *big.Int

	// GasLimit is the transaction's gas limit. Zero when the record was produced by a source that does not carry
	// it (legacy wire layout).
	GasLimit uint64

	// MaxFeePerGas is the EIP-1559 fee cap, nil/zero for legacy transactions.
	MaxFeePerGas *big.Int

	// MaxPriorityFeePerGas is the EIP-1559 priority fee, nil/zero for legacy transactions.
	MaxPriorityFeePerGas *big.Int
}

// IsEIP1559 reports whether the record carries the extended fee fields.
func (r *TransactionRecord) IsEIP1559() bool {
	return r.MaxFeePerGas != nil && r.MaxFeePerGas.Sign() > 0
}

// cachedRecord is the form a TransactionRecord takes in the on-disk cache. Hashes and addresses are flattened to
// byte slices and the big integer fields to decimal strings; fixed-size arrays and *big.Int do not survive a CBOR
// round trip.
type cachedRecord struct {
	Hash                 []byte `cbor:"hash"`
	From                 []byte `cbor:"from"`
	To                   []byte `cbor:"to"`
	Value                string `cbor:"value"`
	Data                 []byte `cbor:"data"`
	BlockNumber          uint64 `cbor:"blockNumber"`
	TransactionIndex     uint64 `cbor:"transactionIndex"`
	GasPrice             string `cbor:"gasPrice"`
	GasLimit             uint64 `cbor:"gasLimit"`
	MaxFeePerGas         string `cbor:"maxFeePerGas"`
	MaxPriorityFeePerGas string `cbor:"maxPriorityFeePerGas"`
}

// newCachedRecord flattens a TransactionRecord into its cacheable form. Nil fee fields map to empty strings so the
// legacy/EIP-1559 distinction survives the round trip.
func newCachedRecord(record TransactionRecord) cachedRecord {
	cached := cachedRecord{
		Hash:             record.Hash.Bytes(),
		From:             record.From.Bytes(),
		To:               record.To.Bytes(),
		Value:            bigToDecimal(record.Value),
		Data:             record.Data,
		BlockNumber:      record.BlockNumber,
		TransactionIndex: record.TransactionIndex,
		GasPrice:         bigToDecimal(record.GasPrice),
		GasLimit:         record.GasLimit,
	}
	if record.MaxFeePerGas != nil {
		cached.MaxFeePerGas = bigToDecimal(record.MaxFeePerGas)
	}
	if record.MaxPriorityFeePerGas != nil {
		cached.MaxPriorityFeePerGas = bigToDecimal(record.MaxPriorityFeePerGas)
	}
	return cached
}

// toRecord rebuilds the TransactionRecord from its cached form.
func (c cachedRecord) toRecord() (TransactionRecord, error) {
	if len(c.Hash) != common.HashLength {
		return TransactionRecord{}, errors.Errorf("cached record carries an invalid hash of %d bytes", len(c.Hash))
	}
	record := TransactionRecord{
		Hash:             common.BytesToHash(c.Hash),
		From:             common.BytesToAddress(c.From),
		To:               common.BytesToAddress(c.To),
		Data:             c.Data,
		BlockNumber:      c.BlockNumber,
		TransactionIndex: c.TransactionIndex,
		GasLimit:         c.GasLimit,
	}
	var err error
	if record.Value, err = decimalToBig(c.Value); err != nil {
		return TransactionRecord{}, errors.Wrapf(err, "cached record %s carries an invalid value", record.Hash.Hex())
	}
	if record.GasPrice, err = decimalToBig(c.GasPrice); err != nil {
		return TransactionRecord{}, errors.Wrapf(err, "cached record %s carries an invalid gas price", record.Hash.Hex())
	}
	if c.MaxFeePerGas != "" {
		if record.MaxFeePerGas, err = decimalToBig(c.MaxFeePerGas); err != nil {
			return TransactionRecord{}, errors.Wrapf(err, "cached record %s carries an invalid max fee", record.Hash.Hex())
		}
	}
	if c.MaxPriorityFeePerGas != "" {
		if record.MaxPriorityFeePerGas, err = decimalToBig(c.MaxPriorityFeePerGas); err != nil {
			return TransactionRecord{}, errors.Wrapf(err, "cached record %s carries an invalid max priority fee", record.Hash.Hex())
		}
	}
	return record, nil
}

// decimalToBig parses a non-negative base-10 integer string, treating the empty string as zero.
func decimalToBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("invalid decimal value %q", s)
	}
	return value, nil
}

// rpcTransaction mirrors the JSON shape of a transaction object returned by eth_getBlockByNumber with full
// transaction objects. All quantities are left as strings and normalized during record conversion.
type rpcTransaction struct {
	Hash                 string `json:"hash"`
	From                 string `json:"from"`
	To                   string `json:"to"`
	Value                string `json:"value"`
	Input                string `json:"input"`
	TransactionIndex     string `json:"transactionIndex"`
	BlockNumber          string `json:"blockNumber,omitempty"`
	Gas                  string `json:"gas"`
	GasPrice             string `json:"gasPrice"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

// rpcBlock mirrors the JSON shape of a block returned by eth_getBlockByNumber with full transaction objects.
type rpcBlock struct {
	Number       string           `json:"number"`
	Transactions []rpcTransaction `json:"transactions"`
}

// newRecordFromRPC normalizes a raw RPC transaction object into a TransactionRecord. Hex quantities are converted
// to their numeric forms and an empty "to" maps to the zero address.
func newRecordFromRPC(tx rpcTransaction, blockNumber uint64) (TransactionRecord, error) {
	record := TransactionRecord{BlockNumber: blockNumber}

	hashBytes, err := utils.HexStringToBytes(tx.Hash)
	if err != nil || len(hashBytes) != common.HashLength {
		return record, errors.Errorf("invalid transaction hash: %q", tx.Hash)
	}
	record.Hash = common.BytesToHash(hashBytes)

	if record.From, err = utils.HexStringToAddress(tx.From); err != nil {
		return record, errors.Wrapf(err, "invalid sender address in transaction %s", tx.Hash)
	}
	if record.To, err = utils.HexStringToAddress(tx.To); err != nil {
		return record, errors.Wrapf(err, "invalid recipient address in transaction %s", tx.Hash)
	}
	if record.Value, err = utils.HexOrDecimalToBig(tx.Value); err != nil {
		return record, errors.Wrapf(err, "invalid value in transaction %s", tx.Hash)
	}
	if record.Data, err = utils.HexStringToBytes(tx.Input); err != nil {
		return record, errors.Wrapf(err, "invalid calldata in transaction %s", tx.Hash)
	}
	if record.TransactionIndex, err = utils.HexOrDecimalToUint64(tx.TransactionIndex); err != nil {
		return record, errors.Wrapf(err, "invalid transaction index in transaction %s", tx.Hash)
	}
	if record.GasPrice, err = utils.HexOrDecimalToBig(tx.GasPrice); err != nil {
		return record, errors.Wrapf(err, "invalid gas price in transaction %s", tx.Hash)
	}
	if tx.Gas != "" {
		if record.GasLimit, err = utils.HexOrDecimalToUint64(tx.Gas); err != nil {
			return record, errors.Wrapf(err, "invalid gas limit in transaction %s", tx.Hash)
		}
	}
	if tx.MaxFeePerGas != "" {
		if record.MaxFeePerGas, err = utils.HexOrDecimalToBig(tx.MaxFeePerGas); err != nil {
			return record, errors.Wrapf(err, "invalid max fee in transaction %s", tx.Hash)
		}
	}
	if tx.MaxPriorityFeePerGas != "" {
		if record.MaxPriorityFeePerGas, err = utils.HexOrDecimalToBig(tx.MaxPriorityFeePerGas); err != nil {
			return record, errors.Wrapf(err, "invalid max priority fee in transaction %s", tx.Hash)
		}
	}
	return record, nil
}
