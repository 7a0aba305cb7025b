package fetcher

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/phylaxsystems/credible-backtest/utils"
)

// TransactionDataMarker delimits the payload within the fetcher's mixed diagnostic stdout. The payload block is
// emitted as three marker occurrences: "<marker>START", "<marker><payload>" and "<marker>END".
const TransactionDataMarker = "TRANSACTION_DATA:"

const (
	// legacyFieldCount is the number of pipe-delimited fields per record in the legacy wire layout.
	legacyFieldCount = 8
	// extendedFieldCount is the number of fields per record in the EIP-1559 extended wire layout.
	extendedFieldCount = 11
)

// EncodeSimple serializes records into the pipe-delimited wire format: a leading record count followed by either 8
// (legacy) or 11 (extended) fields per record. The extended layout is used whenever any record carries EIP-1559 fee
// fields, so a payload is always uniform. All numeric fields are emitted in decimal.
func EncodeSimple(records []TransactionRecord) string {
	if len(records) == 0 {
		return "0"
	}

	extended := false
	for i := range records {
		if records[i].IsEIP1559() || records[i].GasLimit > 0 {
			extended = true
			break
		}
	}

	var builder strings.Builder
	builder.WriteString(strconv.Itoa(len(records)))
	for i := range records {
		record := &records[i]
		// Format: hash|from|to|value|data|blockNumber|txIndex|gasPrice[|gasLimit|maxFeePerGas|maxPriorityFeePerGas]
		fields := []string{
			record.Hash.Hex(),
			strings.ToLower(record.From.Hex()),
			strings.ToLower(record.To.Hex()),
			bigToDecimal(record.Value),
			hexutil.Encode(record.Data),
			strconv.FormatUint(record.BlockNumber, 10),
			strconv.FormatUint(record.TransactionIndex, 10),
			bigToDecimal(record.GasPrice),
		}
		if extended {
			fields = append(fields,
				strconv.FormatUint(record.GasLimit, 10),
				bigToDecimal(record.MaxFeePerGas),
				bigToDecimal(record.MaxPriorityFeePerGas),
			)
		}
		for _, field := range fields {
			builder.WriteByte('|')
			builder.WriteString(field)
		}
	}
	return builder.String()
}

// jsonRecord is the JSON wire shape of a TransactionRecord, matching the field naming of the original fetcher
// output so downstream consumers keep working.
type jsonRecord struct {
	Hash                 string `json:"hash"`
	From                 string `json:"from"`
	To                   string `json:"to"`
	Value                string `json:"value"`
	Data                 string `json:"data"`
	BlockNumber          string `json:"block_number"`
	TransactionIndex     string `json:"transaction_index"`
	GasPrice             string `json:"gas_price"`
	GasLimit             string `json:"gas_limit,omitempty"`
	MaxFeePerGas         string `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas string `json:"max_priority_fee_per_gas,omitempty"`
}

// EncodeJSON serializes records as a JSON array.
func EncodeJSON(records []TransactionRecord) (string, error) {
	out := make([]jsonRecord, len(records))
	for i := range records {
		record := &records[i]
		out[i] = jsonRecord{
			Hash:             record.Hash.Hex(),
			From:             strings.ToLower(record.From.Hex()),
			To:               strings.ToLower(record.To.Hex()),
			Value:            bigToDecimal(record.Value),
			Data:             hexutil.Encode(record.Data),
			BlockNumber:      strconv.FormatUint(record.BlockNumber, 10),
			TransactionIndex: strconv.FormatUint(record.TransactionIndex, 10),
			GasPrice:         bigToDecimal(record.GasPrice),
		}
		if record.IsEIP1559() || record.GasLimit > 0 {
			out[i].GasLimit = strconv.FormatUint(record.GasLimit, 10)
			out[i].MaxFeePerGas = bigToDecimal(record.MaxFeePerGas)
			out[i].MaxPriorityFeePerGas = bigToDecimal(record.MaxPriorityFeePerGas)
		}
	}
	serialized, err := json.Marshal(out)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(serialized), nil
}

// WritePayload renders the full sentinel-delimited payload block around an encoded payload, exactly as the caller
// contract expects it on stdout.
func WritePayload(payload string) string {
	return fmt.Sprintf("%sSTART\n%s%s%sEND", TransactionDataMarker, TransactionDataMarker, payload, TransactionDataMarker)
}

// ExtractDataLine locates the payload within raw fetcher output containing the sentinel markers: the substring
// between the second and third marker occurrence (first = START, second = payload, third = END), trimmed of trailing
// whitespace. Returns the empty string when fewer than three markers are present.
func ExtractDataLine(output string) string {
	remaining := output
	offsets := make([]int, 0, 3)
	base := 0
	for len(offsets) < 3 {
		idx := strings.Index(remaining, TransactionDataMarker)
		if idx < 0 {
			break
		}
		offsets = append(offsets, base+idx)
		base += idx + len(TransactionDataMarker)
		remaining = output[base:]
	}
	if len(offsets) < 3 {
		return ""
	}
	payload := output[offsets[1]+len(TransactionDataMarker) : offsets[2]]
	return strings.TrimRight(payload, " \t\r\n")
}

// ParseTransactionRecords decodes a pipe-delimited payload produced by EncodeSimple back into transaction records.
// The leading count determines how many records follow; the total field count decides between the legacy 8-field
// and extended 11-field layouts. A payload with insufficient fields for even the legacy layout is a hard error.
func ParseTransactionRecords(payload string) ([]TransactionRecord, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, errors.New("empty transaction payload")
	}

	fields := strings.Split(payload, "|")
	count, err := strconv.Atoi(fields[0])
	if err != nil || count < 0 {
		return nil, errors.Errorf("invalid record count: %q", fields[0])
	}
	if count == 0 {
		return []TransactionRecord{}, nil
	}

	fields = fields[1:]
	fieldsPerRecord := legacyFieldCount
	if len(fields) == count*extendedFieldCount {
		fieldsPerRecord = extendedFieldCount
	} else if len(fields) < count*legacyFieldCount {
		return nil, errors.Errorf("insufficient fields for %d records: have %d, need at least %d", count, len(fields), count*legacyFieldCount)
	}

	records := make([]TransactionRecord, 0, count)
	for i := 0; i < count; i++ {
		recordFields := fields[i*fieldsPerRecord : (i+1)*fieldsPerRecord]
		record, err := parseRecordFields(recordFields)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		records = append(records, record)
	}
	return records, nil
}

func parseRecordFields(fields []string) (TransactionRecord, error) {
	var record TransactionRecord

	hashBytes, err := utils.HexStringToBytes(fields[0])
	if err != nil || len(hashBytes) != common.HashLength {
		return record, errors.Errorf("invalid transaction hash: %q", fields[0])
	}
	record.Hash = common.BytesToHash(hashBytes)

	if record.From, err = utils.HexStringToAddress(fields[1]); err != nil {
		return record, errors.Wrap(err, "invalid sender address")
	}
	if record.To, err = utils.HexStringToAddress(fields[2]); err != nil {
		return record, errors.Wrap(err, "invalid recipient address")
	}
	if record.Value, err = utils.HexOrDecimalToBig(fields[3]); err != nil {
		return record, errors.Wrap(err, "invalid value")
	}
	if record.Data, err = utils.HexStringToBytes(fields[4]); err != nil {
		return record, errors.Wrap(err, "invalid calldata")
	}
	if record.BlockNumber, err = utils.HexOrDecimalToUint64(fields[5]); err != nil {
		return record, errors.Wrap(err, "invalid block number")
	}
	if record.TransactionIndex, err = utils.HexOrDecimalToUint64(fields[6]); err != nil {
		return record, errors.Wrap(err, "invalid transaction index")
	}
	if record.GasPrice, err = utils.HexOrDecimalToBig(fields[7]); err != nil {
		return record, errors.Wrap(err, "invalid gas price")
	}

	if len(fields) == extendedFieldCount {
		if record.GasLimit, err = utils.HexOrDecimalToUint64(fields[8]); err != nil {
			return record, errors.Wrap(err, "invalid gas limit")
		}
		if record.MaxFeePerGas, err = utils.HexOrDecimalToBig(fields[9]); err != nil {
			return record, errors.Wrap(err, "invalid max fee")
		}
		if record.MaxPriorityFeePerGas, err = utils.HexOrDecimalToBig(fields[10]); err != nil {
			return record, errors.Wrap(err, "invalid max priority fee")
		}
	}
	return record, nil
}

func bigToDecimal(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
