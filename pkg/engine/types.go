// Package engine shapes built blocks into engine API newPayload requests.
package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/smallyunet/ethfill/pkg/block"
	"github.com/smallyunet/ethfill/pkg/forks"
	"github.com/smallyunet/ethfill/pkg/tx"
)

// ErrorCode is a JSON-RPC error code a client is expected to return for a
// payload.
type ErrorCode int

const (
	ParseError               ErrorCode = -32700
	InvalidRequest           ErrorCode = -32600
	MethodNotFound           ErrorCode = -32601
	InvalidParams            ErrorCode = -32602
	InternalError            ErrorCode = -32603
	ServerError              ErrorCode = -32000
	UnknownPayload           ErrorCode = -38001
	InvalidForkchoiceState   ErrorCode = -38002
	InvalidPayloadAttributes ErrorCode = -38003
	TooLargeRequest          ErrorCode = -38004
	UnsupportedFork          ErrorCode = -38005
)

// UnmarshalJSON accepts the code as a number or a quoted decimal.
func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	n, err := strconv.Atoi(strings.Trim(string(data), `"`))
	if err != nil {
		return fmt.Errorf("invalid error code %s", data)
	}
	*c = ErrorCode(n)
	return nil
}

// ExecutionPayload represents an execution payload
type ExecutionPayload struct {
	ParentHash    common.Hash             `json:"parentHash"`
	FeeRecipient  common.Address          `json:"feeRecipient"`
	StateRoot     common.Hash             `json:"stateRoot"`
	ReceiptsRoot  common.Hash             `json:"receiptsRoot"`
	LogsBloom     hexutil.Bytes           `json:"logsBloom"`
	PrevRandao    common.Hash             `json:"prevRandao"`
	BlockNumber   hexutil.Uint64          `json:"blockNumber"`
	GasLimit      hexutil.Uint64          `json:"gasLimit"`
	GasUsed       hexutil.Uint64          `json:"gasUsed"`
	Timestamp     hexutil.Uint64          `json:"timestamp"`
	ExtraData     hexutil.Bytes           `json:"extraData"`
	BaseFeePerGas *hexutil.Big            `json:"baseFeePerGas"`
	BlockHash     common.Hash             `json:"blockHash"`
	Transactions  []hexutil.Bytes         `json:"transactions"`
	Withdrawals   []*gethtypes.Withdrawal `json:"-"`
	BlobGasUsed   *hexutil.Uint64         `json:"blobGasUsed,omitempty"`
	ExcessBlobGas *hexutil.Uint64         `json:"excessBlobGas,omitempty"`
}

// MarshalJSON emits "withdrawals" whenever the list is non-nil, including
// an empty list.
func (p ExecutionPayload) MarshalJSON() ([]byte, error) {
	type Alias ExecutionPayload
	if p.Withdrawals == nil {
		return json.Marshal(Alias(p))
	}
	return json.Marshal(&struct {
		Alias
		Withdrawals []*gethtypes.Withdrawal `json:"withdrawals"`
	}{Alias(p), p.Withdrawals})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *ExecutionPayload) UnmarshalJSON(data []byte) error {
	type Alias ExecutionPayload
	aux := &struct {
		*Alias
		Withdrawals []*gethtypes.Withdrawal `json:"withdrawals"`
	}{Alias: (*Alias)(p)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	p.Withdrawals = aux.Withdrawals
	return nil
}

// NewPayload is one engine_newPayload call of an engine fixture together with
// the expected outcome.
type NewPayload struct {
	ExecutionPayload      *ExecutionPayload `json:"executionPayload"`
	BlobVersionedHashes   *[]common.Hash    `json:"blobVersionedHashes,omitempty"`
	ParentBeaconBlockRoot *common.Hash      `json:"parentBeaconBlockRoot,omitempty"`
	Version               int               `json:"version,string"`
	Valid                 bool              `json:"valid"`
	ErrorCode             *ErrorCode        `json:"errorCode,omitempty"`
}

// FromHeader converts a built header and its body into a newPayload call.
// The method version comes from the fork active at the header's number and
// timestamp.
func FromHeader(network forks.Network, header *block.Header, txs []*tx.Transaction, withdrawals []*gethtypes.Withdrawal, valid bool, errorCode *ErrorCode) (*NewPayload, error) {
	version, err := network.EngineNewPayloadVersion(header.Number, header.Timestamp)
	if err != nil {
		return nil, err
	}

	payload := &ExecutionPayload{
		ParentHash:    header.ParentHash,
		FeeRecipient:  header.Coinbase,
		StateRoot:     header.StateRoot,
		ReceiptsRoot:  header.ReceiptRoot,
		LogsBloom:     header.Bloom.Bytes(),
		PrevRandao:    header.MixDigest,
		BlockNumber:   hexutil.Uint64(header.Number),
		GasLimit:      hexutil.Uint64(header.GasLimit),
		GasUsed:       hexutil.Uint64(header.GasUsed),
		Timestamp:     hexutil.Uint64(header.Timestamp),
		ExtraData:     common.CopyBytes(header.ExtraData),
		BlockHash:     header.Hash(),
		Transactions:  make([]hexutil.Bytes, 0, len(txs)),
		BlobGasUsed:   (*hexutil.Uint64)(header.BlobGasUsed),
		ExcessBlobGas: (*hexutil.Uint64)(header.ExcessBlobGas),
	}
	if payload.ExtraData == nil {
		payload.ExtraData = hexutil.Bytes{}
	}
	if header.BaseFee != nil {
		payload.BaseFeePerGas = (*hexutil.Big)(header.BaseFee)
	}
	if version >= 2 && withdrawals != nil {
		payload.Withdrawals = withdrawals
	}

	var blobHashes []common.Hash
	for i, t := range txs {
		enc, err := t.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode transaction %d: %w", i, err)
		}
		payload.Transactions = append(payload.Transactions, enc)
		blobHashes = append(blobHashes, t.BlobVersionedHashes...)
	}

	p := &NewPayload{
		ExecutionPayload: payload,
		Version:          version,
		Valid:            valid,
		ErrorCode:        errorCode,
	}
	if version >= 3 {
		if blobHashes == nil {
			blobHashes = []common.Hash{}
		}
		p.BlobVersionedHashes = &blobHashes
		p.ParentBeaconBlockRoot = header.BeaconRoot
	}
	return p, nil
}
