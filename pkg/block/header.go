// Package block assembles fork-conditional headers and block envelopes and
// computes their hashes.
package block

import (
	"encoding/json"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/smallyunet/ethfill/pkg/types"
)

// Header holds every consensus field of a block header. Fork-gated fields are
// pointers; a nil pointer is omitted from the encoding entirely.
type Header struct {
	ParentHash  common.Hash
	UncleHash   common.Hash
	Coinbase    common.Address
	StateRoot   common.Hash
	TxRoot      common.Hash
	ReceiptRoot common.Hash
	Bloom       gethtypes.Bloom
	Difficulty  *big.Int
	Number      uint64
	GasLimit    uint64
	GasUsed     uint64
	Timestamp   uint64
	ExtraData   []byte
	MixDigest   common.Hash
	Nonce       gethtypes.BlockNonce

	BaseFee         *big.Int
	WithdrawalsRoot *common.Hash
	BlobGasUsed     *uint64
	ExcessBlobGas   *uint64
	BeaconRoot      *common.Hash
}

// RLPFields returns the RLP list items in wire order. Optional fields are
// appended only when present, so removing one shifts its successors.
func (h *Header) RLPFields() []interface{} {
	difficulty := h.Difficulty
	if difficulty == nil {
		difficulty = new(big.Int)
	}
	extra := h.ExtraData
	if extra == nil {
		extra = []byte{}
	}
	fields := []interface{}{
		h.ParentHash,
		h.UncleHash,
		h.Coinbase,
		h.StateRoot,
		h.TxRoot,
		h.ReceiptRoot,
		h.Bloom,
		difficulty,
		h.Number,
		h.GasLimit,
		h.GasUsed,
		h.Timestamp,
		extra,
		h.MixDigest,
		h.Nonce,
	}
	if h.BaseFee != nil {
		fields = append(fields, h.BaseFee)
	}
	if h.WithdrawalsRoot != nil {
		fields = append(fields, *h.WithdrawalsRoot)
	}
	if h.BlobGasUsed != nil {
		fields = append(fields, *h.BlobGasUsed)
	}
	if h.ExcessBlobGas != nil {
		fields = append(fields, *h.ExcessBlobGas)
	}
	if h.BeaconRoot != nil {
		fields = append(fields, *h.BeaconRoot)
	}
	return fields
}

// EncodeRLP implements rlp.Encoder.
func (h *Header) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, h.RLPFields())
}

// Hash returns the keccak256 hash of the header's RLP encoding. It reflects
// the header's current fields; callers hash only once all fields are final.
func (h *Header) Hash() common.Hash {
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		// Every field type has a valid encoding.
		panic(err)
	}
	return crypto.Keccak256Hash(enc)
}

// Copy returns a deep copy.
func (h *Header) Copy() *Header {
	cpy := *h
	if h.Difficulty != nil {
		cpy.Difficulty = new(big.Int).Set(h.Difficulty)
	}
	if h.BaseFee != nil {
		cpy.BaseFee = new(big.Int).Set(h.BaseFee)
	}
	cpy.ExtraData = common.CopyBytes(h.ExtraData)
	if h.WithdrawalsRoot != nil {
		v := *h.WithdrawalsRoot
		cpy.WithdrawalsRoot = &v
	}
	if h.BlobGasUsed != nil {
		v := *h.BlobGasUsed
		cpy.BlobGasUsed = &v
	}
	if h.ExcessBlobGas != nil {
		v := *h.ExcessBlobGas
		cpy.ExcessBlobGas = &v
	}
	if h.BeaconRoot != nil {
		v := *h.BeaconRoot
		cpy.BeaconRoot = &v
	}
	return &cpy
}

// ToGeth converts the header to go-ethereum's header type. Their hashes agree
// whenever the optional fields form a prefix of the canonical order.
func (h *Header) ToGeth() *gethtypes.Header {
	difficulty := new(big.Int)
	if h.Difficulty != nil {
		difficulty.Set(h.Difficulty)
	}
	gh := &gethtypes.Header{
		ParentHash:       h.ParentHash,
		UncleHash:        h.UncleHash,
		Coinbase:         h.Coinbase,
		Root:             h.StateRoot,
		TxHash:           h.TxRoot,
		ReceiptHash:      h.ReceiptRoot,
		Bloom:            h.Bloom,
		Difficulty:       difficulty,
		Number:           new(big.Int).SetUint64(h.Number),
		GasLimit:         h.GasLimit,
		GasUsed:          h.GasUsed,
		Time:             h.Timestamp,
		Extra:            common.CopyBytes(h.ExtraData),
		MixDigest:        h.MixDigest,
		Nonce:            h.Nonce,
		WithdrawalsHash:  h.WithdrawalsRoot,
		BlobGasUsed:      h.BlobGasUsed,
		ExcessBlobGas:    h.ExcessBlobGas,
		ParentBeaconRoot: h.BeaconRoot,
	}
	if h.BaseFee != nil {
		gh.BaseFee = new(big.Int).Set(h.BaseFee)
	}
	return gh
}

type headerJSON struct {
	ParentHash      common.Hash          `json:"parentHash"`
	UncleHash       common.Hash          `json:"uncleHash"`
	Coinbase        common.Address       `json:"coinbase"`
	StateRoot       common.Hash          `json:"stateRoot"`
	TxRoot          common.Hash          `json:"transactionsTrie"`
	ReceiptRoot     common.Hash          `json:"receiptTrie"`
	Bloom           gethtypes.Bloom      `json:"bloom"`
	Difficulty      string               `json:"difficulty"`
	Number          string               `json:"number"`
	GasLimit        string               `json:"gasLimit"`
	GasUsed         string               `json:"gasUsed"`
	Timestamp       string               `json:"timestamp"`
	ExtraData       hexutil.Bytes        `json:"extraData"`
	MixDigest       common.Hash          `json:"mixHash"`
	Nonce           gethtypes.BlockNonce `json:"nonce"`
	BaseFee         string               `json:"baseFeePerGas,omitempty"`
	WithdrawalsRoot *common.Hash         `json:"withdrawalsRoot,omitempty"`
	BlobGasUsed     string               `json:"blobGasUsed,omitempty"`
	ExcessBlobGas   string               `json:"excessBlobGas,omitempty"`
	BeaconRoot      *common.Hash         `json:"parentBeaconBlockRoot,omitempty"`
	Hash            common.Hash          `json:"hash"`
}

func padded(x uint64) string {
	return types.ZeroPaddedHex(new(big.Int).SetUint64(x))
}

// MarshalJSON encodes the header as it appears in fixtures, including its hash.
func (h *Header) MarshalJSON() ([]byte, error) {
	enc := headerJSON{
		ParentHash:      h.ParentHash,
		UncleHash:       h.UncleHash,
		Coinbase:        h.Coinbase,
		StateRoot:       h.StateRoot,
		TxRoot:          h.TxRoot,
		ReceiptRoot:     h.ReceiptRoot,
		Bloom:           h.Bloom,
		Difficulty:      types.ZeroPaddedHex(h.Difficulty),
		Number:          padded(h.Number),
		GasLimit:        padded(h.GasLimit),
		GasUsed:         padded(h.GasUsed),
		Timestamp:       padded(h.Timestamp),
		ExtraData:       h.ExtraData,
		MixDigest:       h.MixDigest,
		Nonce:           h.Nonce,
		WithdrawalsRoot: h.WithdrawalsRoot,
		BeaconRoot:      h.BeaconRoot,
		Hash:            h.Hash(),
	}
	if enc.ExtraData == nil {
		enc.ExtraData = hexutil.Bytes{}
	}
	if h.BaseFee != nil {
		enc.BaseFee = types.ZeroPaddedHex(h.BaseFee)
	}
	if h.BlobGasUsed != nil {
		enc.BlobGasUsed = padded(*h.BlobGasUsed)
	}
	if h.ExcessBlobGas != nil {
		enc.ExcessBlobGas = padded(*h.ExcessBlobGas)
	}
	return json.Marshal(&enc)
}

// UnmarshalJSON decodes a fixture header. The hash is recomputed, not read.
func (h *Header) UnmarshalJSON(data []byte) error {
	var dec struct {
		ParentHash      common.Hash           `json:"parentHash"`
		UncleHash       common.Hash           `json:"uncleHash"`
		Coinbase        common.Address        `json:"coinbase"`
		StateRoot       common.Hash           `json:"stateRoot"`
		TxRoot          common.Hash           `json:"transactionsTrie"`
		ReceiptRoot     common.Hash           `json:"receiptTrie"`
		Bloom           gethtypes.Bloom       `json:"bloom"`
		Difficulty      *math.HexOrDecimal256 `json:"difficulty"`
		Number          math.HexOrDecimal64   `json:"number"`
		GasLimit        math.HexOrDecimal64   `json:"gasLimit"`
		GasUsed         math.HexOrDecimal64   `json:"gasUsed"`
		Timestamp       math.HexOrDecimal64   `json:"timestamp"`
		ExtraData       hexutil.Bytes         `json:"extraData"`
		MixDigest       common.Hash           `json:"mixHash"`
		Nonce           gethtypes.BlockNonce  `json:"nonce"`
		BaseFee         *math.HexOrDecimal256 `json:"baseFeePerGas"`
		WithdrawalsRoot *common.Hash          `json:"withdrawalsRoot"`
		BlobGasUsed     *math.HexOrDecimal64  `json:"blobGasUsed"`
		ExcessBlobGas   *math.HexOrDecimal64  `json:"excessBlobGas"`
		BeaconRoot      *common.Hash          `json:"parentBeaconBlockRoot"`
	}
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	*h = Header{
		ParentHash:      dec.ParentHash,
		UncleHash:       dec.UncleHash,
		Coinbase:        dec.Coinbase,
		StateRoot:       dec.StateRoot,
		TxRoot:          dec.TxRoot,
		ReceiptRoot:     dec.ReceiptRoot,
		Bloom:           dec.Bloom,
		Difficulty:      (*big.Int)(dec.Difficulty),
		Number:          uint64(dec.Number),
		GasLimit:        uint64(dec.GasLimit),
		GasUsed:         uint64(dec.GasUsed),
		Timestamp:       uint64(dec.Timestamp),
		ExtraData:       dec.ExtraData,
		MixDigest:       dec.MixDigest,
		Nonce:           dec.Nonce,
		BaseFee:         (*big.Int)(dec.BaseFee),
		WithdrawalsRoot: dec.WithdrawalsRoot,
		BlobGasUsed:     (*uint64)(dec.BlobGasUsed),
		ExcessBlobGas:   (*uint64)(dec.ExcessBlobGas),
		BeaconRoot:      dec.BeaconRoot,
	}
	return nil
}
