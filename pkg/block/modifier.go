package block

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Field names an optional header field that a Modifier may remove.
type Field uint8

const (
	FieldBaseFee Field = iota
	FieldWithdrawalsRoot
	FieldBlobGasUsed
	FieldExcessBlobGas
	FieldBeaconRoot
)

var fieldNames = map[Field]string{
	FieldBaseFee:         "baseFeePerGas",
	FieldWithdrawalsRoot: "withdrawalsRoot",
	FieldBlobGasUsed:     "blobGasUsed",
	FieldExcessBlobGas:   "excessBlobGas",
	FieldBeaconRoot:      "parentBeaconBlockRoot",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Field(%d)", uint8(f))
}

// MarshalText implements encoding.TextMarshaler.
func (f Field) MarshalText() ([]byte, error) {
	if _, ok := fieldNames[f]; !ok {
		return nil, fmt.Errorf("unknown header field %d", uint8(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Field) UnmarshalText(text []byte) error {
	for field, name := range fieldNames {
		if strings.EqualFold(name, string(text)) {
			*f = field
			return nil
		}
	}
	return fmt.Errorf("unknown header field %q", text)
}

// Modifier patches a built header. Every non-nil field overwrites the
// corresponding header field; Remove drops optional fields afterwards. The
// result is not checked against any fork, so a modifier can produce headers
// a client must reject.
type Modifier struct {
	ParentHash      *common.Hash
	UncleHash       *common.Hash
	Coinbase        *common.Address
	StateRoot       *common.Hash
	TxRoot          *common.Hash
	ReceiptRoot     *common.Hash
	Bloom           *gethtypes.Bloom
	Difficulty      *big.Int
	Number          *uint64
	GasLimit        *uint64
	GasUsed         *uint64
	Timestamp       *uint64
	ExtraData       *[]byte
	MixDigest       *common.Hash
	Nonce           *gethtypes.BlockNonce
	BaseFee         *big.Int
	WithdrawalsRoot *common.Hash
	BlobGasUsed     *uint64
	ExcessBlobGas   *uint64
	BeaconRoot      *common.Hash

	Remove []Field
}

// Apply returns a modified copy of h. h itself is left untouched.
func (m *Modifier) Apply(h *Header) *Header {
	out := h.Copy()
	if m == nil {
		return out
	}
	if m.ParentHash != nil {
		out.ParentHash = *m.ParentHash
	}
	if m.UncleHash != nil {
		out.UncleHash = *m.UncleHash
	}
	if m.Coinbase != nil {
		out.Coinbase = *m.Coinbase
	}
	if m.StateRoot != nil {
		out.StateRoot = *m.StateRoot
	}
	if m.TxRoot != nil {
		out.TxRoot = *m.TxRoot
	}
	if m.ReceiptRoot != nil {
		out.ReceiptRoot = *m.ReceiptRoot
	}
	if m.Bloom != nil {
		out.Bloom = *m.Bloom
	}
	if m.Difficulty != nil {
		out.Difficulty = new(big.Int).Set(m.Difficulty)
	}
	if m.Number != nil {
		out.Number = *m.Number
	}
	if m.GasLimit != nil {
		out.GasLimit = *m.GasLimit
	}
	if m.GasUsed != nil {
		out.GasUsed = *m.GasUsed
	}
	if m.Timestamp != nil {
		out.Timestamp = *m.Timestamp
	}
	if m.ExtraData != nil {
		out.ExtraData = common.CopyBytes(*m.ExtraData)
	}
	if m.MixDigest != nil {
		out.MixDigest = *m.MixDigest
	}
	if m.Nonce != nil {
		out.Nonce = *m.Nonce
	}
	if m.BaseFee != nil {
		out.BaseFee = new(big.Int).Set(m.BaseFee)
	}
	if m.WithdrawalsRoot != nil {
		v := *m.WithdrawalsRoot
		out.WithdrawalsRoot = &v
	}
	if m.BlobGasUsed != nil {
		v := *m.BlobGasUsed
		out.BlobGasUsed = &v
	}
	if m.ExcessBlobGas != nil {
		v := *m.ExcessBlobGas
		out.ExcessBlobGas = &v
	}
	if m.BeaconRoot != nil {
		v := *m.BeaconRoot
		out.BeaconRoot = &v
	}
	for _, f := range m.Remove {
		switch f {
		case FieldBaseFee:
			out.BaseFee = nil
		case FieldWithdrawalsRoot:
			out.WithdrawalsRoot = nil
		case FieldBlobGasUsed:
			out.BlobGasUsed = nil
		case FieldExcessBlobGas:
			out.ExcessBlobGas = nil
		case FieldBeaconRoot:
			out.BeaconRoot = nil
		}
	}
	return out
}

// HeaderMismatch describes one field that failed verification.
type HeaderMismatch struct {
	Field string
	Want  string
	Got   string
}

// HeaderVerifyError lists every mismatched field.
type HeaderVerifyError struct {
	Mismatches []HeaderMismatch
}

func (e *HeaderVerifyError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = fmt.Sprintf("%s: want %s, got %s", m.Field, m.Want, m.Got)
	}
	return "header mismatch: " + strings.Join(parts, "; ")
}

// Verify checks that h carries every value m sets and none of the fields m
// removes. It is used to assert properties of headers produced by the
// executor, before any modification is applied.
func (m *Modifier) Verify(h *Header) error {
	if m == nil {
		return nil
	}
	var bad []HeaderMismatch
	check := func(field string, set bool, want, got interface{}) {
		if !set {
			return
		}
		w, g := fmt.Sprint(want), fmt.Sprint(got)
		if w != g {
			bad = append(bad, HeaderMismatch{Field: field, Want: w, Got: g})
		}
	}
	deref := func(p interface{}) interface{} {
		switch v := p.(type) {
		case *big.Int:
			if v == nil {
				return "<nil>"
			}
			return v.String()
		case *uint64:
			if v == nil {
				return "<nil>"
			}
			return *v
		case *common.Hash:
			if v == nil {
				return "<nil>"
			}
			return v.Hex()
		}
		return p
	}

	if m.ParentHash != nil {
		check("parentHash", true, m.ParentHash.Hex(), h.ParentHash.Hex())
	}
	if m.UncleHash != nil {
		check("uncleHash", true, m.UncleHash.Hex(), h.UncleHash.Hex())
	}
	if m.Coinbase != nil {
		check("coinbase", true, m.Coinbase.Hex(), h.Coinbase.Hex())
	}
	if m.StateRoot != nil {
		check("stateRoot", true, m.StateRoot.Hex(), h.StateRoot.Hex())
	}
	if m.TxRoot != nil {
		check("transactionsTrie", true, m.TxRoot.Hex(), h.TxRoot.Hex())
	}
	if m.ReceiptRoot != nil {
		check("receiptTrie", true, m.ReceiptRoot.Hex(), h.ReceiptRoot.Hex())
	}
	if m.Bloom != nil {
		check("bloom", true, hexutil.Encode(m.Bloom[:]), hexutil.Encode(h.Bloom[:]))
	}
	check("difficulty", m.Difficulty != nil, deref(m.Difficulty), deref(h.Difficulty))
	check("number", m.Number != nil, deref(m.Number), h.Number)
	check("gasLimit", m.GasLimit != nil, deref(m.GasLimit), h.GasLimit)
	check("gasUsed", m.GasUsed != nil, deref(m.GasUsed), h.GasUsed)
	check("timestamp", m.Timestamp != nil, deref(m.Timestamp), h.Timestamp)
	if m.ExtraData != nil {
		check("extraData", true, hexutil.Encode(*m.ExtraData), hexutil.Encode(h.ExtraData))
	}
	if m.MixDigest != nil {
		check("mixHash", true, m.MixDigest.Hex(), h.MixDigest.Hex())
	}
	if m.Nonce != nil {
		check("nonce", true, m.Nonce.Uint64(), h.Nonce.Uint64())
	}
	check("baseFeePerGas", m.BaseFee != nil, deref(m.BaseFee), deref(h.BaseFee))
	check("withdrawalsRoot", m.WithdrawalsRoot != nil, deref(m.WithdrawalsRoot), deref(h.WithdrawalsRoot))
	check("blobGasUsed", m.BlobGasUsed != nil, deref(m.BlobGasUsed), deref(h.BlobGasUsed))
	check("excessBlobGas", m.ExcessBlobGas != nil, deref(m.ExcessBlobGas), deref(h.ExcessBlobGas))
	check("parentBeaconBlockRoot", m.BeaconRoot != nil, deref(m.BeaconRoot), deref(h.BeaconRoot))

	for _, f := range m.Remove {
		present := false
		switch f {
		case FieldBaseFee:
			present = h.BaseFee != nil
		case FieldWithdrawalsRoot:
			present = h.WithdrawalsRoot != nil
		case FieldBlobGasUsed:
			present = h.BlobGasUsed != nil
		case FieldExcessBlobGas:
			present = h.ExcessBlobGas != nil
		case FieldBeaconRoot:
			present = h.BeaconRoot != nil
		}
		if present {
			bad = append(bad, HeaderMismatch{Field: f.String(), Want: "absent", Got: "present"})
		}
	}
	if len(bad) > 0 {
		return &HeaderVerifyError{Mismatches: bad}
	}
	return nil
}

// UnmarshalJSON reads a modifier written with fixture header keys plus an
// optional "remove" list of field names.
func (m *Modifier) UnmarshalJSON(data []byte) error {
	var dec struct {
		ParentHash      *common.Hash          `json:"parentHash"`
		UncleHash       *common.Hash          `json:"uncleHash"`
		Coinbase        *common.Address       `json:"coinbase"`
		StateRoot       *common.Hash          `json:"stateRoot"`
		TxRoot          *common.Hash          `json:"transactionsTrie"`
		ReceiptRoot     *common.Hash          `json:"receiptTrie"`
		Bloom           *gethtypes.Bloom      `json:"bloom"`
		Difficulty      *math.HexOrDecimal256 `json:"difficulty"`
		Number          *math.HexOrDecimal64  `json:"number"`
		GasLimit        *math.HexOrDecimal64  `json:"gasLimit"`
		GasUsed         *math.HexOrDecimal64  `json:"gasUsed"`
		Timestamp       *math.HexOrDecimal64  `json:"timestamp"`
		ExtraData       *hexutil.Bytes        `json:"extraData"`
		MixDigest       *common.Hash          `json:"mixHash"`
		Nonce           *gethtypes.BlockNonce `json:"nonce"`
		BaseFee         *math.HexOrDecimal256 `json:"baseFeePerGas"`
		WithdrawalsRoot *common.Hash          `json:"withdrawalsRoot"`
		BlobGasUsed     *math.HexOrDecimal64  `json:"blobGasUsed"`
		ExcessBlobGas   *math.HexOrDecimal64  `json:"excessBlobGas"`
		BeaconRoot      *common.Hash          `json:"parentBeaconBlockRoot"`
		Remove          []Field               `json:"remove"`
	}
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	*m = Modifier{
		ParentHash:      dec.ParentHash,
		UncleHash:       dec.UncleHash,
		Coinbase:        dec.Coinbase,
		StateRoot:       dec.StateRoot,
		TxRoot:          dec.TxRoot,
		ReceiptRoot:     dec.ReceiptRoot,
		Bloom:           dec.Bloom,
		Difficulty:      (*big.Int)(dec.Difficulty),
		Number:          (*uint64)(dec.Number),
		GasLimit:        (*uint64)(dec.GasLimit),
		GasUsed:         (*uint64)(dec.GasUsed),
		Timestamp:       (*uint64)(dec.Timestamp),
		MixDigest:       dec.MixDigest,
		Nonce:           dec.Nonce,
		BaseFee:         (*big.Int)(dec.BaseFee),
		WithdrawalsRoot: dec.WithdrawalsRoot,
		BlobGasUsed:     (*uint64)(dec.BlobGasUsed),
		ExcessBlobGas:   (*uint64)(dec.ExcessBlobGas),
		BeaconRoot:      dec.BeaconRoot,
		Remove:          dec.Remove,
	}
	if dec.ExtraData != nil {
		extra := []byte(*dec.ExtraData)
		m.ExtraData = &extra
	}
	return nil
}
