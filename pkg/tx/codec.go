package tx

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// payload returns the RLP fields preceding the signature, in wire order.
func (tx *Transaction) payload() []interface{} {
	to := []byte{}
	if tx.To != nil {
		to = tx.To.Bytes()
	}
	accessList := tx.AccessList
	if accessList == nil {
		accessList = AccessList{}
	}
	hashes := tx.BlobVersionedHashes
	if hashes == nil {
		hashes = []common.Hash{}
	}

	switch tx.Type {
	case LegacyTxType:
		return []interface{}{tx.Nonce, orZero(tx.GasPrice), tx.Gas, to, orZero(tx.Value), tx.Data}
	case AccessListTxType:
		return []interface{}{
			tx.ChainID, tx.Nonce, orZero(tx.GasPrice), tx.Gas, to, orZero(tx.Value), tx.Data,
			accessList,
		}
	case DynamicFeeTxType:
		return []interface{}{
			tx.ChainID, tx.Nonce, orZero(tx.MaxPriorityFeePerGas), orZero(tx.MaxFeePerGas), tx.Gas, to,
			orZero(tx.Value), tx.Data, accessList,
		}
	default:
		return []interface{}{
			tx.ChainID, tx.Nonce, orZero(tx.MaxPriorityFeePerGas), orZero(tx.MaxFeePerGas), tx.Gas, to,
			orZero(tx.Value), tx.Data, accessList, orZero(tx.MaxFeePerBlobGas), hashes,
		}
	}
}

// SigningHash returns the digest the sender signs. Legacy transactions hash
// six fields, or nine with EIP-155 protection; typed transactions hash the
// type byte followed by the RLP of their unsigned fields.
func (tx *Transaction) SigningHash() (common.Hash, error) {
	if err := tx.Validate(); err != nil {
		return common.Hash{}, err
	}
	fields := tx.payload()
	if tx.Type == LegacyTxType {
		if tx.Protected {
			fields = append(fields, tx.ChainID, uint(0), uint(0))
		}
		enc, err := rlp.EncodeToBytes(fields)
		if err != nil {
			return common.Hash{}, err
		}
		return crypto.Keccak256Hash(enc), nil
	}
	enc, err := rlp.EncodeToBytes(fields)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash([]byte{tx.Type}, enc), nil
}

// Encode returns the canonical encoding: the RLP list of a legacy
// transaction, or the type byte followed by the RLP list of a typed one. A
// raw override is returned verbatim.
func (tx *Transaction) Encode() ([]byte, error) {
	if tx.RLP != nil {
		return common.CopyBytes(tx.RLP), nil
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	sig, err := tx.signature()
	if err != nil {
		return nil, err
	}
	fields := append(tx.payload(), sig.v, sig.r, sig.s)
	enc, err := rlp.EncodeToBytes(fields)
	if err != nil {
		return nil, err
	}
	if tx.Type == LegacyTxType {
		return enc, nil
	}
	return append([]byte{tx.Type}, enc...), nil
}

// BodyElement returns the value to place in a block body's transaction list:
// the list itself for legacy transactions, a byte string for typed ones.
func (tx *Transaction) BodyElement() (interface{}, error) {
	enc, err := tx.Encode()
	if err != nil {
		return nil, err
	}
	if isList(enc) {
		return rlp.RawValue(enc), nil
	}
	return enc, nil
}

func isList(enc []byte) bool {
	return len(enc) > 0 && enc[0] >= 0xc0
}

// EncodeList encodes txs as an RLP list of body elements.
func EncodeList(txs []*Transaction) ([]byte, error) {
	elems := make([]interface{}, len(txs))
	for i, tx := range txs {
		elem, err := tx.BodyElement()
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		elems[i] = elem
	}
	return rlp.EncodeToBytes(elems)
}

type legacyRLP struct {
	Nonce    uint64
	GasPrice *uint256.Int
	Gas      uint64
	To       []byte
	Value    *uint256.Int
	Data     []byte
	V, R, S  *uint256.Int
}

type accessListRLP struct {
	ChainID    uint64
	Nonce      uint64
	GasPrice   *uint256.Int
	Gas        uint64
	To         []byte
	Value      *uint256.Int
	Data       []byte
	AccessList AccessList
	V, R, S    *uint256.Int
}

type dynamicFeeRLP struct {
	ChainID    uint64
	Nonce      uint64
	GasTipCap  *uint256.Int
	GasFeeCap  *uint256.Int
	Gas        uint64
	To         []byte
	Value      *uint256.Int
	Data       []byte
	AccessList AccessList
	V, R, S    *uint256.Int
}

type blobRLP struct {
	ChainID          uint64
	Nonce            uint64
	GasTipCap        *uint256.Int
	GasFeeCap        *uint256.Int
	Gas              uint64
	To               []byte
	Value            *uint256.Int
	Data             []byte
	AccessList       AccessList
	MaxFeePerBlobGas *uint256.Int
	BlobHashes       []common.Hash
	V, R, S          *uint256.Int
}

// Decode parses a canonical transaction encoding. The result carries the
// decoded signature and no secret key.
func Decode(enc []byte) (*Transaction, error) {
	if len(enc) == 0 {
		return nil, errors.New("empty transaction encoding")
	}
	tx := &Transaction{}
	var (
		sig signature
		to  []byte
	)
	if isList(enc) {
		var dec legacyRLP
		if err := rlp.DecodeBytes(enc, &dec); err != nil {
			return nil, fmt.Errorf("decode legacy tx: %w", err)
		}
		tx.Type = LegacyTxType
		tx.Nonce, tx.GasPrice, tx.Gas, tx.Value, tx.Data = dec.Nonce, dec.GasPrice, dec.Gas, dec.Value, dec.Data
		to, sig = dec.To, signature{v: dec.V, r: dec.R, s: dec.S}
		if v := dec.V.Uint64(); dec.V.IsUint64() && v >= 35 {
			tx.Protected = true
			tx.ChainID = (v - 35) / 2
		}
	} else {
		body := enc[1:]
		switch enc[0] {
		case AccessListTxType:
			var dec accessListRLP
			if err := rlp.DecodeBytes(body, &dec); err != nil {
				return nil, fmt.Errorf("decode access list tx: %w", err)
			}
			tx.ChainID, tx.Nonce, tx.GasPrice, tx.Gas = dec.ChainID, dec.Nonce, dec.GasPrice, dec.Gas
			tx.Value, tx.Data, tx.AccessList = dec.Value, dec.Data, dec.AccessList
			to, sig = dec.To, signature{v: dec.V, r: dec.R, s: dec.S}
		case DynamicFeeTxType:
			var dec dynamicFeeRLP
			if err := rlp.DecodeBytes(body, &dec); err != nil {
				return nil, fmt.Errorf("decode dynamic fee tx: %w", err)
			}
			tx.ChainID, tx.Nonce, tx.Gas = dec.ChainID, dec.Nonce, dec.Gas
			tx.MaxPriorityFeePerGas, tx.MaxFeePerGas = dec.GasTipCap, dec.GasFeeCap
			tx.Value, tx.Data, tx.AccessList = dec.Value, dec.Data, dec.AccessList
			to, sig = dec.To, signature{v: dec.V, r: dec.R, s: dec.S}
		case BlobTxType:
			var dec blobRLP
			if err := rlp.DecodeBytes(body, &dec); err != nil {
				return nil, fmt.Errorf("decode blob tx: %w", err)
			}
			tx.ChainID, tx.Nonce, tx.Gas = dec.ChainID, dec.Nonce, dec.Gas
			tx.MaxPriorityFeePerGas, tx.MaxFeePerGas = dec.GasTipCap, dec.GasFeeCap
			tx.Value, tx.Data, tx.AccessList = dec.Value, dec.Data, dec.AccessList
			tx.MaxFeePerBlobGas, tx.BlobVersionedHashes = dec.MaxFeePerBlobGas, dec.BlobHashes
			to, sig = dec.To, signature{v: dec.V, r: dec.R, s: dec.S}
		default:
			return nil, fmt.Errorf("%w: %#x", ErrUnknownType, enc[0])
		}
		tx.Type = enc[0]
	}

	switch len(to) {
	case 0:
	case common.AddressLength:
		addr := common.BytesToAddress(to)
		tx.To = &addr
	default:
		return nil, fmt.Errorf("invalid destination length %d", len(to))
	}
	if tx.Data == nil {
		tx.Data = []byte{}
	}
	tx.sig.Store(&sig)

	// Decoding must be the inverse of encoding.
	if re, err := tx.Encode(); err != nil || !bytes.Equal(re, enc) {
		return nil, errors.New("non-canonical transaction encoding")
	}
	return tx, nil
}
