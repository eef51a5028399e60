// Package tx implements the canonical encoding, signing and sender recovery of
// legacy, access-list, dynamic-fee and blob transactions.
package tx

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Transaction types.
const (
	LegacyTxType     uint8 = 0x00
	AccessListTxType uint8 = 0x01
	DynamicFeeTxType uint8 = 0x02
	BlobTxType       uint8 = 0x03
)

var (
	ErrMissingBlobFee   = errors.New("blob versioned hashes require max fee per blob gas")
	ErrNoSigningKey     = errors.New("transaction has neither a signature nor a secret key")
	ErrInvalidSignature = errors.New("invalid transaction signature")
	ErrUnknownType      = errors.New("unknown transaction type")
)

// Well known test account, funded by most tests.
var (
	TestPrivateKey = mustKey("45a915e4d060149eb4365960e6a7a45f334393093061116b197e3240065ff2d8")
	TestAddress    = common.HexToAddress("0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b")

	// AddrAA is the default destination of a transaction.
	AddrAA = common.HexToAddress("0xaa")
)

func mustKey(hex string) *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(hex)
	if err != nil {
		panic(err)
	}
	return key
}

// AccessTuple is an element of an EIP-2930 access list.
type AccessTuple struct {
	Address     common.Address `json:"address"`
	StorageKeys []common.Hash  `json:"storageKeys"`
}

// AccessList is an EIP-2930 access list.
type AccessList []AccessTuple

// StorageKeys returns the total number of storage keys in the list.
func (al AccessList) StorageKeys() int {
	n := 0
	for _, tuple := range al {
		n += len(tuple.StorageKeys)
	}
	return n
}

// Transaction is a transaction of any supported type. Fields that do not
// belong to Type are ignored by the codec. Numeric pointers left nil encode
// as zero.
//
// The signature and the sender are derived on first use and cached, so a
// transaction must not be modified once it has been encoded or signed. Use
// Copy to derive a variant.
type Transaction struct {
	Type                 uint8
	ChainID              uint64
	Nonce                uint64
	GasPrice             *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
	MaxFeePerGas         *uint256.Int
	Gas                  uint64
	To                   *common.Address // nil creates a contract
	Value                *uint256.Int
	Data                 []byte
	AccessList           AccessList // nil and empty encode alike
	MaxFeePerBlobGas     *uint256.Int
	BlobVersionedHashes  []common.Hash

	// Protected enables EIP-155 replay protection for legacy transactions.
	Protected bool
	SecretKey *ecdsa.PrivateKey

	// RLP replaces the canonical encoding. It is only valid on the last
	// transaction of a block, together with Error.
	RLP []byte
	// Error is the rejection reason the executor is expected to report. Empty
	// means the transaction must be accepted.
	Error string

	sig  atomic.Pointer[signature]
	from atomic.Pointer[common.Address]
}

type signature struct {
	v, r, s *uint256.Int
}

// Default returns a protected legacy transfer of zero value to AddrAA, signed
// by the test key.
func Default() *Transaction {
	to := AddrAA
	return &Transaction{
		Type:      LegacyTxType,
		ChainID:   1,
		GasPrice:  uint256.NewInt(10),
		Gas:       21000,
		To:        &to,
		Value:     new(uint256.Int),
		Protected: true,
		SecretKey: TestPrivateKey,
	}
}

// Copy returns an unsigned copy carrying the same fields. Cached signature
// and sender are not carried over unless the source has no key to re-sign.
func (tx *Transaction) Copy() *Transaction {
	cpy := &Transaction{
		Type:                 tx.Type,
		ChainID:              tx.ChainID,
		Nonce:                tx.Nonce,
		GasPrice:             cloneU256(tx.GasPrice),
		MaxPriorityFeePerGas: cloneU256(tx.MaxPriorityFeePerGas),
		MaxFeePerGas:         cloneU256(tx.MaxFeePerGas),
		Gas:                  tx.Gas,
		Value:                cloneU256(tx.Value),
		Data:                 common.CopyBytes(tx.Data),
		MaxFeePerBlobGas:     cloneU256(tx.MaxFeePerBlobGas),
		Protected:            tx.Protected,
		SecretKey:            tx.SecretKey,
		RLP:                  common.CopyBytes(tx.RLP),
		Error:                tx.Error,
	}
	if tx.To != nil {
		to := *tx.To
		cpy.To = &to
	}
	if tx.AccessList != nil {
		cpy.AccessList = make(AccessList, len(tx.AccessList))
		for i, tuple := range tx.AccessList {
			cpy.AccessList[i] = AccessTuple{
				Address:     tuple.Address,
				StorageKeys: append([]common.Hash(nil), tuple.StorageKeys...),
			}
		}
	}
	if tx.BlobVersionedHashes != nil {
		cpy.BlobVersionedHashes = append([]common.Hash{}, tx.BlobVersionedHashes...)
	}
	if tx.SecretKey == nil {
		if sig := tx.sig.Load(); sig != nil {
			cpy.sig.Store(sig)
		}
	}
	return cpy
}

// Validate reports construction errors: combinations of fields no
// transaction can be encoded from.
func (tx *Transaction) Validate() error {
	if tx.Type > BlobTxType {
		return fmt.Errorf("%w: %d", ErrUnknownType, tx.Type)
	}
	if tx.BlobVersionedHashes != nil && tx.MaxFeePerBlobGas == nil {
		return ErrMissingBlobFee
	}
	if tx.Type == BlobTxType && tx.MaxFeePerBlobGas == nil {
		return ErrMissingBlobFee
	}
	return nil
}

// Sign returns a copy of tx signed with key. The receiver is not modified.
func (tx *Transaction) Sign(key *ecdsa.PrivateKey) (*Transaction, error) {
	signed := tx.Copy()
	signed.SecretKey = key
	if _, _, _, err := signed.Signature(); err != nil {
		return nil, err
	}
	return signed, nil
}

// Signature returns (v, r, s), signing with SecretKey on first use.
func (tx *Transaction) Signature() (v, r, s *uint256.Int, err error) {
	sig, err := tx.signature()
	if err != nil {
		return nil, nil, nil, err
	}
	return sig.v.Clone(), sig.r.Clone(), sig.s.Clone(), nil
}

func (tx *Transaction) signature() (*signature, error) {
	if sig := tx.sig.Load(); sig != nil {
		return sig, nil
	}
	if tx.SecretKey == nil {
		return nil, ErrNoSigningKey
	}
	hash, err := tx.SigningHash()
	if err != nil {
		return nil, err
	}
	raw, err := crypto.Sign(hash[:], tx.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig := &signature{
		r: new(uint256.Int).SetBytes(raw[:32]),
		s: new(uint256.Int).SetBytes(raw[32:64]),
		v: uint256.NewInt(uint64(raw[64])),
	}
	if tx.Type == LegacyTxType {
		if tx.Protected {
			sig.v.AddUint64(sig.v, tx.ChainID*2+35)
		} else {
			sig.v.AddUint64(sig.v, 27)
		}
	}
	tx.sig.CompareAndSwap(nil, sig)
	return tx.sig.Load(), nil
}

// recoveryID extracts the secp256k1 recovery id from v.
func (tx *Transaction) recoveryID(v *uint256.Int) (byte, error) {
	if !v.IsUint64() {
		return 0, ErrInvalidSignature
	}
	raw := v.Uint64()
	if tx.Type == LegacyTxType {
		switch {
		case !tx.Protected && (raw == 27 || raw == 28):
			raw -= 27
		case tx.Protected && raw >= tx.ChainID*2+35:
			raw -= tx.ChainID*2 + 35
		default:
			return 0, ErrInvalidSignature
		}
	}
	if raw > 1 {
		return 0, ErrInvalidSignature
	}
	return byte(raw), nil
}

// Sender returns the address recovered from the signature.
func (tx *Transaction) Sender() (common.Address, error) {
	if from := tx.from.Load(); from != nil {
		return *from, nil
	}
	sig, err := tx.signature()
	if err != nil {
		return common.Address{}, err
	}
	hash, err := tx.SigningHash()
	if err != nil {
		return common.Address{}, err
	}
	recid, err := tx.recoveryID(sig.v)
	if err != nil {
		return common.Address{}, err
	}
	r, s := sig.r.Bytes32(), sig.s.Bytes32()
	raw := make([]byte, crypto.SignatureLength)
	copy(raw[:32], r[:])
	copy(raw[32:64], s[:])
	raw[64] = recid

	pub, err := crypto.SigToPub(hash[:], raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	tx.from.CompareAndSwap(nil, &addr)
	return *tx.from.Load(), nil
}

// Hash returns the keccak256 hash of the encoded transaction.
func (tx *Transaction) Hash() (common.Hash, error) {
	enc, err := tx.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// BlobGas returns the blob gas the transaction consumes given the per-blob cost.
func (tx *Transaction) BlobGas(perBlob uint64) uint64 {
	return uint64(len(tx.BlobVersionedHashes)) * perBlob
}

func cloneU256(x *uint256.Int) *uint256.Int {
	if x == nil {
		return nil
	}
	return x.Clone()
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
