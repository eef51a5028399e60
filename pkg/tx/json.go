package tx

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/smallyunet/ethfill/pkg/types"
)

// fixtureTx is the transaction view embedded in blockchain fixtures.
type fixtureTx struct {
	Type                 string          `json:"type"`
	ChainID              string          `json:"chainId"`
	Nonce                string          `json:"nonce"`
	GasPrice             string          `json:"gasPrice,omitempty"`
	MaxPriorityFeePerGas string          `json:"maxPriorityFeePerGas,omitempty"`
	MaxFeePerGas         string          `json:"maxFeePerGas,omitempty"`
	GasLimit             string          `json:"gasLimit"`
	To                   string          `json:"to"`
	Value                string          `json:"value"`
	Data                 hexutil.Bytes   `json:"data"`
	AccessList           *AccessList     `json:"accessList,omitempty"`
	MaxFeePerBlobGas     string          `json:"maxFeePerBlobGas,omitempty"`
	BlobVersionedHashes  *[]common.Hash  `json:"blobVersionedHashes,omitempty"`
	V                    string          `json:"v"`
	R                    string          `json:"r"`
	S                    string          `json:"s"`
	Sender               *common.Address `json:"sender,omitempty"`
}

func hex256(x *uint256.Int) string {
	return types.ZeroPaddedHex(orZero(x).ToBig())
}

func hex64(x uint64) string {
	return types.ZeroPaddedHex(new(big.Int).SetUint64(x))
}

// MarshalJSON encodes the signed transaction as it appears in fixtures.
func (tx *Transaction) MarshalJSON() ([]byte, error) {
	sig, err := tx.signature()
	if err != nil {
		return nil, err
	}
	out := fixtureTx{
		Type:     hex64(uint64(tx.Type)),
		ChainID:  hex64(tx.ChainID),
		Nonce:    hex64(tx.Nonce),
		GasLimit: hex64(tx.Gas),
		Value:    hex256(tx.Value),
		Data:     tx.Data,
		V:        hex256(sig.v),
		R:        hex256(sig.r),
		S:        hex256(sig.s),
	}
	if out.Data == nil {
		out.Data = hexutil.Bytes{}
	}
	if tx.To != nil {
		out.To = hexutil.Encode(tx.To.Bytes())
	}
	if tx.Type == LegacyTxType || tx.Type == AccessListTxType {
		out.GasPrice = hex256(tx.GasPrice)
	} else {
		out.MaxPriorityFeePerGas = hex256(tx.MaxPriorityFeePerGas)
		out.MaxFeePerGas = hex256(tx.MaxFeePerGas)
	}
	if tx.Type != LegacyTxType {
		al := tx.AccessList
		if al == nil {
			al = AccessList{}
		}
		out.AccessList = &al
	}
	if tx.Type == BlobTxType {
		out.MaxFeePerBlobGas = hex256(tx.MaxFeePerBlobGas)
		hashes := tx.BlobVersionedHashes
		if hashes == nil {
			hashes = []common.Hash{}
		}
		out.BlobVersionedHashes = &hashes
	}
	if sender, err := tx.Sender(); err == nil {
		out.Sender = &sender
	}
	return json.Marshal(&out)
}

// UnmarshalJSON decodes a declarative transaction. Omitted fields take the
// values of Default; an omitted type is inferred from the fee fields present.
// A null "to" declares a contract creation.
func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var dec struct {
		Type                 *math.HexOrDecimal64  `json:"type"`
		ChainID              *math.HexOrDecimal64  `json:"chainId"`
		Nonce                *math.HexOrDecimal64  `json:"nonce"`
		GasPrice             *math.HexOrDecimal256 `json:"gasPrice"`
		MaxPriorityFeePerGas *math.HexOrDecimal256 `json:"maxPriorityFeePerGas"`
		MaxFeePerGas         *math.HexOrDecimal256 `json:"maxFeePerGas"`
		Gas                  *math.HexOrDecimal64  `json:"gas"`
		GasLimit             *math.HexOrDecimal64  `json:"gasLimit"`
		To                   json.RawMessage       `json:"to"`
		Value                *math.HexOrDecimal256 `json:"value"`
		Data                 *hexutil.Bytes        `json:"data"`
		Input                *hexutil.Bytes        `json:"input"`
		AccessList           AccessList            `json:"accessList"`
		MaxFeePerBlobGas     *math.HexOrDecimal256 `json:"maxFeePerBlobGas"`
		BlobVersionedHashes  []common.Hash         `json:"blobVersionedHashes"`
		Protected            *bool                 `json:"protected"`
		SecretKey            string                `json:"secretKey"`
		RLP                  *hexutil.Bytes        `json:"rlp"`
		Error                string                `json:"error"`
		V                    *math.HexOrDecimal256 `json:"v"`
		R                    *math.HexOrDecimal256 `json:"r"`
		S                    *math.HexOrDecimal256 `json:"s"`
	}
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}

	out := Default()
	switch {
	case dec.Type != nil:
		out.Type = uint8(*dec.Type)
	case dec.MaxFeePerBlobGas != nil || dec.BlobVersionedHashes != nil:
		out.Type = BlobTxType
	case dec.MaxFeePerGas != nil || dec.MaxPriorityFeePerGas != nil:
		out.Type = DynamicFeeTxType
	case dec.AccessList != nil:
		out.Type = AccessListTxType
	}
	if out.Type >= DynamicFeeTxType {
		out.GasPrice = nil
	}

	if dec.ChainID != nil {
		out.ChainID = uint64(*dec.ChainID)
	}
	if dec.Nonce != nil {
		out.Nonce = uint64(*dec.Nonce)
	}
	if dec.Gas != nil {
		out.Gas = uint64(*dec.Gas)
	} else if dec.GasLimit != nil {
		out.Gas = uint64(*dec.GasLimit)
	}
	var err error
	for _, f := range []struct {
		dst **uint256.Int
		src *math.HexOrDecimal256
	}{
		{&out.GasPrice, dec.GasPrice},
		{&out.MaxPriorityFeePerGas, dec.MaxPriorityFeePerGas},
		{&out.MaxFeePerGas, dec.MaxFeePerGas},
		{&out.Value, dec.Value},
		{&out.MaxFeePerBlobGas, dec.MaxFeePerBlobGas},
	} {
		if f.src == nil {
			continue
		}
		if *f.dst, err = toU256(f.src); err != nil {
			return err
		}
	}

	if len(dec.To) > 0 {
		raw := strings.TrimSpace(string(dec.To))
		if raw == "null" || raw == `""` {
			out.To = nil
		} else {
			var s string
			if err := json.Unmarshal(dec.To, &s); err != nil {
				return fmt.Errorf("to: %w", err)
			}
			addr, err := types.ParseAddress(s)
			if err != nil {
				return err
			}
			out.To = &addr
		}
	}
	switch {
	case dec.Data != nil:
		out.Data = *dec.Data
	case dec.Input != nil:
		out.Data = *dec.Input
	}
	out.AccessList = dec.AccessList
	out.BlobVersionedHashes = dec.BlobVersionedHashes
	if dec.Protected != nil {
		out.Protected = *dec.Protected
	}
	if dec.SecretKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(dec.SecretKey, "0x"))
		if err != nil {
			return fmt.Errorf("secretKey: %w", err)
		}
		out.SecretKey = key
	}
	if dec.RLP != nil {
		out.RLP = *dec.RLP
	}
	out.Error = dec.Error

	if dec.V != nil && dec.R != nil && dec.S != nil {
		sig := &signature{}
		if sig.v, err = toU256(dec.V); err != nil {
			return err
		}
		if sig.r, err = toU256(dec.R); err != nil {
			return err
		}
		if sig.s, err = toU256(dec.S); err != nil {
			return err
		}
		out.SecretKey = nil
		out.sig.Store(sig)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	tx.assign(out)
	return nil
}

// assign copies the fields and cached values of src into tx.
func (tx *Transaction) assign(src *Transaction) {
	tx.Type, tx.ChainID, tx.Nonce = src.Type, src.ChainID, src.Nonce
	tx.GasPrice, tx.MaxPriorityFeePerGas, tx.MaxFeePerGas = src.GasPrice, src.MaxPriorityFeePerGas, src.MaxFeePerGas
	tx.Gas, tx.To, tx.Value, tx.Data = src.Gas, src.To, src.Value, src.Data
	tx.AccessList, tx.MaxFeePerBlobGas, tx.BlobVersionedHashes = src.AccessList, src.MaxFeePerBlobGas, src.BlobVersionedHashes
	tx.Protected, tx.SecretKey, tx.RLP, tx.Error = src.Protected, src.SecretKey, src.RLP, src.Error
	tx.sig.Store(src.sig.Load())
	tx.from.Store(src.from.Load())
}

func toU256(x *math.HexOrDecimal256) (*uint256.Int, error) {
	v, overflow := uint256.FromBig((*big.Int)(x))
	if overflow {
		return nil, fmt.Errorf("value %s overflows 256 bits", (*big.Int)(x))
	}
	return v, nil
}
