// Package blockchain turns a declarative chain test into blockchain fixtures:
// it builds the genesis, runs every block through an executor, reconciles
// rejections against the declared expectations and tracks the running chain.
package blockchain

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/smallyunet/ethfill/pkg/block"
	"github.com/smallyunet/ethfill/pkg/engine"
	"github.com/smallyunet/ethfill/pkg/tx"
	"github.com/smallyunet/ethfill/pkg/types"
)

// Test is a chain test: a pre-state, a sequence of blocks and the state
// expected once every valid block has been applied.
type Test struct {
	Pre    types.Alloc
	Post   types.Alloc
	Blocks []*Block

	// GenesisEnvironment seeds the genesis header. Nil means defaults.
	GenesisEnvironment *types.Environment
	ChainID            uint64 // 0 means 1
	Tag                string
}

func (t *Test) chainID() uint64 {
	if t.ChainID == 0 {
		return 1
	}
	return t.ChainID
}

// UnmarshalJSON decodes a declarative test.
func (t *Test) UnmarshalJSON(data []byte) error {
	var dec struct {
		Pre                types.Alloc          `json:"pre"`
		Post               types.Alloc          `json:"post"`
		Blocks             []*Block             `json:"blocks"`
		GenesisEnvironment *types.Environment   `json:"genesisEnvironment"`
		ChainID            *math.HexOrDecimal64 `json:"chainId"`
		Tag                string               `json:"tag"`
	}
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	*t = Test{
		Pre:                dec.Pre,
		Post:               dec.Post,
		Blocks:             dec.Blocks,
		GenesisEnvironment: dec.GenesisEnvironment,
		Tag:                dec.Tag,
	}
	if dec.ChainID != nil {
		t.ChainID = uint64(*dec.ChainID)
	}
	return nil
}

// Block is one block of a test. Either it declares transactions and
// environment overrides, or it supplies RLP verbatim; in the latter case the
// declared fields are ignored and Exception must be set.
type Block struct {
	Txs []*tx.Transaction

	// Environment overrides. Nil fields are derived from the parent.
	Coinbase              *common.Address
	Difficulty            *big.Int
	Number                *uint64
	Timestamp             *uint64
	GasLimit              *uint64
	PrevRandao            *common.Hash
	BaseFee               *big.Int
	BlobGasUsed           *uint64
	ExcessBlobGas         *uint64
	ExtraData             []byte
	Withdrawals           []*gethtypes.Withdrawal
	ParentBeaconBlockRoot *common.Hash

	RLP       []byte
	Exception string

	// HeaderVerify is checked against the header collected from the executor
	// result; Modifier is applied after it, right before the block is built.
	HeaderVerify    *block.Modifier
	Modifier        *block.Modifier
	EngineErrorCode *engine.ErrorCode
}

// UnmarshalJSON decodes a declarative block.
func (b *Block) UnmarshalJSON(data []byte) error {
	var dec struct {
		Txs                   []*tx.Transaction       `json:"txs"`
		Coinbase              *common.Address         `json:"coinbase"`
		Difficulty            *math.HexOrDecimal256   `json:"difficulty"`
		Number                *math.HexOrDecimal64    `json:"number"`
		Timestamp             *math.HexOrDecimal64    `json:"timestamp"`
		GasLimit              *math.HexOrDecimal64    `json:"gasLimit"`
		PrevRandao            *common.Hash            `json:"prevRandao"`
		BaseFee               *math.HexOrDecimal256   `json:"baseFee"`
		BlobGasUsed           *math.HexOrDecimal64    `json:"blobGasUsed"`
		ExcessBlobGas         *math.HexOrDecimal64    `json:"excessBlobGas"`
		ExtraData             *hexutil.Bytes          `json:"extraData"`
		Withdrawals           []*gethtypes.Withdrawal `json:"withdrawals"`
		ParentBeaconBlockRoot *common.Hash            `json:"parentBeaconBlockRoot"`
		RLP                   *hexutil.Bytes          `json:"rlp"`
		Exception             string                  `json:"exception"`
		HeaderVerify          *block.Modifier         `json:"headerVerify"`
		Modifier              *block.Modifier         `json:"rlpModifier"`
		EngineErrorCode       *engine.ErrorCode       `json:"engineApiErrorCode"`
	}
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	*b = Block{
		Txs:                   dec.Txs,
		Coinbase:              dec.Coinbase,
		Difficulty:            (*big.Int)(dec.Difficulty),
		Number:                (*uint64)(dec.Number),
		Timestamp:             (*uint64)(dec.Timestamp),
		GasLimit:              (*uint64)(dec.GasLimit),
		PrevRandao:            dec.PrevRandao,
		BaseFee:               (*big.Int)(dec.BaseFee),
		BlobGasUsed:           (*uint64)(dec.BlobGasUsed),
		ExcessBlobGas:         (*uint64)(dec.ExcessBlobGas),
		Withdrawals:           dec.Withdrawals,
		ParentBeaconBlockRoot: dec.ParentBeaconBlockRoot,
		Exception:             dec.Exception,
		HeaderVerify:          dec.HeaderVerify,
		Modifier:              dec.Modifier,
		EngineErrorCode:       dec.EngineErrorCode,
	}
	if dec.ExtraData != nil {
		b.ExtraData = *dec.ExtraData
	}
	if dec.RLP != nil {
		b.RLP = *dec.RLP
	}
	return nil
}

// blockKind is the resolved form of a Block.
type blockKind int

const (
	declaredBlock blockKind = iota
	rawBlock
)

// resolve decides once whether b is built from its declared fields or
// supplied verbatim, and rejects malformed declarations.
func (b *Block) resolve() (blockKind, error) {
	if b.RLP != nil {
		if b.Exception == "" {
			return 0, fmt.Errorf("raw block RLP supplied without an expected exception; the post-state could not be verified")
		}
		return rawBlock, nil
	}
	for i, t := range b.Txs {
		if t.RLP != nil && t.Error != "" && i != len(b.Txs)-1 {
			return 0, fmt.Errorf("transaction %d has a raw encoding and an expected error but is not the last of its block", i)
		}
	}
	return declaredBlock, nil
}
