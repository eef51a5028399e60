package types

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Environment is the block context handed to the executor. Field names follow
// the state transition tool's env input.
type Environment struct {
	Coinbase      common.Address
	GasLimit      uint64
	Number        uint64
	Timestamp     uint64
	Difficulty    *big.Int
	PrevRandao    *common.Hash
	BaseFee       *big.Int
	BlobGasUsed   *uint64
	ExcessBlobGas *uint64
	ExtraData     []byte

	ParentDifficulty    *big.Int
	ParentTimestamp     uint64
	ParentBaseFee       *big.Int
	ParentGasUsed       uint64
	ParentGasLimit      uint64
	ParentUncleHash     common.Hash
	ParentBlobGasUsed   *uint64
	ParentExcessBlobGas *uint64

	BlockHashes           map[uint64]common.Hash
	Withdrawals           []*gethtypes.Withdrawal // nil means absent, empty means present
	ParentBeaconBlockRoot *common.Hash
}

// Defaults applied to a genesis environment when unset.
const (
	DefaultGasLimit = 0x016345785D8A0000
)

// DefaultCoinbase receives fees when a test names no coinbase.
var DefaultCoinbase = common.HexToAddress("0x2adc25665018aa1fe0e6bc666dac8fc2697ff9ba")

// Copy returns a deep copy.
func (e *Environment) Copy() *Environment {
	cpy := *e
	cpy.Difficulty = copyBig(e.Difficulty)
	cpy.BaseFee = copyBig(e.BaseFee)
	cpy.ParentDifficulty = copyBig(e.ParentDifficulty)
	cpy.ParentBaseFee = copyBig(e.ParentBaseFee)
	cpy.PrevRandao = copyHash(e.PrevRandao)
	cpy.ParentBeaconBlockRoot = copyHash(e.ParentBeaconBlockRoot)
	cpy.BlobGasUsed = copyUint(e.BlobGasUsed)
	cpy.ExcessBlobGas = copyUint(e.ExcessBlobGas)
	cpy.ParentBlobGasUsed = copyUint(e.ParentBlobGasUsed)
	cpy.ParentExcessBlobGas = copyUint(e.ParentExcessBlobGas)
	cpy.ExtraData = common.CopyBytes(e.ExtraData)
	if e.BlockHashes != nil {
		cpy.BlockHashes = make(map[uint64]common.Hash, len(e.BlockHashes))
		for n, h := range e.BlockHashes {
			cpy.BlockHashes[n] = h
		}
	}
	if e.Withdrawals != nil {
		cpy.Withdrawals = make([]*gethtypes.Withdrawal, len(e.Withdrawals))
		for i, w := range e.Withdrawals {
			wc := *w
			cpy.Withdrawals[i] = &wc
		}
	}
	return &cpy
}

type envJSON struct {
	Coinbase      common.Address        `json:"currentCoinbase"`
	GasLimit      math.HexOrDecimal64   `json:"currentGasLimit"`
	Number        math.HexOrDecimal64   `json:"currentNumber"`
	Timestamp     math.HexOrDecimal64   `json:"currentTimestamp"`
	Difficulty    *math.HexOrDecimal256 `json:"currentDifficulty,omitempty"`
	PrevRandao    *common.Hash          `json:"currentRandom,omitempty"`
	BaseFee       *math.HexOrDecimal256 `json:"currentBaseFee,omitempty"`
	BlobGasUsed   *math.HexOrDecimal64  `json:"currentBlobGasUsed,omitempty"`
	ExcessBlobGas *math.HexOrDecimal64  `json:"currentExcessBlobGas,omitempty"`
	ExtraData     hexutil.Bytes         `json:"extraData,omitempty"`

	ParentDifficulty    *math.HexOrDecimal256 `json:"parentDifficulty,omitempty"`
	ParentTimestamp     math.HexOrDecimal64   `json:"parentTimestamp,omitempty"`
	ParentBaseFee       *math.HexOrDecimal256 `json:"parentBaseFee,omitempty"`
	ParentGasUsed       math.HexOrDecimal64   `json:"parentGasUsed,omitempty"`
	ParentGasLimit      math.HexOrDecimal64   `json:"parentGasLimit,omitempty"`
	ParentUncleHash     *common.Hash          `json:"parentUncleHash,omitempty"`
	ParentBlobGasUsed   *math.HexOrDecimal64  `json:"parentBlobGasUsed,omitempty"`
	ParentExcessBlobGas *math.HexOrDecimal64  `json:"parentExcessBlobGas,omitempty"`

	BlockHashes           map[math.HexOrDecimal64]common.Hash `json:"blockHashes,omitempty"`
	Withdrawals           []*gethtypes.Withdrawal             `json:"withdrawals"`
	ParentBeaconBlockRoot *common.Hash                        `json:"parentBeaconBlockRoot,omitempty"`
}

// MarshalJSON encodes the environment in the state transition tool's format.
func (e *Environment) MarshalJSON() ([]byte, error) {
	enc := envJSON{
		Coinbase:              e.Coinbase,
		GasLimit:              math.HexOrDecimal64(e.GasLimit),
		Number:                math.HexOrDecimal64(e.Number),
		Timestamp:             math.HexOrDecimal64(e.Timestamp),
		Difficulty:            (*math.HexOrDecimal256)(e.Difficulty),
		PrevRandao:            e.PrevRandao,
		BaseFee:               (*math.HexOrDecimal256)(e.BaseFee),
		BlobGasUsed:           (*math.HexOrDecimal64)(e.BlobGasUsed),
		ExcessBlobGas:         (*math.HexOrDecimal64)(e.ExcessBlobGas),
		ExtraData:             e.ExtraData,
		ParentDifficulty:      (*math.HexOrDecimal256)(e.ParentDifficulty),
		ParentTimestamp:       math.HexOrDecimal64(e.ParentTimestamp),
		ParentBaseFee:         (*math.HexOrDecimal256)(e.ParentBaseFee),
		ParentGasUsed:         math.HexOrDecimal64(e.ParentGasUsed),
		ParentGasLimit:        math.HexOrDecimal64(e.ParentGasLimit),
		ParentBlobGasUsed:     (*math.HexOrDecimal64)(e.ParentBlobGasUsed),
		ParentExcessBlobGas:   (*math.HexOrDecimal64)(e.ParentExcessBlobGas),
		Withdrawals:           e.Withdrawals,
		ParentBeaconBlockRoot: e.ParentBeaconBlockRoot,
	}
	if e.ParentUncleHash != (common.Hash{}) {
		h := e.ParentUncleHash
		enc.ParentUncleHash = &h
	}
	if len(e.BlockHashes) > 0 {
		enc.BlockHashes = make(map[math.HexOrDecimal64]common.Hash, len(e.BlockHashes))
		for n, h := range e.BlockHashes {
			enc.BlockHashes[math.HexOrDecimal64(n)] = h
		}
	}
	return json.Marshal(&enc)
}

// UnmarshalJSON decodes an environment; numbers may be hex or decimal.
func (e *Environment) UnmarshalJSON(data []byte) error {
	var dec envJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	*e = Environment{
		Coinbase:              dec.Coinbase,
		GasLimit:              uint64(dec.GasLimit),
		Number:                uint64(dec.Number),
		Timestamp:             uint64(dec.Timestamp),
		Difficulty:            (*big.Int)(dec.Difficulty),
		PrevRandao:            dec.PrevRandao,
		BaseFee:               (*big.Int)(dec.BaseFee),
		BlobGasUsed:           (*uint64)(dec.BlobGasUsed),
		ExcessBlobGas:         (*uint64)(dec.ExcessBlobGas),
		ExtraData:             dec.ExtraData,
		ParentDifficulty:      (*big.Int)(dec.ParentDifficulty),
		ParentTimestamp:       uint64(dec.ParentTimestamp),
		ParentBaseFee:         (*big.Int)(dec.ParentBaseFee),
		ParentGasUsed:         uint64(dec.ParentGasUsed),
		ParentGasLimit:        uint64(dec.ParentGasLimit),
		ParentBlobGasUsed:     (*uint64)(dec.ParentBlobGasUsed),
		ParentExcessBlobGas:   (*uint64)(dec.ParentExcessBlobGas),
		Withdrawals:           dec.Withdrawals,
		ParentBeaconBlockRoot: dec.ParentBeaconBlockRoot,
	}
	if dec.ParentUncleHash != nil {
		e.ParentUncleHash = *dec.ParentUncleHash
	}
	if len(dec.BlockHashes) > 0 {
		e.BlockHashes = make(map[uint64]common.Hash, len(dec.BlockHashes))
		for n, h := range dec.BlockHashes {
			e.BlockHashes[uint64(n)] = h
		}
	}
	return nil
}

func copyBig(b *big.Int) *big.Int {
	if b == nil {
		return nil
	}
	return new(big.Int).Set(b)
}

func copyHash(h *common.Hash) *common.Hash {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}

func copyUint(u *uint64) *uint64 {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Uint64Ptr returns a pointer to v.
func Uint64Ptr(v uint64) *uint64 { return &v }
