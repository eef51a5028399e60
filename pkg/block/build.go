package block

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/smallyunet/ethfill/pkg/executor"
	"github.com/smallyunet/ethfill/pkg/forks"
	"github.com/smallyunet/ethfill/pkg/tx"
	"github.com/smallyunet/ethfill/pkg/types"
)

var (
	// ErrMissingBaseFee is returned when the fork requires a base fee but
	// neither the executor nor the environment supplied one.
	ErrMissingBaseFee = errors.New("base fee required but not provided")
	// ErrMissingExcessBlobGas is the blob counterpart of ErrMissingBaseFee.
	ErrMissingExcessBlobGas = errors.New("excess blob gas required but not provided")
)

// Block is a built block: its final header, hash and envelope encoding.
type Block struct {
	Header *Header
	Hash   common.Hash
	RLP    []byte
}

// WithdrawalsRoot returns the trie root of ws.
func WithdrawalsRoot(ws []*gethtypes.Withdrawal) common.Hash {
	return gethtypes.DeriveSha(gethtypes.Withdrawals(ws), trie.NewStackTrie(nil))
}

// Build encodes the block envelope [header, txs, uncles, withdrawals?]. The
// withdrawals list is appended only when ws is non-nil. The header is used as
// given; Build never checks it against a fork.
func Build(header *Header, txs []*tx.Transaction, uncles []*Header, ws []*gethtypes.Withdrawal) (*Block, error) {
	body := make([]interface{}, len(txs))
	for i, t := range txs {
		elem, err := t.BodyElement()
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		body[i] = elem
	}
	if uncles == nil {
		uncles = []*Header{}
	}
	envelope := []interface{}{header, body, uncles}
	if ws != nil {
		envelope = append(envelope, ws)
	}
	enc, err := rlp.EncodeToBytes(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode block: %w", err)
	}
	return &Block{Header: header, Hash: header.Hash(), RLP: enc}, nil
}

// Collect assembles the header of the block executed in env from the
// executor's result. Presence of every fork-gated field follows the network's
// rules at (env.Number, env.Timestamp).
func Collect(network forks.Network, result *executor.Result, env *types.Environment) (*Header, error) {
	n, t := env.Number, env.Timestamp
	h := &Header{
		ParentHash:  env.BlockHashes[n-1],
		UncleHash:   gethtypes.EmptyUncleHash,
		Coinbase:    env.Coinbase,
		StateRoot:   result.StateRoot,
		TxRoot:      result.TxRoot,
		ReceiptRoot: result.ReceiptRoot,
		Bloom:       result.Bloom,
		Difficulty:  new(big.Int),
		Number:      n,
		GasLimit:    env.GasLimit,
		GasUsed:     uint64(result.GasUsed),
		Timestamp:   t,
		ExtraData:   common.CopyBytes(env.ExtraData),
	}
	switch {
	case result.Difficulty != nil:
		h.Difficulty.Set((*big.Int)(result.Difficulty))
	case env.Difficulty != nil:
		h.Difficulty.Set(env.Difficulty)
	}
	if network.HeaderPrevRandaoRequired(n, t) && env.PrevRandao != nil {
		h.MixDigest = *env.PrevRandao
	}
	if network.HeaderBaseFeeRequired(n, t) {
		switch {
		case result.BaseFee != nil:
			h.BaseFee = new(big.Int).Set((*big.Int)(result.BaseFee))
		case env.BaseFee != nil:
			h.BaseFee = new(big.Int).Set(env.BaseFee)
		default:
			return nil, ErrMissingBaseFee
		}
	}
	if network.HeaderWithdrawalsRequired(n, t) {
		root := WithdrawalsRoot(env.Withdrawals)
		if result.WithdrawalsRoot != nil {
			root = *result.WithdrawalsRoot
		}
		h.WithdrawalsRoot = &root
	}
	if network.HeaderBlobGasUsedRequired(n, t) {
		var used uint64
		if result.BlobGasUsed != nil {
			used = uint64(*result.BlobGasUsed)
		}
		h.BlobGasUsed = &used
	}
	if network.HeaderExcessBlobGasRequired(n, t) {
		var excess uint64
		switch {
		case result.CurrentExcessBlobGas != nil:
			excess = uint64(*result.CurrentExcessBlobGas)
		case env.ExcessBlobGas != nil:
			excess = *env.ExcessBlobGas
		default:
			return nil, ErrMissingExcessBlobGas
		}
		h.ExcessBlobGas = &excess
	}
	if network.HeaderBeaconRootRequired(n, t) {
		var root common.Hash
		if env.ParentBeaconBlockRoot != nil {
			root = *env.ParentBeaconBlockRoot
		}
		h.BeaconRoot = &root
	}
	return h, nil
}

// Genesis builds the genesis header for env, which must already carry the
// network's genesis requirements. stateRoot is the root of the pre-state.
func Genesis(network forks.Network, env *types.Environment, stateRoot common.Hash) (*Header, error) {
	if len(env.Withdrawals) > 0 {
		return nil, errors.New("genesis cannot carry withdrawals")
	}
	if env.ParentBeaconBlockRoot != nil && *env.ParentBeaconBlockRoot != (common.Hash{}) {
		return nil, errors.New("genesis beacon root must be zero")
	}
	h := &Header{
		UncleHash:   gethtypes.EmptyUncleHash,
		StateRoot:   stateRoot,
		TxRoot:      gethtypes.EmptyRootHash,
		ReceiptRoot: gethtypes.EmptyRootHash,
		Difficulty:  big.NewInt(forks.DefaultGenesisDifficulty),
		GasLimit:    env.GasLimit,
		ExtraData:   []byte{0x00},
	}
	if env.Difficulty != nil {
		h.Difficulty.Set(env.Difficulty)
	}
	if network.HeaderZeroDifficultyRequired(0, 0) {
		h.Difficulty.SetUint64(0)
	}
	if network.HeaderBaseFeeRequired(0, 0) {
		h.BaseFee = big.NewInt(forks.DefaultBaseFee)
		if env.BaseFee != nil {
			h.BaseFee.Set(env.BaseFee)
		}
	}
	if network.HeaderWithdrawalsRequired(0, 0) {
		root := gethtypes.EmptyWithdrawalsHash
		h.WithdrawalsRoot = &root
	}
	if network.HeaderBlobGasUsedRequired(0, 0) {
		h.BlobGasUsed = new(uint64)
		if env.BlobGasUsed != nil {
			*h.BlobGasUsed = *env.BlobGasUsed
		}
	}
	if network.HeaderExcessBlobGasRequired(0, 0) {
		h.ExcessBlobGas = new(uint64)
		if env.ExcessBlobGas != nil {
			*h.ExcessBlobGas = *env.ExcessBlobGas
		}
	}
	if network.HeaderBeaconRootRequired(0, 0) {
		h.BeaconRoot = new(common.Hash)
	}
	return h, nil
}
