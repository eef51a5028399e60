package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
)

// ComputeBlockHash recomputes the block hash a client derives from the
// payload, using go-ethereum's Header so the result matches geth exactly.
// beaconRoot is the parentBeaconBlockRoot sent alongside V3 payloads.
func (p *ExecutionPayload) ComputeBlockHash(beaconRoot *common.Hash) (common.Hash, error) {
	txs := make(gethtypes.Transactions, len(p.Transactions))
	for i, enc := range p.Transactions {
		t := new(gethtypes.Transaction)
		if err := t.UnmarshalBinary(enc); err != nil {
			return common.Hash{}, fmt.Errorf("decode transaction %d: %w", i, err)
		}
		txs[i] = t
	}

	// Post-merge headers carry no uncles, difficulty or nonce
	hdr := &gethtypes.Header{
		ParentHash:       p.ParentHash,
		UncleHash:        gethtypes.EmptyUncleHash,
		Coinbase:         p.FeeRecipient,
		Root:             p.StateRoot,
		TxHash:           gethtypes.DeriveSha(txs, trie.NewStackTrie(nil)),
		ReceiptHash:      p.ReceiptsRoot,
		Bloom:            gethtypes.BytesToBloom(p.LogsBloom),
		Difficulty:       new(big.Int),
		Number:           new(big.Int).SetUint64(uint64(p.BlockNumber)),
		GasLimit:         uint64(p.GasLimit),
		GasUsed:          uint64(p.GasUsed),
		Time:             uint64(p.Timestamp),
		Extra:            p.ExtraData,
		MixDigest:        p.PrevRandao,
		BaseFee:          (*big.Int)(p.BaseFeePerGas),
		BlobGasUsed:      (*uint64)(p.BlobGasUsed),
		ExcessBlobGas:    (*uint64)(p.ExcessBlobGas),
		ParentBeaconRoot: beaconRoot,
	}
	if p.Withdrawals != nil {
		h := gethtypes.DeriveSha(gethtypes.Withdrawals(p.Withdrawals), trie.NewStackTrie(nil))
		hdr.WithdrawalsHash = &h
	}

	return hdr.Hash(), nil
}
