package blockchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/smallyunet/ethfill/pkg/block"
	"github.com/smallyunet/ethfill/pkg/forks"
	"github.com/smallyunet/ethfill/pkg/types"
)

// genesisEnvironment returns the environment the genesis header is built
// from, with defaults filled in.
func genesisEnvironment(network forks.Network, declared *types.Environment) *types.Environment {
	env := &types.Environment{}
	if declared != nil {
		env = declared.Copy()
	}
	if env.GasLimit == 0 {
		env.GasLimit = types.DefaultGasLimit
	}
	if env.Coinbase == (common.Address{}) {
		env.Coinbase = types.DefaultCoinbase
	}
	env.Number, env.Timestamp = 0, 0
	return setForkRequirements(network, env)
}

// environmentFromParent starts a fresh environment on top of parent. The
// coinbase and gas limit carry over from prev.
func environmentFromParent(prev *types.Environment, parent *block.Header) *types.Environment {
	env := &types.Environment{
		Coinbase:    prev.Coinbase,
		GasLimit:    prev.GasLimit,
		BlockHashes: make(map[uint64]common.Hash),
	}
	return applyNewParent(env, parent)
}

// applyNewParent returns a copy of env whose parent fields describe parent.
func applyNewParent(env *types.Environment, parent *block.Header) *types.Environment {
	env = env.Copy()
	env.ParentDifficulty = nil
	if parent.Difficulty != nil {
		env.ParentDifficulty = new(big.Int).Set(parent.Difficulty)
	}
	env.ParentTimestamp = parent.Timestamp
	env.ParentBaseFee = nil
	if parent.BaseFee != nil {
		env.ParentBaseFee = new(big.Int).Set(parent.BaseFee)
	}
	env.ParentBlobGasUsed = copyUint64(parent.BlobGasUsed)
	env.ParentExcessBlobGas = copyUint64(parent.ExcessBlobGas)
	env.ParentGasUsed = parent.GasUsed
	env.ParentGasLimit = parent.GasLimit
	env.ParentUncleHash = parent.UncleHash
	if env.BlockHashes == nil {
		env.BlockHashes = make(map[uint64]common.Hash)
	}
	env.BlockHashes[parent.Number] = parent.Hash()
	return env
}

// environment returns the environment b executes in on top of prev, whose
// parent is the head at headNumber. Values the executor derives from the
// parent are reset unless b declares them.
func (b *Block) environment(prev *types.Environment, headNumber uint64) *types.Environment {
	env := prev.Copy()

	env.Number = headNumber + 1
	if b.Number != nil {
		env.Number = *b.Number
	}
	env.Timestamp = env.ParentTimestamp + 12
	if b.Timestamp != nil {
		env.Timestamp = *b.Timestamp
	}
	if b.Coinbase != nil {
		env.Coinbase = *b.Coinbase
	}
	if b.GasLimit != nil {
		env.GasLimit = *b.GasLimit
	}
	if b.PrevRandao != nil {
		h := *b.PrevRandao
		env.PrevRandao = &h
	}

	env.Difficulty = nil
	if b.Difficulty != nil {
		env.Difficulty = new(big.Int).Set(b.Difficulty)
	}
	env.BaseFee = nil
	if b.BaseFee != nil {
		env.BaseFee = new(big.Int).Set(b.BaseFee)
	}
	env.BlobGasUsed = copyUint64(b.BlobGasUsed)
	env.ExcessBlobGas = copyUint64(b.ExcessBlobGas)
	env.ExtraData = common.CopyBytes(b.ExtraData)
	env.Withdrawals = nil
	if b.Withdrawals != nil {
		env.Withdrawals = make([]*gethtypes.Withdrawal, len(b.Withdrawals))
		for i, w := range b.Withdrawals {
			wc := *w
			env.Withdrawals[i] = &wc
		}
	}
	env.ParentBeaconBlockRoot = nil
	if b.ParentBeaconBlockRoot != nil {
		h := *b.ParentBeaconBlockRoot
		env.ParentBeaconBlockRoot = &h
	}
	return env
}

// setForkRequirements returns a copy of env adjusted to the fork active at
// its number and timestamp: fields the fork does not know are cleared, and
// required fields that cannot be derived from the parent get defaults.
func setForkRequirements(network forks.Network, env *types.Environment) *types.Environment {
	n, t := env.Number, env.Timestamp
	env = env.Copy()

	if network.HeaderPrevRandaoRequired(n, t) {
		if env.PrevRandao == nil {
			env.PrevRandao = &common.Hash{}
		}
	} else {
		env.PrevRandao = nil
	}
	if network.HeaderZeroDifficultyRequired(n, t) {
		env.Difficulty = new(big.Int)
	}
	if network.HeaderBaseFeeRequired(n, t) {
		if env.BaseFee == nil && env.ParentBaseFee == nil {
			env.BaseFee = big.NewInt(forks.DefaultBaseFee)
		}
	} else {
		env.BaseFee = nil
	}
	if network.HeaderWithdrawalsRequired(n, t) {
		if env.Withdrawals == nil {
			env.Withdrawals = []*gethtypes.Withdrawal{}
		}
	} else {
		env.Withdrawals = nil
	}
	if network.HeaderExcessBlobGasRequired(n, t) {
		if env.ExcessBlobGas == nil && env.ParentExcessBlobGas == nil {
			env.ExcessBlobGas = new(uint64)
		}
	} else {
		env.ExcessBlobGas = nil
	}
	if network.HeaderBlobGasUsedRequired(n, t) {
		if env.BlobGasUsed == nil && env.ParentBlobGasUsed == nil {
			env.BlobGasUsed = new(uint64)
		}
	} else {
		env.BlobGasUsed = nil
	}
	if network.HeaderBeaconRootRequired(n, t) {
		if env.ParentBeaconBlockRoot == nil {
			env.ParentBeaconBlockRoot = &common.Hash{}
		}
	} else {
		env.ParentBeaconBlockRoot = nil
	}
	return env
}

func copyUint64(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
