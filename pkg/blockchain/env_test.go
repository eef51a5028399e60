package blockchain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallyunet/ethfill/pkg/block"
	"github.com/smallyunet/ethfill/pkg/forks"
	"github.com/smallyunet/ethfill/pkg/types"
)

func TestSetForkRequirements(t *testing.T) {
	tests := []struct {
		name    string
		network forks.Network
		check   func(t *testing.T, env *types.Environment)
	}{
		{
			name:    "frontier clears everything",
			network: forks.Fixed(forks.Frontier),
			check: func(t *testing.T, env *types.Environment) {
				assert.Nil(t, env.BaseFee)
				assert.Nil(t, env.PrevRandao)
				assert.Nil(t, env.Withdrawals)
				assert.Nil(t, env.ExcessBlobGas)
				assert.Nil(t, env.ParentBeaconBlockRoot)
				assert.Equal(t, big.NewInt(5), env.Difficulty)
			},
		},
		{
			name:    "london defaults base fee",
			network: forks.Fixed(forks.London),
			check: func(t *testing.T, env *types.Environment) {
				assert.Equal(t, big.NewInt(forks.DefaultBaseFee), env.BaseFee)
				assert.Nil(t, env.PrevRandao)
			},
		},
		{
			name:    "paris zeroes difficulty",
			network: forks.Fixed(forks.Paris),
			check: func(t *testing.T, env *types.Environment) {
				assert.Equal(t, 0, env.Difficulty.Sign())
				assert.Equal(t, &common.Hash{}, env.PrevRandao)
				assert.Nil(t, env.Withdrawals)
			},
		},
		{
			name:    "cancun fills blob and beacon fields",
			network: forks.Fixed(forks.Cancun),
			check: func(t *testing.T, env *types.Environment) {
				assert.NotNil(t, env.Withdrawals)
				assert.Empty(t, env.Withdrawals)
				assert.Equal(t, types.Uint64Ptr(0), env.ExcessBlobGas)
				assert.Equal(t, types.Uint64Ptr(0), env.BlobGasUsed)
				assert.Equal(t, &common.Hash{}, env.ParentBeaconBlockRoot)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &types.Environment{
				Number:        1,
				Timestamp:     12,
				Difficulty:    big.NewInt(5),
				ExcessBlobGas: types.Uint64Ptr(9),
			}
			if tt.network.HeaderExcessBlobGasRequired(1, 12) {
				env.ExcessBlobGas = nil
			}
			got := setForkRequirements(tt.network, env)
			tt.check(t, got)
			assert.Equal(t, big.NewInt(5), env.Difficulty, "input must not be modified")
		})
	}
}

func TestSetForkRequirementsKeepsParentDerivation(t *testing.T) {
	env := &types.Environment{
		Number:              2,
		Timestamp:           24,
		ParentBaseFee:       big.NewInt(100),
		ParentExcessBlobGas: types.Uint64Ptr(0),
		ParentBlobGasUsed:   types.Uint64Ptr(0),
	}
	got := setForkRequirements(forks.Fixed(forks.Cancun), env)
	assert.Nil(t, got.BaseFee)
	assert.Nil(t, got.ExcessBlobGas)
	assert.Nil(t, got.BlobGasUsed)
}

func TestBlockEnvironment(t *testing.T) {
	parent := &block.Header{
		Number:        3,
		Timestamp:     100,
		GasLimit:      30_000_000,
		GasUsed:       21000,
		Difficulty:    new(big.Int),
		BaseFee:       big.NewInt(9),
		BlobGasUsed:   types.Uint64Ptr(131072),
		ExcessBlobGas: types.Uint64Ptr(0),
	}
	genesisEnv := &types.Environment{Coinbase: types.DefaultCoinbase, GasLimit: 30_000_000}
	prev := environmentFromParent(genesisEnv, parent)
	prev.BaseFee = big.NewInt(1234)
	prev.Withdrawals = []*gethtypes.Withdrawal{{Index: 1}}

	t.Run("derived", func(t *testing.T) {
		env := (&Block{}).environment(prev, parent.Number)
		assert.Equal(t, uint64(4), env.Number)
		assert.Equal(t, uint64(112), env.Timestamp)
		assert.Equal(t, types.DefaultCoinbase, env.Coinbase)
		assert.Equal(t, big.NewInt(9), env.ParentBaseFee)
		assert.Equal(t, parent.Hash(), env.BlockHashes[3])
		assert.Nil(t, env.BaseFee, "per-block values are reset")
		assert.Nil(t, env.Withdrawals)
	})

	t.Run("declared", func(t *testing.T) {
		coinbase := common.HexToAddress("0xc0")
		ts := uint64(500)
		b := &Block{
			Coinbase:    &coinbase,
			Timestamp:   &ts,
			BaseFee:     big.NewInt(42),
			Withdrawals: []*gethtypes.Withdrawal{{Index: 7, Amount: 3}},
		}
		env := b.environment(prev, parent.Number)
		assert.Equal(t, coinbase, env.Coinbase)
		assert.Equal(t, ts, env.Timestamp)
		assert.Equal(t, big.NewInt(42), env.BaseFee)
		require.Len(t, env.Withdrawals, 1)
		assert.Equal(t, uint64(7), env.Withdrawals[0].Index)

		env.Withdrawals[0].Amount = 99
		assert.Equal(t, uint64(3), b.Withdrawals[0].Amount)
	})
}

func TestGenesisEnvironment(t *testing.T) {
	env := genesisEnvironment(forks.Fixed(forks.Shanghai), &types.Environment{Number: 5, GasLimit: 1_000_000})
	assert.Equal(t, uint64(0), env.Number)
	assert.Equal(t, uint64(1_000_000), env.GasLimit)
	assert.Equal(t, types.DefaultCoinbase, env.Coinbase)
	assert.Equal(t, big.NewInt(forks.DefaultBaseFee), env.BaseFee)
	assert.NotNil(t, env.Withdrawals)

	env = genesisEnvironment(forks.Fixed(forks.Frontier), nil)
	assert.Equal(t, uint64(types.DefaultGasLimit), env.GasLimit)
	assert.Nil(t, env.BaseFee)
}
