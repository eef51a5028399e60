package block

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallyunet/ethfill/pkg/executor"
	"github.com/smallyunet/ethfill/pkg/forks"
	"github.com/smallyunet/ethfill/pkg/tx"
	"github.com/smallyunet/ethfill/pkg/types"
)

func cancunHeader() *Header {
	root := gethtypes.EmptyWithdrawalsHash
	return &Header{
		ParentHash:      common.HexToHash("0x01"),
		UncleHash:       gethtypes.EmptyUncleHash,
		Coinbase:        common.HexToAddress("0xba5e"),
		StateRoot:       common.HexToHash("0x02"),
		TxRoot:          gethtypes.EmptyRootHash,
		ReceiptRoot:     gethtypes.EmptyRootHash,
		Difficulty:      new(big.Int),
		Number:          1,
		GasLimit:        types.DefaultGasLimit,
		GasUsed:         0,
		Timestamp:       12,
		ExtraData:       []byte{},
		BaseFee:         big.NewInt(7),
		WithdrawalsRoot: &root,
		BlobGasUsed:     types.Uint64Ptr(0),
		ExcessBlobGas:   types.Uint64Ptr(0),
		BeaconRoot:      &common.Hash{},
	}
}

func TestHeaderHashMatchesGeth(t *testing.T) {
	london := cancunHeader()
	london.WithdrawalsRoot, london.BlobGasUsed, london.ExcessBlobGas, london.BeaconRoot = nil, nil, nil, nil
	frontier := london.Copy()
	frontier.BaseFee = nil
	frontier.Difficulty = big.NewInt(0x20000)

	for name, h := range map[string]*Header{
		"frontier": frontier,
		"london":   london,
		"cancun":   cancunHeader(),
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, h.ToGeth().Hash(), h.Hash())
		})
	}
}

func TestHeaderOmitsAbsentFields(t *testing.T) {
	h := cancunHeader()
	assert.Len(t, h.RLPFields(), 20)

	h.BaseFee = nil
	h.WithdrawalsRoot = nil
	h.BlobGasUsed, h.ExcessBlobGas, h.BeaconRoot = nil, nil, nil
	assert.Len(t, h.RLPFields(), 15)
}

func TestBuildDecodesWithGeth(t *testing.T) {
	legacy, err := tx.Default().Sign(tx.TestPrivateKey)
	require.NoError(t, err)
	dyn := tx.Default()
	dyn.Type = tx.DynamicFeeTxType
	dyn.Nonce = 1
	dyn.GasPrice = nil
	dyn.MaxFeePerGas = uint256.NewInt(10)
	dyn.MaxPriorityFeePerGas = uint256.NewInt(1)

	h := cancunHeader()
	ws := []*gethtypes.Withdrawal{{Index: 0, Validator: 1, Address: common.HexToAddress("0x100"), Amount: 5}}
	root := WithdrawalsRoot(ws)
	h.WithdrawalsRoot = &root

	b, err := Build(h, []*tx.Transaction{legacy, dyn}, nil, ws)
	require.NoError(t, err)
	assert.Equal(t, h.Hash(), b.Hash)

	var decoded gethtypes.Block
	require.NoError(t, rlp.DecodeBytes(b.RLP, &decoded))
	assert.Equal(t, b.Hash, decoded.Hash())
	require.Len(t, decoded.Transactions(), 2)
	assert.Equal(t, uint8(gethtypes.LegacyTxType), decoded.Transactions()[0].Type())
	assert.Equal(t, uint8(gethtypes.DynamicFeeTxType), decoded.Transactions()[1].Type())
	require.Len(t, decoded.Withdrawals(), 1)
	assert.Equal(t, uint64(5), decoded.Withdrawals()[0].Amount)
}

func TestBuildWithoutWithdrawals(t *testing.T) {
	h := cancunHeader()
	h.WithdrawalsRoot, h.BlobGasUsed, h.ExcessBlobGas, h.BeaconRoot = nil, nil, nil, nil

	b, err := Build(h, nil, nil, nil)
	require.NoError(t, err)

	var items []rlp.RawValue
	require.NoError(t, rlp.DecodeBytes(b.RLP, &items))
	assert.Len(t, items, 3)

	b, err = Build(h, nil, nil, []*gethtypes.Withdrawal{})
	require.NoError(t, err)
	require.NoError(t, rlp.DecodeBytes(b.RLP, &items))
	assert.Len(t, items, 4)
}

func TestWithdrawalsRootEmpty(t *testing.T) {
	assert.Equal(t, gethtypes.EmptyWithdrawalsHash, WithdrawalsRoot(nil))
	assert.Equal(t, gethtypes.EmptyWithdrawalsHash, WithdrawalsRoot([]*gethtypes.Withdrawal{}))
}

func TestModifierApply(t *testing.T) {
	h := cancunHeader()
	before := h.Hash()

	excess := uint64(1)
	m := &Modifier{ExcessBlobGas: &excess, Remove: []Field{FieldBeaconRoot}}
	out := m.Apply(h)

	assert.Equal(t, before, h.Hash(), "input header must not change")
	require.NotNil(t, out.ExcessBlobGas)
	assert.Equal(t, uint64(1), *out.ExcessBlobGas)
	assert.Nil(t, out.BeaconRoot)
	assert.Len(t, out.RLPFields(), 19)
	assert.NotEqual(t, before, out.Hash())
}

func TestModifierAddsForbiddenField(t *testing.T) {
	h := cancunHeader()
	h.WithdrawalsRoot, h.BlobGasUsed, h.ExcessBlobGas, h.BeaconRoot = nil, nil, nil, nil

	excess := uint64(0)
	out := (&Modifier{ExcessBlobGas: &excess}).Apply(h)
	assert.Len(t, out.RLPFields(), 17)

	b, err := Build(out, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, out.Hash(), b.Hash)
}

func TestModifierVerify(t *testing.T) {
	h := cancunHeader()
	gasUsed := uint64(0)
	wrong := uint64(21000)

	tests := []struct {
		name    string
		m       *Modifier
		wantErr bool
	}{
		{"nil", nil, false},
		{"match", &Modifier{GasUsed: &gasUsed, BaseFee: big.NewInt(7)}, false},
		{"mismatch", &Modifier{GasUsed: &wrong}, true},
		{"removed present", &Modifier{Remove: []Field{FieldExcessBlobGas}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Verify(h)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var verr *HeaderVerifyError
			require.ErrorAs(t, err, &verr)
		})
	}

	london := h.Copy()
	london.ExcessBlobGas = nil
	assert.NoError(t, (&Modifier{Remove: []Field{FieldExcessBlobGas}}).Verify(london))
}

func TestModifierJSON(t *testing.T) {
	var m Modifier
	require.NoError(t, json.Unmarshal([]byte(`{"gasLimit":"0x10","extraData":"0x","remove":["parentBeaconBlockRoot"]}`), &m))
	require.NotNil(t, m.GasLimit)
	assert.Equal(t, uint64(16), *m.GasLimit)
	require.NotNil(t, m.ExtraData)
	assert.Empty(t, *m.ExtraData)
	assert.Equal(t, []Field{FieldBeaconRoot}, m.Remove)

	assert.Error(t, json.Unmarshal([]byte(`{"remove":["bogus"]}`), &m))
}

func TestHeaderJSON(t *testing.T) {
	h := cancunHeader()
	enc, err := json.Marshal(h)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(enc, &fields))
	assert.Equal(t, h.Hash().Hex(), fields["hash"])
	assert.Equal(t, "0x07", fields["baseFeePerGas"])
	assert.Equal(t, "0x00", fields["difficulty"])

	var back Header
	require.NoError(t, json.Unmarshal(enc, &back))
	assert.Equal(t, h.Hash(), back.Hash())

	h.BaseFee = nil
	enc, err = json.Marshal(h)
	require.NoError(t, err)
	assert.NotContains(t, string(enc), "baseFeePerGas")
}

func TestCollect(t *testing.T) {
	parent := common.HexToHash("0xabcd")
	env := &types.Environment{
		Coinbase:    common.HexToAddress("0xc0ffee"),
		GasLimit:    types.DefaultGasLimit,
		Number:      1,
		Timestamp:   12,
		BaseFee:     big.NewInt(7),
		BlockHashes: map[uint64]common.Hash{0: parent},
		ExtraData:   []byte{0x01},
	}
	res := &executor.Result{
		StateRoot: common.HexToHash("0x5"),
		TxRoot:    gethtypes.EmptyRootHash,
		GasUsed:   math.HexOrDecimal64(21000),
		BaseFee:   (*math.HexOrDecimal256)(big.NewInt(6)),
	}

	t.Run("london", func(t *testing.T) {
		h, err := Collect(forks.Fixed(forks.London), res, env)
		require.NoError(t, err)
		assert.Equal(t, parent, h.ParentHash)
		assert.Equal(t, uint64(21000), h.GasUsed)
		assert.Equal(t, big.NewInt(6), h.BaseFee)
		assert.Nil(t, h.WithdrawalsRoot)
		assert.Nil(t, h.ExcessBlobGas)
		assert.Equal(t, []byte{0x01}, h.ExtraData)
	})
	t.Run("berlin", func(t *testing.T) {
		h, err := Collect(forks.Fixed(forks.Berlin), res, env)
		require.NoError(t, err)
		assert.Nil(t, h.BaseFee)
	})
	t.Run("cancun", func(t *testing.T) {
		cancunEnv := env.Copy()
		cancunEnv.Withdrawals = []*gethtypes.Withdrawal{}
		cancunEnv.ExcessBlobGas = types.Uint64Ptr(0)
		h, err := Collect(forks.Fixed(forks.Cancun), res, cancunEnv)
		require.NoError(t, err)
		require.NotNil(t, h.WithdrawalsRoot)
		assert.Equal(t, gethtypes.EmptyWithdrawalsHash, *h.WithdrawalsRoot)
		require.NotNil(t, h.BlobGasUsed)
		require.NotNil(t, h.ExcessBlobGas)
		require.NotNil(t, h.BeaconRoot)
		assert.Equal(t, h.ToGeth().Hash(), h.Hash())
	})
	t.Run("missing excess blob gas", func(t *testing.T) {
		_, err := Collect(forks.Fixed(forks.Cancun), res, env)
		assert.ErrorIs(t, err, ErrMissingExcessBlobGas)
	})
}

func TestGenesis(t *testing.T) {
	env := &types.Environment{GasLimit: types.DefaultGasLimit}

	t.Run("frontier", func(t *testing.T) {
		h, err := Genesis(forks.Fixed(forks.Frontier), env, common.HexToHash("0x1"))
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(forks.DefaultGenesisDifficulty), h.Difficulty)
		assert.Nil(t, h.BaseFee)
		assert.Equal(t, []byte{0x00}, h.ExtraData)
		assert.Equal(t, uint64(0), h.Number)
	})
	t.Run("cancun", func(t *testing.T) {
		h, err := Genesis(forks.Fixed(forks.Cancun), env, common.HexToHash("0x1"))
		require.NoError(t, err)
		assert.Zero(t, h.Difficulty.Sign())
		assert.Equal(t, big.NewInt(forks.DefaultBaseFee), h.BaseFee)
		assert.Equal(t, gethtypes.EmptyWithdrawalsHash, *h.WithdrawalsRoot)
		assert.Equal(t, common.Hash{}, *h.BeaconRoot)
		assert.Equal(t, h.ToGeth().Hash(), h.Hash())
	})
	t.Run("transition uses from fork", func(t *testing.T) {
		network, err := forks.NewTransition(forks.Shanghai, forks.Cancun, 0, 15_000)
		require.NoError(t, err)
		h, err := Genesis(network, env, common.Hash{})
		require.NoError(t, err)
		assert.NotNil(t, h.WithdrawalsRoot)
		assert.Nil(t, h.ExcessBlobGas)
	})
	t.Run("withdrawals rejected", func(t *testing.T) {
		bad := env.Copy()
		bad.Withdrawals = []*gethtypes.Withdrawal{{Index: 1}}
		_, err := Genesis(forks.Fixed(forks.Shanghai), bad, common.Hash{})
		assert.Error(t, err)
	})
}
