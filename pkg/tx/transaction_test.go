package tx

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vectorAccessList = AccessList{{
	Address:     common.HexToAddress("0x123"),
	StorageKeys: []common.Hash{common.HexToHash("0x456"), common.HexToHash("0x789")},
}}

func TestEncodingVectors(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Transaction
		v     uint64
		want  string
	}{
		{
			name: "legacy unprotected",
			build: func() *Transaction {
				tx := Default()
				tx.GasPrice = uint256.NewInt(1_000_000_000)
				tx.Protected = false
				return tx
			},
			v:    27,
			want: "0xf86380843b9aca008252089400000000000000000000000000000000000000aa80801ba075ca71f8b7f1e95841db86704f4fe3da864694d135e0ed12ddf936f009541a41a072c6370f0c078df435b4041fe9e1fd596f7bcbd810993122b39a7f212617bace",
		},
		{
			name: "legacy protected",
			build: func() *Transaction {
				tx := Default()
				tx.GasPrice = uint256.NewInt(1_000_000_000)
				return tx
			},
			v:    37,
			want: "0xf86380843b9aca008252089400000000000000000000000000000000000000aa808025a060288b4319025f4955e36c53831871a91b2b59131b0355dbbc01a34f05b30f1ea0326b9de159e61d79e55c1844a8b0de520eef2fcb8b2992750c2f694d841ccbbd",
		},
		{
			name: "access list without entries",
			build: func() *Transaction {
				tx := Default()
				tx.Type = AccessListTxType
				tx.GasPrice = uint256.NewInt(1_000_000_000)
				return tx
			},
			v:    1,
			want: "0x01f8650180843b9aca008252089400000000000000000000000000000000000000aa8080c001a08f14944d8d46e2b6280d61afee759646d42aa23189e0764ed409e68f45962fb3a0251145c8de5edc9a19b3244f37caca6858aec3a1056330e251491881cbd2d6dd",
		},
		{
			name: "access list empty",
			build: func() *Transaction {
				tx := Default()
				tx.Type = AccessListTxType
				tx.GasPrice = uint256.NewInt(1_000_000_000)
				tx.AccessList = AccessList{}
				return tx
			},
			v:    1,
			want: "0x01f8650180843b9aca008252089400000000000000000000000000000000000000aa8080c001a08f14944d8d46e2b6280d61afee759646d42aa23189e0764ed409e68f45962fb3a0251145c8de5edc9a19b3244f37caca6858aec3a1056330e251491881cbd2d6dd",
		},
		{
			name: "dynamic fee",
			build: func() *Transaction {
				tx := Default()
				tx.Type = DynamicFeeTxType
				tx.GasPrice = nil
				tx.MaxFeePerGas = uint256.NewInt(10)
				tx.MaxPriorityFeePerGas = uint256.NewInt(5)
				tx.AccessList = vectorAccessList
				return tx
			},
			v:    0,
			want: "0x02f8be0180050a8252089400000000000000000000000000000000000000aa8080f85bf859940000000000000000000000000000000000000123f842a00000000000000000000000000000000000000000000000000000000000000456a0000000000000000000000000000000000000000000000000000000000000078980a0cad8994ac160fd7e167715bbe20212939abdd5cd5a1f6c4dd6e5612cd8b33220a062a44d12b176bbd669d09d20d26281b5a693d8a52ab02a9d130201ee5db113dd",
		},
		{
			name: "blob",
			build: func() *Transaction {
				tx := Default()
				tx.Type = BlobTxType
				tx.GasPrice = nil
				tx.MaxFeePerGas = uint256.NewInt(10)
				tx.MaxPriorityFeePerGas = uint256.NewInt(5)
				tx.AccessList = vectorAccessList
				tx.MaxFeePerBlobGas = uint256.NewInt(100)
				tx.BlobVersionedHashes = []common.Hash{}
				return tx
			},
			want: "0x03f8c00180050a8252089400000000000000000000000000000000000000aa8080f85bf859940000000000000000000000000000000000000123f842a00000000000000000000000000000000000000000000000000000000000000456a0000000000000000000000000000000000000000000000000000000000000078964c080a06a30b3f8fd434b55ee40d662263ffa98ff9c31ca0f9bce61ca5de5019c4d5e25a037e10e4f6ca934236d6bf064134f7c3203b7308a16d5c43b3c9ce8b8a6fbbcc7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := tt.build()
			enc, err := tx.Encode()
			require.NoError(t, err)
			require.Equal(t, tt.want, hexutil.Encode(enc))

			v, _, _, err := tx.Signature()
			require.NoError(t, err)
			require.Equal(t, tt.v, v.Uint64())

			sender, err := tx.Sender()
			require.NoError(t, err)
			require.Equal(t, TestAddress, sender)

			dec, err := Decode(enc)
			require.NoError(t, err)
			re, err := dec.Encode()
			require.NoError(t, err)
			require.Equal(t, enc, re)

			decSender, err := dec.Sender()
			require.NoError(t, err)
			require.Equal(t, TestAddress, decSender)
		})
	}
}

// The codec must agree byte for byte with go-ethereum's own transaction types.
func TestMatchesGethEncoding(t *testing.T) {
	to := common.HexToAddress("0x0000000000000000000000000000000000001000")
	chainID := big.NewInt(1)

	geth := []struct {
		name   string
		inner  gethtypes.TxData
		signer gethtypes.Signer
		ours   func() *Transaction
	}{
		{
			name:   "eip155",
			inner:  &gethtypes.LegacyTx{Nonce: 3, GasPrice: big.NewInt(7), Gas: 50000, To: &to, Value: big.NewInt(1), Data: []byte{0xde, 0xad}},
			signer: gethtypes.NewEIP155Signer(chainID),
			ours: func() *Transaction {
				tx := Default()
				tx.Nonce, tx.GasPrice, tx.Gas, tx.To, tx.Value, tx.Data = 3, uint256.NewInt(7), 50000, &to, uint256.NewInt(1), []byte{0xde, 0xad}
				return tx
			},
		},
		{
			name:   "homestead creation",
			inner:  &gethtypes.LegacyTx{Nonce: 0, GasPrice: big.NewInt(1), Gas: 100000, Data: []byte{0x60, 0x00}},
			signer: gethtypes.HomesteadSigner{},
			ours: func() *Transaction {
				tx := Default()
				tx.Protected, tx.To, tx.GasPrice, tx.Gas, tx.Data = false, nil, uint256.NewInt(1), 100000, []byte{0x60, 0x00}
				return tx
			},
		},
		{
			name: "blob",
			inner: &gethtypes.BlobTx{
				ChainID: uint256.NewInt(1), Nonce: 9, GasTipCap: uint256.NewInt(1), GasFeeCap: uint256.NewInt(100),
				Gas: 21000, To: to, Value: uint256.NewInt(0), BlobFeeCap: uint256.NewInt(3),
				BlobHashes: AddKZGVersion([]common.Hash{{1}, {2}}, BlobCommitmentVersionKZG),
			},
			signer: gethtypes.NewCancunSigner(chainID),
			ours: func() *Transaction {
				tx := Default()
				tx.Type, tx.Nonce, tx.GasPrice, tx.To = BlobTxType, 9, nil, &to
				tx.MaxPriorityFeePerGas, tx.MaxFeePerGas, tx.MaxFeePerBlobGas = uint256.NewInt(1), uint256.NewInt(100), uint256.NewInt(3)
				tx.BlobVersionedHashes = AddKZGVersion([]common.Hash{{1}, {2}}, BlobCommitmentVersionKZG)
				return tx
			},
		},
	}
	for _, tt := range geth {
		t.Run(tt.name, func(t *testing.T) {
			signed, err := gethtypes.SignNewTx(TestPrivateKey, tt.signer, tt.inner)
			require.NoError(t, err)
			want, err := signed.MarshalBinary()
			require.NoError(t, err)

			ours := tt.ours()
			got, err := ours.Encode()
			require.NoError(t, err)
			require.Equal(t, hexutil.Encode(want), hexutil.Encode(got))

			hash, err := ours.Hash()
			require.NoError(t, err)
			require.Equal(t, signed.Hash(), hash)
		})
	}
}

func TestSignatureDeterministic(t *testing.T) {
	a, b := Default(), Default()
	encA, err := a.Encode()
	require.NoError(t, err)
	encB, err := b.Encode()
	require.NoError(t, err)
	require.Equal(t, encA, encB)
}

func TestSignReturnsCopy(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	orig := Default()
	signed, err := orig.Sign(key)
	require.NoError(t, err)

	sender, err := signed.Sender()
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)

	origSender, err := orig.Sender()
	require.NoError(t, err)
	require.Equal(t, TestAddress, origSender)
}

func TestMinimalIntegerEncoding(t *testing.T) {
	tx := Default()
	tx.Nonce = 0
	tx.Value = uint256.NewInt(0)
	tx.GasPrice = uint256.NewInt(0x0100)
	enc, err := tx.Encode()
	require.NoError(t, err)
	// nonce 0 is the empty string, gas price 0x0100 takes two bytes
	require.Equal(t, "80820100", hexutil.Encode(enc)[6:14])

	// a decoder must refuse leading zeros
	padded := common.CopyBytes(enc)
	padded[3], padded[4], padded[5] = 0x82, 0x00, 0x00
	_, err = Decode(padded)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tx := Default()
	tx.Type = DynamicFeeTxType
	tx.BlobVersionedHashes = []common.Hash{{1}}
	_, err := tx.Encode()
	require.True(t, errors.Is(err, ErrMissingBlobFee))

	tx = Default()
	tx.Type = BlobTxType
	require.ErrorIs(t, tx.Validate(), ErrMissingBlobFee)

	tx = Default()
	tx.Type = 4
	require.ErrorIs(t, tx.Validate(), ErrUnknownType)
}

func TestRawOverride(t *testing.T) {
	tx := Default()
	tx.RLP = []byte{0x01, 0x02}
	tx.Error = "rlp decoding error"
	enc, err := tx.Encode()
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, enc)

	elem, err := tx.BodyElement()
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, elem)
}

func TestNoSigningKey(t *testing.T) {
	tx := Default()
	tx.SecretKey = nil
	_, err := tx.Encode()
	require.ErrorIs(t, err, ErrNoSigningKey)
}

func TestUnmarshalDefaultsAndInference(t *testing.T) {
	tests := []struct {
		input string
		typ   uint8
		check func(t *testing.T, tx *Transaction)
	}{
		{`{}`, LegacyTxType, func(t *testing.T, tx *Transaction) {
			assert.Equal(t, AddrAA, *tx.To)
			assert.Equal(t, uint64(21000), tx.Gas)
			assert.Equal(t, uint64(10), tx.GasPrice.Uint64())
			assert.True(t, tx.Protected)
		}},
		{`{"to": null, "data": "0x6000"}`, LegacyTxType, func(t *testing.T, tx *Transaction) {
			assert.Nil(t, tx.To)
			assert.Equal(t, []byte{0x60, 0x00}, tx.Data)
		}},
		{`{"accessList": []}`, AccessListTxType, nil},
		{`{"maxFeePerGas": 1000, "maxPriorityFeePerGas": "0x0a"}`, DynamicFeeTxType, func(t *testing.T, tx *Transaction) {
			assert.Nil(t, tx.GasPrice)
			assert.Equal(t, uint64(1000), tx.MaxFeePerGas.Uint64())
		}},
		{`{"maxFeePerGas": 1, "maxFeePerBlobGas": 1, "blobVersionedHashes": []}`, BlobTxType, nil},
		{`{"type": 2, "to": "0x100", "nonce": "0x05", "error": "nonce too high"}`, DynamicFeeTxType, func(t *testing.T, tx *Transaction) {
			assert.Equal(t, common.HexToAddress("0x0100"), *tx.To)
			assert.Equal(t, uint64(5), tx.Nonce)
			assert.Equal(t, "nonce too high", tx.Error)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var tx Transaction
			require.NoError(t, json.Unmarshal([]byte(tt.input), &tx))
			require.Equal(t, tt.typ, tx.Type)
			if tt.check != nil {
				tt.check(t, &tx)
			}
		})
	}

	var tx Transaction
	err := json.Unmarshal([]byte(`{"maxFeePerGas": 1, "blobVersionedHashes": [], "type": 2}`), &tx)
	require.ErrorIs(t, err, ErrMissingBlobFee)
}

func TestFixtureJSON(t *testing.T) {
	tx := Default()
	tx.Type = BlobTxType
	tx.GasPrice = nil
	tx.MaxFeePerGas = uint256.NewInt(10)
	tx.MaxPriorityFeePerGas = uint256.NewInt(5)
	tx.MaxFeePerBlobGas = uint256.NewInt(100)

	data, err := json.Marshal(tx)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	require.Equal(t, "0x03", fields["type"])
	require.Equal(t, "0x5208", fields["gasLimit"])
	require.Equal(t, "0x64", fields["maxFeePerBlobGas"])
	require.Equal(t, []interface{}{}, fields["blobVersionedHashes"])
	require.NotContains(t, fields, "gasPrice")
	require.Equal(t, hexutil.Encode(TestAddress.Bytes()), fields["sender"])

	var back Transaction
	require.NoError(t, json.Unmarshal(data, &back))
	want, err := tx.Encode()
	require.NoError(t, err)
	got, err := back.Encode()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSequence(t *testing.T) {
	template := Default()
	template.Nonce = 4
	txs := Sequence(template, 3, func(i int, tx *Transaction) {
		tx.Value = uint256.NewInt(uint64(i))
	})
	require.Len(t, txs, 3)
	for i, tx := range txs {
		require.Equal(t, uint64(4+i), tx.Nonce)
		require.Equal(t, uint64(i), tx.Value.Uint64())
	}
	require.Equal(t, uint64(0), template.Value.Uint64())

	chunks := Chunk(txs, 1, 5)
	require.Len(t, chunks[0], 1)
	require.Len(t, chunks[1], 2)
}

func TestVersionedHashes(t *testing.T) {
	hashes := AddKZGVersion([]common.Hash{{}, {1}}, BlobCommitmentVersionKZG)
	for _, h := range hashes {
		require.Equal(t, BlobCommitmentVersionKZG, h[0])
	}
	require.NotEqual(t, hashes[0], hashes[1])

	vh := VersionedHashes([]kzg4844.Commitment{{1}, {2}})
	require.Len(t, vh, 2)
	require.Equal(t, BlobCommitmentVersionKZG, vh[0][0])
	require.NotEqual(t, vh[0], vh[1])
}

func TestEncodeList(t *testing.T) {
	legacy := Default()
	typed := Default()
	typed.Type = DynamicFeeTxType
	typed.Nonce = 1

	enc, err := EncodeList([]*Transaction{legacy, typed})
	require.NoError(t, err)

	var decoded gethtypes.Transactions
	require.NoError(t, rlp.DecodeBytes(enc, &decoded))
	require.Len(t, decoded, 2)
	require.Equal(t, uint8(gethtypes.LegacyTxType), decoded[0].Type())
	require.Equal(t, uint8(gethtypes.DynamicFeeTxType), decoded[1].Type())
}
