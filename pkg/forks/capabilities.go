package forks

import (
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/smallyunet/ethfill/pkg/types"
)

// Header defaults applied when a test leaves the field unset.
const (
	DefaultBaseFee           = 7
	DefaultGenesisDifficulty = 0x20000
)

// HeaderBaseFeeRequired reports whether headers carry the EIP-1559 base fee.
func (n Network) HeaderBaseFeeRequired(number, time uint64) bool {
	return n.rules(number, time).baseFee
}

// HeaderPrevRandaoRequired reports whether the mix digest carries prevRandao.
func (n Network) HeaderPrevRandaoRequired(number, time uint64) bool {
	return n.rules(number, time).prevRandao
}

// HeaderZeroDifficultyRequired reports whether difficulty must be zero.
func (n Network) HeaderZeroDifficultyRequired(number, time uint64) bool {
	return n.rules(number, time).prevRandao
}

// HeaderWithdrawalsRequired reports whether headers carry a withdrawals root
// and blocks a withdrawals list.
func (n Network) HeaderWithdrawalsRequired(number, time uint64) bool {
	return n.rules(number, time).withdrawals
}

// HeaderBlobGasUsedRequired reports whether headers carry blob gas used.
func (n Network) HeaderBlobGasUsedRequired(number, time uint64) bool {
	return n.rules(number, time).blobs
}

// HeaderExcessBlobGasRequired reports whether headers carry excess blob gas.
func (n Network) HeaderExcessBlobGasRequired(number, time uint64) bool {
	return n.rules(number, time).blobs
}

// HeaderBeaconRootRequired reports whether headers carry the parent beacon
// block root.
func (n Network) HeaderBeaconRootRequired(number, time uint64) bool {
	return n.rules(number, time).beaconRoot
}

// BlockReward returns the miner reward in wei.
func (n Network) BlockReward(number, time uint64) *big.Int {
	return new(big.Int).Set(n.rules(number, time).reward)
}

// TxTypes returns the transaction types accepted at the given point.
func (n Network) TxTypes(number, time uint64) []uint8 {
	return slices.Clone(n.rules(number, time).txTypes)
}

// SupportsTxType reports whether transactions of type typ are valid.
func (n Network) SupportsTxType(number, time uint64, typ uint8) bool {
	return slices.Contains(n.rules(number, time).txTypes, typ)
}

func (n Network) blobParams(number, time uint64, capability string) (*blobParams, error) {
	r := n.rules(number, time)
	if r.blob == nil {
		return nil, unsupported(n.ForkAt(number, time), capability)
	}
	return r.blob, nil
}

// BlobGasPerBlob returns the blob gas consumed by a single blob.
func (n Network) BlobGasPerBlob(number, time uint64) (uint64, error) {
	if _, err := n.blobParams(number, time, "blob gas per blob"); err != nil {
		return 0, err
	}
	return params.BlobTxBlobGasPerBlob, nil
}

// TargetBlobsPerBlock returns the blob count targeted by the fee market.
func (n Network) TargetBlobsPerBlock(number, time uint64) (uint64, error) {
	bp, err := n.blobParams(number, time, "target blobs per block")
	if err != nil {
		return 0, err
	}
	return bp.target, nil
}

// MaxBlobsPerBlock returns the maximum blob count of a block.
func (n Network) MaxBlobsPerBlock(number, time uint64) (uint64, error) {
	bp, err := n.blobParams(number, time, "max blobs per block")
	if err != nil {
		return 0, err
	}
	return bp.max, nil
}

// BlobGasPrice returns the price of one unit of blob gas for a block with the
// given excess blob gas.
func (n Network) BlobGasPrice(number, time, excessBlobGas uint64) (*big.Int, error) {
	bp, err := n.blobParams(number, time, "blob gas price")
	if err != nil {
		return nil, err
	}
	return FakeExponential(big.NewInt(1), new(big.Int).SetUint64(excessBlobGas), new(big.Int).SetUint64(bp.updateFraction)), nil
}

// ExcessBlobGas computes a block's excess blob gas from its parent's values.
func (n Network) ExcessBlobGas(number, time, parentExcess, parentUsed uint64) (uint64, error) {
	bp, err := n.blobParams(number, time, "excess blob gas")
	if err != nil {
		return 0, err
	}
	target := bp.target * params.BlobTxBlobGasPerBlob
	if parentExcess+parentUsed < target {
		return 0, nil
	}
	return parentExcess + parentUsed - target, nil
}

// MinExcessBlobGasForPrice returns the smallest excess blob gas at which the
// blob gas price reaches price.
func (n Network) MinExcessBlobGasForPrice(number, time uint64, price *big.Int) (uint64, error) {
	perBlob, err := n.BlobGasPerBlob(number, time)
	if err != nil {
		return 0, err
	}
	var excess uint64
	for {
		current, err := n.BlobGasPrice(number, time, excess)
		if err != nil {
			return 0, err
		}
		if current.Cmp(price) >= 0 {
			return excess, nil
		}
		excess += perBlob
	}
}

// FakeExponential approximates factor * e ** (numerator / denominator) using
// a Taylor expansion, as defined by EIP-4844.
func FakeExponential(factor, numerator, denominator *big.Int) *big.Int {
	var (
		output = new(big.Int)
		accum  = new(big.Int).Mul(factor, denominator)
	)
	for i := 1; accum.Sign() > 0; i++ {
		output.Add(output, accum)

		accum.Mul(accum, numerator)
		accum.Div(accum, denominator)
		accum.Div(accum, big.NewInt(int64(i)))
	}
	return output.Div(output, denominator)
}

// IntrinsicGas returns the gas charged before execution for a transaction
// with the given payload and access list size.
func (n Network) IntrinsicGas(number, time uint64, data []byte, creation bool, accessListAddresses, accessListKeys int) uint64 {
	r := n.rules(number, time)

	gas := params.TxGas
	if creation && r.creationGas {
		gas = params.TxGasContractCreation
	}

	nonZeroCost := params.TxDataNonZeroGasFrontier
	if r.eip2028 {
		nonZeroCost = params.TxDataNonZeroGasEIP2028
	}
	for _, b := range data {
		if b == 0 {
			gas += params.TxDataZeroGas
		} else {
			gas += nonZeroCost
		}
	}

	gas += uint64(accessListAddresses) * params.TxAccessListAddressGas
	gas += uint64(accessListKeys) * params.TxAccessListStorageKeyGas

	if creation && r.initcode {
		words := (uint64(len(data)) + 31) / 32
		gas += words * params.InitCodeWordGas
	}
	return gas
}

// EngineNewPayloadVersion returns the engine_newPayload version for blocks
// at the given point.
func (n Network) EngineNewPayloadVersion(number, time uint64) (int, error) {
	r := n.rules(number, time)
	if r.newPayload == 0 {
		return 0, unsupported(n.ForkAt(number, time), "engine_newPayload")
	}
	return r.newPayload, nil
}

// EngineForkchoiceUpdatedVersion returns the engine_forkchoiceUpdated version.
func (n Network) EngineForkchoiceUpdatedVersion(number, time uint64) (int, error) {
	r := n.rules(number, time)
	if r.fcu == 0 {
		return 0, unsupported(n.ForkAt(number, time), "engine_forkchoiceUpdated")
	}
	return r.fcu, nil
}

// PreAllocation returns the accounts a fork requires in the genesis state.
func (n Network) PreAllocation(number, time uint64) types.Alloc {
	alloc := types.Alloc{}
	if n.rules(number, time).beaconRoot {
		nonce := uint64(1)
		alloc[params.BeaconRootsAddress] = &types.Account{
			Nonce:   &nonce,
			Balance: new(uint256.Int),
			Code:    append([]byte{}, params.BeaconRootsCode...),
		}
	}
	return alloc
}
