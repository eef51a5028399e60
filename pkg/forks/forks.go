package forks

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// Fork identifies a mainnet protocol version. Values are ordered by activation.
type Fork uint8

const (
	Frontier Fork = iota
	Homestead
	Byzantium
	Constantinople
	Petersburg
	Istanbul
	Berlin
	London
	Paris
	Shanghai
	Cancun

	forkCount
)

// Tx types understood by the codec.
const (
	LegacyTxType     = 0x00
	AccessListTxType = 0x01
	DynamicFeeTxType = 0x02
	BlobTxType       = 0x03
)

// blobParams are the EIP-4844 parameters of a fork.
type blobParams struct {
	target         uint64
	max            uint64
	updateFraction uint64
}

// capabilities is one row of the fork table. Every predicate the filler asks of a
// fork is answered from here.
type capabilities struct {
	name    string
	network string // fixture network and state transition tool name

	reward *big.Int

	baseFee     bool
	prevRandao  bool
	withdrawals bool
	blobs       bool
	beaconRoot  bool

	txTypes []uint8

	// intrinsic gas rules
	creationGas bool // EIP-2: contract creation costs TxGasContractCreation
	eip2028     bool // cheaper non-zero calldata
	initcode    bool // EIP-3860 initcode word cost

	newPayload int // engine_newPayloadVN, 0 when not applicable
	fcu        int // engine_forkchoiceUpdatedVN

	blob *blobParams

	hive []hiveKey
}

type hiveKey struct {
	name      string
	timestamp bool // activated by timestamp rather than number
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}

var table = [forkCount]capabilities{
	Frontier: {
		name: "Frontier", network: "Frontier",
		reward:  ether(5),
		txTypes: []uint8{LegacyTxType},
	},
	Homestead: {
		name: "Homestead", network: "Homestead",
		reward:      ether(5),
		txTypes:     []uint8{LegacyTxType},
		creationGas: true,
		hive:        []hiveKey{{name: "HIVE_FORK_HOMESTEAD"}},
	},
	Byzantium: {
		name: "Byzantium", network: "Byzantium",
		reward:      ether(3),
		txTypes:     []uint8{LegacyTxType},
		creationGas: true,
		hive: []hiveKey{
			{name: "HIVE_FORK_TANGERINE"},
			{name: "HIVE_FORK_SPURIOUS"},
			{name: "HIVE_FORK_BYZANTIUM"},
		},
	},
	Constantinople: {
		name: "Constantinople", network: "Constantinople",
		reward:      ether(2),
		txTypes:     []uint8{LegacyTxType},
		creationGas: true,
		hive:        []hiveKey{{name: "HIVE_FORK_CONSTANTINOPLE"}},
	},
	Petersburg: {
		name: "Petersburg", network: "ConstantinopleFix",
		reward:      ether(2),
		txTypes:     []uint8{LegacyTxType},
		creationGas: true,
		hive:        []hiveKey{{name: "HIVE_FORK_PETERSBURG"}},
	},
	Istanbul: {
		name: "Istanbul", network: "Istanbul",
		reward:      ether(2),
		txTypes:     []uint8{LegacyTxType},
		creationGas: true, eip2028: true,
		hive: []hiveKey{{name: "HIVE_FORK_ISTANBUL"}},
	},
	Berlin: {
		name: "Berlin", network: "Berlin",
		reward:      ether(2),
		txTypes:     []uint8{LegacyTxType, AccessListTxType},
		creationGas: true, eip2028: true,
		hive: []hiveKey{{name: "HIVE_FORK_BERLIN"}},
	},
	London: {
		name: "London", network: "London",
		reward:      ether(2),
		baseFee:     true,
		txTypes:     []uint8{LegacyTxType, AccessListTxType, DynamicFeeTxType},
		creationGas: true, eip2028: true,
		hive: []hiveKey{{name: "HIVE_FORK_LONDON"}},
	},
	Paris: {
		name: "Paris", network: "Merge",
		reward:      new(big.Int),
		baseFee:     true,
		prevRandao:  true,
		txTypes:     []uint8{LegacyTxType, AccessListTxType, DynamicFeeTxType},
		creationGas: true, eip2028: true,
		newPayload:  1, fcu: 1,
		hive: []hiveKey{
			{name: "HIVE_FORK_MERGE"},
			{name: "HIVE_TERMINAL_TOTAL_DIFFICULTY"},
		},
	},
	Shanghai: {
		name: "Shanghai", network: "Shanghai",
		reward:      new(big.Int),
		baseFee:     true,
		prevRandao:  true,
		withdrawals: true,
		txTypes:     []uint8{LegacyTxType, AccessListTxType, DynamicFeeTxType},
		creationGas: true, eip2028: true, initcode: true,
		newPayload: 2, fcu: 2,
		hive: []hiveKey{{name: "HIVE_SHANGHAI_TIMESTAMP", timestamp: true}},
	},
	Cancun: {
		name: "Cancun", network: "Cancun",
		reward:      new(big.Int),
		baseFee:     true,
		prevRandao:  true,
		withdrawals: true,
		blobs:       true,
		beaconRoot:  true,
		txTypes:     []uint8{LegacyTxType, AccessListTxType, DynamicFeeTxType, BlobTxType},
		creationGas: true, eip2028: true, initcode: true,
		newPayload: 3, fcu: 3,
		blob: &blobParams{target: 3, max: 6, updateFraction: 3338477},
		hive: []hiveKey{{name: "HIVE_CANCUN_TIMESTAMP", timestamp: true}},
	},
}

// String returns the fork name.
func (f Fork) String() string {
	if f >= forkCount {
		return fmt.Sprintf("Fork(%d)", uint8(f))
	}
	return table[f].name
}

// NetworkName is the name used in fixtures and understood by the state
// transition tool. It differs from String for Petersburg and Paris.
func (f Fork) NetworkName() string {
	return f.caps().network
}

func (f Fork) caps() *capabilities {
	if f >= forkCount {
		panic(fmt.Sprintf("forks: unknown fork %d", uint8(f)))
	}
	return &table[f]
}

// All returns every known fork in activation order.
func All() []Fork {
	out := make([]Fork, 0, forkCount)
	for f := Frontier; f < forkCount; f++ {
		out = append(out, f)
	}
	return out
}

// ForkByName resolves a fork from either its name or its network name.
func ForkByName(name string) (Fork, error) {
	for f := Frontier; f < forkCount; f++ {
		if table[f].name == name || table[f].network == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown fork %q", name)
}
