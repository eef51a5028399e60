package blockchain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/smallyunet/ethfill/pkg/block"
	"github.com/smallyunet/ethfill/pkg/config"
	"github.com/smallyunet/ethfill/pkg/engine"
	"github.com/smallyunet/ethfill/pkg/tx"
	"github.com/smallyunet/ethfill/pkg/types"
)

// Output is a filled fixture of either shape.
type Output interface {
	// Format is the fixture format name the output was filled for.
	Format() string
}

// Fixture is the block-list shape: clients import every RLP block in order
// and must end at LastBlockHash with PostState.
type Fixture struct {
	Network            string        `json:"network"`
	GenesisBlockHeader *block.Header `json:"genesisBlockHeader"`
	GenesisRLP         hexutil.Bytes `json:"genesisRLP"`
	Blocks             []Entry       `json:"blocks"`
	LastBlockHash      common.Hash   `json:"lastblockhash"`
	Pre                types.Alloc   `json:"pre"`
	PostState          types.Alloc   `json:"postState"`
	SealEngine         string        `json:"sealEngine"`
}

// Format implements Output.
func (*Fixture) Format() string { return config.FormatBlockchain }

// Entry is one element of Fixture.Blocks.
type Entry interface {
	// Valid reports whether clients must import the block.
	Valid() bool
}

// FixtureBlock is a block clients must import.
type FixtureBlock struct {
	RLP          hexutil.Bytes            `json:"rlp,omitempty"`
	BlockHeader  *block.Header            `json:"blockHeader"`
	BlockNumber  string                   `json:"blocknumber,omitempty"`
	Transactions []*tx.Transaction        `json:"transactions"`
	UncleHeaders []*block.Header          `json:"uncleHeaders"`
	Withdrawals  *[]*gethtypes.Withdrawal `json:"withdrawals,omitempty"` // nil before Shanghai
}

// Valid implements Entry.
func (*FixtureBlock) Valid() bool { return true }

// InvalidFixtureBlock is a block clients must reject with ExpectException.
// RLPDecoded describes the block when it was built from declared fields.
type InvalidFixtureBlock struct {
	RLP             hexutil.Bytes `json:"rlp"`
	ExpectException string        `json:"expectException"`
	RLPDecoded      *FixtureBlock `json:"rlp_decoded,omitempty"`
}

// Valid implements Entry.
func (*InvalidFixtureBlock) Valid() bool { return false }

// EngineFixture is the payload shape: clients receive every payload through
// engine_newPayload and must answer with the expected validity.
type EngineFixture struct {
	Network            string               `json:"network"`
	GenesisBlockHeader *block.Header        `json:"genesisBlockHeader"`
	EngineNewPayloads  []*engine.NewPayload `json:"engineNewPayloads"`
	EngineFcuVersion   int                  `json:"engineFcuVersion,string"`
	Pre                types.Alloc          `json:"pre"`
	PostState          types.Alloc          `json:"postState"`
}

// Format implements Output.
func (*EngineFixture) Format() string { return config.FormatBlockchainEngine }
