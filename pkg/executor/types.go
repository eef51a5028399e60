// Package executor drives the external state-transition tool that executes
// blocks and computes state roots.
package executor

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/smallyunet/ethfill/pkg/tx"
	"github.com/smallyunet/ethfill/pkg/types"
)

// Executor evaluates one block's transactions on top of an allocation. It is
// stateless: every call carries the full pre-state.
type Executor interface {
	Evaluate(ctx context.Context, req *Request) (*Response, error)
}

// Request is the input of a single block evaluation. Implementations must not
// mutate it.
type Request struct {
	Alloc   types.Alloc
	Txs     []*tx.Transaction
	Env     *types.Environment
	Fork    string
	ChainID uint64
	Reward  *big.Int
}

// Response carries the post-state allocation and the execution result.
type Response struct {
	Alloc  types.Alloc
	Result *Result
	Traces []*Trace
}

// RejectedTx names a transaction the executor refused to include.
type RejectedTx struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Receipt is the subset of a receipt reported by the executor.
type Receipt struct {
	Type              hexutil.Uint64  `json:"type"`
	Status            hexutil.Uint64  `json:"status"`
	CumulativeGasUsed hexutil.Uint64  `json:"cumulativeGasUsed"`
	Bloom             gethtypes.Bloom `json:"logsBloom"`
	Logs              json.RawMessage `json:"logs"`
	TxHash            common.Hash     `json:"transactionHash"`
	ContractAddress   *common.Address `json:"contractAddress,omitempty"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	TransactionIndex  hexutil.Uint    `json:"transactionIndex"`
}

// Result is the execution result of one block, as reported under "result".
type Result struct {
	StateRoot            common.Hash           `json:"stateRoot"`
	TxRoot               common.Hash           `json:"txRoot"`
	ReceiptRoot          common.Hash           `json:"receiptsRoot"`
	LogsHash             common.Hash           `json:"logsHash"`
	Bloom                gethtypes.Bloom       `json:"logsBloom"`
	Receipts             []*Receipt            `json:"receipts"`
	Rejected             []*RejectedTx         `json:"rejected,omitempty"`
	Difficulty           *math.HexOrDecimal256 `json:"currentDifficulty"`
	GasUsed              math.HexOrDecimal64   `json:"gasUsed"`
	BaseFee              *math.HexOrDecimal256 `json:"currentBaseFee,omitempty"`
	WithdrawalsRoot      *common.Hash          `json:"withdrawalsRoot,omitempty"`
	CurrentExcessBlobGas *math.HexOrDecimal64  `json:"currentExcessBlobGas,omitempty"`
	BlobGasUsed          *math.HexOrDecimal64  `json:"blobGasUsed,omitempty"`
}

// RejectedByIndex maps transaction index to rejection message.
func (r *Result) RejectedByIndex() map[int]string {
	out := make(map[int]string, len(r.Rejected))
	for _, rej := range r.Rejected {
		out[rej.Index] = rej.Error
	}
	return out
}

// input is the JSON document handed to the tool on stdin or in a server
// request.
type input struct {
	Alloc  types.Alloc        `json:"alloc"`
	Env    *types.Environment `json:"env"`
	TxsRLP hexutil.Bytes      `json:"txsRlp"`
}

// output is the JSON document the tool writes back.
type output struct {
	Alloc  types.Alloc `json:"alloc"`
	Result *Result     `json:"result"`
}

func newInput(req *Request) (*input, error) {
	txs, err := tx.EncodeList(req.Txs)
	if err != nil {
		return nil, err
	}
	return &input{Alloc: req.Alloc, Env: req.Env, TxsRLP: txs}, nil
}

func reward(req *Request) string {
	if req.Reward == nil {
		return "-1"
	}
	return req.Reward.String()
}
