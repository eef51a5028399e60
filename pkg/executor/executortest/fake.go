// Package executortest provides an in-memory executor for tests. It performs
// transaction validation, value transfers and fee accounting, but runs no EVM
// code: every accepted transaction consumes exactly its intrinsic gas.
package executortest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/smallyunet/ethfill/pkg/executor"
	"github.com/smallyunet/ethfill/pkg/forks"
	"github.com/smallyunet/ethfill/pkg/tx"
	"github.com/smallyunet/ethfill/pkg/types"
)

// Rejection messages reported by Fake.
const (
	ErrTxTypeNotSupported     = "transaction type not supported"
	ErrNonceTooLow            = "nonce too low"
	ErrNonceTooHigh           = "nonce too high"
	ErrIntrinsicGas           = "intrinsic gas too low"
	ErrGasLimitReached        = "gas limit reached"
	ErrFeeCapTooLow           = "max fee per gas less than block base fee"
	ErrInsufficientFunds      = "insufficient funds for gas * price + value"
	ErrInsufficientBlobFee    = "insufficient max fee per blob gas"
	ErrInvalidBlobCount       = "invalid blob count"
	ErrMissingBlobHashes      = "blob transaction missing blob hashes"
	ErrInvalidVersionedHash   = "invalid blob versioned hash"
	ErrBlobTxCreate           = "blob transaction of type create"
	ErrInvalidSenderSignature = "invalid sender"
)

// Fake is an executor.Executor backed by a tiny state machine. It is safe for
// concurrent use.
type Fake struct {
	// Err, when set, is returned by every evaluation.
	Err error

	mu    sync.Mutex
	calls int
}

var _ executor.Executor = (*Fake)(nil)

// Calls reports how many evaluations ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Evaluate implements executor.Executor. The request is never mutated.
func (f *Fake) Evaluate(_ context.Context, req *executor.Request) (*executor.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	fork, err := forks.ForkByName(req.Fork)
	if err != nil {
		return nil, err
	}
	b := &blockRun{
		network: forks.Fixed(fork),
		env:     req.Env,
		alloc:   req.Alloc.Copy(),
		result:  &executor.Result{},
		touched: make(map[common.Address]bool),
	}
	if err := b.prepare(); err != nil {
		return nil, err
	}
	for i, t := range req.Txs {
		if msg := b.apply(t); msg != "" {
			b.result.Rejected = append(b.result.Rejected, &executor.RejectedTx{Index: i, Error: msg})
		}
	}
	b.finalize(req.Reward)
	return &executor.Response{Alloc: b.alloc, Result: b.result}, nil
}

type blockRun struct {
	network forks.Network
	env     *types.Environment
	alloc   types.Alloc
	result  *executor.Result

	touched      map[common.Address]bool
	baseFee      *big.Int
	blobPrice    *big.Int
	gasUsed      uint64
	blobGasUsed  uint64
	included     []*tx.Transaction
	receiptsData [][]byte
}

func (b *blockRun) rules() (uint64, uint64) { return b.env.Number, b.env.Timestamp }

// prepare derives the block's base fee and blob gas price the way the tool
// does when the environment leaves them to be computed from the parent.
func (b *blockRun) prepare() error {
	n, t := b.rules()
	if b.network.HeaderBaseFeeRequired(n, t) {
		switch {
		case b.env.BaseFee != nil:
			b.baseFee = new(big.Int).Set(b.env.BaseFee)
		case b.env.ParentBaseFee != nil:
			b.baseFee = CalcBaseFee(b.env.ParentGasLimit, b.env.ParentGasUsed, b.env.ParentBaseFee)
		default:
			return fmt.Errorf("missing base fee for block %d", n)
		}
		b.result.BaseFee = (*math.HexOrDecimal256)(new(big.Int).Set(b.baseFee))
	}
	if b.network.HeaderExcessBlobGasRequired(n, t) {
		var excess uint64
		switch {
		case b.env.ExcessBlobGas != nil:
			excess = *b.env.ExcessBlobGas
		case b.env.ParentExcessBlobGas != nil && b.env.ParentBlobGasUsed != nil:
			var err error
			if excess, err = b.network.ExcessBlobGas(n, t, *b.env.ParentExcessBlobGas, *b.env.ParentBlobGasUsed); err != nil {
				return err
			}
		}
		price, err := b.network.BlobGasPrice(n, t, excess)
		if err != nil {
			return err
		}
		b.blobPrice = price
		e := math.HexOrDecimal64(excess)
		b.result.CurrentExcessBlobGas = &e
	}
	if !b.network.HeaderZeroDifficultyRequired(n, t) {
		difficulty := new(big.Int)
		switch {
		case b.env.Difficulty != nil:
			difficulty.Set(b.env.Difficulty)
		case b.env.ParentDifficulty != nil:
			difficulty.Set(b.env.ParentDifficulty)
		}
		b.result.Difficulty = (*math.HexOrDecimal256)(difficulty)
	}
	return nil
}

func (b *blockRun) account(addr common.Address) *types.Account {
	b.touched[addr] = true
	acc, ok := b.alloc[addr]
	if !ok || acc.IsNonExistent() {
		acc = &types.Account{}
		b.alloc[addr] = acc
	}
	if acc.Nonce == nil {
		acc.Nonce = new(uint64)
	}
	if acc.Balance == nil {
		acc.Balance = new(uint256.Int)
	}
	return acc
}

// apply validates and executes t, returning a rejection message or "".
func (b *blockRun) apply(t *tx.Transaction) string {
	n, ts := b.rules()
	if !b.network.SupportsTxType(n, ts, t.Type) {
		return ErrTxTypeNotSupported
	}
	from, err := t.Sender()
	if err != nil {
		return ErrInvalidSenderSignature
	}
	current := b.alloc[from]
	switch {
	case t.Nonce < current.NonceValue():
		return ErrNonceTooLow
	case t.Nonce > current.NonceValue():
		return ErrNonceTooHigh
	}

	intrinsic := b.network.IntrinsicGas(n, ts, t.Data, t.To == nil, len(t.AccessList), t.AccessList.StorageKeys())
	if t.Gas < intrinsic {
		return ErrIntrinsicGas
	}
	if b.gasUsed+t.Gas > b.env.GasLimit {
		return ErrGasLimitReached
	}

	feeCap, tip := t.GasPrice, t.GasPrice
	if t.Type >= tx.DynamicFeeTxType {
		feeCap, tip = t.MaxFeePerGas, t.MaxPriorityFeePerGas
	}
	feeCapBig, tipBig := u256(feeCap), u256(tip)
	price := new(big.Int).Set(feeCapBig)
	if b.baseFee != nil {
		if feeCapBig.Cmp(b.baseFee) < 0 {
			return ErrFeeCapTooLow
		}
		if t.Type >= tx.DynamicFeeTxType {
			price = new(big.Int).Add(b.baseFee, tipBig)
			if price.Cmp(feeCapBig) > 0 {
				price.Set(feeCapBig)
			}
		}
	}

	var blobGas uint64
	upfrontBlob := new(big.Int)
	if t.Type == tx.BlobTxType {
		if msg := b.checkBlobs(t); msg != "" {
			return msg
		}
		blobGas = t.BlobGas(params.BlobTxBlobGasPerBlob)
		upfrontBlob.Mul(new(big.Int).SetUint64(blobGas), u256(t.MaxFeePerBlobGas))
	}

	upfront := new(big.Int).Mul(new(big.Int).SetUint64(t.Gas), feeCapBig)
	upfront.Add(upfront, u256(t.Value))
	upfront.Add(upfront, upfrontBlob)
	if current.BalanceValue().ToBig().Cmp(upfront) < 0 {
		return ErrInsufficientFunds
	}

	// Execution: intrinsic gas only.
	sender := b.account(from)
	cost := new(big.Int).Mul(new(big.Int).SetUint64(intrinsic), price)
	cost.Add(cost, u256(t.Value))
	if blobGas > 0 {
		cost.Add(cost, new(big.Int).Mul(new(big.Int).SetUint64(blobGas), b.blobPrice))
	}
	sender.Balance = new(uint256.Int).Sub(sender.Balance, mustU256(cost))
	*sender.Nonce++

	var to common.Address
	if t.To != nil {
		to = *t.To
	} else {
		to = crypto.CreateAddress(from, t.Nonce)
	}
	recipient := b.account(to)
	if t.To == nil && *recipient.Nonce == 0 && b.network.ForkAt(n, ts) >= forks.Byzantium {
		*recipient.Nonce = 1
	}
	recipient.Balance = new(uint256.Int).Add(recipient.Balance, orZero(t.Value))

	miner := new(big.Int).Set(price)
	if b.baseFee != nil {
		miner.Sub(miner, b.baseFee)
	}
	miner.Mul(miner, new(big.Int).SetUint64(intrinsic))
	coinbase := b.account(b.env.Coinbase)
	coinbase.Balance = new(uint256.Int).Add(coinbase.Balance, mustU256(miner))

	b.gasUsed += intrinsic
	b.blobGasUsed += blobGas
	b.included = append(b.included, t)
	b.receiptsData = append(b.receiptsData, receiptData(t, b.gasUsed))
	return ""
}

func (b *blockRun) checkBlobs(t *tx.Transaction) string {
	n, ts := b.rules()
	if b.blobPrice == nil {
		return ErrTxTypeNotSupported
	}
	if t.To == nil {
		return ErrBlobTxCreate
	}
	if len(t.BlobVersionedHashes) == 0 {
		return ErrMissingBlobHashes
	}
	for _, h := range t.BlobVersionedHashes {
		if h[0] != tx.BlobCommitmentVersionKZG {
			return ErrInvalidVersionedHash
		}
	}
	maxBlobs, err := b.network.MaxBlobsPerBlock(n, ts)
	if err != nil {
		return ErrTxTypeNotSupported
	}
	perBlob := uint64(params.BlobTxBlobGasPerBlob)
	if b.blobGasUsed+t.BlobGas(perBlob) > maxBlobs*perBlob {
		return ErrInvalidBlobCount
	}
	if u256(t.MaxFeePerBlobGas).Cmp(b.blobPrice) < 0 {
		return ErrInsufficientBlobFee
	}
	return ""
}

func (b *blockRun) finalize(reward *big.Int) {
	n, t := b.rules()
	if reward != nil && reward.Sign() > 0 {
		coinbase := b.account(b.env.Coinbase)
		coinbase.Balance = new(uint256.Int).Add(coinbase.Balance, mustU256(reward))
	}
	if b.network.HeaderWithdrawalsRequired(n, t) {
		for _, w := range b.env.Withdrawals {
			amount := new(big.Int).Mul(new(big.Int).SetUint64(w.Amount), big.NewInt(params.GWei))
			acc := b.account(w.Address)
			acc.Balance = new(uint256.Int).Add(acc.Balance, mustU256(amount))
		}
	}
	// Touched accounts left empty are removed.
	for addr := range b.touched {
		acc := b.alloc[addr]
		if acc.NonceValue() == 0 && acc.BalanceValue().IsZero() && len(acc.Code) == 0 && len(acc.Storage) == 0 &&
			b.network.ForkAt(n, t) >= forks.Byzantium {
			delete(b.alloc, addr)
		}
	}

	b.result.GasUsed = math.HexOrDecimal64(b.gasUsed)
	if b.blobPrice != nil {
		used := math.HexOrDecimal64(b.blobGasUsed)
		b.result.BlobGasUsed = &used
	}
	b.result.StateRoot = StateRoot(b.alloc)
	b.result.TxRoot = gethtypes.DeriveSha(encodedList(txEncodings(b.included)), trie.NewStackTrie(nil))
	b.result.ReceiptRoot = gethtypes.DeriveSha(encodedList(b.receiptsData), trie.NewStackTrie(nil))
	b.result.Receipts = make([]*executor.Receipt, 0, len(b.included))
	for _, included := range b.included {
		h, _ := included.Hash()
		b.result.Receipts = append(b.result.Receipts, &executor.Receipt{TxHash: h, Status: 1})
	}
}

// StateRoot is the fake's state commitment: the keccak256 hash of the
// canonically ordered allocation. It is not a Merkle-Patricia root.
func StateRoot(alloc types.Alloc) common.Hash {
	type storageItem struct {
		Key, Value common.Hash
	}
	type accountItem struct {
		Address common.Address
		Nonce   uint64
		Balance *uint256.Int
		Code    []byte
		Storage []storageItem
	}
	items := make([]accountItem, 0, len(alloc))
	for _, addr := range alloc.Addresses() {
		acc := alloc[addr]
		if acc.IsNonExistent() {
			continue
		}
		item := accountItem{Address: addr, Nonce: acc.NonceValue(), Balance: acc.BalanceValue(), Code: acc.Code}
		keys := make([]common.Hash, 0, len(acc.Storage))
		for k, v := range acc.Storage {
			if v != (common.Hash{}) {
				keys = append(keys, k)
			}
		}
		sortHashes(keys)
		for _, k := range keys {
			item.Storage = append(item.Storage, storageItem{k, acc.Storage[k]})
		}
		items = append(items, item)
	}
	enc, err := rlp.EncodeToBytes(items)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(enc)
}

// CalcBaseFee computes a block's base fee from its parent under EIP-1559.
func CalcBaseFee(parentGasLimit, parentGasUsed uint64, parentBaseFee *big.Int) *big.Int {
	target := parentGasLimit / params.DefaultElasticityMultiplier
	if target == 0 || parentGasUsed == target {
		return new(big.Int).Set(parentBaseFee)
	}
	denominator := big.NewInt(params.DefaultBaseFeeChangeDenominator)
	if parentGasUsed > target {
		delta := new(big.Int).Mul(parentBaseFee, new(big.Int).SetUint64(parentGasUsed-target))
		delta.Div(delta, new(big.Int).SetUint64(target))
		delta.Div(delta, denominator)
		if delta.Sign() == 0 {
			delta.SetUint64(1)
		}
		return delta.Add(delta, parentBaseFee)
	}
	delta := new(big.Int).Mul(parentBaseFee, new(big.Int).SetUint64(target-parentGasUsed))
	delta.Div(delta, new(big.Int).SetUint64(target))
	delta.Div(delta, denominator)
	fee := new(big.Int).Sub(parentBaseFee, delta)
	if fee.Sign() < 0 {
		fee.SetUint64(0)
	}
	return fee
}

type encodedList [][]byte

func (l encodedList) Len() int { return len(l) }

func (l encodedList) EncodeIndex(i int, w *bytes.Buffer) { w.Write(l[i]) }

func txEncodings(txs []*tx.Transaction) [][]byte {
	out := make([][]byte, 0, len(txs))
	for _, t := range txs {
		enc, err := t.Encode()
		if err != nil {
			continue
		}
		out = append(out, enc)
	}
	return out
}

func receiptData(t *tx.Transaction, cumulativeGas uint64) []byte {
	var buf bytes.Buffer
	if t.Type != tx.LegacyTxType {
		buf.WriteByte(t.Type)
	}
	writeReceipt(&buf, cumulativeGas)
	return buf.Bytes()
}

func writeReceipt(w io.Writer, cumulativeGas uint64) {
	_ = rlp.Encode(w, []interface{}{uint64(1), cumulativeGas, gethtypes.Bloom{}, []interface{}{}})
}

func sortHashes(hs []common.Hash) {
	sort.Slice(hs, func(i, j int) bool { return bytes.Compare(hs[i][:], hs[j][:]) < 0 })
}

func u256(x *uint256.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x.ToBig()
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

func mustU256(x *big.Int) *uint256.Int {
	v, overflow := uint256.FromBig(x)
	if overflow {
		panic(fmt.Sprintf("value %s overflows 256 bits", x))
	}
	return v
}
