package blockchain

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/smallyunet/ethfill/pkg/block"
	"github.com/smallyunet/ethfill/pkg/executor"
	"github.com/smallyunet/ethfill/pkg/forks"
	"github.com/smallyunet/ethfill/pkg/metrics"
	"github.com/smallyunet/ethfill/pkg/state"
	"github.com/smallyunet/ethfill/pkg/tx"
	"github.com/smallyunet/ethfill/pkg/types"
)

// chain is one run of a test on one network. It is used by a single
// goroutine and shares nothing with other runs.
type chain struct {
	test    *Test
	network forks.Network
	exec    executor.Executor
	state   *state.Manager
	log     log.Logger

	pre     types.Alloc
	genesis *block.Block
}

// outcome is the result of one block.
type outcome struct {
	index int
	kind  blockKind
	valid bool

	env   *types.Environment
	txs   []*tx.Transaction
	built *block.Block
}

func newChain(test *Test, network forks.Network, exec executor.Executor) *chain {
	return &chain{
		test:    test,
		network: network,
		exec:    exec,
		log:     log.New("component", "blockchain", "network", network.Name(), "test", test.Tag),
	}
}

// start builds the genesis block and initialises the running state.
func (c *chain) start(ctx context.Context) error {
	env := genesisEnvironment(c.network, c.test.GenesisEnvironment)

	pre := types.Merge(c.network.PreAllocation(0, 0), c.test.Pre)
	alloc, root, err := executor.StateRoot(ctx, c.exec, pre, c.network, c.test.chainID())
	if err != nil {
		return err
	}
	header, err := block.Genesis(c.network, env, root)
	if err != nil {
		return &CorrectnessError{Block: -1, Reason: err.Error()}
	}
	built, err := block.Build(header, nil, nil, env.Withdrawals)
	if err != nil {
		return err
	}

	c.pre = alloc
	c.genesis = built
	c.state = state.NewManager(alloc, environmentFromParent(env, header), header)
	c.log.Debug("Built genesis", "hash", built.Hash, "stateRoot", root, "accounts", len(alloc))
	return nil
}

// step processes the i-th block. Valid blocks advance the running state;
// invalid ones are built for inspection and leave it untouched.
func (c *chain) step(ctx context.Context, i int, b *Block) (*outcome, error) {
	kind, err := b.resolve()
	if err != nil {
		return nil, &CorrectnessError{Block: i, Reason: err.Error()}
	}
	if kind == rawBlock {
		metrics.BlockProduced(false)
		return &outcome{index: i, kind: rawBlock}, nil
	}

	alloc, prevEnv, head := c.state.Snapshot()
	env := setForkRequirements(c.network, b.environment(prevEnv, head.Number))
	n, t := env.Number, env.Timestamp

	txs := make([]*tx.Transaction, len(b.Txs))
	for j, declared := range b.Txs {
		signed := declared
		if declared.SecretKey != nil && declared.RLP == nil {
			if signed, err = declared.Sign(declared.SecretKey); err != nil {
				return nil, fmt.Errorf("block %d: sign transaction %d: %w", i, j, err)
			}
		}
		txs[j] = signed
	}

	resp, err := c.exec.Evaluate(ctx, &executor.Request{
		Alloc:   alloc,
		Txs:     txs,
		Env:     env,
		Fork:    c.network.ForkAt(n, t).NetworkName(),
		ChainID: c.test.chainID(),
		Reward:  c.network.BlockReward(n, t),
	})
	if err != nil {
		return nil, err
	}

	if err := c.reconcile(i, b, txs, env, alloc, resp); err != nil {
		return nil, err
	}

	header, err := block.Collect(c.network, resp.Result, env)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", i, err)
	}
	if b.HeaderVerify != nil {
		if err := b.HeaderVerify.Verify(header); err != nil {
			return nil, c.correctness(i, err.Error(), resp, alloc)
		}
	}
	if b.Modifier != nil {
		header = b.Modifier.Apply(header)
	}
	built, err := block.Build(header, txs, nil, env.Withdrawals)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", i, err)
	}

	s := &outcome{index: i, kind: declaredBlock, valid: b.Exception == "", env: env, txs: txs, built: built}
	if s.valid {
		if err := c.state.Advance(resp.Alloc, applyNewParent(env, header), header); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
	}
	metrics.BlockProduced(s.valid)
	c.log.Debug("Built block", "index", i, "number", header.Number, "hash", built.Hash, "txs", len(txs), "valid", s.valid)
	return s, nil
}

// reconcile compares the executor's rejections with what the block declares.
// Only the presence of an expected error is checked, not its text.
func (c *chain) reconcile(i int, b *Block, txs []*tx.Transaction, env *types.Environment, pre types.Alloc, resp *executor.Response) error {
	rejected := resp.Result.RejectedByIndex()
	for j, t := range txs {
		msg, failed := rejected[j]
		switch {
		case t.Error != "" && !failed:
			return c.correctness(i, fmt.Sprintf("transaction %d was expected to fail (%s) but succeeded", j, t.Error), resp, pre)
		case t.Error == "" && failed:
			return c.correctness(i, fmt.Sprintf("transaction %d unexpectedly failed: %s", j, msg), resp, pre)
		}
	}
	if len(rejected) > 0 && b.Exception == "" {
		return c.correctness(i, "transactions were rejected but the block declares no exception", resp, pre)
	}
	if env.Withdrawals != nil && resp.Result.WithdrawalsRoot != nil {
		if want := block.WithdrawalsRoot(env.Withdrawals); *resp.Result.WithdrawalsRoot != want {
			return c.correctness(i, fmt.Sprintf("withdrawals root %s, computed %s", resp.Result.WithdrawalsRoot.Hex(), want.Hex()), resp, pre)
		}
	}
	return nil
}

func (c *chain) correctness(i int, reason string, resp *executor.Response, pre types.Alloc) *CorrectnessError {
	return &CorrectnessError{
		Block:     i,
		Reason:    reason,
		Rejected:  resp.Result.RejectedByIndex(),
		PreAlloc:  pre,
		PostAlloc: resp.Alloc,
		Traces:    resp.Traces,
	}
}

// finish verifies the post-state and returns the final allocation.
func (c *chain) finish() (types.Alloc, error) {
	alloc, _, _ := c.state.Snapshot()
	if err := c.test.Post.Verify(alloc); err != nil {
		return nil, err
	}
	c.log.Debug("Verified post-state", c.state.Stats()...)
	return alloc, nil
}

// fixtureBlock describes a declared block in the block-list shape.
func (s *outcome) fixtureBlock(withRLP bool) *FixtureBlock {
	fb := &FixtureBlock{
		BlockHeader:  s.built.Header,
		Transactions: s.txs,
		UncleHeaders: []*block.Header{},
	}
	if s.env.Withdrawals != nil {
		ws := s.env.Withdrawals
		fb.Withdrawals = &ws
	}
	if withRLP {
		fb.RLP = s.built.RLP
		fb.BlockNumber = strconv.FormatUint(s.built.Header.Number, 10)
	}
	return fb
}
