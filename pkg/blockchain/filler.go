package blockchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/smallyunet/ethfill/pkg/config"
	"github.com/smallyunet/ethfill/pkg/engine"
	"github.com/smallyunet/ethfill/pkg/executor"
	"github.com/smallyunet/ethfill/pkg/forks"
	"github.com/smallyunet/ethfill/pkg/metrics"
)

// Filler fills chain tests into fixtures using one executor. A Filler holds
// no per-chain state and may be shared by concurrent fills.
type Filler struct {
	exec executor.Executor
	log  log.Logger
}

// NewFiller returns a filler evaluating blocks with exec.
func NewFiller(exec executor.Executor) *Filler {
	return &Filler{
		exec: exec,
		log:  log.New("component", "filler"),
	}
}

// Fill fills test for network in the named format.
func (f *Filler) Fill(ctx context.Context, test *Test, network forks.Network, format string) (Output, error) {
	var (
		out Output
		err error
	)
	switch format {
	case config.FormatBlockchain:
		out, err = f.FillBlockchain(ctx, test, network)
	case config.FormatBlockchainEngine:
		out, err = f.FillEngine(ctx, test, network)
	default:
		return nil, fmt.Errorf("unknown fixture format %q", format)
	}
	if errors.Is(err, ErrFormatUnsupported) {
		return nil, err
	}
	metrics.FixtureFilled(format, err)
	if err != nil {
		return nil, err
	}
	f.log.Info("Filled fixture", "test", test.Tag, "network", network.Name(), "format", format, "blocks", len(test.Blocks))
	return out, nil
}

// FillBlockchain produces the block-list fixture.
func (f *Filler) FillBlockchain(ctx context.Context, test *Test, network forks.Network) (*Fixture, error) {
	c := newChain(test, network, f.exec)
	if err := c.start(ctx); err != nil {
		return nil, err
	}

	fixture := &Fixture{
		Network:            network.Name(),
		GenesisBlockHeader: c.genesis.Header,
		GenesisRLP:         c.genesis.RLP,
		Blocks:             make([]Entry, 0, len(test.Blocks)),
		Pre:                c.pre,
		SealEngine:         "NoProof",
	}
	for i, b := range test.Blocks {
		s, err := c.step(ctx, i, b)
		if err != nil {
			return nil, err
		}
		switch {
		case s.kind == rawBlock:
			fixture.Blocks = append(fixture.Blocks, &InvalidFixtureBlock{
				RLP:             b.RLP,
				ExpectException: b.Exception,
			})
		case s.valid:
			fixture.Blocks = append(fixture.Blocks, s.fixtureBlock(true))
		default:
			fixture.Blocks = append(fixture.Blocks, &InvalidFixtureBlock{
				RLP:             s.built.RLP,
				ExpectException: b.Exception,
				RLPDecoded:      s.fixtureBlock(false),
			})
		}
	}

	post, err := c.finish()
	if err != nil {
		return nil, err
	}
	_, fixture.LastBlockHash = c.state.Head()
	fixture.PostState = post
	return fixture, nil
}

// FillEngine produces the engine payload fixture. Raw blocks cannot be sent
// as payloads and are skipped.
func (f *Filler) FillEngine(ctx context.Context, test *Test, network forks.Network) (*EngineFixture, error) {
	if _, err := network.EngineForkchoiceUpdatedVersion(0, 0); err != nil {
		return nil, fmt.Errorf("%w: %s has no forkchoice update at genesis", ErrFormatUnsupported, network.Name())
	}

	c := newChain(test, network, f.exec)
	if err := c.start(ctx); err != nil {
		return nil, err
	}

	fixture := &EngineFixture{
		Network:            network.Name(),
		GenesisBlockHeader: c.genesis.Header,
		EngineNewPayloads:  make([]*engine.NewPayload, 0, len(test.Blocks)),
		Pre:                c.pre,
	}
	last := c.genesis.Header
	for i, b := range test.Blocks {
		s, err := c.step(ctx, i, b)
		if err != nil {
			return nil, err
		}
		if s.kind == rawBlock {
			continue
		}
		payload, err := engine.FromHeader(network, s.built.Header, s.txs, s.env.Withdrawals, s.valid, b.EngineErrorCode)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		fixture.EngineNewPayloads = append(fixture.EngineNewPayloads, payload)
		last = s.built.Header
	}

	version, err := network.EngineForkchoiceUpdatedVersion(last.Number, last.Timestamp)
	if err != nil {
		return nil, err
	}
	fixture.EngineFcuVersion = version

	post, err := c.finish()
	if err != nil {
		return nil, err
	}
	fixture.PostState = post
	return fixture, nil
}
