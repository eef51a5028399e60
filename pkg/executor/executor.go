package executor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/smallyunet/ethfill/pkg/config"
	"github.com/smallyunet/ethfill/pkg/forks"
	"github.com/smallyunet/ethfill/pkg/metrics"
	"github.com/smallyunet/ethfill/pkg/types"
)

// New builds the executor described by cfg: a t8n server when a URL is
// configured, a local binary otherwise. The result is instrumented.
func New(cfg *config.Config) (Executor, error) {
	ec := cfg.Executor
	timeout := time.Duration(ec.Timeout) * time.Second
	if ec.Server != "" {
		s, err := NewServer(ec.Server, ec.JWTSecret, timeout)
		if err != nil {
			return nil, err
		}
		return Instrument(s), nil
	}
	if ec.Binary == "" {
		return nil, fmt.Errorf("no executor binary or server configured")
	}
	return Instrument(NewProcess(ec.Binary, ec.Trace, timeout)), nil
}

// Instrumented records the latency and failures of another executor.
type Instrumented struct {
	Executor
}

// Instrument wraps e with metrics.
func Instrument(e Executor) *Instrumented {
	return &Instrumented{Executor: e}
}

// Evaluate implements Executor.
func (i *Instrumented) Evaluate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := i.Executor.Evaluate(ctx, req)
	metrics.ExecutorDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExecutorErrors.Inc()
	}
	return resp, err
}

// StateRoot computes the state root of alloc under the network's genesis
// rules by evaluating an empty block with rewards disabled. It returns the
// allocation as reported back by the executor.
func StateRoot(ctx context.Context, exec Executor, alloc types.Alloc, network forks.Network, chainID uint64) (types.Alloc, common.Hash, error) {
	env := &types.Environment{Difficulty: new(big.Int)}
	if network.HeaderBaseFeeRequired(0, 0) {
		env.BaseFee = big.NewInt(forks.DefaultBaseFee)
	}
	if network.HeaderPrevRandaoRequired(0, 0) {
		env.PrevRandao = &common.Hash{}
	}
	if network.HeaderWithdrawalsRequired(0, 0) {
		env.Withdrawals = []*gethtypes.Withdrawal{}
	}
	if network.HeaderExcessBlobGasRequired(0, 0) {
		env.ExcessBlobGas = types.Uint64Ptr(0)
		env.BlobGasUsed = types.Uint64Ptr(0)
	}
	if network.HeaderBeaconRootRequired(0, 0) {
		env.ParentBeaconBlockRoot = &common.Hash{}
	}
	resp, err := exec.Evaluate(ctx, &Request{
		Alloc:   alloc,
		Env:     env,
		Fork:    network.ForkAt(0, 0).NetworkName(),
		ChainID: chainID,
	})
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("compute state root: %w", err)
	}
	return resp.Alloc, resp.Result.StateRoot, nil
}
