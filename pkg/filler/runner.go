package filler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/smallyunet/ethfill/pkg/blockchain"
	"github.com/smallyunet/ethfill/pkg/forks"
)

// Failure is a chain that could not be filled.
type Failure struct {
	Job     string
	Network string
	Format  string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s on %s (%s): %v", f.Job, f.Network, f.Format, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Report summarises a run.
type Report struct {
	Filled   int
	Skipped  int
	Failures []*Failure

	// Fixtures maps format, then job, then fixture name to the output.
	Fixtures map[string]map[string]map[string]blockchain.Output
}

// Err joins every failure, or returns nil.
func (r *Report) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// FixtureName is the key a fixture is stored under in its file.
func FixtureName(job string, network forks.Network, format string) string {
	return fmt.Sprintf("%s[fork_%s-%s]", job, network.Name(), format)
}

// Runner fills jobs concurrently. Every (job, network) pair is an independent
// chain; a failing chain does not stop the others.
type Runner struct {
	filler   *blockchain.Filler
	formats  []string
	parallel int
	log      log.Logger

	mu     sync.Mutex
	report *Report
}

// NewRunner returns a runner emitting formats with at most parallel chains in
// flight.
func NewRunner(filler *blockchain.Filler, formats []string, parallel int) *Runner {
	if parallel < 1 {
		parallel = 1
	}
	return &Runner{
		filler:   filler,
		formats:  formats,
		parallel: parallel,
		log:      log.New("component", "runner"),
	}
}

// Run fills every job on every one of its networks. The returned error is
// only set when ctx was cancelled; chain failures are in the report.
func (r *Runner) Run(ctx context.Context, jobs []Job) (*Report, error) {
	r.report = &Report{Fixtures: make(map[string]map[string]map[string]blockchain.Output)}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for _, job := range jobs {
		for _, network := range job.Networks {
			job, network := job, network
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				r.fillChain(ctx, job, network)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return r.report, err
	}

	sort.Slice(r.report.Failures, func(i, j int) bool {
		a, b := r.report.Failures[i], r.report.Failures[j]
		if a.Job != b.Job {
			return a.Job < b.Job
		}
		return a.Network < b.Network
	})
	r.log.Info("Fill finished", "filled", r.report.Filled, "skipped", r.report.Skipped, "failed", len(r.report.Failures))
	return r.report, nil
}

func (r *Runner) fillChain(ctx context.Context, job Job, network forks.Network) {
	for _, format := range r.formats {
		out, err := r.filler.Fill(ctx, job.Test, network, format)
		switch {
		case errors.Is(err, blockchain.ErrFormatUnsupported):
			r.log.Debug("Skipped fixture", "test", job.Name, "network", network.Name(), "format", format)
			r.record(func(rep *Report) { rep.Skipped++ })
		case err != nil:
			r.log.Warn("Fill failed", "test", job.Name, "network", network.Name(), "format", format, "err", err)
			r.record(func(rep *Report) {
				rep.Failures = append(rep.Failures, &Failure{Job: job.Name, Network: network.Name(), Format: format, Err: err})
			})
		default:
			name := FixtureName(job.Name, network, format)
			r.record(func(rep *Report) {
				rep.Filled++
				byJob := rep.Fixtures[format]
				if byJob == nil {
					byJob = make(map[string]map[string]blockchain.Output)
					rep.Fixtures[format] = byJob
				}
				if byJob[job.Name] == nil {
					byJob[job.Name] = make(map[string]blockchain.Output)
				}
				byJob[job.Name][name] = out
			})
		}
	}
}

func (r *Runner) record(fn func(*Report)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.report)
}
