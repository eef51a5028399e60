package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// ProcessError is returned when the tool exits unsuccessfully. It is passed
// up unchanged so callers see the tool's own diagnostics.
type ProcessError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("t8n %s: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Stderr))
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Process runs a local `evm t8n` binary per evaluation, exchanging JSON over
// stdin and stdout.
type Process struct {
	Binary  string
	Trace   bool
	Timeout time.Duration

	log log.Logger
}

// NewProcess returns an executor running binary.
func NewProcess(binary string, trace bool, timeout time.Duration) *Process {
	return &Process{
		Binary:  binary,
		Trace:   trace,
		Timeout: timeout,
		log:     log.New("component", "executor", "binary", binary),
	}
}

func (p *Process) args(req *Request) []string {
	return []string{
		"t8n",
		"--input.alloc=stdin",
		"--input.txs=stdin",
		"--input.env=stdin",
		"--output.result=stdout",
		"--output.alloc=stdout",
		"--state.fork=" + req.Fork,
		"--state.chainid=" + strconv.FormatUint(req.ChainID, 10),
		"--state.reward=" + reward(req),
	}
}

// Evaluate implements Executor.
func (p *Process) Evaluate(ctx context.Context, req *Request) (*Response, error) {
	in, err := newInput(req)
	if err != nil {
		return nil, err
	}
	stdin, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal t8n input: %w", err)
	}

	args := p.args(req)
	var traceDir string
	if p.Trace {
		if traceDir, err = os.MkdirTemp("", "ethfill-trace-"); err != nil {
			return nil, err
		}
		defer os.RemoveAll(traceDir)
		args = append(args, "--trace", "--output.basedir="+traceDir)
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Binary, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, &ProcessError{Args: args, Stderr: stderr.String(), Err: err}
	}
	p.log.Trace("Evaluated block", "fork", req.Fork, "number", req.Env.Number, "txs", len(req.Txs), "elapsed", time.Since(start))

	var out output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decode t8n output: %w", err)
	}
	if out.Result == nil {
		return nil, fmt.Errorf("t8n output has no result")
	}
	resp := &Response{Alloc: out.Alloc, Result: out.Result}
	if p.Trace {
		if resp.Traces, err = ReadTraces(traceDir); err != nil {
			return nil, err
		}
	}
	return resp, nil
}
