package executor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// TraceLine is one opcode step of a structured EVM trace.
type TraceLine struct {
	PC      uint64              `json:"pc"`
	Op      uint64              `json:"op"`
	OpName  string              `json:"opName"`
	Gas     math.HexOrDecimal64 `json:"gas"`
	GasCost math.HexOrDecimal64 `json:"gasCost"`
	Depth   int                 `json:"depth"`
	Error   string              `json:"error,omitempty"`
}

// Trace is the trace of one transaction: its steps and the closing summary.
type Trace struct {
	TxIndex int
	TxHash  common.Hash
	Lines   []TraceLine
	Output  hexutil.Bytes
	GasUsed uint64
	Error   string
}

// ParseTrace reads a jsonl trace: one step per line, followed by a summary
// line carrying output and gas used.
func ParseTrace(r io.Reader) (*Trace, error) {
	trace := new(Trace)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var probe struct {
			PC      *uint64              `json:"pc"`
			Output  *hexutil.Bytes       `json:"output"`
			GasUsed *math.HexOrDecimal64 `json:"gasUsed"`
			Error   string               `json:"error"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", n, err)
		}
		if probe.PC == nil {
			if probe.Output != nil {
				trace.Output = *probe.Output
			}
			if probe.GasUsed != nil {
				trace.GasUsed = uint64(*probe.GasUsed)
			}
			trace.Error = probe.Error
			continue
		}
		var step TraceLine
		if err := json.Unmarshal(line, &step); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", n, err)
		}
		trace.Lines = append(trace.Lines, step)
	}
	return trace, scanner.Err()
}

// ReadTraces loads every trace-<index>-<hash>.jsonl file in dir, ordered by
// transaction index.
func ReadTraces(dir string) ([]*Trace, error) {
	files, err := filepath.Glob(filepath.Join(dir, "trace-*.jsonl"))
	if err != nil {
		return nil, err
	}
	var traces []*Trace
	for _, file := range files {
		parts := strings.SplitN(strings.TrimSuffix(filepath.Base(file), ".jsonl"), "-", 3)
		if len(parts) != 3 {
			continue
		}
		index, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		trace, err := ParseTrace(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(file), err)
		}
		trace.TxIndex = index
		trace.TxHash = common.HexToHash(parts[2])
		traces = append(traces, trace)
	}
	sort.Slice(traces, func(i, j int) bool { return traces[i].TxIndex < traces[j].TxIndex })
	return traces, nil
}
