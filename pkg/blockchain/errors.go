package blockchain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"github.com/smallyunet/ethfill/pkg/executor"
	"github.com/smallyunet/ethfill/pkg/types"
)

// ErrFormatUnsupported is returned by Fill when the network cannot be
// expressed in the requested fixture format, such as engine payloads before
// the merge. Callers skip the combination.
var ErrFormatUnsupported = errors.New("fixture format not supported by network")

// CorrectnessError reports a test definition that contradicts what the
// executor did, for example a transaction rejected in a block that declares
// no exception. It is fatal for the chain being filled.
type CorrectnessError struct {
	Block     int // index into Test.Blocks, -1 for the genesis
	Reason    string
	Rejected  map[int]string
	PreAlloc  types.Alloc
	PostAlloc types.Alloc
	Traces    []*executor.Trace
}

var dumper = spew.ConfigState{
	Indent:                  "  ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

func (e *CorrectnessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "block %d: test correctness: %s", e.Block, e.Reason)
	if len(e.Rejected) > 0 {
		idx := make([]int, 0, len(e.Rejected))
		for i := range e.Rejected {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		b.WriteString("\nrejected transactions:")
		for _, i := range idx {
			fmt.Fprintf(&b, "\n  %d: %s", i, e.Rejected[i])
		}
	}
	for _, t := range e.Traces {
		if t.Error != "" {
			fmt.Fprintf(&b, "\ntrace tx %d (%s): %s", t.TxIndex, t.TxHash.Hex(), t.Error)
		}
	}
	if e.PreAlloc != nil {
		b.WriteString("\npre-state:\n")
		b.WriteString(dumper.Sdump(e.PreAlloc))
	}
	if e.PostAlloc != nil {
		b.WriteString("post-state:\n")
		b.WriteString(dumper.Sdump(e.PostAlloc))
	}
	return b.String()
}
