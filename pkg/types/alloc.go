package types

import (
	"encoding/json"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Alloc maps addresses to accounts. It is used both for concrete world states
// and for post-state expectations.
type Alloc map[common.Address]*Account

// Copy returns a deep copy; the result shares nothing with a.
func (a Alloc) Copy() Alloc {
	if a == nil {
		return nil
	}
	out := make(Alloc, len(a))
	for addr, acct := range a {
		out[addr] = acct.Copy()
	}
	return out
}

// Merge returns a copy of base with every account of overlay replacing the
// account at the same address.
func Merge(base, overlay Alloc) Alloc {
	out := base.Copy()
	if out == nil {
		out = make(Alloc, len(overlay))
	}
	for addr, acct := range overlay {
		out[addr] = acct.Copy()
	}
	return out
}

// Addresses returns the allocation's addresses in ascending order.
func (a Alloc) Addresses() []common.Address {
	out := make([]common.Address, 0, len(a))
	for addr := range a {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// UnmarshalJSON accepts short address forms and decodes null entries to the
// NonExistent sentinel.
func (a *Alloc) UnmarshalJSON(data []byte) error {
	var raw map[string]*Account
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Alloc, len(raw))
	for k, acct := range raw {
		addr, err := ParseAddress(k)
		if err != nil {
			return err
		}
		if acct == nil {
			acct = NonExistent
		}
		out[addr] = acct
	}
	*a = out
	return nil
}
