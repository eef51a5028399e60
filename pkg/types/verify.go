package types

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/go-cmp/cmp"
)

// AccountDiff is one mismatching field of a post-state check.
type AccountDiff struct {
	Address common.Address
	Field   string // "existence", "nonce", "balance", "code" or "storage[<key>]"
	Want    string
	Got     string
}

// VerificationError reports every mismatch between an expected and an actual
// post-state.
type VerificationError struct {
	Diffs []AccountDiff
}

func (e *VerificationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "post-state verification failed with %d mismatch(es):\n", len(e.Diffs))
	want := make(map[string]map[string]string)
	got := make(map[string]map[string]string)
	for _, d := range e.Diffs {
		addr := d.Address.Hex()
		if want[addr] == nil {
			want[addr] = make(map[string]string)
			got[addr] = make(map[string]string)
		}
		want[addr][d.Field] = d.Want
		got[addr][d.Field] = d.Got
	}
	b.WriteString(cmp.Diff(want, got))
	return b.String()
}

// Verify checks actual against the expectation a. Only addresses named in a
// are inspected, and within an account only the fields it sets. Storage is
// compared in both directions: a non-zero actual slot missing from the
// expectation is a mismatch.
func (a Alloc) Verify(actual Alloc) error {
	var diffs []AccountDiff
	for _, addr := range a.Addresses() {
		want := a[addr]
		got, exists := actual[addr]

		if want.IsNonExistent() {
			if exists {
				diffs = append(diffs, AccountDiff{Address: addr, Field: "existence", Want: "absent", Got: "present"})
			}
			continue
		}
		if !exists {
			diffs = append(diffs, AccountDiff{Address: addr, Field: "existence", Want: "present", Got: "absent"})
			continue
		}
		diffs = append(diffs, verifyAccount(addr, want, got)...)
	}
	if len(diffs) > 0 {
		return &VerificationError{Diffs: diffs}
	}
	return nil
}

func verifyAccount(addr common.Address, want, got *Account) []AccountDiff {
	var diffs []AccountDiff
	if want.Nonce != nil && *want.Nonce != got.NonceValue() {
		diffs = append(diffs, AccountDiff{
			Address: addr, Field: "nonce",
			Want: fmt.Sprint(*want.Nonce), Got: fmt.Sprint(got.NonceValue()),
		})
	}
	if want.Balance != nil && !want.Balance.Eq(got.BalanceValue()) {
		diffs = append(diffs, AccountDiff{
			Address: addr, Field: "balance",
			Want: want.Balance.Dec(), Got: got.BalanceValue().Dec(),
		})
	}
	if want.Code != nil && !bytes.Equal(want.Code, got.Code) {
		diffs = append(diffs, AccountDiff{
			Address: addr, Field: "code",
			Want: hexutil.Encode(want.Code), Got: hexutil.Encode(got.Code),
		})
	}
	if want.Storage != nil {
		var gotStorage Storage
		if got != nil {
			gotStorage = got.Storage
		}
		for key, w := range want.Storage {
			if g := gotStorage[key]; g != w {
				diffs = append(diffs, storageDiff(addr, key, w, g))
			}
		}
		for key, g := range gotStorage {
			if _, ok := want.Storage[key]; !ok && g != (common.Hash{}) {
				diffs = append(diffs, storageDiff(addr, key, common.Hash{}, g))
			}
		}
	}
	return diffs
}

func storageDiff(addr common.Address, key, want, got common.Hash) AccountDiff {
	return AccountDiff{
		Address: addr,
		Field:   "storage[" + ZeroPaddedHex(key.Big()) + "]",
		Want:    ZeroPaddedHex(want.Big()),
		Got:     ZeroPaddedHex(got.Big()),
	}
}
