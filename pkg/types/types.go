package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
)

// Storage is a sparse account storage; absent slots are zero.
type Storage map[common.Hash]common.Hash

// Account is an account in an allocation. In expectations a nil field is not
// compared; in allocations it reads as zero.
type Account struct {
	Nonce   *uint64
	Balance *uint256.Int
	Code    []byte
	Storage Storage

	nonexistent bool
}

// NonExistent is the expectation that an address is absent from the state.
var NonExistent = &Account{nonexistent: true}

// IsNonExistent reports whether a is the absence sentinel. A nil account in an
// expectation carries the same meaning.
func (a *Account) IsNonExistent() bool {
	return a == nil || a.nonexistent
}

// NonceValue returns the nonce, zero when unset.
func (a *Account) NonceValue() uint64 {
	if a == nil || a.Nonce == nil {
		return 0
	}
	return *a.Nonce
}

// BalanceValue returns a copy of the balance, zero when unset.
func (a *Account) BalanceValue() *uint256.Int {
	if a == nil || a.Balance == nil {
		return new(uint256.Int)
	}
	return a.Balance.Clone()
}

// Copy returns a deep copy of the account.
func (a *Account) Copy() *Account {
	if a == nil || a.nonexistent {
		return a
	}
	cpy := &Account{Code: common.CopyBytes(a.Code)}
	if a.Nonce != nil {
		n := *a.Nonce
		cpy.Nonce = &n
	}
	if a.Balance != nil {
		cpy.Balance = a.Balance.Clone()
	}
	if a.Storage != nil {
		cpy.Storage = make(Storage, len(a.Storage))
		for k, v := range a.Storage {
			cpy.Storage[k] = v
		}
	}
	return cpy
}

// MarshalJSON encodes the account with zero padded hex numbers.
func (a *Account) MarshalJSON() ([]byte, error) {
	if a.IsNonExistent() {
		return []byte("null"), nil
	}
	type Alias struct {
		Nonce   string  `json:"nonce"`
		Balance string  `json:"balance"`
		Code    string  `json:"code"`
		Storage Storage `json:"storage"`
	}
	out := Alias{
		Nonce:   ZeroPaddedHex(new(big.Int).SetUint64(a.NonceValue())),
		Balance: ZeroPaddedHex(a.BalanceValue().ToBig()),
		Code:    hexutil.Encode(a.Code),
		Storage: a.Storage,
	}
	if out.Storage == nil {
		out.Storage = Storage{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts hex or decimal numbers and keeps absent fields unset.
func (a *Account) UnmarshalJSON(data []byte) error {
	aux := &struct {
		Nonce   *math.HexOrDecimal64  `json:"nonce"`
		Balance *math.HexOrDecimal256 `json:"balance"`
		Code    *hexutil.Bytes        `json:"code"`
		Storage Storage               `json:"storage"`
	}{}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	*a = Account{Storage: aux.Storage}
	if aux.Nonce != nil {
		n := uint64(*aux.Nonce)
		a.Nonce = &n
	}
	if aux.Balance != nil {
		b, overflow := uint256.FromBig((*big.Int)(aux.Balance))
		if overflow {
			return fmt.Errorf("balance overflows 256 bits")
		}
		a.Balance = b
	}
	if aux.Code != nil {
		a.Code = append([]byte{}, (*aux.Code)...)
	}
	return nil
}

// MarshalJSON encodes storage keys and values as zero padded hex numbers.
func (s Storage) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[ZeroPaddedHex(k.Big())] = ZeroPaddedHex(v.Big())
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts short hex, full width hex and decimal keys and values.
func (s *Storage) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Storage, len(raw))
	for k, v := range raw {
		key, err := parseWord(k)
		if err != nil {
			return fmt.Errorf("storage key %q: %w", k, err)
		}
		val, err := parseWord(v)
		if err != nil {
			return fmt.Errorf("storage value %q: %w", v, err)
		}
		out[key] = val
	}
	*s = out
	return nil
}

func parseWord(s string) (common.Hash, error) {
	n, ok := math.ParseBig256(strings.TrimSpace(s))
	if !ok {
		return common.Hash{}, fmt.Errorf("invalid 256 bit number")
	}
	return common.BigToHash(n), nil
}

// ZeroPaddedHex formats n as 0x-prefixed hex with an even number of digits,
// "0x00" for zero.
func ZeroPaddedHex(n *big.Int) string {
	if n == nil || n.Sign() == 0 {
		return "0x00"
	}
	return hexutil.Encode(n.Bytes())
}

// ParseAddress decodes a hex address, left-padding short forms such as "0x100".
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, fmt.Errorf("address %q: missing 0x prefix", s)
	}
	digits := s[2:]
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	b, err := hexutil.Decode("0x" + digits)
	if err != nil {
		return common.Address{}, fmt.Errorf("address %q: %w", s, err)
	}
	if len(b) > common.AddressLength {
		return common.Address{}, fmt.Errorf("address %q: longer than %d bytes", s, common.AddressLength)
	}
	return common.BytesToAddress(b), nil
}
