package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// maxUint128 is 2^128-1, the ceiling every Amount saturates at.
var maxUint128 = func() uint256.Int {
	var v uint256.Int
	v.Lsh(uint256.NewInt(1), 128)
	v.Sub(&v, uint256.NewInt(1))
	return v
}()

// Amount is an unsigned 128-bit quantity in the smallest value unit. All
// arithmetic saturates at 2^128-1 instead of wrapping.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount holding n.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// MaxAmount returns 2^128-1.
func MaxAmount() Amount {
	return Amount{v: maxUint128}
}

// ParseAmount parses a base-10 string. Values above 2^128-1 are rejected.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, errors.New("amount is empty")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if v.Gt(&maxUint128) {
		return Amount{}, fmt.Errorf("amount %q exceeds 128 bits", s)
	}
	return Amount{v: *v}, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// SaturatingMul returns a*n clamped to 2^128-1.
func (a Amount) SaturatingMul(n uint64) Amount {
	var out Amount
	if _, overflow := out.v.MulOverflow(&a.v, uint256.NewInt(n)); overflow || out.v.Gt(&maxUint128) {
		return MaxAmount()
	}
	return out
}

// SaturatingAdd returns a+b clamped to 2^128-1.
func (a Amount) SaturatingAdd(b Amount) Amount {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow || out.v.Gt(&maxUint128) {
		return MaxAmount()
	}
	return out
}

// CheckedSub returns a-b and false when b > a.
func (a Amount) CheckedSub(b Amount) (Amount, bool) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, false
	}
	return out, true
}

// Cmp compares a and b, returning -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// Less reports whether a < b.
func (a Amount) Less(b Amount) bool {
	return a.v.Lt(&b.v)
}

func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Big returns the value as a new big.Int.
func (a Amount) Big() *big.Int {
	return a.v.ToBig()
}

// String returns the decimal representation.
func (a Amount) String() string {
	return a.v.Dec()
}

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON encodes the amount as a decimal string so values above 2^53
// survive JavaScript clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a bare JSON integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return a.UnmarshalText([]byte(s))
	}
	return a.UnmarshalText(data)
}
