package domain

import (
	"fmt"

	"github.com/holiman/uint256"
)

// FormatAmount renders an amount as a decimal string, treating nil as zero.
func FormatAmount(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

// ParseAmount parses a decimal amount. Empty input parses as zero.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	x, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return x, nil
}

// Units converts whole units into base units for the given decimals.
// Panics on overflow; intended for configuration constants.
func Units(whole uint64, decimals uint8) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	out, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(whole), scale)
	if overflow {
		panic(fmt.Sprintf("units overflow: %d * 10^%d", whole, decimals))
	}
	return out
}

// orZero returns x, or a fresh zero when x is nil.
func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
