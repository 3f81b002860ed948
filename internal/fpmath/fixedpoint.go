// Package fpmath implements fixed-point arithmetic for 18-decimal base
// units. All monetary values in the vault are *big.Int base units; division
// always floors so the vault never pays out more than it holds.
package fpmath

import (
	"fmt"
	"math/big"
)

// DecimalPrecision is the number of fractional digits in a base unit.
const DecimalPrecision = 18

var (
	unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalPrecision), nil)
	two  = big.NewInt(2)
)

// Unit returns 10^18, the scale of one whole token.
func Unit() *big.Int {
	return new(big.Int).Set(unit)
}

// Units converts a whole-token count to base units.
func Units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unit)
}

// IsEven reports whether the amount is evenly divisible by 2 in base units.
// Deposits must split exactly into equal senior and junior halves.
func IsEven(amount *big.Int) bool {
	return amount.Bit(0) == 0
}

// Half returns amount/2. The caller checks IsEven first; for odd inputs
// this floors, consistent with never overpaying.
func Half(amount *big.Int) *big.Int {
	return new(big.Int).Quo(new(big.Int).Set(amount), two)
}

// MulDivFloor computes floor(a * num / den).
func MulDivFloor(a, num, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		panic("fpmath: division by zero")
	}
	result := new(big.Int).Mul(a, num)
	return result.Quo(result, den)
}

// ProportionalShare computes floor(value * balance / total): the slice of
// a requested value attributable to one collateral asset, weighted by that
// asset's share of total vault collateral.
func ProportionalShare(value, balance, total *big.Int) *big.Int {
	if total.Sign() == 0 {
		return new(big.Int)
	}
	return MulDivFloor(value, balance, total)
}

// ParseAmount parses a base-10 base-unit string into a non-negative amount.
// Wire formats (HTTP, NATS, Postgres NUMERIC) carry amounts as strings
// because 18-decimal values overflow int64.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}

// ParseSignedAmount parses a decimal base-unit string that may be
// negative. Ledger balances on the credit side are negative by
// convention, so snapshot restore needs the signed form.
func ParseSignedAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}

// FormatAmount renders an amount as a base-10 base-unit string.
// Treats nil as zero.
func FormatAmount(a *big.Int) string {
	if a == nil {
		return "0"
	}
	return a.String()
}
