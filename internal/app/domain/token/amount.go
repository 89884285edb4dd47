// Package token handles scaled-integer token amounts. All internal
// comparisons happen on the scaled representation; decimal strings exist only
// at the API boundary.
package token

import (
	"fmt"
	"math/big"
	"strings"
)

// DefaultDecimals is the LINKTUM token decimal count.
const DefaultDecimals = 18

// Unit returns 10^decimals.
func Unit(decimals int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// Format renders a scaled amount as a decimal string, trimming trailing
// zeros. A nil amount formats as "0".
func Format(amount *big.Int, decimals int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)

	quo, rem := new(big.Int).QuoRem(abs, Unit(decimals), new(big.Int))
	out := quo.String()
	if rem.Sign() != 0 {
		frac := fmt.Sprintf("%0*s", decimals, rem.String())
		frac = strings.TrimRight(frac, "0")
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// Parse converts a decimal string into a scaled amount without passing
// through floating point. Fractional digits beyond the decimal count are
// rejected rather than silently truncated.
func Parse(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d fractional digits", s, decimals)
	}

	intPart, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	scaled := intPart.Mul(intPart, Unit(decimals))

	if frac != "" {
		fracPart, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
		fracPart.Mul(fracPart, Unit(decimals-len(frac)))
		scaled.Add(scaled, fracPart)
	}

	if neg {
		scaled.Neg(scaled)
	}
	return scaled, nil
}

// GTE reports a >= b, treating nil as zero.
func GTE(a, b *big.Int) bool {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b) >= 0
}
