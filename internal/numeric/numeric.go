// Package numeric holds the fixed-point helpers used by the aggregate entities.
// Every amount, price and counter is carried as a base-10 integer string and
// all arithmetic goes through math/big.
package numeric

import (
	"math/big"
	"strconv"
)

const (
	// Zero is the zero value for both decimal and counter fields.
	Zero = "0"
	// One is the initial value of counters that start on creation.
	One = "1"

	// DefaultDecimals is used when a token's precision is unknown or unreadable.
	DefaultDecimals uint = 18
)

var ten = big.NewInt(10)

// ScaleFactor returns "1" followed by decimals zeros.
func ScaleFactor(decimals uint) string {
	return scaleFactor(decimals).String()
}

func scaleFactor(decimals uint) *big.Int {
	bd := big.NewInt(1)
	for i := uint(0); i < decimals; i++ {
		bd.Mul(bd, ten)
	}
	return bd
}

// ToDecimal scales a raw token amount by the token precision.
//
// The amount is multiplied by 10^decimals, not divided. Aggregates such as
// reserves and volumes are stored in this scale, so it must not be changed
// without migrating them. A zero precision returns the amount as-is.
func ToDecimal(raw *big.Int, decimals uint) string {
	if raw == nil {
		return Zero
	}
	if decimals == 0 {
		return raw.String()
	}
	return new(big.Int).Mul(raw, scaleFactor(decimals)).String()
}

// ParseDecimals reads a token precision stored as a string. Anything that is
// not a non-negative base-10 integer falls back to DefaultDecimals.
func ParseDecimals(s string) uint {
	d, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return DefaultDecimals
	}
	return uint(d)
}

// Parse converts a stored decimal string into a big.Int. Empty or malformed
// values are read as zero.
func Parse(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// Add sums decimal strings.
func Add(values ...string) string {
	sum := new(big.Int)
	for _, v := range values {
		sum.Add(sum, Parse(v))
	}
	return sum.String()
}

// Increment adds one to a counter string.
func Increment(counter string) string {
	return Add(counter, One)
}

// IsZero reports whether a decimal string holds zero.
func IsZero(s string) bool {
	return Parse(s).Sign() == 0
}

// ScaledQuotient returns num * 10^decimals / den truncated toward zero, or
// Zero when den is zero.
func ScaledQuotient(num, den string, decimals uint) string {
	d := Parse(den)
	if d.Sign() == 0 {
		return Zero
	}
	n := new(big.Int).Mul(Parse(num), scaleFactor(decimals))
	return n.Quo(n, d).String()
}
