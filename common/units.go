// All conversions between BTC, satoshi and EVM token units live here.
// Satoshi amounts are int64, token amounts are *big.Int in the token's
// smallest unit. Rounding is always floor (towards zero for the
// non-negative values this package accepts).

package common

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

const (
	SatsPerBtc       = 100_000_000
	TokenDecimalsEVM = 18
)

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrTooManyDigits  = errors.New("too many fractional digits")
)

// BtcToSats converts a BTC amount (as reported by bitcoind) to satoshi,
// flooring any sub-satoshi remainder. The float is read through its
// shortest decimal representation so 0.00000001 yields exactly 1.
func BtcToSats(btc float64) int64 {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(btc, 'f', -1, 64))
	if !ok {
		return 0
	}
	r.Mul(r, new(big.Rat).SetInt64(SatsPerBtc))

	// euclidean division with a positive denominator is floor
	return new(big.Int).Div(r.Num(), r.Denom()).Int64()
}

// SatsToBtc is for display only.
func SatsToBtc(sats int64) float64 {
	return float64(sats) / SatsPerBtc
}

// ParseTokenUnits parses a decimal string such as "1.5" into the
// smallest unit of a token with the given decimals.
func ParseTokenUnits(amount string, decimals uint8) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "-") {
		return nil, ErrNegativeAmount
	}
	s = strings.TrimPrefix(s, "+")

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" && (!hasDot || frac == "") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%w: %q has more than %d", ErrTooManyDigits, amount, decimals)
	}
	for _, c := range whole + frac {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
		}
	}

	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return v, nil
}

// FormatTokenUnits is the inverse of ParseTokenUnits. Trailing zeros of
// the fraction are dropped.
func FormatTokenUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, base, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		fs := frac.String()
		fs = strings.Repeat("0", int(decimals)-len(fs)) + fs
		out += "." + strings.TrimRight(fs, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}
