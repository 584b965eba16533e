// Package tokens converts between base-unit integers and display strings.
package tokens

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/habit_ledger/internal/errors"
)

var displayPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ToDisplay renders raw base units as a decimal string with trailing
// fractional zeros trimmed.
func ToDisplay(raw *big.Int, decimals uint8) (string, error) {
	if raw == nil {
		return "", errors.Format(errors.ReasonNotNumeric, fmt.Errorf("nil amount"))
	}
	if raw.Sign() < 0 {
		return "", errors.Format(errors.ReasonNegative, fmt.Errorf("amount %s", raw))
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).String(), nil
}

// ToRaw parses a non-negative display string into base units. Fractions
// finer than decimals are refused rather than rounded.
func ToRaw(display string, decimals uint8) (*big.Int, error) {
	if len(display) > 0 && display[0] == '-' {
		return nil, errors.Format(errors.ReasonNegative, fmt.Errorf("amount %q", display))
	}
	if !displayPattern.MatchString(display) {
		return nil, errors.Format(errors.ReasonNotNumeric, fmt.Errorf("amount %q", display))
	}
	d, err := decimal.NewFromString(display)
	if err != nil {
		return nil, errors.Format(errors.ReasonNotNumeric, err)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, errors.Format(errors.ReasonPrecisionLoss,
			fmt.Errorf("amount %q has more than %d decimals", display, decimals))
	}
	return shifted.BigInt(), nil
}

// Equal reports whether two base-unit amounts are equal, treating nil as zero.
func Equal(a, b *big.Int) bool {
	return orZero(a).Cmp(orZero(b)) == 0
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
