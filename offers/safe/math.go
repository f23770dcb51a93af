package safe

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// ErrOverflow is returned when an integer operation would overflow int64.
var ErrOverflow = errors.New("integer overflow")

// ErrDivisionByZero is returned when attempting to divide by zero.
var ErrDivisionByZero = errors.New("division by zero")

// hundred is the pre-allocated decimal multiplier for percentage calculations.
var hundred = decimal.NewFromInt(100)

// AddInt64 returns a + b, or ErrOverflow if the sum does not fit in int64.
//
// Example:
//
//	balance, err := safe.AddInt64(balance, amount)
//	if err != nil {
//	    return fmt.Errorf("credit balance: %w", err)
//	}
func AddInt64(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrOverflow
	}

	if b < 0 && a < math.MinInt64-b {
		return 0, ErrOverflow
	}

	return a + b, nil
}

// SubInt64 returns a - b, or ErrOverflow if the difference does not fit in int64.
func SubInt64(a, b int64) (int64, error) {
	if b < 0 && a > math.MaxInt64+b {
		return 0, ErrOverflow
	}

	if b > 0 && a < math.MinInt64+b {
		return 0, ErrOverflow
	}

	return a - b, nil
}

// Percentage calculates (numerator / denominator) * 100 with zero check.
// Returns ErrDivisionByZero if denominator is zero.
func Percentage(numerator, denominator decimal.Decimal) (decimal.Decimal, error) {
	if denominator.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}

	return numerator.Div(denominator).Mul(hundred), nil
}

// PercentageOrZero calculates (numerator / denominator) * 100, returning zero
// if denominator is zero. This is the common pattern for rate calculations.
//
// Example:
//
//	resolutionRate := safe.PercentageOrZero(resolved, created)
func PercentageOrZero(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		return decimal.Zero
	}

	return numerator.Div(denominator).Mul(hundred)
}

// RatioOrZero performs decimal division, returning zero if denominator is zero.
func RatioOrZero(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		return decimal.Zero
	}

	return numerator.Div(denominator)
}
