// Package money holds the pure amount computations used for rental pricing
// and damage billing. All values are decimal and rounded half-up to cents.
package money

import (
	"github.com/shopspring/decimal"

	"github.com/equiprent/rental-workflow/internal/domain/errs"
)

const (
	// MinInstallments and MaxInstallments bound installment splitting.
	MinInstallments = 1
	MaxInstallments = 12

	centsPlaces = 2
)

var (
	hundred = decimal.NewFromInt(100)
	oneCent = decimal.New(1, -centsPlaces)
)

// Fee is a named surcharge added on top of the discounted subtotal.
type Fee struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Cents rounds an amount half-up to two decimal places.
func Cents(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(centsPlaces)
}

// Sum adds amounts. An empty input sums to zero.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// LineSubtotal prices one rental line: rate x quantity x days minus the line
// discount, never below zero.
func LineSubtotal(dailyRate decimal.Decimal, quantity, days int, discount decimal.Decimal) decimal.Decimal {
	gross := dailyRate.Mul(decimal.NewFromInt(int64(quantity))).Mul(decimal.NewFromInt(int64(days)))
	net := gross.Sub(discount)
	if net.IsNegative() {
		return decimal.Zero
	}
	return Cents(net)
}

// ComputeFinalAmount returns subtotal - subtotal*discountPct/100 + sum(fees).
// A result that is zero or negative is not billable.
func ComputeFinalAmount(subtotal, discountPct decimal.Decimal, fees []Fee) (decimal.Decimal, error) {
	if discountPct.IsNegative() || discountPct.GreaterThan(hundred) {
		return decimal.Zero, errs.New(errs.KindInvalidAmount, "discount percentage %s outside [0, 100]", discountPct.String())
	}

	discount := subtotal.Mul(discountPct).Div(hundred)
	total := subtotal.Sub(discount)
	for _, f := range fees {
		total = total.Add(f.Amount)
	}
	total = Cents(total)

	if !total.IsPositive() {
		return decimal.Zero, errs.New(errs.KindInvalidAmount, "final amount %s is not billable", total.StringFixed(centsPlaces))
	}
	return total, nil
}

// InstallmentValue is the nominal per-installment value: amount/n rounded
// half-up to cents.
func InstallmentValue(amount decimal.Decimal, n int) (decimal.Decimal, error) {
	if err := validateInstallments(amount, n); err != nil {
		return decimal.Zero, err
	}
	return Cents(amount.Div(decimal.NewFromInt(int64(n)))), nil
}

// SplitInstallments divides amount into n cent values whose sum is exactly
// amount. Leftover cents go to the trailing installments, so 950 over 3
// yields 316.66, 316.67, 316.67.
func SplitInstallments(amount decimal.Decimal, n int) ([]decimal.Decimal, error) {
	if err := validateInstallments(amount, n); err != nil {
		return nil, err
	}

	cents := Cents(amount).Shift(centsPlaces).IntPart()
	base := cents / int64(n)
	remainder := cents % int64(n)

	values := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		c := base
		if int64(i) >= int64(n)-remainder {
			c++
		}
		values[i] = decimal.New(c, -centsPlaces)
	}
	return values, nil
}

func validateInstallments(amount decimal.Decimal, n int) error {
	if n < MinInstallments || n > MaxInstallments {
		return errs.New(errs.KindValidation, "installments must be between %d and %d, got %d", MinInstallments, MaxInstallments, n)
	}
	if !amount.IsPositive() {
		return errs.New(errs.KindInvalidAmount, "amount %s must be positive", amount.String())
	}
	if Cents(amount).LessThan(oneCent.Mul(decimal.NewFromInt(int64(n)))) {
		return errs.New(errs.KindInvalidAmount, "amount %s cannot be split into %d installments of at least 0.01", amount.String(), n)
	}
	return nil
}
