package analytics

import "github.com/shopspring/decimal"

var (
	decTwelve   = decimal.NewFromInt(12)
	decHundred  = decimal.NewFromInt(100)
	paymentPrec = int32(2)
)

// MonthlyPayment computes the fixed monthly payment for a fully
// amortising loan: P*r / (1 - (1+r)^-n), with r the monthly rate and n
// the number of payments. A zero rate degenerates to principal / n.
func MonthlyPayment(principal, annualRatePct decimal.Decimal, termYears int) decimal.Decimal {
	n := int64(termYears) * 12
	if n <= 0 || !principal.IsPositive() {
		return decimal.Zero
	}

	if annualRatePct.IsZero() {
		return principal.Div(decimal.NewFromInt(n)).Round(paymentPrec)
	}

	r := annualRatePct.Div(decHundred).Div(decTwelve)
	growth := decimal.NewFromInt(1).Add(r).Pow(decimal.NewFromInt(n))
	payment := principal.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))
	return payment.Round(paymentPrec)
}

// MonthlySavings estimates how much lower the payment would be at the
// observed rate versus the client's target-comparison rate, for a
// reference principal. Negative differences clamp to zero.
func MonthlySavings(principal, currentRatePct, observedRatePct decimal.Decimal, termYears int) decimal.Decimal {
	current := MonthlyPayment(principal, currentRatePct, termYears)
	observed := MonthlyPayment(principal, observedRatePct, termYears)
	savings := current.Sub(observed)
	if savings.IsNegative() {
		return decimal.Zero
	}
	return savings
}
