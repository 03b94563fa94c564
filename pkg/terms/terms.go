// Package terms holds the money and term rules of a credit sale: down payment,
// financed balance, flat interest surcharge and per-installment value.
package terms

import (
	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/shopspring/decimal"
)

// Term is a credit length in months.
type Term int

const (
	Term12 Term = 12
	Term18 Term = 18
	Term24 Term = 24
)

// Terms lists the admissible credit lengths.
var Terms = []Term{Term12, Term18, Term24}

const DefaultScale int32 = 2

var (
	DefaultDownPaymentRatio = decimal.RequireFromString("0.30")
	DefaultInterestRate     = decimal.RequireFromString("0.05")
)

// Valid reports whether t is one of the admissible terms.
func (t Term) Valid() bool {
	for _, allowed := range Terms {
		if t == allowed {
			return true
		}
	}
	return false
}

func (t Term) Months() int {
	return int(t)
}

// ParseTerm validates a term given in months.
func ParseTerm(months int) (Term, error) {
	t := Term(months)
	if !t.Valid() {
		return 0, models.Invalid(models.ErrInvalidTerm, "%d months is not one of 12, 18, 24", months)
	}
	return t, nil
}

// Quote is the unrounded breakdown of a credit sale.
type Quote struct {
	Total            decimal.Decimal `json:"total"`
	DownPayment      decimal.Decimal `json:"down_payment"`
	FinancedBalance  decimal.Decimal `json:"financed_balance"`
	InterestRate     decimal.Decimal `json:"interest_rate"`
	Interest         decimal.Decimal `json:"interest"`
	InstallmentValue decimal.Decimal `json:"installment_value"`
	Term             Term            `json:"term"`
}

// Obligation is the financed balance plus interest.
func (q Quote) Obligation() decimal.Decimal {
	return q.FinancedBalance.Add(q.Interest)
}

// Policy carries the ratios applied to a sale total.
type Policy struct {
	DownPaymentRatio decimal.Decimal
	InterestRate     decimal.Decimal
	Scale            int32 // Decimal places of the smallest currency unit
}

func DefaultPolicy() Policy {
	return Policy{
		DownPaymentRatio: DefaultDownPaymentRatio,
		InterestRate:     DefaultInterestRate,
		Scale:            DefaultScale,
	}
}

// ComputeSchedule quotes a sale total with the default policy.
func ComputeSchedule(total decimal.Decimal, term Term) (Quote, error) {
	return DefaultPolicy().Compute(total, term)
}

// Compute quotes a sale total using the policy's down payment ratio and rate.
func (p Policy) Compute(total decimal.Decimal, term Term) (Quote, error) {
	if !total.IsPositive() {
		return Quote{}, models.Invalid(models.ErrInvalidAmount, "sale total %s must be positive", total)
	}
	return p.ComputeWithDownPayment(total, total.Mul(p.DownPaymentRatio), term, p.InterestRate)
}

// ComputeWithDownPayment quotes a sale total with an explicit down payment and rate.
func (p Policy) ComputeWithDownPayment(total, downPayment decimal.Decimal, term Term, rate decimal.Decimal) (Quote, error) {
	if !term.Valid() {
		return Quote{}, models.Invalid(models.ErrInvalidTerm, "%d months is not one of 12, 18, 24", int(term))
	}
	if !total.IsPositive() {
		return Quote{}, models.Invalid(models.ErrInvalidAmount, "sale total %s must be positive", total)
	}
	if downPayment.IsNegative() || downPayment.GreaterThan(total) {
		return Quote{}, models.Invalid(models.ErrInvalidAmount, "down payment %s must be between 0 and %s", downPayment, total)
	}
	if rate.IsNegative() {
		return Quote{}, models.Invalid(models.ErrInvalidAmount, "interest rate %s must not be negative", rate)
	}

	financed := total.Sub(downPayment)
	interest := financed.Mul(rate)
	return Quote{
		Total:            total,
		DownPayment:      downPayment,
		FinancedBalance:  financed,
		InterestRate:     rate,
		Interest:         interest,
		InstallmentValue: financed.Add(interest).Div(decimal.NewFromInt(int64(term))),
		Term:             term,
	}, nil
}

// Round rounds an amount to the smallest currency unit.
func (p Policy) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(p.Scale)
}
