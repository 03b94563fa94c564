// Package schedule builds the installment plan of a credit.
package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/mcclellann/fredCredit/pkg/terms"
	"github.com/shopspring/decimal"
)

// InstallmentWriter persists a full installment batch.
type InstallmentWriter interface {
	CreateInstallments(ctx context.Context, installments []*models.Installment) error
}

// Generator produces installment plans with the rounding rules of a policy.
type Generator struct {
	policy terms.Policy
	newID  func() uuid.UUID
}

func NewGenerator(policy terms.Policy) *Generator {
	return &Generator{policy: policy, newID: uuid.New}
}

// Generate returns credit.TermMonths installments, the i-th due i calendar months
// after saleDate. Every value is the rounded per-installment value except the last,
// which takes the remainder so the batch sums to the rounded obligation.
func (g *Generator) Generate(credit *models.Credit, saleDate time.Time) ([]*models.Installment, error) {
	term, err := terms.ParseTerm(credit.TermMonths)
	if err != nil {
		return nil, err
	}

	values := Split(credit.Obligation(), term.Months(), g.policy.Scale)
	installments := make([]*models.Installment, 0, term.Months())
	for i, value := range values {
		seq := i + 1
		installments = append(installments, &models.Installment{
			ID:       g.newID(),
			CreditID: credit.ID,
			Sequence: seq,
			Value:    value,
			DueDate:  AddMonths(saleDate, seq),
		})
	}
	return installments, nil
}

// Seed generates the plan and persists it as one batch.
func (g *Generator) Seed(ctx context.Context, w InstallmentWriter, credit *models.Credit, saleDate time.Time) ([]*models.Installment, error) {
	installments, err := g.Generate(credit, saleDate)
	if err != nil {
		return nil, err
	}
	if err := w.CreateInstallments(ctx, installments); err != nil {
		return nil, models.WrapStorage("seed installments", err)
	}
	return installments, nil
}

// Split divides total into n parts rounded to scale places; the last part absorbs the
// remainder so the parts add up to total rounded to scale.
func Split(total decimal.Decimal, n int, scale int32) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	target := total.Round(scale)
	part := total.Div(decimal.NewFromInt(int64(n))).Round(scale)

	parts := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		parts[i] = part
	}
	parts[n-1] = target.Sub(part.Mul(decimal.NewFromInt(int64(n - 1))))
	return parts
}

// AddMonths moves t forward by n calendar months. When t's day does not exist in the
// target month the result is clamped to that month's last day.
func AddMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
