package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/mcclellann/fredCredit/pkg/terms"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func creditFor(t *testing.T, total decimal.Decimal, term terms.Term) *models.Credit {
	t.Helper()
	q, err := terms.ComputeSchedule(total, term)
	require.NoError(t, err)
	return &models.Credit{
		ID:              uuid.New(),
		TotalAmount:     q.Total,
		DownPayment:     q.DownPayment,
		FinancedBalance: q.FinancedBalance,
		InterestAmount:  q.Interest,
		InterestRate:    q.InterestRate,
		TermMonths:      term.Months(),
	}
}

func TestGenerate_Example(t *testing.T) {
	g := NewGenerator(terms.DefaultPolicy())
	saleDate := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	credit := creditFor(t, decimal.NewFromInt(1000000), terms.Term12)

	installments, err := g.Generate(credit, saleDate)
	require.NoError(t, err)
	require.Len(t, installments, 12)

	for i, inst := range installments {
		assert.Equal(t, i+1, inst.Sequence)
		assert.Equal(t, credit.ID, inst.CreditID)
		assert.Equal(t, "61250.00", inst.Value.StringFixed(2))
		assert.True(t, inst.DueDate.Equal(saleDate.AddDate(0, i+1, 0)), "due date %s", inst.DueDate)
		assert.False(t, inst.Paid)
		assert.Nil(t, inst.PaidAt)
	}
}

func TestGenerate_SumEqualsObligation(t *testing.T) {
	g := NewGenerator(terms.DefaultPolicy())
	saleDate := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	totals := []string{"1", "99.99", "1000", "1234.56", "777777.77", "1000000", "3333333.33"}

	for _, term := range terms.Terms {
		for _, raw := range totals {
			credit := creditFor(t, decimal.RequireFromString(raw), term)
			installments, err := g.Generate(credit, saleDate)
			require.NoError(t, err)
			require.Len(t, installments, term.Months())

			sum := decimal.Zero
			for _, inst := range installments {
				sum = sum.Add(inst.Value)
				assert.True(t, inst.Value.Equal(inst.Value.Round(2)), "value %s not in cents", inst.Value)
			}
			assert.True(t, sum.Equal(credit.Obligation().Round(2)),
				"term %d total %s: sum %s != obligation %s", term, raw, sum, credit.Obligation().Round(2))
		}
	}
}

func TestGenerate_LastInstallmentAbsorbsRemainder(t *testing.T) {
	g := NewGenerator(terms.DefaultPolicy())
	credit := creditFor(t, decimal.NewFromInt(1000), terms.Term18)

	installments, err := g.Generate(credit, time.Now())
	require.NoError(t, err)

	for _, inst := range installments[:17] {
		assert.Equal(t, "40.83", inst.Value.StringFixed(2))
	}
	assert.Equal(t, "40.89", installments[17].Value.StringFixed(2))
}

func TestGenerate_DueDatesMonotonic(t *testing.T) {
	g := NewGenerator(terms.DefaultPolicy())
	saleDate := time.Date(2023, time.August, 31, 9, 30, 0, 0, time.UTC)
	credit := creditFor(t, decimal.NewFromInt(5000), terms.Term24)

	installments, err := g.Generate(credit, saleDate)
	require.NoError(t, err)

	assert.Equal(t, AddMonths(saleDate, 1), installments[0].DueDate)
	for i := 1; i < len(installments); i++ {
		prev, cur := installments[i-1].DueDate, installments[i].DueDate
		assert.True(t, cur.After(prev))
		py, pm, _ := prev.Date()
		cy, cm, _ := cur.Date()
		assert.Equal(t, py*12+int(pm)+1, cy*12+int(cm), "installment %d not one month after previous", i+1)
	}
}

func TestGenerate_InvalidTerm(t *testing.T) {
	g := NewGenerator(terms.DefaultPolicy())
	credit := creditFor(t, decimal.NewFromInt(1000), terms.Term12)
	credit.TermMonths = 6

	_, err := g.Generate(credit, time.Now())
	assert.ErrorIs(t, err, models.ErrInvalidTerm)
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		name   string
		from   time.Time
		months int
		want   time.Time
	}{
		{"plain", date(2024, time.March, 15), 1, date(2024, time.April, 15)},
		{"clamp to leap february", date(2024, time.January, 31), 1, date(2024, time.February, 29)},
		{"clamp to february", date(2023, time.January, 31), 1, date(2023, time.February, 28)},
		{"day restored after clamp", date(2023, time.January, 31), 2, date(2023, time.March, 31)},
		{"clamp to 30 day month", date(2023, time.March, 31), 1, date(2023, time.April, 30)},
		{"year rollover", date(2023, time.November, 30), 3, date(2024, time.February, 29)},
		{"two years", date(2024, time.February, 29), 24, date(2026, time.February, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AddMonths(tt.from, tt.months)
			if !got.Equal(tt.want) {
				t.Errorf("AddMonths(%s, %d) = %s, want %s", tt.from.Format("2006-01-02"), tt.months, got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
			}
		})
	}
}

func TestAddMonths_KeepsClock(t *testing.T) {
	from := time.Date(2024, time.May, 31, 17, 45, 12, 0, time.UTC)
	got := AddMonths(from, 1)
	assert.Equal(t, time.Date(2024, time.June, 30, 17, 45, 12, 0, time.UTC), got)
}

func TestSplit(t *testing.T) {
	parts := Split(decimal.NewFromInt(100), 3, 2)
	require.Len(t, parts, 3)
	assert.Equal(t, "33.33", parts[0].StringFixed(2))
	assert.Equal(t, "33.33", parts[1].StringFixed(2))
	assert.Equal(t, "33.34", parts[2].StringFixed(2))

	assert.Nil(t, Split(decimal.NewFromInt(100), 0, 2))
}

type failingWriter struct{ err error }

func (f failingWriter) CreateInstallments(context.Context, []*models.Installment) error {
	return f.err
}

func TestSeed_WrapsWriteFailure(t *testing.T) {
	g := NewGenerator(terms.DefaultPolicy())
	credit := creditFor(t, decimal.NewFromInt(1000), terms.Term12)

	_, err := g.Seed(context.Background(), failingWriter{err: errors.New("disk full")}, credit, time.Now())
	assert.ErrorIs(t, err, models.ErrStorageFailure)

	installments, err := g.Seed(context.Background(), failingWriter{}, credit, time.Now())
	require.NoError(t, err)
	assert.Len(t, installments, 12)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
