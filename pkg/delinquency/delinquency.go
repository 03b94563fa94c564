package delinquency

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/shopspring/decimal"
)

// Repository is the read-only view of storage the evaluator needs.
type Repository interface {
	ListCreditsByClient(ctx context.Context, clientID string) ([]*models.Credit, error)
	ListCreditsByStatus(ctx context.Context, status models.CreditStatus) ([]*models.Credit, error)
	ListInstallments(ctx context.Context, creditID uuid.UUID) ([]*models.Installment, error)
}

// IsOverdue reports whether an installment is unpaid past its due date.
func IsOverdue(inst *models.Installment, asOf time.Time) bool {
	return !inst.Paid && inst.DueDate.Before(asOf)
}

// Evaluator answers delinquency questions from current storage state.
type Evaluator struct {
	repo Repository
}

func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{repo: repo}
}

// ListOverdue returns the overdue installments of a client's ACTIVE credits, oldest
// due date first.
func (e *Evaluator) ListOverdue(ctx context.Context, clientID string, asOf time.Time) ([]*models.Installment, error) {
	credits, err := e.repo.ListCreditsByClient(ctx, clientID)
	if err != nil {
		return nil, models.WrapStorage("list client credits", err)
	}

	overdue := []*models.Installment{}
	for _, credit := range credits {
		if credit.Status != models.CreditStatusActive {
			continue
		}
		found, err := e.overdueFor(ctx, credit.ID, asOf)
		if err != nil {
			return nil, err
		}
		overdue = append(overdue, found...)
	}
	sort.SliceStable(overdue, func(i, j int) bool { return overdue[i].DueDate.Before(overdue[j].DueDate) })
	return overdue, nil
}

func (e *Evaluator) overdueFor(ctx context.Context, creditID uuid.UUID, asOf time.Time) ([]*models.Installment, error) {
	installments, err := e.repo.ListInstallments(ctx, creditID)
	if err != nil {
		return nil, models.WrapStorage("list installments", err)
	}
	var overdue []*models.Installment
	for _, inst := range installments {
		if IsOverdue(inst, asOf) {
			overdue = append(overdue, inst)
		}
	}
	return overdue, nil
}

// ListDelinquentCredits returns the ACTIVE credits with at least one overdue installment.
func (e *Evaluator) ListDelinquentCredits(ctx context.Context, asOf time.Time) ([]*models.Credit, error) {
	entries, err := e.Report(ctx, asOf)
	if err != nil {
		return nil, err
	}
	credits := make([]*models.Credit, len(entries))
	for i, entry := range entries {
		credits[i] = entry.Credit
	}
	return credits, nil
}

// Entry summarizes one delinquent credit.
type Entry struct {
	Credit        *models.Credit  `json:"credit"`
	OverdueCount  int             `json:"overdue_count"`
	OverdueAmount decimal.Decimal `json:"overdue_amount"`
	OldestDueDate time.Time       `json:"oldest_due_date"`
}

// DaysPastDue counts whole days between the oldest missed due date and asOf.
func (e Entry) DaysPastDue(asOf time.Time) int {
	return int(asOf.Sub(e.OldestDueDate).Hours() / 24)
}

// Report lists every delinquent credit with its overdue totals, most overdue first.
func (e *Evaluator) Report(ctx context.Context, asOf time.Time) ([]Entry, error) {
	credits, err := e.repo.ListCreditsByStatus(ctx, models.CreditStatusActive)
	if err != nil {
		return nil, models.WrapStorage("list active credits", err)
	}

	entries := []Entry{}
	for _, credit := range credits {
		overdue, err := e.overdueFor(ctx, credit.ID, asOf)
		if err != nil {
			return nil, err
		}
		if len(overdue) == 0 {
			continue
		}
		entry := Entry{Credit: credit, OverdueCount: len(overdue), OverdueAmount: decimal.Zero, OldestDueDate: overdue[0].DueDate}
		for _, inst := range overdue {
			entry.OverdueAmount = entry.OverdueAmount.Add(inst.Value)
			if inst.DueDate.Before(entry.OldestDueDate) {
				entry.OldestDueDate = inst.DueDate
			}
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].OldestDueDate.Before(entries[j].OldestDueDate) })
	return entries, nil
}
