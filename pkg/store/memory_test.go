package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Constraints(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")
	seedSale(t, s, "cli_1", "sale_2")

	first := newTestCredit("cli_1", "sale_1")
	require.NoError(t, s.CreateCredit(ctx, first))
	assert.ErrorIs(t, s.CreateCredit(ctx, newTestCredit("cli_1", "sale_2")), models.ErrDuplicateActiveCredit)
	assert.ErrorIs(t, s.CreateCredit(ctx, newTestCredit("cli_2", "sale_1")), models.ErrSaleAlreadyCredited)

	require.NoError(t, s.CreateInstallments(ctx, newTestInstallments(first, 12)))
	paidAt := time.Now().UTC()
	require.NoError(t, s.MarkInstallmentPaid(ctx, first.ID, 1, paidAt))
	assert.ErrorIs(t, s.MarkInstallmentPaid(ctx, first.ID, 1, paidAt), models.ErrInstallmentAlreadyPaid)
	assert.ErrorIs(t, s.MarkInstallmentPaid(ctx, first.ID, 99, paidAt), models.ErrInstallmentNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")

	credit := newTestCredit("cli_1", "sale_1")
	require.NoError(t, s.CreateCredit(ctx, credit))

	fetched, err := s.GetCredit(ctx, credit.ID)
	require.NoError(t, err)
	fetched.RemainingBalance = decimal.Zero

	again, err := s.GetCredit(ctx, credit.ID)
	require.NoError(t, err)
	assert.True(t, again.RemainingBalance.Equal(decimal.NewFromInt(735000)))
}

func TestMemoryStore_InTxDiscardsOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")

	credit := newTestCredit("cli_1", "sale_1")
	boom := errors.New("disk full")
	s.FailOn("UpdateClientBalance", boom)

	err := s.InTx(ctx, func(repo Repository) error {
		if err := repo.CreateCredit(ctx, credit); err != nil {
			return err
		}
		if err := repo.CreateInstallments(ctx, newTestInstallments(credit, 12)); err != nil {
			return err
		}
		return repo.UpdateClientBalance(ctx, "cli_1", decimal.NewFromInt(735000), decimal.Zero)
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetCredit(ctx, credit.ID)
	assert.ErrorIs(t, err, models.ErrCreditNotFound)
	installments, err := s.ListInstallments(ctx, credit.ID)
	require.NoError(t, err)
	assert.Empty(t, installments)

	s.FailOn("UpdateClientBalance", nil)
	require.NoError(t, s.InTx(ctx, func(repo Repository) error {
		return repo.CreateCredit(ctx, credit)
	}))
	_, err = s.GetCredit(ctx, credit.ID)
	assert.NoError(t, err)
}

func TestMemoryStore_ListOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")
	seedSale(t, s, "cli_1", "sale_2")

	older := newTestCredit("cli_1", "sale_1")
	older.Status = models.CreditStatusClosed
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := newTestCredit("cli_1", "sale_2")
	require.NoError(t, s.CreateCredit(ctx, newer))
	require.NoError(t, s.CreateCredit(ctx, older))

	credits, err := s.ListCreditsByClient(ctx, "cli_1")
	require.NoError(t, err)
	require.Len(t, credits, 2)
	assert.Equal(t, older.ID, credits[0].ID)
	assert.Equal(t, newer.ID, credits[1].ID)

	active, err := s.ListCreditsByStatus(ctx, models.CreditStatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, newer.ID, active[0].ID)
}
