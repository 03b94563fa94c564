package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "credit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedSale creates a client and a credit sale for it.
func seedSale(t *testing.T, s Repository, clientID, saleID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := s.GetClient(ctx, clientID); errors.Is(err, models.ErrClientNotFound) {
		require.NoError(t, s.CreateClient(ctx, &models.Client{
			ID:              clientID,
			Name:            "Client " + clientID,
			CreditLimit:     decimal.NewFromInt(5000000),
			AvailableCredit: decimal.NewFromInt(5000000),
			UpdatedAt:       now,
		}))
	}
	require.NoError(t, s.CreateSale(ctx, &models.Sale{
		ID:       saleID,
		ClientID: clientID,
		Total:    decimal.NewFromInt(1000000),
		IsCredit: true,
		SoldAt:   now,
	}))
}

func newTestCredit(clientID, saleID string) *models.Credit {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Credit{
		ID:               uuid.New(),
		SaleID:           saleID,
		ClientID:         clientID,
		TotalAmount:      decimal.NewFromInt(1000000),
		DownPayment:      decimal.NewFromInt(300000),
		FinancedBalance:  decimal.NewFromInt(700000),
		InterestAmount:   decimal.NewFromInt(35000),
		InterestRate:     decimal.NewFromFloat(0.05),
		TermMonths:       12,
		RemainingBalance: decimal.NewFromInt(735000),
		Status:           models.CreditStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func newTestInstallments(credit *models.Credit, n int) []*models.Installment {
	installments := make([]*models.Installment, n)
	for i := range installments {
		installments[i] = &models.Installment{
			ID:       uuid.New(),
			CreditID: credit.ID,
			Sequence: i + 1,
			Value:    decimal.NewFromInt(61250),
			DueDate:  credit.CreatedAt.AddDate(0, i+1, 0),
		}
	}
	return installments
}

func TestSQLiteStore_CreateAndGetCredit(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")

	credit := newTestCredit("cli_1", "sale_1")
	require.NoError(t, s.CreateCredit(ctx, credit))

	fetched, err := s.GetCredit(ctx, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, credit.ClientID, fetched.ClientID)
	assert.Equal(t, credit.SaleID, fetched.SaleID)
	assert.True(t, fetched.TotalAmount.Equal(credit.TotalAmount))
	assert.True(t, fetched.InterestRate.Equal(credit.InterestRate))
	assert.True(t, fetched.RemainingBalance.Equal(decimal.NewFromInt(735000)))
	assert.Equal(t, 12, fetched.TermMonths)
	assert.Equal(t, models.CreditStatusActive, fetched.Status)

	bySale, err := s.GetCreditBySale(ctx, "sale_1")
	require.NoError(t, err)
	assert.Equal(t, credit.ID, bySale.ID)

	_, err = s.GetCredit(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrCreditNotFound)
}

func TestSQLiteStore_UpdateCredit(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")

	credit := newTestCredit("cli_1", "sale_1")
	require.NoError(t, s.CreateCredit(ctx, credit))

	credit.RemainingBalance = decimal.Zero
	credit.Status = models.CreditStatusClosed
	require.NoError(t, s.UpdateCredit(ctx, credit))

	fetched, err := s.GetCredit(ctx, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CreditStatusClosed, fetched.Status)
	assert.True(t, fetched.RemainingBalance.IsZero())

	closed, err := s.ListCreditsByStatus(ctx, models.CreditStatusClosed)
	require.NoError(t, err)
	assert.Len(t, closed, 1)

	missing := newTestCredit("cli_1", "sale_x")
	assert.ErrorIs(t, s.UpdateCredit(ctx, missing), models.ErrCreditNotFound)
}

func TestSQLiteStore_OneActiveCreditPerClient(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")
	seedSale(t, s, "cli_1", "sale_2")

	first := newTestCredit("cli_1", "sale_1")
	require.NoError(t, s.CreateCredit(ctx, first))

	err := s.CreateCredit(ctx, newTestCredit("cli_1", "sale_2"))
	assert.ErrorIs(t, err, models.ErrDuplicateActiveCredit)

	// Once the first credit leaves ACTIVE the client may open another one.
	first.Status = models.CreditStatusCancelled
	first.RemainingBalance = decimal.Zero
	require.NoError(t, s.UpdateCredit(ctx, first))
	require.NoError(t, s.CreateCredit(ctx, newTestCredit("cli_1", "sale_2")))

	credits, err := s.ListCreditsByClient(ctx, "cli_1")
	require.NoError(t, err)
	assert.Len(t, credits, 2)
}

func TestSQLiteStore_OneCreditPerSale(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")

	first := newTestCredit("cli_1", "sale_1")
	first.Status = models.CreditStatusClosed
	require.NoError(t, s.CreateCredit(ctx, first))

	err := s.CreateCredit(ctx, newTestCredit("cli_1", "sale_1"))
	assert.ErrorIs(t, err, models.ErrSaleAlreadyCredited)
}

func TestSQLiteStore_Installments(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")

	credit := newTestCredit("cli_1", "sale_1")
	require.NoError(t, s.CreateCredit(ctx, credit))
	require.NoError(t, s.CreateInstallments(ctx, newTestInstallments(credit, 12)))

	installments, err := s.ListInstallments(ctx, credit.ID)
	require.NoError(t, err)
	require.Len(t, installments, 12)
	for i, inst := range installments {
		assert.Equal(t, i+1, inst.Sequence)
		assert.False(t, inst.Paid)
		assert.Nil(t, inst.PaidAt)
	}

	paidAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.MarkInstallmentPaid(ctx, credit.ID, 3, paidAt))

	inst, err := s.GetInstallment(ctx, credit.ID, 3)
	require.NoError(t, err)
	assert.True(t, inst.Paid)
	require.NotNil(t, inst.PaidAt)
	assert.True(t, inst.PaidAt.Equal(paidAt))

	err = s.MarkInstallmentPaid(ctx, credit.ID, 3, paidAt)
	assert.ErrorIs(t, err, models.ErrInstallmentAlreadyPaid)

	err = s.MarkInstallmentPaid(ctx, credit.ID, 13, paidAt)
	assert.ErrorIs(t, err, models.ErrInstallmentNotFound)

	require.NoError(t, s.DeleteInstallments(ctx, credit.ID))
	installments, err = s.ListInstallments(ctx, credit.ID)
	require.NoError(t, err)
	assert.Empty(t, installments)
}

func TestSQLiteStore_Transactions(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")

	credit := newTestCredit("cli_1", "sale_1")
	require.NoError(t, s.CreateCredit(ctx, credit))

	amount := decimal.NewFromInt(61250)
	require.NoError(t, s.CreateTransaction(ctx, &models.Transaction{
		ID:        uuid.New(),
		CreditID:  credit.ID,
		Sequence:  1,
		Amount:    amount,
		Type:      models.TransactionTypePayment,
		Timestamp: time.Now().UTC(),
	}))

	txs, err := s.GetTransactionsForCredit(ctx, credit.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Equal(amount))
	assert.Equal(t, models.TransactionTypePayment, txs[0].Type)
	assert.Equal(t, 1, txs[0].Sequence)
}

func TestSQLiteStore_SalesAndClients(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")

	sale, err := s.GetSale(ctx, "sale_1")
	require.NoError(t, err)
	assert.True(t, sale.IsCredit)
	assert.False(t, sale.Voided)

	require.NoError(t, s.VoidSale(ctx, "sale_1"))
	sale, err = s.GetSale(ctx, "sale_1")
	require.NoError(t, err)
	assert.True(t, sale.Voided)

	_, err = s.GetSale(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrSaleNotFound)

	require.NoError(t, s.UpdateClientBalance(ctx, "cli_1", decimal.NewFromInt(735000), decimal.NewFromInt(4265000)))
	client, err := s.GetClient(ctx, "cli_1")
	require.NoError(t, err)
	assert.True(t, client.OutstandingBalance.Equal(decimal.NewFromInt(735000)))
	assert.True(t, client.AvailableCredit.Equal(decimal.NewFromInt(4265000)))

	assert.ErrorIs(t, s.UpdateClientBalance(ctx, "nope", decimal.Zero, decimal.Zero), models.ErrClientNotFound)

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

func TestSQLiteStore_InTxRollsBack(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSale(t, s, "cli_1", "sale_1")

	credit := newTestCredit("cli_1", "sale_1")
	boom := errors.New("boom")
	err := s.InTx(ctx, func(repo Repository) error {
		if _, err := repo.LockClient(ctx, "cli_1"); err != nil {
			return err
		}
		if err := repo.CreateCredit(ctx, credit); err != nil {
			return err
		}
		if err := repo.CreateInstallments(ctx, newTestInstallments(credit, 12)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetCredit(ctx, credit.ID)
	assert.ErrorIs(t, err, models.ErrCreditNotFound)
	installments, err := s.ListInstallments(ctx, credit.ID)
	require.NoError(t, err)
	assert.Empty(t, installments)

	require.NoError(t, s.InTx(ctx, func(repo Repository) error {
		return repo.CreateCredit(ctx, credit)
	}))
	_, err = s.GetCredit(ctx, credit.ID)
	assert.NoError(t, err)
}
