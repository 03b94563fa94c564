package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/mcclellann/fredCredit/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func addClient(t *testing.T, s *store.MemoryStore, id, limit, outstanding string) {
	t.Helper()
	require.NoError(t, s.CreateClient(context.Background(), &models.Client{
		ID:                 id,
		CreditLimit:        dec(limit),
		OutstandingBalance: dec(outstanding),
		UpdatedAt:          time.Now().UTC(),
	}))
}

func addCredit(t *testing.T, s *store.MemoryStore, clientID, saleID string, status models.CreditStatus, remaining string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateSale(ctx, &models.Sale{ID: saleID, ClientID: clientID, Total: dec("1000"), IsCredit: true, SoldAt: now}))
	require.NoError(t, s.CreateCredit(ctx, &models.Credit{
		ID:               uuid.New(),
		SaleID:           saleID,
		ClientID:         clientID,
		TermMonths:       12,
		RemainingBalance: dec(remaining),
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}))
}

func TestRecompute_SumsActiveCreditsOnly(t *testing.T) {
	s := store.NewMemoryStore()
	addClient(t, s, "cli_1", "1000000", "0")
	addCredit(t, s, "cli_1", "sale_1", models.CreditStatusClosed, "0")
	addCredit(t, s, "cli_1", "sale_2", models.CreditStatusCancelled, "0")
	addCredit(t, s, "cli_1", "sale_3", models.CreditStatusActive, "551250.00")

	r := NewReconciler(s, nil)
	projection, err := r.Recompute(context.Background(), s, "cli_1")
	require.NoError(t, err)
	assert.True(t, projection.OutstandingBalance.Equal(dec("551250")))
	assert.True(t, projection.AvailableCredit.Equal(dec("448750")))

	client, err := s.GetClient(context.Background(), "cli_1")
	require.NoError(t, err)
	assert.True(t, client.OutstandingBalance.Equal(dec("551250")))
	assert.True(t, client.AvailableCredit.Equal(dec("448750")))
}

func TestRecompute_AvailableFloorsAtZero(t *testing.T) {
	s := store.NewMemoryStore()
	addClient(t, s, "cli_1", "100000", "0")
	addCredit(t, s, "cli_1", "sale_1", models.CreditStatusActive, "735000")

	projection, err := NewReconciler(s, nil).Recompute(context.Background(), s, "cli_1")
	require.NoError(t, err)
	assert.True(t, projection.AvailableCredit.IsZero())
}

func TestRecompute_UnknownClient(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := NewReconciler(s, nil).Recompute(context.Background(), s, "ghost")
	assert.ErrorIs(t, err, models.ErrClientNotFound)
}

func TestRecompute_StorageFailure(t *testing.T) {
	s := store.NewMemoryStore()
	addClient(t, s, "cli_1", "100000", "0")
	s.FailOn("UpdateClientBalance", errors.New("io error"))

	_, err := NewReconciler(s, nil).Recompute(context.Background(), s, "cli_1")
	assert.ErrorIs(t, err, models.ErrStorageFailure)
}

func TestReverse_SubtractsFromCachedBalance(t *testing.T) {
	tests := []struct {
		name            string
		outstanding     string
		amount          string
		wantOutstanding string
		wantAvailable   string
	}{
		{"full obligation", "735000", "735000", "0", "1000000"},
		{"other debt remains", "900000", "735000", "165000", "835000"},
		{"partly paid credit", "551250", "735000", "-183750", "1000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			addClient(t, s, "cli_1", "1000000", tt.outstanding)

			projection, err := NewReconciler(s, nil).Reverse(context.Background(), s, "cli_1", dec(tt.amount))
			require.NoError(t, err)
			assert.True(t, projection.OutstandingBalance.Equal(dec(tt.wantOutstanding)), "outstanding %s", projection.OutstandingBalance)
			assert.True(t, projection.AvailableCredit.Equal(dec(tt.wantAvailable)), "available %s", projection.AvailableCredit)
		})
	}
}

func TestRecomputeAll(t *testing.T) {
	s := store.NewMemoryStore()
	addClient(t, s, "cli_1", "1000000", "0")
	addClient(t, s, "cli_2", "500000", "0")
	addCredit(t, s, "cli_1", "sale_1", models.CreditStatusActive, "735000")

	logger, hook := test.NewNullLogger()
	r := NewReconciler(s, logger)

	changed, err := r.RecomputeAll(context.Background())
	require.NoError(t, err)
	// cli_2 had no cached available credit yet, so both rows change.
	assert.Equal(t, 2, changed)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	changed, err = r.RecomputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}
