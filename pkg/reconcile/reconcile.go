// Package reconcile keeps a client's cached outstanding balance and available credit
// in line with the credits recorded against them.
package reconcile

import (
	"context"

	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/mcclellann/fredCredit/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Repository is the subset of store.Repository the reconciler reads and writes.
type Repository interface {
	GetClient(ctx context.Context, id string) (*models.Client, error)
	ListCreditsByClient(ctx context.Context, clientID string) ([]*models.Credit, error)
	UpdateClientBalance(ctx context.Context, id string, outstanding, available decimal.Decimal) error
}

type Reconciler struct {
	storage store.Storage
	logger  logrus.FieldLogger
}

func NewReconciler(s store.Storage, logger logrus.FieldLogger) *Reconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{storage: s, logger: logger}
}

// Recompute derives the client's projection from their ACTIVE credits and writes it
// through repo, which is normally the caller's transactional repository.
func (r *Reconciler) Recompute(ctx context.Context, repo Repository, clientID string) (*models.BalanceProjection, error) {
	client, err := repo.GetClient(ctx, clientID)
	if err != nil {
		return nil, models.WrapStorage("get client", err)
	}
	credits, err := repo.ListCreditsByClient(ctx, clientID)
	if err != nil {
		return nil, models.WrapStorage("list client credits", err)
	}

	outstanding := decimal.Zero
	for _, credit := range credits {
		if credit.Status == models.CreditStatusActive {
			outstanding = outstanding.Add(credit.RemainingBalance)
		}
	}
	return r.write(ctx, repo, client, outstanding)
}

// Reverse lowers the cached outstanding balance by amount instead of recomputing it.
// Cancellation uses it to take a credit's full obligation off the client.
func (r *Reconciler) Reverse(ctx context.Context, repo Repository, clientID string, amount decimal.Decimal) (*models.BalanceProjection, error) {
	client, err := repo.GetClient(ctx, clientID)
	if err != nil {
		return nil, models.WrapStorage("get client", err)
	}
	return r.write(ctx, repo, client, client.OutstandingBalance.Sub(amount))
}

func (r *Reconciler) write(ctx context.Context, repo Repository, client *models.Client, outstanding decimal.Decimal) (*models.BalanceProjection, error) {
	available := Available(client.CreditLimit, outstanding)
	if err := repo.UpdateClientBalance(ctx, client.ID, outstanding, available); err != nil {
		return nil, models.WrapStorage("update client balance", err)
	}
	return &models.BalanceProjection{
		ClientID:           client.ID,
		OutstandingBalance: outstanding,
		AvailableCredit:    available,
	}, nil
}

// Available is the credit limit minus the outstanding balance, never below zero.
func Available(limit, outstanding decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, limit.Sub(outstanding))
}

// RecomputeAll recomputes every client's projection, each in its own transaction.
// It returns the number of clients whose cached values changed.
func (r *Reconciler) RecomputeAll(ctx context.Context) (int, error) {
	clients, err := r.storage.ListClients(ctx)
	if err != nil {
		return 0, models.WrapStorage("list clients", err)
	}

	changed := 0
	for _, c := range clients {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		var projection *models.BalanceProjection
		err := r.storage.InTx(ctx, func(repo store.Repository) error {
			if _, err := repo.LockClient(ctx, c.ID); err != nil {
				return err
			}
			var err error
			projection, err = r.Recompute(ctx, repo, c.ID)
			return err
		})
		if err != nil {
			r.logger.WithError(err).WithField("client_id", c.ID).Error("Failed to reconcile client balance")
			return changed, models.WrapStorage("reconcile client", err)
		}
		if !projection.OutstandingBalance.Equal(c.OutstandingBalance) || !projection.AvailableCredit.Equal(c.AvailableCredit) {
			changed++
			r.logger.WithFields(logrus.Fields{
				"client_id":   c.ID,
				"outstanding": projection.OutstandingBalance.String(),
				"previous":    c.OutstandingBalance.String(),
			}).Info("Corrected client balance projection")
		}
	}
	return changed, nil
}
