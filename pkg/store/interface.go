package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/shopspring/decimal"
)

// Repository defines the record operations the credit engine needs. Lookups of a
// missing record return the matching models.Err*NotFound error.
type Repository interface {
	CreateCredit(ctx context.Context, credit *models.Credit) error
	GetCredit(ctx context.Context, id uuid.UUID) (*models.Credit, error)
	GetCreditBySale(ctx context.Context, saleID string) (*models.Credit, error)
	UpdateCredit(ctx context.Context, credit *models.Credit) error
	ListCreditsByClient(ctx context.Context, clientID string) ([]*models.Credit, error)
	ListCreditsByStatus(ctx context.Context, status models.CreditStatus) ([]*models.Credit, error)

	CreateInstallments(ctx context.Context, installments []*models.Installment) error
	GetInstallment(ctx context.Context, creditID uuid.UUID, sequence int) (*models.Installment, error)
	ListInstallments(ctx context.Context, creditID uuid.UUID) ([]*models.Installment, error)
	// MarkInstallmentPaid sets paid and paid_at together on an unpaid installment and
	// returns models.ErrInstallmentAlreadyPaid when it was paid already.
	MarkInstallmentPaid(ctx context.Context, creditID uuid.UUID, sequence int, paidAt time.Time) error
	DeleteInstallments(ctx context.Context, creditID uuid.UUID) error

	CreateTransaction(ctx context.Context, transaction *models.Transaction) error
	GetTransactionsForCredit(ctx context.Context, creditID uuid.UUID) ([]*models.Transaction, error)

	CreateSale(ctx context.Context, sale *models.Sale) error
	GetSale(ctx context.Context, id string) (*models.Sale, error)
	VoidSale(ctx context.Context, id string) error

	CreateClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, id string) (*models.Client, error)
	// LockClient reads a client and, where the backend supports it, holds a row lock
	// on it until the surrounding transaction ends.
	LockClient(ctx context.Context, id string) (*models.Client, error)
	ListClients(ctx context.Context) ([]*models.Client, error)
	UpdateClientBalance(ctx context.Context, id string, outstanding, available decimal.Decimal) error
}

// Storage is a Repository that can also run a group of operations atomically.
type Storage interface {
	Repository

	// InTx runs fn against a transactional Repository. Every write made through it is
	// committed when fn returns nil and discarded otherwise.
	InTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}
