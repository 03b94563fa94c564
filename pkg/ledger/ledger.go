package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCredit/pkg/delinquency"
	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/mcclellann/fredCredit/pkg/reconcile"
	"github.com/mcclellann/fredCredit/pkg/schedule"
	"github.com/mcclellann/fredCredit/pkg/store"
	"github.com/mcclellann/fredCredit/pkg/terms"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ReversalMode selects how a cancellation updates the client's balance projection.
type ReversalMode string

const (
	// ReversalFullObligation subtracts the credit's whole obligation from the cached
	// outstanding balance, whatever was already paid.
	ReversalFullObligation ReversalMode = "full_obligation"
	// ReversalRecompute rebuilds the projection from the remaining ACTIVE credits.
	ReversalRecompute ReversalMode = "recompute"
)

// Ledger handles the lifecycle of credits: opening, installment payments and cancellation.
type Ledger struct {
	storage    store.Storage
	policy     terms.Policy
	generator  *schedule.Generator
	reconciler *reconcile.Reconciler
	evaluator  *delinquency.Evaluator
	logger     logrus.FieldLogger
	now        func() time.Time
	reversal   ReversalMode
	locks      *keyedMutex
}

type Option func(*Ledger)

func WithPolicy(p terms.Policy) Option {
	return func(l *Ledger) { l.policy = p }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithReversalMode(mode ReversalMode) Option {
	return func(l *Ledger) { l.reversal = mode }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:  s,
		policy:   terms.DefaultPolicy(),
		logger:   logrus.StandardLogger(),
		now:      time.Now,
		reversal: ReversalFullObligation,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.generator = schedule.NewGenerator(l.policy)
	l.reconciler = reconcile.NewReconciler(s, l.logger)
	l.evaluator = delinquency.NewEvaluator(s)
	return l
}

// OpenRequest asks for a credit on a credit sale. A nil DownPayment or InterestRate
// falls back to the ledger's policy.
type OpenRequest struct {
	SaleID       string           `json:"sale_id"`
	ClientID     string           `json:"client_id"`
	Term         int              `json:"term_months"`
	DownPayment  *decimal.Decimal `json:"down_payment,omitempty"`
	InterestRate *decimal.Decimal `json:"interest_rate,omitempty"`
}

func (l *Ledger) clock() time.Time {
	return l.now().UTC()
}

// fail logs a rejected or failed operation and makes sure the returned error carries
// one of the models error kinds.
func (l *Ledger) fail(log logrus.FieldLogger, op string, err error) error {
	err = models.WrapStorage(op, err)
	if errors.Is(err, models.ErrStorageFailure) {
		log.WithError(err).Errorf("Failed to %s", op)
	} else {
		log.WithError(err).Warnf("Rejected %s", op)
	}
	return err
}

// OpenCredit turns a credit sale into an ACTIVE credit with its installment plan. The
// credit, its installments, the down payment movement and the client's balance
// projection are written in one storage transaction.
func (l *Ledger) OpenCredit(ctx context.Context, req OpenRequest) (*models.Credit, error) {
	log := l.logger.WithFields(logrus.Fields{"client_id": req.ClientID, "sale_id": req.SaleID})

	term, err := terms.ParseTerm(req.Term)
	if err != nil {
		return nil, l.fail(log, "open credit", err)
	}

	unlock := l.locks.Lock(req.ClientID)
	defer unlock()

	var credit *models.Credit
	err = l.storage.InTx(ctx, func(repo store.Repository) error {
		if _, err := repo.LockClient(ctx, req.ClientID); err != nil {
			return err
		}
		sale, err := l.creditableSale(ctx, repo, req)
		if err != nil {
			return err
		}
		quote, err := l.quote(sale.Total, term, req)
		if err != nil {
			return err
		}
		if !l.policy.Round(quote.Obligation()).IsPositive() {
			return models.Invalid(models.ErrInvalidAmount, "nothing left to finance on sale %s after down payment %s", sale.ID, quote.DownPayment)
		}

		existing, err := repo.ListCreditsByClient(ctx, req.ClientID)
		if err != nil {
			return err
		}
		for _, c := range existing {
			if c.Status == models.CreditStatusActive && c.RemainingBalance.IsPositive() {
				return models.Invalid(models.ErrDuplicateActiveCredit, "client %s has credit %s", req.ClientID, c.ID)
			}
		}

		now := l.clock()
		credit = &models.Credit{
			ID:               uuid.New(),
			SaleID:           sale.ID,
			ClientID:         req.ClientID,
			TotalAmount:      quote.Total,
			DownPayment:      quote.DownPayment,
			FinancedBalance:  quote.FinancedBalance,
			InterestAmount:   quote.Interest,
			InterestRate:     quote.InterestRate,
			TermMonths:       term.Months(),
			RemainingBalance: l.policy.Round(quote.Obligation()),
			Status:           models.CreditStatusActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := repo.CreateCredit(ctx, credit); err != nil {
			return err
		}
		if _, err := l.generator.Seed(ctx, repo, credit, sale.SoldAt); err != nil {
			return err
		}
		if credit.DownPayment.IsPositive() {
			if err := repo.CreateTransaction(ctx, &models.Transaction{
				ID:        uuid.New(),
				CreditID:  credit.ID,
				Amount:    credit.DownPayment,
				Type:      models.TransactionTypeDownPayment,
				Timestamp: now,
			}); err != nil {
				return err
			}
		}
		_, err = l.reconciler.Recompute(ctx, repo, req.ClientID)
		return err
	})
	if err != nil {
		return nil, l.fail(log, "open credit", err)
	}

	log.WithFields(logrus.Fields{
		"credit_id": credit.ID,
		"term":      credit.TermMonths,
		"remaining": credit.RemainingBalance.StringFixed(l.policy.Scale),
	}).Info("Opened credit")
	return credit, nil
}

func (l *Ledger) creditableSale(ctx context.Context, repo store.Repository, req OpenRequest) (*models.Sale, error) {
	sale, err := repo.GetSale(ctx, req.SaleID)
	if err != nil {
		return nil, err
	}
	switch {
	case sale.ClientID != req.ClientID:
		return nil, models.Invalid(models.ErrSaleClientMismatch, "sale %s belongs to client %s", sale.ID, sale.ClientID)
	case !sale.IsCredit:
		return nil, models.Invalid(models.ErrSaleNotCredit, "sale %s", sale.ID)
	case sale.Voided:
		return nil, models.Invalid(models.ErrSaleVoided, "sale %s", sale.ID)
	}

	if existing, err := repo.GetCreditBySale(ctx, sale.ID); err == nil {
		return nil, models.Invalid(models.ErrSaleAlreadyCredited, "sale %s has credit %s", sale.ID, existing.ID)
	} else if !errors.Is(err, models.ErrCreditNotFound) {
		return nil, err
	}
	return sale, nil
}

func (l *Ledger) quote(total decimal.Decimal, term terms.Term, req OpenRequest) (terms.Quote, error) {
	if req.DownPayment == nil && req.InterestRate == nil {
		return l.policy.Compute(total, term)
	}
	down := total.Mul(l.policy.DownPaymentRatio)
	if req.DownPayment != nil {
		down = *req.DownPayment
	}
	rate := l.policy.InterestRate
	if req.InterestRate != nil {
		rate = *req.InterestRate
	}
	return l.policy.ComputeWithDownPayment(total, down, term, rate)
}

// PayInstallment settles one installment of an ACTIVE credit. The tendered amount must
// cover the installment value; any excess is reported but not kept.
func (l *Ledger) PayInstallment(ctx context.Context, creditID uuid.UUID, sequence int, amount decimal.Decimal) (*models.PaymentResult, error) {
	log := l.logger.WithFields(logrus.Fields{"credit_id": creditID, "sequence": sequence})

	owner, err := l.storage.GetCredit(ctx, creditID)
	if err != nil {
		return nil, l.fail(log, "pay installment", err)
	}
	log = log.WithField("client_id", owner.ClientID)

	unlock := l.locks.Lock(owner.ClientID)
	defer unlock()

	var result *models.PaymentResult
	err = l.storage.InTx(ctx, func(repo store.Repository) error {
		if _, err := repo.LockClient(ctx, owner.ClientID); err != nil {
			return err
		}
		credit, err := repo.GetCredit(ctx, creditID)
		if err != nil {
			return err
		}
		if credit.Status != models.CreditStatusActive {
			return models.Invalid(models.ErrCreditNotActive, "credit %s is %s", credit.ID, credit.Status)
		}
		inst, err := repo.GetInstallment(ctx, creditID, sequence)
		if err != nil {
			return err
		}
		if inst.Paid {
			return models.Invalid(models.ErrInstallmentAlreadyPaid, "installment %d of credit %s", sequence, creditID)
		}
		if amount.LessThan(inst.Value) {
			return models.Invalid(models.ErrInsufficientAmount, "tendered %s, installment value is %s", amount, inst.Value)
		}
		// Only reachable for an installment that rounded to zero.
		if !amount.IsPositive() {
			return models.Invalid(models.ErrInvalidAmount, "amount %s must be positive", amount)
		}

		now := l.clock()
		if err := repo.MarkInstallmentPaid(ctx, creditID, sequence, now); err != nil {
			return err
		}
		inst.Paid = true
		inst.PaidAt = &now

		credit.RemainingBalance = decimal.Max(decimal.Zero, credit.RemainingBalance.Sub(inst.Value))
		credit.UpdatedAt = now

		installments, err := repo.ListInstallments(ctx, creditID)
		if err != nil {
			return err
		}
		closed := allPaid(installments)
		if closed {
			credit.Status = models.CreditStatusClosed
			credit.RemainingBalance = decimal.Zero
		}
		if err := repo.UpdateCredit(ctx, credit); err != nil {
			return err
		}
		if err := repo.CreateTransaction(ctx, &models.Transaction{
			ID:        uuid.New(),
			CreditID:  creditID,
			Sequence:  sequence,
			Amount:    inst.Value,
			Type:      models.TransactionTypePayment,
			Timestamp: now,
		}); err != nil {
			return err
		}
		if _, err := l.reconciler.Recompute(ctx, repo, credit.ClientID); err != nil {
			return err
		}

		result = &models.PaymentResult{
			Credit:         credit,
			Installment:    inst,
			AmountTendered: amount,
			AmountApplied:  inst.Value,
			Closed:         closed,
		}
		return nil
	})
	if err != nil {
		return nil, l.fail(log, "pay installment", err)
	}

	entry := log.WithFields(logrus.Fields{
		"applied":   result.AmountApplied.StringFixed(l.policy.Scale),
		"remaining": result.Credit.RemainingBalance.StringFixed(l.policy.Scale),
	})
	if excess := amount.Sub(result.AmountApplied); excess.IsPositive() {
		entry = entry.WithField("excess", excess.StringFixed(l.policy.Scale))
	}
	entry.Info("Installment paid")
	if result.Closed {
		log.Info("Credit closed")
	}
	return result, nil
}

func allPaid(installments []*models.Installment) bool {
	if len(installments) == 0 {
		return false
	}
	for _, inst := range installments {
		if !inst.Paid {
			return false
		}
	}
	return true
}

// CancelCredit cancels an ACTIVE credit, voids its sale and takes it off the client's
// balance projection. The installment plan is dropped unless something was paid on it.
func (l *Ledger) CancelCredit(ctx context.Context, creditID uuid.UUID) error {
	log := l.logger.WithField("credit_id", creditID)

	owner, err := l.storage.GetCredit(ctx, creditID)
	if err != nil {
		return l.fail(log, "cancel credit", err)
	}
	log = log.WithField("client_id", owner.ClientID)

	unlock := l.locks.Lock(owner.ClientID)
	defer unlock()

	var obligation decimal.Decimal
	err = l.storage.InTx(ctx, func(repo store.Repository) error {
		if _, err := repo.LockClient(ctx, owner.ClientID); err != nil {
			return err
		}
		credit, err := repo.GetCredit(ctx, creditID)
		if err != nil {
			return err
		}
		if !models.CanTransition(credit.Status, models.CreditStatusCancelled) {
			return models.Invalid(models.ErrCreditNotActive, "credit %s is %s", credit.ID, credit.Status)
		}

		installments, err := repo.ListInstallments(ctx, creditID)
		if err != nil {
			return err
		}

		now := l.clock()
		obligation = l.policy.Round(credit.Obligation())
		credit.Status = models.CreditStatusCancelled
		credit.RemainingBalance = decimal.Zero
		credit.UpdatedAt = now
		if err := repo.UpdateCredit(ctx, credit); err != nil {
			return err
		}
		if err := repo.VoidSale(ctx, credit.SaleID); err != nil {
			return err
		}
		if !anyPaid(installments) {
			if err := repo.DeleteInstallments(ctx, creditID); err != nil {
				return err
			}
		}
		if err := repo.CreateTransaction(ctx, &models.Transaction{
			ID:        uuid.New(),
			CreditID:  creditID,
			Amount:    obligation,
			Type:      models.TransactionTypeCancel,
			Timestamp: now,
		}); err != nil {
			return err
		}

		if l.reversal == ReversalRecompute {
			_, err = l.reconciler.Recompute(ctx, repo, credit.ClientID)
		} else {
			_, err = l.reconciler.Reverse(ctx, repo, credit.ClientID, obligation)
		}
		return err
	})
	if err != nil {
		return l.fail(log, "cancel credit", err)
	}

	log.WithField("obligation", obligation.StringFixed(l.policy.Scale)).Info("Cancelled credit")
	return nil
}

func anyPaid(installments []*models.Installment) bool {
	for _, inst := range installments {
		if inst.Paid {
			return true
		}
	}
	return false
}

// GetCreditStatus returns a credit with its installments and payment counters.
func (l *Ledger) GetCreditStatus(ctx context.Context, creditID uuid.UUID) (*models.CreditSnapshot, error) {
	credit, err := l.storage.GetCredit(ctx, creditID)
	if err != nil {
		return nil, models.WrapStorage("get credit", err)
	}
	installments, err := l.storage.ListInstallments(ctx, creditID)
	if err != nil {
		return nil, models.WrapStorage("list installments", err)
	}
	if installments == nil {
		installments = []*models.Installment{}
	}

	snapshot := &models.CreditSnapshot{Credit: credit, Installments: installments}
	asOf := l.clock()
	for _, inst := range installments {
		if inst.Paid {
			snapshot.PaidCount++
			continue
		}
		snapshot.UnpaidCount++
		if credit.Status == models.CreditStatusActive && delinquency.IsOverdue(inst, asOf) {
			snapshot.OverdueCount++
		}
		if snapshot.NextDue == nil {
			snapshot.NextDue = inst
		}
	}
	return snapshot, nil
}

// ListClientCredits returns every credit of a client, oldest first.
func (l *Ledger) ListClientCredits(ctx context.Context, clientID string) ([]*models.Credit, error) {
	if _, err := l.storage.GetClient(ctx, clientID); err != nil {
		return nil, models.WrapStorage("get client", err)
	}
	credits, err := l.storage.ListCreditsByClient(ctx, clientID)
	if err != nil {
		return nil, models.WrapStorage("list client credits", err)
	}
	if credits == nil {
		credits = []*models.Credit{}
	}
	return credits, nil
}

// ListTransactions returns the movement journal of a credit.
func (l *Ledger) ListTransactions(ctx context.Context, creditID uuid.UUID) ([]*models.Transaction, error) {
	if _, err := l.storage.GetCredit(ctx, creditID); err != nil {
		return nil, models.WrapStorage("get credit", err)
	}
	transactions, err := l.storage.GetTransactionsForCredit(ctx, creditID)
	if err != nil {
		return nil, models.WrapStorage("list transactions", err)
	}
	if transactions == nil {
		transactions = []*models.Transaction{}
	}
	return transactions, nil
}

// ListOverdueInstallments returns the client's unpaid installments due before asOf.
func (l *Ledger) ListOverdueInstallments(ctx context.Context, clientID string, asOf time.Time) ([]*models.Installment, error) {
	if _, err := l.storage.GetClient(ctx, clientID); err != nil {
		return nil, models.WrapStorage("get client", err)
	}
	return l.evaluator.ListOverdue(ctx, clientID, asOf)
}

// ListDelinquentCredits returns the ACTIVE credits with an overdue installment.
func (l *Ledger) ListDelinquentCredits(ctx context.Context, asOf time.Time) ([]*models.Credit, error) {
	return l.evaluator.ListDelinquentCredits(ctx, asOf)
}

// GetClientBalance returns the client's cached balance projection without touching it.
func (l *Ledger) GetClientBalance(ctx context.Context, clientID string) (*models.BalanceProjection, error) {
	client, err := l.storage.GetClient(ctx, clientID)
	if err != nil {
		return nil, models.WrapStorage("get client", err)
	}
	return &models.BalanceProjection{
		ClientID:           client.ID,
		OutstandingBalance: client.OutstandingBalance,
		AvailableCredit:    client.AvailableCredit,
	}, nil
}

// ReconcileClient recomputes and stores a client's balance projection.
func (l *Ledger) ReconcileClient(ctx context.Context, clientID string) (*models.BalanceProjection, error) {
	unlock := l.locks.Lock(clientID)
	defer unlock()

	var projection *models.BalanceProjection
	err := l.storage.InTx(ctx, func(repo store.Repository) error {
		if _, err := repo.LockClient(ctx, clientID); err != nil {
			return err
		}
		var err error
		projection, err = l.reconciler.Recompute(ctx, repo, clientID)
		return err
	})
	if err != nil {
		return nil, models.WrapStorage("reconcile client", err)
	}
	return projection, nil
}
