package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Storage. InTx works on a copy of the data and swaps it
// in only when the callback succeeds, so a failed operation leaves nothing behind.
// It is used by tests and by the "memory" database driver.
type MemoryStore struct {
	mu       sync.Mutex
	data     *memData
	failures map[string]error
}

type installmentKey struct {
	creditID uuid.UUID
	sequence int
}

type memData struct {
	credits      map[uuid.UUID]*models.Credit
	installments map[installmentKey]*models.Installment
	transactions []*models.Transaction
	sales        map[string]*models.Sale
	clients      map[string]*models.Client
}

func newMemData() *memData {
	return &memData{
		credits:      make(map[uuid.UUID]*models.Credit),
		installments: make(map[installmentKey]*models.Installment),
		sales:        make(map[string]*models.Sale),
		clients:      make(map[string]*models.Client),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.credits {
		c.credits[k] = copyCredit(v)
	}
	for k, v := range d.installments {
		c.installments[k] = copyInstallment(v)
	}
	c.transactions = make([]*models.Transaction, len(d.transactions))
	for i, v := range d.transactions {
		tx := *v
		c.transactions[i] = &tx
	}
	for k, v := range d.sales {
		sale := *v
		c.sales[k] = &sale
	}
	for k, v := range d.clients {
		client := *v
		c.clients[k] = &client
	}
	return c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData(), failures: make(map[string]error)}
}

// FailOn makes every later call of the named Repository method return err.
// A nil err clears the failure.
func (m *MemoryStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *MemoryStore) repo() *memRepo {
	return &memRepo{data: m.data, failures: m.failures}
}

// InTx runs fn against a private copy of the data.
func (m *MemoryStore) InTx(ctx context.Context, fn func(repo Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	working := m.data.clone()
	if err := fn(&memRepo{data: working, failures: m.failures}); err != nil {
		return err
	}
	m.data = working
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) CreateCredit(ctx context.Context, credit *models.Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().CreateCredit(ctx, credit)
}

func (m *MemoryStore) GetCredit(ctx context.Context, id uuid.UUID) (*models.Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().GetCredit(ctx, id)
}

func (m *MemoryStore) GetCreditBySale(ctx context.Context, saleID string) (*models.Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().GetCreditBySale(ctx, saleID)
}

func (m *MemoryStore) UpdateCredit(ctx context.Context, credit *models.Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().UpdateCredit(ctx, credit)
}

func (m *MemoryStore) ListCreditsByClient(ctx context.Context, clientID string) ([]*models.Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().ListCreditsByClient(ctx, clientID)
}

func (m *MemoryStore) ListCreditsByStatus(ctx context.Context, status models.CreditStatus) ([]*models.Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().ListCreditsByStatus(ctx, status)
}

func (m *MemoryStore) CreateInstallments(ctx context.Context, installments []*models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().CreateInstallments(ctx, installments)
}

func (m *MemoryStore) GetInstallment(ctx context.Context, creditID uuid.UUID, sequence int) (*models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().GetInstallment(ctx, creditID, sequence)
}

func (m *MemoryStore) ListInstallments(ctx context.Context, creditID uuid.UUID) ([]*models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().ListInstallments(ctx, creditID)
}

func (m *MemoryStore) MarkInstallmentPaid(ctx context.Context, creditID uuid.UUID, sequence int, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().MarkInstallmentPaid(ctx, creditID, sequence, paidAt)
}

func (m *MemoryStore) DeleteInstallments(ctx context.Context, creditID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().DeleteInstallments(ctx, creditID)
}

func (m *MemoryStore) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().CreateTransaction(ctx, transaction)
}

func (m *MemoryStore) GetTransactionsForCredit(ctx context.Context, creditID uuid.UUID) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().GetTransactionsForCredit(ctx, creditID)
}

func (m *MemoryStore) CreateSale(ctx context.Context, sale *models.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().CreateSale(ctx, sale)
}

func (m *MemoryStore) GetSale(ctx context.Context, id string) (*models.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().GetSale(ctx, id)
}

func (m *MemoryStore) VoidSale(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().VoidSale(ctx, id)
}

func (m *MemoryStore) CreateClient(ctx context.Context, client *models.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().CreateClient(ctx, client)
}

func (m *MemoryStore) GetClient(ctx context.Context, id string) (*models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().GetClient(ctx, id)
}

func (m *MemoryStore) LockClient(ctx context.Context, id string) (*models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().LockClient(ctx, id)
}

func (m *MemoryStore) ListClients(ctx context.Context) ([]*models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().ListClients(ctx)
}

func (m *MemoryStore) UpdateClientBalance(ctx context.Context, id string, outstanding, available decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo().UpdateClientBalance(ctx, id, outstanding, available)
}

// memRepo operates on one memData snapshot. Callers hold the store mutex.
type memRepo struct {
	data     *memData
	failures map[string]error
}

func (r *memRepo) fail(method string) error {
	if err, ok := r.failures[method]; ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func copyCredit(c *models.Credit) *models.Credit {
	credit := *c
	return &credit
}

func copyInstallment(i *models.Installment) *models.Installment {
	inst := *i
	if i.PaidAt != nil {
		paidAt := *i.PaidAt
		inst.PaidAt = &paidAt
	}
	return &inst
}

func (r *memRepo) CreateCredit(_ context.Context, credit *models.Credit) error {
	if err := r.fail("CreateCredit"); err != nil {
		return err
	}
	if _, ok := r.data.credits[credit.ID]; ok {
		return fmt.Errorf("credit %s already exists", credit.ID)
	}
	for _, existing := range r.data.credits {
		if existing.SaleID == credit.SaleID {
			return models.Invalid(models.ErrSaleAlreadyCredited, "sale %s", credit.SaleID)
		}
		if credit.Status == models.CreditStatusActive && existing.ClientID == credit.ClientID && existing.Status == models.CreditStatusActive {
			return models.Invalid(models.ErrDuplicateActiveCredit, "client %s", credit.ClientID)
		}
	}
	r.data.credits[credit.ID] = copyCredit(credit)
	return nil
}

func (r *memRepo) GetCredit(_ context.Context, id uuid.UUID) (*models.Credit, error) {
	if err := r.fail("GetCredit"); err != nil {
		return nil, err
	}
	credit, ok := r.data.credits[id]
	if !ok {
		return nil, models.ErrCreditNotFound
	}
	return copyCredit(credit), nil
}

func (r *memRepo) GetCreditBySale(_ context.Context, saleID string) (*models.Credit, error) {
	if err := r.fail("GetCreditBySale"); err != nil {
		return nil, err
	}
	for _, credit := range r.data.credits {
		if credit.SaleID == saleID {
			return copyCredit(credit), nil
		}
	}
	return nil, models.ErrCreditNotFound
}

func (r *memRepo) UpdateCredit(_ context.Context, credit *models.Credit) error {
	if err := r.fail("UpdateCredit"); err != nil {
		return err
	}
	existing, ok := r.data.credits[credit.ID]
	if !ok {
		return models.ErrCreditNotFound
	}
	existing.RemainingBalance = credit.RemainingBalance
	existing.Status = credit.Status
	existing.UpdatedAt = credit.UpdatedAt
	return nil
}

func (r *memRepo) listCredits(keep func(*models.Credit) bool) []*models.Credit {
	var credits []*models.Credit
	for _, credit := range r.data.credits {
		if keep(credit) {
			credits = append(credits, copyCredit(credit))
		}
	}
	sort.Slice(credits, func(i, j int) bool {
		if credits[i].CreatedAt.Equal(credits[j].CreatedAt) {
			return credits[i].ID.String() < credits[j].ID.String()
		}
		return credits[i].CreatedAt.Before(credits[j].CreatedAt)
	})
	return credits
}

func (r *memRepo) ListCreditsByClient(_ context.Context, clientID string) ([]*models.Credit, error) {
	if err := r.fail("ListCreditsByClient"); err != nil {
		return nil, err
	}
	return r.listCredits(func(c *models.Credit) bool { return c.ClientID == clientID }), nil
}

func (r *memRepo) ListCreditsByStatus(_ context.Context, status models.CreditStatus) ([]*models.Credit, error) {
	if err := r.fail("ListCreditsByStatus"); err != nil {
		return nil, err
	}
	return r.listCredits(func(c *models.Credit) bool { return c.Status == status }), nil
}

func (r *memRepo) CreateInstallments(_ context.Context, installments []*models.Installment) error {
	if err := r.fail("CreateInstallments"); err != nil {
		return err
	}
	for _, inst := range installments {
		if _, ok := r.data.credits[inst.CreditID]; !ok {
			return fmt.Errorf("installment %d references unknown credit %s", inst.Sequence, inst.CreditID)
		}
		key := installmentKey{creditID: inst.CreditID, sequence: inst.Sequence}
		if _, ok := r.data.installments[key]; ok {
			return fmt.Errorf("installment %d of credit %s already exists", inst.Sequence, inst.CreditID)
		}
		r.data.installments[key] = copyInstallment(inst)
	}
	return nil
}

func (r *memRepo) GetInstallment(_ context.Context, creditID uuid.UUID, sequence int) (*models.Installment, error) {
	if err := r.fail("GetInstallment"); err != nil {
		return nil, err
	}
	inst, ok := r.data.installments[installmentKey{creditID: creditID, sequence: sequence}]
	if !ok {
		return nil, models.ErrInstallmentNotFound
	}
	return copyInstallment(inst), nil
}

func (r *memRepo) ListInstallments(_ context.Context, creditID uuid.UUID) ([]*models.Installment, error) {
	if err := r.fail("ListInstallments"); err != nil {
		return nil, err
	}
	var installments []*models.Installment
	for key, inst := range r.data.installments {
		if key.creditID == creditID {
			installments = append(installments, copyInstallment(inst))
		}
	}
	sort.Slice(installments, func(i, j int) bool { return installments[i].Sequence < installments[j].Sequence })
	return installments, nil
}

func (r *memRepo) MarkInstallmentPaid(_ context.Context, creditID uuid.UUID, sequence int, paidAt time.Time) error {
	if err := r.fail("MarkInstallmentPaid"); err != nil {
		return err
	}
	inst, ok := r.data.installments[installmentKey{creditID: creditID, sequence: sequence}]
	if !ok {
		return models.ErrInstallmentNotFound
	}
	if inst.Paid {
		return models.ErrInstallmentAlreadyPaid
	}
	inst.Paid = true
	inst.PaidAt = &paidAt
	return nil
}

func (r *memRepo) DeleteInstallments(_ context.Context, creditID uuid.UUID) error {
	if err := r.fail("DeleteInstallments"); err != nil {
		return err
	}
	for key := range r.data.installments {
		if key.creditID == creditID {
			delete(r.data.installments, key)
		}
	}
	return nil
}

func (r *memRepo) CreateTransaction(_ context.Context, transaction *models.Transaction) error {
	if err := r.fail("CreateTransaction"); err != nil {
		return err
	}
	tx := *transaction
	r.data.transactions = append(r.data.transactions, &tx)
	return nil
}

func (r *memRepo) GetTransactionsForCredit(_ context.Context, creditID uuid.UUID) ([]*models.Transaction, error) {
	if err := r.fail("GetTransactionsForCredit"); err != nil {
		return nil, err
	}
	transactions := []*models.Transaction{}
	for _, t := range r.data.transactions {
		if t.CreditID == creditID {
			tx := *t
			transactions = append(transactions, &tx)
		}
	}
	return transactions, nil
}

func (r *memRepo) CreateSale(_ context.Context, sale *models.Sale) error {
	if err := r.fail("CreateSale"); err != nil {
		return err
	}
	if _, ok := r.data.sales[sale.ID]; ok {
		return fmt.Errorf("sale %s already exists", sale.ID)
	}
	s := *sale
	r.data.sales[sale.ID] = &s
	return nil
}

func (r *memRepo) GetSale(_ context.Context, id string) (*models.Sale, error) {
	if err := r.fail("GetSale"); err != nil {
		return nil, err
	}
	sale, ok := r.data.sales[id]
	if !ok {
		return nil, models.ErrSaleNotFound
	}
	s := *sale
	return &s, nil
}

func (r *memRepo) VoidSale(_ context.Context, id string) error {
	if err := r.fail("VoidSale"); err != nil {
		return err
	}
	sale, ok := r.data.sales[id]
	if !ok {
		return models.ErrSaleNotFound
	}
	sale.Voided = true
	return nil
}

func (r *memRepo) CreateClient(_ context.Context, client *models.Client) error {
	if err := r.fail("CreateClient"); err != nil {
		return err
	}
	if _, ok := r.data.clients[client.ID]; ok {
		return fmt.Errorf("client %s already exists", client.ID)
	}
	c := *client
	r.data.clients[client.ID] = &c
	return nil
}

func (r *memRepo) GetClient(_ context.Context, id string) (*models.Client, error) {
	if err := r.fail("GetClient"); err != nil {
		return nil, err
	}
	client, ok := r.data.clients[id]
	if !ok {
		return nil, models.ErrClientNotFound
	}
	c := *client
	return &c, nil
}

// LockClient is GetClient; the store mutex already serializes transactions.
func (r *memRepo) LockClient(ctx context.Context, id string) (*models.Client, error) {
	if err := r.fail("LockClient"); err != nil {
		return nil, err
	}
	return r.GetClient(ctx, id)
}

func (r *memRepo) ListClients(_ context.Context) ([]*models.Client, error) {
	if err := r.fail("ListClients"); err != nil {
		return nil, err
	}
	clients := make([]*models.Client, 0, len(r.data.clients))
	for _, client := range r.data.clients {
		c := *client
		clients = append(clients, &c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, nil
}

func (r *memRepo) UpdateClientBalance(_ context.Context, id string, outstanding, available decimal.Decimal) error {
	if err := r.fail("UpdateClientBalance"); err != nil {
		return err
	}
	client, ok := r.data.clients[id]
	if !ok {
		return models.ErrClientNotFound
	}
	client.OutstandingBalance = outstanding
	client.AvailableCredit = available
	client.UpdatedAt = time.Now().UTC()
	return nil
}
