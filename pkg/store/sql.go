package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/shopspring/decimal"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name            string
	numbered        bool   // $1 placeholders instead of ?
	forUpdate       string // row lock suffix for LockClient
	uniqueViolation func(err error) (constraint string, ok bool)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLStore manages a database/sql connection and implements Storage on top of it.
type SQLStore struct {
	*sqlRepo
	db *sql.DB
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{sqlRepo: &sqlRepo{q: db, d: d}, db: db}
}

// InTx runs fn inside a database transaction.
func (s *SQLStore) InTx(ctx context.Context, fn func(repo Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlRepo{q: tx, d: s.d}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Migrate creates the tables for the store's dialect if they don't already exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.d.name == postgresDialect.name {
		schema = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("could not initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for health checks.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

type sqlRepo struct {
	q querier
	d dialect
}

func (r *sqlRepo) bind(query string) string {
	if !r.d.numbered {
		return query
	}
	return rebind(query)
}

// rebind rewrites ? placeholders as $1, $2, ...
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

const creditColumns = `id, sale_id, client_id, total_amount, down_payment, financed_balance, interest_amount, interest_rate, term_months, remaining_balance, status, created_at, updated_at`

func scanCredit(row rowScanner) (*models.Credit, error) {
	var credit models.Credit
	var idStr, status string
	if err := row.Scan(&idStr, &credit.SaleID, &credit.ClientID, &credit.TotalAmount, &credit.DownPayment, &credit.FinancedBalance, &credit.InterestAmount, &credit.InterestRate, &credit.TermMonths, &credit.RemainingBalance, &status, &credit.CreatedAt, &credit.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid credit id %q: %w", idStr, err)
	}
	credit.ID = id
	credit.Status = models.CreditStatus(status)
	return &credit, nil
}

func (r *sqlRepo) scanCredits(rows *sql.Rows) ([]*models.Credit, error) {
	var credits []*models.Credit
	for rows.Next() {
		credit, err := scanCredit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit row: %w", err)
		}
		credits = append(credits, credit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return credits, nil
}

// CreateCredit inserts a new credit. A second ACTIVE credit for the client or a second
// credit for the sale is rejected by the schema's unique indexes.
func (r *sqlRepo) CreateCredit(ctx context.Context, credit *models.Credit) error {
	_, err := r.q.ExecContext(ctx, r.bind(`INSERT INTO credits (`+creditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		credit.ID.String(), credit.SaleID, credit.ClientID, credit.TotalAmount, credit.DownPayment, credit.FinancedBalance, credit.InterestAmount, credit.InterestRate, credit.TermMonths, credit.RemainingBalance, string(credit.Status), credit.CreatedAt, credit.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := r.d.uniqueViolation(err); ok {
			switch {
			case strings.Contains(constraint, "sale_id"):
				return models.Invalid(models.ErrSaleAlreadyCredited, "sale %s", credit.SaleID)
			case strings.Contains(constraint, "client"):
				return models.Invalid(models.ErrDuplicateActiveCredit, "client %s", credit.ClientID)
			}
		}
		return fmt.Errorf("failed to create credit: %w", err)
	}
	return nil
}

// GetCredit retrieves a credit by its ID.
func (r *sqlRepo) GetCredit(ctx context.Context, id uuid.UUID) (*models.Credit, error) {
	row := r.q.QueryRowContext(ctx, r.bind(`SELECT `+creditColumns+` FROM credits WHERE id = ?`), id.String())
	credit, err := scanCredit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrCreditNotFound
		}
		return nil, fmt.Errorf("failed to get credit: %w", err)
	}
	return credit, nil
}

// GetCreditBySale retrieves the credit originated by a sale.
func (r *sqlRepo) GetCreditBySale(ctx context.Context, saleID string) (*models.Credit, error) {
	row := r.q.QueryRowContext(ctx, r.bind(`SELECT `+creditColumns+` FROM credits WHERE sale_id = ?`), saleID)
	credit, err := scanCredit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrCreditNotFound
		}
		return nil, fmt.Errorf("failed to get credit for sale %s: %w", saleID, err)
	}
	return credit, nil
}

// UpdateCredit writes the mutable fields of a credit.
func (r *sqlRepo) UpdateCredit(ctx context.Context, credit *models.Credit) error {
	result, err := r.q.ExecContext(ctx, r.bind(`UPDATE credits SET remaining_balance = ?, status = ?, updated_at = ? WHERE id = ?`),
		credit.RemainingBalance, string(credit.Status), credit.UpdatedAt, credit.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrCreditNotFound
	}
	return nil
}

// ListCreditsByClient retrieves every credit of a client, oldest first.
func (r *sqlRepo) ListCreditsByClient(ctx context.Context, clientID string) ([]*models.Credit, error) {
	rows, err := r.q.QueryContext(ctx, r.bind(`SELECT `+creditColumns+` FROM credits WHERE client_id = ? ORDER BY created_at ASC`), clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credits for client %s: %w", clientID, err)
	}
	defer rows.Close()

	return r.scanCredits(rows)
}

// ListCreditsByStatus retrieves all credits in a status, oldest first.
func (r *sqlRepo) ListCreditsByStatus(ctx context.Context, status models.CreditStatus) ([]*models.Credit, error) {
	rows, err := r.q.QueryContext(ctx, r.bind(`SELECT `+creditColumns+` FROM credits WHERE status = ? ORDER BY created_at ASC`), string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s credits: %w", status, err)
	}
	defer rows.Close()

	return r.scanCredits(rows)
}

const installmentColumns = `id, credit_id, sequence, value, due_date, paid, paid_at`

func scanInstallment(row rowScanner) (*models.Installment, error) {
	var inst models.Installment
	var idStr, creditIDStr string
	var paidAt sql.NullTime
	if err := row.Scan(&idStr, &creditIDStr, &inst.Sequence, &inst.Value, &inst.DueDate, &inst.Paid, &paidAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid installment id %q: %w", idStr, err)
	}
	creditID, err := uuid.Parse(creditIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid credit id %q: %w", creditIDStr, err)
	}
	inst.ID = id
	inst.CreditID = creditID
	if paidAt.Valid {
		inst.PaidAt = &paidAt.Time
	}
	return &inst, nil
}

// CreateInstallments inserts a full installment batch.
func (r *sqlRepo) CreateInstallments(ctx context.Context, installments []*models.Installment) error {
	query := r.bind(`INSERT INTO installments (` + installmentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for _, inst := range installments {
		var paidAt sql.NullTime
		if inst.PaidAt != nil {
			paidAt = sql.NullTime{Time: *inst.PaidAt, Valid: true}
		}
		if _, err := r.q.ExecContext(ctx, query, inst.ID.String(), inst.CreditID.String(), inst.Sequence, inst.Value, inst.DueDate, inst.Paid, paidAt); err != nil {
			return fmt.Errorf("failed to create installment %d: %w", inst.Sequence, err)
		}
	}
	return nil
}

// GetInstallment retrieves one installment by its natural key.
func (r *sqlRepo) GetInstallment(ctx context.Context, creditID uuid.UUID, sequence int) (*models.Installment, error) {
	row := r.q.QueryRowContext(ctx, r.bind(`SELECT `+installmentColumns+` FROM installments WHERE credit_id = ? AND sequence = ?`), creditID.String(), sequence)
	inst, err := scanInstallment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrInstallmentNotFound
		}
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return inst, nil
}

// ListInstallments retrieves a credit's installments in sequence order.
func (r *sqlRepo) ListInstallments(ctx context.Context, creditID uuid.UUID) ([]*models.Installment, error) {
	rows, err := r.q.QueryContext(ctx, r.bind(`SELECT `+installmentColumns+` FROM installments WHERE credit_id = ? ORDER BY sequence ASC`), creditID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list installments for credit %s: %w", creditID, err)
	}
	defer rows.Close()

	var installments []*models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return installments, nil
}

// MarkInstallmentPaid flags an unpaid installment as paid.
func (r *sqlRepo) MarkInstallmentPaid(ctx context.Context, creditID uuid.UUID, sequence int, paidAt time.Time) error {
	result, err := r.q.ExecContext(ctx, r.bind(`UPDATE installments SET paid = ?, paid_at = ? WHERE credit_id = ? AND sequence = ? AND paid = ?`),
		true, paidAt, creditID.String(), sequence, false,
	)
	if err != nil {
		return fmt.Errorf("failed to mark installment paid: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := r.GetInstallment(ctx, creditID, sequence); err != nil {
			return err
		}
		return models.ErrInstallmentAlreadyPaid
	}
	return nil
}

// DeleteInstallments removes a credit's whole installment batch.
func (r *sqlRepo) DeleteInstallments(ctx context.Context, creditID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, r.bind(`DELETE FROM installments WHERE credit_id = ?`), creditID.String()); err != nil {
		return fmt.Errorf("failed to delete installments for credit %s: %w", creditID, err)
	}
	return nil
}

// CreateTransaction inserts a journal movement.
func (r *sqlRepo) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	_, err := r.q.ExecContext(ctx, r.bind(`INSERT INTO transactions (id, credit_id, sequence, amount, type, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`),
		transaction.ID.String(), transaction.CreditID.String(), transaction.Sequence, transaction.Amount, string(transaction.Type), transaction.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransactionsForCredit retrieves all journal movements of a credit.
func (r *sqlRepo) GetTransactionsForCredit(ctx context.Context, creditID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, r.bind(`SELECT id, credit_id, sequence, amount, type, timestamp FROM transactions WHERE credit_id = ? ORDER BY timestamp ASC, sequence ASC`), creditID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for credit %s: %w", creditID, err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		var transaction models.Transaction
		var txIDStr, creditIDStr, txType string
		if err := rows.Scan(&txIDStr, &creditIDStr, &transaction.Sequence, &transaction.Amount, &txType, &transaction.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		if transaction.ID, err = uuid.Parse(txIDStr); err != nil {
			return nil, fmt.Errorf("invalid transaction id %q: %w", txIDStr, err)
		}
		if transaction.CreditID, err = uuid.Parse(creditIDStr); err != nil {
			return nil, fmt.Errorf("invalid credit id %q: %w", creditIDStr, err)
		}
		transaction.Type = models.TransactionType(txType)
		transactions = append(transactions, &transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for credit transactions: %w", err)
	}
	return transactions, nil
}

// CreateSale inserts a sale record.
func (r *sqlRepo) CreateSale(ctx context.Context, sale *models.Sale) error {
	_, err := r.q.ExecContext(ctx, r.bind(`INSERT INTO sales (id, client_id, total, is_credit, sold_at, voided) VALUES (?, ?, ?, ?, ?, ?)`),
		sale.ID, sale.ClientID, sale.Total, sale.IsCredit, sale.SoldAt, sale.Voided,
	)
	if err != nil {
		return fmt.Errorf("failed to create sale: %w", err)
	}
	return nil
}

// GetSale retrieves a sale by its ID.
func (r *sqlRepo) GetSale(ctx context.Context, id string) (*models.Sale, error) {
	var sale models.Sale
	row := r.q.QueryRowContext(ctx, r.bind(`SELECT id, client_id, total, is_credit, sold_at, voided FROM sales WHERE id = ?`), id)
	if err := row.Scan(&sale.ID, &sale.ClientID, &sale.Total, &sale.IsCredit, &sale.SoldAt, &sale.Voided); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrSaleNotFound
		}
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}
	return &sale, nil
}

// VoidSale marks a sale as voided.
func (r *sqlRepo) VoidSale(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, r.bind(`UPDATE sales SET voided = ? WHERE id = ?`), true, id)
	if err != nil {
		return fmt.Errorf("failed to void sale: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrSaleNotFound
	}
	return nil
}

const clientColumns = `id, name, credit_limit, outstanding_balance, available_credit, updated_at`

func scanClient(row rowScanner) (*models.Client, error) {
	var client models.Client
	if err := row.Scan(&client.ID, &client.Name, &client.CreditLimit, &client.OutstandingBalance, &client.AvailableCredit, &client.UpdatedAt); err != nil {
		return nil, err
	}
	return &client, nil
}

// CreateClient inserts a client record.
func (r *sqlRepo) CreateClient(ctx context.Context, client *models.Client) error {
	_, err := r.q.ExecContext(ctx, r.bind(`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		client.ID, client.Name, client.CreditLimit, client.OutstandingBalance, client.AvailableCredit, client.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func (r *sqlRepo) getClient(ctx context.Context, id, suffix string) (*models.Client, error) {
	row := r.q.QueryRowContext(ctx, r.bind(`SELECT `+clientColumns+` FROM clients WHERE id = ?`+suffix), id)
	client, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return client, nil
}

// GetClient retrieves a client by its ID.
func (r *sqlRepo) GetClient(ctx context.Context, id string) (*models.Client, error) {
	return r.getClient(ctx, id, "")
}

// LockClient retrieves a client and locks its row for the rest of the transaction.
func (r *sqlRepo) LockClient(ctx context.Context, id string) (*models.Client, error) {
	return r.getClient(ctx, id, r.d.forUpdate)
}

// ListClients retrieves all clients.
func (r *sqlRepo) ListClients(ctx context.Context) ([]*models.Client, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client row: %w", err)
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return clients, nil
}

// UpdateClientBalance overwrites a client's balance projection.
func (r *sqlRepo) UpdateClientBalance(ctx context.Context, id string, outstanding, available decimal.Decimal) error {
	result, err := r.q.ExecContext(ctx, r.bind(`UPDATE clients SET outstanding_balance = ?, available_credit = ?, updated_at = ? WHERE id = ?`),
		outstanding, available, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update client balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrClientNotFound
	}
	return nil
}
