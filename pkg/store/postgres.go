package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		credit_limit NUMERIC NOT NULL DEFAULT 0,
		outstanding_balance NUMERIC NOT NULL DEFAULT 0,
		available_credit NUMERIC NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id),
		total NUMERIC NOT NULL,
		is_credit BOOLEAN NOT NULL DEFAULT FALSE,
		sold_at TIMESTAMPTZ NOT NULL,
		voided BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE TABLE IF NOT EXISTS credits (
		id UUID PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		client_id TEXT NOT NULL REFERENCES clients(id),
		total_amount NUMERIC NOT NULL,
		down_payment NUMERIC NOT NULL,
		financed_balance NUMERIC NOT NULL,
		interest_amount NUMERIC NOT NULL,
		interest_rate NUMERIC NOT NULL,
		term_months INTEGER NOT NULL CHECK (term_months IN (12, 18, 24)),
		remaining_balance NUMERIC NOT NULL CHECK (remaining_balance >= 0),
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT credits_sale_id_key UNIQUE (sale_id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS credits_active_client_idx ON credits(client_id) WHERE status = 'ACTIVE';
	CREATE TABLE IF NOT EXISTS installments (
		credit_id UUID NOT NULL REFERENCES credits(id),
		sequence INTEGER NOT NULL,
		id UUID NOT NULL UNIQUE,
		value NUMERIC NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT FALSE,
		paid_at TIMESTAMPTZ,
		PRIMARY KEY (credit_id, sequence),
		CHECK (paid = (paid_at IS NOT NULL))
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		credit_id UUID NOT NULL REFERENCES credits(id),
		sequence INTEGER NOT NULL DEFAULT 0,
		amount NUMERIC NOT NULL,
		type TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	);
	`

const uniqueViolationCode = "23505"

var postgresDialect = dialect{
	name:            "postgres",
	numbered:        true,
	forUpdate:       " FOR UPDATE",
	uniqueViolation: postgresUniqueViolation,
}

// NewPostgresStore connects to PostgreSQL and initializes the schema.
func NewPostgresStore(ctx context.Context, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := NewPostgresStoreWithDB(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithDB wraps an already opened PostgreSQL pool without touching the schema.
func NewPostgresStoreWithDB(db *sql.DB) *SQLStore {
	return newSQLStore(db, postgresDialect)
}

func postgresUniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
		return pqErr.Constraint, true
	}
	return "", false
}
