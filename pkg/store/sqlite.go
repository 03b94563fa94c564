package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// SQLite keeps decimal fields in TEXT columns so no precision is lost.
const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		credit_limit TEXT NOT NULL DEFAULT '0',
		outstanding_balance TEXT NOT NULL DEFAULT '0',
		available_credit TEXT NOT NULL DEFAULT '0',
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		total TEXT NOT NULL,
		is_credit BOOLEAN NOT NULL DEFAULT 0,
		sold_at DATETIME NOT NULL,
		voided BOOLEAN NOT NULL DEFAULT 0,
		FOREIGN KEY(client_id) REFERENCES clients(id)
	);
	CREATE TABLE IF NOT EXISTS credits (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL UNIQUE,
		client_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		down_payment TEXT NOT NULL,
		financed_balance TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		remaining_balance TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(sale_id) REFERENCES sales(id),
		FOREIGN KEY(client_id) REFERENCES clients(id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS credits_active_client_idx ON credits(client_id) WHERE status = 'ACTIVE';
	CREATE TABLE IF NOT EXISTS installments (
		credit_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		id TEXT NOT NULL UNIQUE,
		value TEXT NOT NULL,
		due_date DATETIME NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT 0,
		paid_at DATETIME,
		PRIMARY KEY(credit_id, sequence),
		FOREIGN KEY(credit_id) REFERENCES credits(id)
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		credit_id TEXT NOT NULL,
		sequence INTEGER NOT NULL DEFAULT 0,
		amount TEXT NOT NULL,
		type TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY(credit_id) REFERENCES credits(id)
	);
	`

var sqliteDialect = dialect{
	name:            "sqlite3",
	uniqueViolation: sqliteUniqueViolation,
}

// NewSQLiteStore opens (or creates) a SQLite database and initializes the schema.
// Transactions take the write lock when they begin, so concurrent writers queue on
// the busy timeout instead of failing half way.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := newSQLStore(db, sqliteDialect)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{SQLStore: s}, nil
}

// SQLiteStore is a SQLStore backed by a SQLite file.
type SQLiteStore struct {
	*SQLStore
}

func sqliteDSN(dsn string) string {
	params := []string{"_foreign_keys=on", "_txlock=immediate", "_busy_timeout=5000"}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func sqliteUniqueViolation(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return sqliteErr.Error(), true
	}
	return "", false
}
