// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sqlstore implements storage.Storage on SQLite or PostgreSQL.
//
// Every state transition that must happen at most once (consuming a code,
// rotating a refresh token, counting a webhook failure) is a single
// conditional UPDATE, so concurrent callers race on the database row and
// exactly one of them observes the change.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/storage"
)

// Dialect selects the SQL driver.
type Dialect string

const (
	// DialectSQLite uses the pure Go modernc.org/sqlite driver.
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres uses github.com/lib/pq.
	DialectPostgres Dialect = "postgres"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Store implements storage.Storage on a SQL database.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

var _ storage.Storage = (*Store)(nil)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Open connects to the database, applies migrations and returns a Store.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
		dsn = sqliteDSN(dsn)
	case DialectPostgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported storage dialect %q", dialect)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite allows one writer; a single connection turns lock contention
		// into queueing instead of SQLITE_BUSY errors.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(ctx, db.DB, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dialect: dialect}, nil
}

// sqliteDSN enables foreign keys and a busy timeout unless the caller set pragmas.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return trusterrors.NewStorageUnavailableError("database ping failed", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// q rebinds a query written with ? placeholders for the active dialect.
func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// unavailable wraps a driver failure so the API layer reports 503.
func unavailable(op string, err error) error {
	return trusterrors.NewStorageUnavailableError(op, err)
}

// isUniqueViolation checks for a UNIQUE constraint violation on either driver.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	return false
}

// insert runs an INSERT and maps unique violations to ErrAlreadyExists.
func (s *Store) insert(ctx context.Context, what, query string, arg any) error {
	if _, err := s.db.NamedExecContext(ctx, query, arg); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", what, storage.ErrAlreadyExists)
		}
		return unavailable("inserting "+what, err)
	}
	return nil
}

// execOne runs an UPDATE or DELETE and returns ErrNotFound when no row matched.
func (s *Store) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return unavailable("updating "+what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("updating "+what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}
