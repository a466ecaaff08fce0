/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package sqlstore provides a registration store backed by SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/acronis/go-dcrkit/registration"
)

// DefaultPath is the default SQLite database file.
const DefaultPath = "clients.db"

// Store is a registration.Store backed by a SQLite table.
// order_id is the primary key, so concurrent inserts of the same order are resolved by the database.
type Store struct {
	db *sql.DB
}

var _ registration.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	store, err := NewWithDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB creates a Store over an already opened database and applies the schema migrations.
func NewWithDB(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := runMigrations(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindByOrderID implements registration.Store.
func (s *Store) FindByOrderID(ctx context.Context, orderID string) (registration.Registration, error) {
	var reg registration.Registration
	var clientSecret string
	err := s.db.QueryRowContext(ctx,
		`SELECT order_id, client_id, client_secret FROM registrations WHERE order_id = ?`, orderID,
	).Scan(&reg.OrderID, &reg.ClientID, &clientSecret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registration.Registration{}, registration.ErrNotFound
		}
		return registration.Registration{}, fmt.Errorf("select registration: %w", err)
	}
	reg.ClientSecret = registration.Secret(clientSecret)
	return reg, nil
}

// Save implements registration.Store.
func (s *Store) Save(ctx context.Context, reg registration.Registration) error {
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("invalid registration: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registrations (order_id, client_id, client_secret) VALUES (?, ?, ?)`,
		reg.OrderID, reg.ClientID, reg.ClientSecret.Reveal(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return registration.ErrAlreadyExists
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// isUniqueViolation checks for a SQLite PRIMARY KEY or UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
