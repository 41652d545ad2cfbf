// Package pg is the Postgres persistence layer. One Store implements
// the template catalog, the document repository and the audit log so a
// single pool serves all three.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"docvault.org/internal/audit"
	"docvault.org/internal/document"
	"docvault.org/internal/template"
)

type Store struct {
	db *sql.DB
}

var (
	_ template.Store      = (*Store)(nil)
	_ document.Repository = (*Store)(nil)
	_ audit.Store         = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }
