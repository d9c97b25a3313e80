// Package postgres implements the storage interfaces (C1) backed by
// PostgreSQL, using sqlx for struct-scanning queries.
package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/forgemirror/mirror-layer/internal/app/storage"
)

// Store implements every storage interface backed by a *sqlx.DB.
type Store struct {
	db *sqlx.DB
}

var (
	_ storage.UserStore         = (*Store)(nil)
	_ storage.ConfigStore       = (*Store)(nil)
	_ storage.RepositoryStore   = (*Store)(nil)
	_ storage.OrganizationStore = (*Store)(nil)
	_ storage.JobStore          = (*Store)(nil)
	_ storage.EventStore        = (*Store)(nil)
)

// New creates a Store using the provided sqlx handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}
