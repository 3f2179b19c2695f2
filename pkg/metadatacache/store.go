// Package metadatacache is the embedded relational store backing the
// metadata catalog: global versions, module inventories, and the full
// data entity / public entity / enumeration / label schema, with an FTS5
// full-text index for SearchMetadata.
package metadatacache

import (
	"context"
	"database/sql"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/internal/dberrors"
)

// Store is the sqlite-backed metadata cache. Writes are serialized behind
// mu: modernc.org/sqlite's SQLITE_BUSY behavior under WAL is coarser than a
// real MVCC store, so the store itself — not the database — is what
// arbitrates concurrent writers.
type Store struct {
	db *sqlx.DB
	mu sync.Mutex
}

// Open creates (or opens) the sqlite database at path, applies the WAL/
// performance pragmas, and runs embedded migrations to bring the schema up
// to date.
func Open(path string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.NewDatabaseError("open", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-10000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			_ = sqlDB.Close()
			return nil, apperrors.NewDatabaseError("configure pragmas", err)
		}
	}

	if err := runMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store := &Store{db: sqlx.NewDb(sqlDB, "sqlite")}
	if err := store.ensureSearchSchema(context.Background()); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx serializes writers behind mu and runs fn inside one transaction,
// committing on success and rolling back on any error (including a panic,
// which is re-raised after rollback).
func (s *Store) withTx(ctx context.Context, operation string, fn func(tx *sqlx.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, txErr := s.db.BeginTxx(ctx, nil)
	if txErr != nil {
		return apperrors.NewDatabaseError(operation, txErr)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return dberrors.Classify(operation, err)
	}
	if err = tx.Commit(); err != nil {
		return apperrors.NewDatabaseError(operation, err)
	}
	return nil
}
