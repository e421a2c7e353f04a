package datastore

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// GormStore implements Store on top of a *gorm.DB connection.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an initialized gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// transient retry bounds for deadlocks and serialization failures
const (
	transientAttempts = 3
	transientBackoff  = 10 * time.Millisecond
)

// Execute runs one statement, retrying transient lock contention.
func (s *GormStore) Execute(ctx context.Context, stmt Statement) (Result, error) {
	var res Result
	err := s.withTransientRetry(ctx, func() error {
		tx := s.db.WithContext(ctx).Exec(stmt.SQL, stmt.Args...)
		if tx.Error != nil {
			return tx.Error
		}
		res = Result{RowsAffected: tx.RowsAffected}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if stmt.ExpectRows > 0 && res.RowsAffected != stmt.ExpectRows {
		return res, conflictAt(0, res.RowsAffected, stmt.ExpectRows)
	}
	return res, nil
}

// Batch runs all statements inside one transaction. Guarded statements are
// checked as they execute; a mismatch returns ErrConflict and rolls back
// everything, so a lost version race leaves no partial writes behind.
func (s *GormStore) Batch(ctx context.Context, stmts []Statement) ([]Result, error) {
	var results []Result
	err := s.withTransientRetry(ctx, func() error {
		results = results[:0]
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for i, stmt := range stmts {
				r := tx.Exec(stmt.SQL, stmt.Args...)
				if r.Error != nil {
					return r.Error
				}
				if stmt.ExpectRows > 0 && r.RowsAffected != stmt.ExpectRows {
					return conflictAt(i, r.RowsAffected, stmt.ExpectRows)
				}
				results = append(results, Result{RowsAffected: r.RowsAffected})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Query scans the rows produced by stmt into dest.
func (s *GormStore) Query(ctx context.Context, dest any, stmt Statement) error {
	return s.db.WithContext(ctx).Raw(stmt.SQL, stmt.Args...).Scan(dest).Error
}

// withTransientRetry re-runs fn on deadlocks and serialization failures.
// ErrConflict is never retried here: the version race is a business
// signal the engines handle with their own bounded loop.
func (s *GormStore) withTransientRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < transientAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, ErrConflict) || !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(transientBackoff << attempt):
		}
	}
	return err
}

// isTransient reports whether the error is worth a blind re-run.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "lock timeout")
}
