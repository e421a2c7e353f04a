// Package datastore is the transactional adapter between the order and
// inventory engines and the relational database. The engines express every
// mutation as plain statements and hand them over either one at a time or
// as an all-or-nothing batch; conditional writes carry the row count they
// expect so a lost optimistic-lock race is detected inside the transaction
// boundary and rolls the whole batch back.
package datastore

import (
	"context"
	"errors"
	"fmt"
)

// Statement is a single SQL statement with its arguments.
//
// ExpectRows > 0 marks the statement as guarded: when executed as part of
// a batch, affecting a different number of rows aborts and rolls back the
// whole batch with ErrConflict. The version-guarded stock update is the
// only producer of guarded statements; a zero row count there means a
// concurrent writer bumped the row version between read and write.
type Statement struct {
	SQL        string
	Args       []any
	ExpectRows int64
}

// Result reports the outcome of one executed statement.
type Result struct {
	RowsAffected int64
}

// Store executes statements against the shared datastore.
//
// Implementations retry transient lock contention internally; ErrConflict
// is business-level and is never retried here — the engines own that loop.
type Store interface {
	// Execute runs a single statement and reports the affected row count.
	Execute(ctx context.Context, stmt Statement) (Result, error)
	// Batch runs all statements as one atomic unit: either all apply or
	// none do. A guarded statement affecting an unexpected row count
	// aborts the batch with ErrConflict.
	Batch(ctx context.Context, stmts []Statement) ([]Result, error)
	// Query runs a read statement and scans the rows into dest.
	Query(ctx context.Context, dest any, stmt Statement) error
}

// ErrConflict reports a guarded write that affected an unexpected number
// of rows: a concurrent mutation won the version race. Callers retry from
// a fresh read, up to a bounded number of attempts.
var ErrConflict = errors.New("datastore: conditional write conflict")

// conflictAt wraps ErrConflict with the offending statement index.
func conflictAt(index int, affected, expected int64) error {
	return fmt.Errorf("statement %d affected %d rows, expected %d: %w", index, affected, expected, ErrConflict)
}
