// Package history persists one row of AUM values per day.
package history

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNoColumns is returned by Append when neither the row nor `columns` name a
// column, such a row could not be stored.
var ErrNoColumns = errors.New("row has no columns")

// Store is a history table keyed by date.
type Store interface {
	// LastValue returns the last non-missing value of `column` in store order,
	// an empty or nonexistent store yields a missing value and no error.
	LastValue(ctx context.Context, column string) (sql.NullFloat64, error)
	// Append adds `row`, replacing any row with the same date. `columns` is the
	// column order to use if the store has to create them.
	Append(ctx context.Context, row Row, columns []string) error
	// Table reads the whole store.
	Table(ctx context.Context) (Table, error)
	Close() error
}
