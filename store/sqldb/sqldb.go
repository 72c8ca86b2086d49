// Package sqldb implements blob and metadata stores on database/sql.
//
// The queries are portable between the sqlite3 and pg backends,
// which supply their own schemas (see the Schema constants in those packages)
// and register themselves with package store.
//
// Times are stored as Unix nanoseconds.
// Event ids are stored in their canonical string form,
// which sorts the same as their bytes.
package sqldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/rbs/store"
)

// Init executes schema on db.
// The schema should create its tables only if they do not exist.
func Init(ctx context.Context, db *sql.DB, schema string) error {
	_, err := db.ExecContext(ctx, schema)
	return errors.Wrap(err, "creating schema")
}

// NewMeta produces a store.Meta whose stores all use db,
// with log buckets of the given period.
// Closing the Meta closes db.
func NewMeta(db *sql.DB, period time.Duration) *store.Meta {
	return &store.Meta{
		Refs:       NewRefs(db),
		Log:        NewLog(db, period),
		ContentIDs: NewContentIDs(db),
		Close:      db.Close,
	}
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func withTx(ctx context.Context, db *sql.DB, f func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
