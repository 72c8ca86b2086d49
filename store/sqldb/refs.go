package sqldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/refs"
)

var _ refs.Store = &Refs{}

// Refs is a SQL-based reference store.
//
// Its iteration methods hold a query open while calling their callbacks.
// Callbacks should not write to the same database
// (sqlite3 may report it busy).
type Refs struct {
	db *sql.DB

	// Now is the clock used for last-access times.
	Now func() time.Time
}

// NewRefs produces a new Refs using db, whose schema must already exist.
func NewRefs(db *sql.DB) *Refs {
	return &Refs{db: db, Now: time.Now}
}

const recordCols = `namespace, bucket, object_key, last_access, blob, inline, finalized`

func scanRecord(f func(refs.ObjectRecord) error) func(string, string, string, int64, []byte, []byte, bool) error {
	return func(ns, bucket, key string, lastAccess int64, blob, inline []byte, finalized bool) error {
		return f(refs.ObjectRecord{
			Namespace:   rbs.NamespaceID(ns),
			Bucket:      rbs.BucketID(bucket),
			Key:         rbs.KeyID(key),
			LastAccess:  fromNanos(lastAccess),
			Blob:        rbs.RefFromBytes(blob),
			Inline:      inline,
			IsFinalized: finalized,
		})
	}
}

func (s *Refs) Get(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID) (refs.ObjectRecord, error) {
	const q = `SELECT ` + recordCols + ` FROM objects WHERE namespace = $1 AND bucket = $2 AND object_key = $3`

	var (
		rec   refs.ObjectRecord
		found bool
	)
	err := sqlutil.ForQueryRows(ctx, s.db, q, string(ns), string(bucket), string(key), scanRecord(func(r refs.ObjectRecord) error {
		rec, found = r, true
		return nil
	}))
	if err != nil {
		return refs.ObjectRecord{}, rbs.Transient(errors.Wrapf(err, "getting %s/%s/%s", ns, bucket, key))
	}
	if !found {
		return refs.ObjectRecord{}, errors.Wrapf(rbs.ErrNotFound, "%s/%s/%s", ns, bucket, key)
	}
	return rec, nil
}

func (s *Refs) Put(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref, inline []byte, isFinalized bool) error {
	const (
		q1 = `INSERT INTO namespaces (name) VALUES ($1) ON CONFLICT DO NOTHING`
		q2 = `INSERT INTO objects (` + recordCols + `) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (namespace, bucket, object_key) DO UPDATE SET
				last_access = excluded.last_access,
				blob = excluded.blob,
				inline = excluded.inline,
				finalized = excluded.finalized`
	)

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, q1, string(ns)); err != nil {
			return errors.Wrap(err, "registering namespace")
		}
		_, err := tx.ExecContext(ctx, q2, string(ns), string(bucket), string(key), nanos(s.Now()), blob[:], inline, isFinalized)
		return errors.Wrap(err, "upserting record")
	})
	return rbs.Transient(errors.Wrapf(err, "putting %s/%s/%s", ns, bucket, key))
}

func (s *Refs) Finalize(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref) error {
	const q = `UPDATE objects SET finalized = $1 WHERE namespace = $2 AND bucket = $3 AND object_key = $4 AND blob = $5`

	res, err := s.db.ExecContext(ctx, q, true, string(ns), string(bucket), string(key), blob[:])
	if err != nil {
		return rbs.Transient(errors.Wrapf(err, "finalizing %s/%s/%s", ns, bucket, key))
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff > 0 {
		return nil
	}

	// Tell a missing record from a mismatched one.
	rec, err := s.Get(ctx, ns, bucket, key)
	if err != nil {
		return err
	}
	return errors.Wrapf(rbs.ErrConflict, "finalizing %s/%s/%s with blob %s, record has %s", ns, bucket, key, blob, rec.Blob)
}

func (s *Refs) UpdateLastAccessTime(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, t time.Time) error {
	const q = `UPDATE objects SET last_access = $1 WHERE namespace = $2 AND bucket = $3 AND object_key = $4`

	res, err := s.db.ExecContext(ctx, q, nanos(t), string(ns), string(bucket), string(key))
	if err != nil {
		return rbs.Transient(errors.Wrapf(err, "updating last access of %s/%s/%s", ns, bucket, key))
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return errors.Wrapf(rbs.ErrNotFound, "%s/%s/%s", ns, bucket, key)
	}
	return nil
}

func (s *Refs) GetOldestRecords(ctx context.Context, ns rbs.NamespaceID, f func(refs.ObjectRecord) error) error {
	const q = `SELECT ` + recordCols + ` FROM objects WHERE namespace = $1 ORDER BY last_access, bucket, object_key`
	return sqlutil.ForQueryRows(ctx, s.db, q, string(ns), scanRecord(f))
}

func (s *Refs) GetRecords(ctx context.Context, ns rbs.NamespaceID, f func(refs.ObjectRecord) error) error {
	const q = `SELECT ` + recordCols + ` FROM objects WHERE namespace = $1 ORDER BY bucket, object_key`
	return sqlutil.ForQueryRows(ctx, s.db, q, string(ns), scanRecord(f))
}

func (s *Refs) GetNamespaces(ctx context.Context, f func(rbs.NamespaceID) error) error {
	const q = `SELECT name FROM namespaces ORDER BY name`
	return sqlutil.ForQueryRows(ctx, s.db, q, func(name string) error {
		return f(rbs.NamespaceID(name))
	})
}

func (s *Refs) Delete(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID) (int64, error) {
	const q = `DELETE FROM objects WHERE namespace = $1 AND bucket = $2 AND object_key = $3`

	n, err := s.exec(ctx, q, string(ns), string(bucket), string(key))
	if err != nil {
		return 0, errors.Wrapf(err, "deleting %s/%s/%s", ns, bucket, key)
	}
	if n == 0 {
		return 0, errors.Wrapf(rbs.ErrNotFound, "%s/%s/%s", ns, bucket, key)
	}
	return n, nil
}

func (s *Refs) DropNamespace(ctx context.Context, ns rbs.NamespaceID) (int64, error) {
	const (
		q1 = `DELETE FROM objects WHERE namespace = $1`
		q2 = `DELETE FROM namespaces WHERE name = $1`
	)

	var n int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q1, string(ns))
		if err != nil {
			return errors.Wrap(err, "deleting records")
		}
		if n, err = res.RowsAffected(); err != nil {
			return errors.Wrap(err, "counting affected rows")
		}
		_, err = tx.ExecContext(ctx, q2, string(ns))
		return errors.Wrap(err, "deleting namespace")
	})
	if err != nil {
		return 0, rbs.Transient(errors.Wrapf(err, "dropping %s", ns))
	}
	return n, nil
}

func (s *Refs) DeleteBucket(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID) (int64, error) {
	const q = `DELETE FROM objects WHERE namespace = $1 AND bucket = $2`

	n, err := s.exec(ctx, q, string(ns), string(bucket))
	return n, errors.Wrapf(err, "deleting bucket %s of %s", bucket, ns)
}

func (s *Refs) exec(ctx context.Context, q string, args ...interface{}) (int64, error) {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, rbs.Transient(err)
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "counting affected rows")
}
