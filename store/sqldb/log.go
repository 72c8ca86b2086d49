package sqldb

import (
	"context"
	"database/sql"
	stderrs "errors"
	"time"

	"github.com/bobg/sqlutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/replication"
)

var _ replication.Log = &Log{}

// Log is a SQL-based replication log.
type Log struct {
	db     *sql.DB
	period time.Duration
}

// NewLog produces a new Log using db, whose schema must already exist.
// Buckets span the given period;
// zero means replication.DefaultBucketPeriod.
func NewLog(db *sql.DB, period time.Duration) *Log {
	if period <= 0 {
		period = replication.DefaultBucketPeriod
	}
	return &Log{db: db, period: period}
}

func (l *Log) InsertAddEvent(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref, ts time.Time) (replication.Cursor, error) {
	return l.insert(ctx, ns, bucket, key, blob, replication.Added, ts)
}

func (l *Log) InsertDeleteEvent(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, ts time.Time) (replication.Cursor, error) {
	return l.insert(ctx, ns, bucket, key, rbs.Zero, replication.Deleted, ts)
}

func (l *Log) insert(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref, op replication.Op, ts time.Time) (replication.Cursor, error) {
	const (
		q1 = `INSERT INTO log_namespaces (name) VALUES ($1) ON CONFLICT DO NOTHING`
		q2 = `INSERT INTO events (namespace, bucket, event_id, obj_bucket, obj_key, blob, op, ts) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	)

	id, err := uuid.NewV7()
	if err != nil {
		return replication.Cursor{}, errors.Wrap(err, "generating event id")
	}
	ts = replication.EventTime(ts)
	cur := replication.Cursor{Bucket: replication.BucketLabel(ts, l.period), Event: id}

	err = withTx(ctx, l.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, q1, string(ns)); err != nil {
			return errors.Wrap(err, "registering namespace")
		}
		_, err := tx.ExecContext(ctx, q2, string(ns), cur.Bucket, id.String(), string(bucket), string(key), blob[:], int64(op), nanos(ts))
		return errors.Wrap(err, "inserting event")
	})
	if err != nil {
		return replication.Cursor{}, rbs.Transient(errors.Wrapf(err, "appending to log of %s", ns))
	}
	return cur, nil
}

func (l *Log) exists(ctx context.Context, ns rbs.NamespaceID) (bool, error) {
	const q = `SELECT 1 FROM log_namespaces WHERE name = $1`
	return l.any(ctx, q, string(ns))
}

func (l *Log) any(ctx context.Context, q string, args ...interface{}) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, q, args...).Scan(&one)
	if stderrs.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, rbs.Transient(err)
	}
	return true, nil
}

func (l *Log) Get(ctx context.Context, ns rbs.NamespaceID, after replication.Cursor, f func(replication.Event) error) error {
	const (
		qBucket = `SELECT 1 FROM events WHERE namespace = $1 AND bucket = $2 LIMIT 1`
		q       = `SELECT bucket, event_id, obj_bucket, obj_key, blob, op, ts FROM events
			WHERE namespace = $1 AND (bucket > $2 OR (bucket = $2 AND event_id > $3))
			ORDER BY bucket, event_id`
	)

	ok, err := l.exists(ctx, ns)
	if err != nil {
		return errors.Wrapf(err, "checking log of %s", ns)
	}
	if !ok {
		return errors.Wrapf(rbs.ErrNotFound, "no log for %s", ns)
	}

	var eventStr string
	if !after.IsZero() {
		ok, err = l.any(ctx, qBucket, string(ns), after.Bucket)
		if err != nil {
			return errors.Wrapf(err, "checking bucket %s of %s", after.Bucket, ns)
		}
		if !ok {
			return errors.Wrapf(replication.ErrUnknownBucket, "%s in %s", after.Bucket, ns)
		}
		eventStr = after.Event.String()
	}

	return sqlutil.ForQueryRows(ctx, l.db, q, string(ns), after.Bucket, eventStr, func(label, eventID, bucket, key string, blob []byte, op, ts int64) error {
		id, err := uuid.Parse(eventID)
		if err != nil {
			return errors.Wrapf(err, "parsing event id %s", eventID)
		}
		return f(replication.Event{
			Namespace:  ns,
			Bucket:     rbs.BucketID(bucket),
			Key:        rbs.KeyID(key),
			Blob:       rbs.RefFromBytes(blob),
			Op:         replication.Op(op),
			TimeBucket: label,
			EventID:    id,
			Timestamp:  fromNanos(ts),
		})
	})
}

func (l *Log) LastCursor(ctx context.Context, ns rbs.NamespaceID) (replication.Cursor, error) {
	const q = `SELECT bucket, event_id FROM events WHERE namespace = $1 ORDER BY bucket DESC, event_id DESC LIMIT 1`

	ok, err := l.exists(ctx, ns)
	if err != nil {
		return replication.Cursor{}, errors.Wrapf(err, "checking log of %s", ns)
	}
	if !ok {
		return replication.Cursor{}, errors.Wrapf(rbs.ErrNotFound, "no log for %s", ns)
	}

	var label, eventID string
	err = l.db.QueryRowContext(ctx, q, string(ns)).Scan(&label, &eventID)
	if stderrs.Is(err, sql.ErrNoRows) {
		return replication.Cursor{}, nil
	}
	if err != nil {
		return replication.Cursor{}, rbs.Transient(errors.Wrapf(err, "reading log head of %s", ns))
	}
	id, err := uuid.Parse(eventID)
	if err != nil {
		return replication.Cursor{}, errors.Wrapf(err, "parsing event id %s", eventID)
	}
	return replication.Cursor{Bucket: label, Event: id}, nil
}

func (l *Log) GetSnapshots(ctx context.Context, ns rbs.NamespaceID, f func(replication.SnapshotInfo) error) error {
	const q = `SELECT blob, created_at FROM snapshots WHERE namespace = $1 ORDER BY created_at DESC, seq DESC`
	return sqlutil.ForQueryRows(ctx, l.db, q, string(ns), func(blob []byte, createdAt int64) error {
		return f(replication.SnapshotInfo{
			Namespace: ns,
			Blob:      rbs.RefFromBytes(blob),
			CreatedAt: fromNanos(createdAt),
		})
	})
}

func (l *Log) AddSnapshot(ctx context.Context, info replication.SnapshotInfo) error {
	// Recording a snapshot does not bring the namespace's log into existence.
	const (
		q1 = `SELECT COALESCE(MAX(seq), 0) FROM snapshots WHERE namespace = $1`
		q2 = `INSERT INTO snapshots (namespace, blob, created_at, seq) VALUES ($1, $2, $3, $4)
			ON CONFLICT (namespace, blob) DO UPDATE SET created_at = excluded.created_at, seq = excluded.seq`
	)

	err := withTx(ctx, l.db, func(tx *sql.Tx) error {
		var seq int64
		if err := tx.QueryRowContext(ctx, q1, string(info.Namespace)).Scan(&seq); err != nil {
			return errors.Wrap(err, "getting snapshot sequence")
		}
		_, err := tx.ExecContext(ctx, q2, string(info.Namespace), info.Blob[:], nanos(info.CreatedAt), seq+1)
		return errors.Wrap(err, "inserting snapshot")
	})
	return rbs.Transient(errors.Wrapf(err, "recording snapshot %s of %s", info.Blob, info.Namespace))
}

func (l *Log) DeleteSnapshot(ctx context.Context, ns rbs.NamespaceID, blob rbs.Ref) error {
	const q = `DELETE FROM snapshots WHERE namespace = $1 AND blob = $2`

	res, err := l.db.ExecContext(ctx, q, string(ns), blob[:])
	if err != nil {
		return rbs.Transient(errors.Wrapf(err, "deleting snapshot %s of %s", blob, ns))
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return errors.Wrapf(rbs.ErrNotFound, "snapshot %s of %s", blob, ns)
	}
	return nil
}

func (l *Log) GetNamespaces(ctx context.Context, f func(rbs.NamespaceID) error) error {
	const q = `SELECT name FROM log_namespaces ORDER BY name`
	return sqlutil.ForQueryRows(ctx, l.db, q, func(name string) error {
		return f(rbs.NamespaceID(name))
	})
}

func (l *Log) DeleteBucketsBefore(ctx context.Context, ns rbs.NamespaceID, label string) (int64, error) {
	const q = `DELETE FROM events WHERE namespace = $1 AND bucket < $2`

	res, err := l.db.ExecContext(ctx, q, string(ns), label)
	if err != nil {
		return 0, rbs.Transient(errors.Wrapf(err, "deleting buckets of %s before %s", ns, label))
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "counting affected rows")
}
