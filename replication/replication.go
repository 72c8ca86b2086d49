// Package replication describes the replication log:
// a durable, time-bucketed, strictly ordered record of object writes per namespace,
// read incrementally by replicas from a cursor.
package replication

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
)

// Op is the kind of change an Event records.
type Op int

const (
	// Added means the object was written.
	Added Op = iota

	// Deleted means the object was removed.
	Deleted
)

func (op Op) String() string {
	switch op {
	case Added:
		return "add"
	case Deleted:
		return "delete"
	}
	return "unknown"
}

// Event is a single entry in a namespace's replication log.
type Event struct {
	Namespace rbs.NamespaceID
	Bucket    rbs.BucketID
	Key       rbs.KeyID
	Blob      rbs.Ref // zero for Deleted events
	Op        Op

	// TimeBucket is the label of the log bucket holding the event.
	TimeBucket string
	EventID    uuid.UUID
	Timestamp  time.Time
}

// Cursor returns the position of e in the log.
func (e Event) Cursor() Cursor {
	return Cursor{Bucket: e.TimeBucket, Event: e.EventID}
}

// Cursor is a position in a namespace's replication log.
// The zero Cursor denotes the beginning of the log.
type Cursor struct {
	Bucket string
	Event  uuid.UUID
}

// IsZero tells whether c is the zero Cursor.
func (c Cursor) IsZero() bool {
	return c.Bucket == "" && c.Event == uuid.Nil
}

// Less tells whether c is before other in log order.
func (c Cursor) Less(other Cursor) bool {
	if c.Bucket != other.Bucket {
		return c.Bucket < other.Bucket
	}
	return lessUUID(c.Event, other.Event)
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// SnapshotInfo records the existence of a snapshot blob.
type SnapshotInfo struct {
	Namespace rbs.NamespaceID

	// Blob is the ref of the snapshot blob in the snapshot namespace.
	Blob      rbs.Ref
	CreatedAt time.Time
}

// ErrUnknownBucket is the error returned by Log.Get
// when the cursor names a bucket that is not in the namespace's log.
var ErrUnknownBucket = errors.Wrap(rbs.ErrBadRequest, "unknown bucket")

// Log is a replication log.
//
// A namespace's log comes into existence with its first event
// and persists even after all its buckets are deleted.
// Within a namespace, events are ordered by (TimeBucket, EventID).
//
// Implementations must be safe for concurrent use.
// Iteration methods call a function once per result;
// if the function returns an error,
// iteration stops and the method returns that error.
type Log interface {
	// InsertAddEvent appends an Added event to the log of ns,
	// in the bucket containing ts.
	// A zero ts means the current time.
	// It returns the cursor of the new event.
	InsertAddEvent(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref, ts time.Time) (Cursor, error)

	// InsertDeleteEvent appends a Deleted event to the log of ns.
	InsertDeleteEvent(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, ts time.Time) (Cursor, error)

	// Get calls f for each event in the log of ns strictly after the given cursor,
	// in log order.
	// It returns rbs.ErrNotFound if ns has no log
	// and ErrUnknownBucket if after is non-zero and its bucket is not in the log.
	Get(ctx context.Context, ns rbs.NamespaceID, after Cursor, f func(Event) error) error

	// LastCursor returns the cursor of the last event in the log of ns,
	// or the zero Cursor if the log has no events.
	// It returns rbs.ErrNotFound if ns has no log.
	LastCursor(ctx context.Context, ns rbs.NamespaceID) (Cursor, error)

	// GetSnapshots calls f for each snapshot of ns, newest first.
	GetSnapshots(ctx context.Context, ns rbs.NamespaceID, f func(SnapshotInfo) error) error

	// AddSnapshot records a new snapshot.
	AddSnapshot(ctx context.Context, info SnapshotInfo) error

	// DeleteSnapshot removes the record of a snapshot.
	// It returns rbs.ErrNotFound if there is no such record.
	DeleteSnapshot(ctx context.Context, ns rbs.NamespaceID, blob rbs.Ref) error

	// GetNamespaces calls f for each namespace that has a log,
	// in lexicographic order.
	GetNamespaces(ctx context.Context, f func(rbs.NamespaceID) error) error

	// DeleteBucketsBefore removes all events of ns in buckets whose labels sort before label.
	// It returns the number of events removed.
	DeleteBucketsBefore(ctx context.Context, ns rbs.NamespaceID, label string) (int64, error)
}

// LatestSnapshot returns the newest snapshot of ns.
// It returns rbs.ErrNotFound if there is none.
func LatestSnapshot(ctx context.Context, log Log, ns rbs.NamespaceID) (SnapshotInfo, error) {
	var (
		result SnapshotInfo
		found  bool
	)
	err := log.GetSnapshots(ctx, ns, func(info SnapshotInfo) error {
		result, found = info, true
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return SnapshotInfo{}, errors.Wrapf(err, "getting snapshots of %s", ns)
	}
	if !found {
		return SnapshotInfo{}, errors.Wrapf(rbs.ErrNotFound, "no snapshot of %s", ns)
	}
	return result, nil
}

var errStop = errors.New("stop")
