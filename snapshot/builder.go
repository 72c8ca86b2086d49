package snapshot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobg/flock"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/refs"
	"github.com/bobg/rbs/replication"
)

// DefaultMaxSnapshots is the number of snapshots per namespace retained by default.
const DefaultMaxSnapshots = 10

// Builder builds snapshots.
type Builder struct {
	Refs  refs.Store
	Log   replication.Log
	Blobs rbs.BlobStore

	// MaxSnapshots is the number of snapshots per namespace to retain.
	// Zero means DefaultMaxSnapshots.
	MaxSnapshots int

	// BucketRetention, if positive, is how long log buckets are kept.
	// After each snapshot, buckets older than this
	// (and older than the snapshot's own cursor) are deleted.
	BucketRetention time.Duration

	// LockDir, if set, is a directory for lock files
	// that keep builders in separate processes
	// from working on the same namespace at once.
	LockDir string

	Logger *slog.Logger

	// Now is the clock used for snapshot creation times.
	// Nil means time.Now.
	Now func() time.Time

	mu      sync.Mutex
	nsLocks map[rbs.NamespaceID]*sync.Mutex
	flocker flock.Locker
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Builder) lock(ns rbs.NamespaceID) (func(), error) {
	b.mu.Lock()
	if b.nsLocks == nil {
		b.nsLocks = make(map[rbs.NamespaceID]*sync.Mutex)
	}
	m, ok := b.nsLocks[ns]
	if !ok {
		m = new(sync.Mutex)
		b.nsLocks[ns] = m
	}
	b.mu.Unlock()

	m.Lock()
	if b.LockDir == "" {
		return m.Unlock, nil
	}

	if err := os.MkdirAll(b.LockDir, 0755); err != nil {
		m.Unlock()
		return nil, errors.Wrapf(err, "creating lock dir %s", b.LockDir)
	}
	path := filepath.Join(b.LockDir, string(ns)+".lock")
	if err := b.flocker.Lock(path); err != nil {
		m.Unlock()
		return nil, errors.Wrapf(err, "locking %s", path)
	}
	return func() {
		if err := b.flocker.Unlock(path); err != nil {
			b.logger().Error("unlocking snapshot lease", "path", path, "err", err)
		}
		m.Unlock()
	}, nil
}

// BuildSnapshot builds a snapshot of sourceNS,
// stores it in snapshotNS,
// and records it in the replication log.
// It returns the ref of the snapshot blob.
func (b *Builder) BuildSnapshot(ctx context.Context, sourceNS, snapshotNS rbs.NamespaceID) (rbs.Ref, error) {
	unlock, err := b.lock(sourceNS)
	if err != nil {
		return rbs.Zero, err
	}
	defer unlock()

	// Writers append to the log after writing the reference store,
	// so every event at or before this cursor is reflected in the scan below.
	cursor, err := b.Log.LastCursor(ctx, sourceNS)
	if err != nil && !errors.Is(err, rbs.ErrNotFound) {
		return rbs.Zero, errors.Wrapf(err, "reading log head of %s", sourceNS)
	}

	s := &Snapshot{
		Version:    Version,
		Namespace:  sourceNS,
		LastBucket: cursor.Bucket,
		LastEvent:  cursor.Event,
		CreatedAt:  b.now().UTC(),
	}
	err = b.Refs.GetRecords(ctx, sourceNS, func(rec refs.ObjectRecord) error {
		// Unfinalized records have no Added event yet and are not live.
		if !rec.IsFinalized {
			return nil
		}
		s.LiveObjects = append(s.LiveObjects, LiveObject{Bucket: rec.Bucket, Key: rec.Key, Blob: rec.Blob})
		return nil
	})
	if err != nil {
		return rbs.Zero, errors.Wrapf(err, "scanning records of %s", sourceNS)
	}

	ref, _, err := rbs.Put(ctx, b.Blobs, snapshotNS, Encode(s))
	if err != nil {
		return rbs.Zero, errors.Wrap(err, "storing snapshot")
	}
	ok, err := b.Blobs.Exists(ctx, snapshotNS, ref)
	if err != nil {
		return rbs.Zero, errors.Wrapf(err, "confirming snapshot %s", ref)
	}
	if !ok {
		return rbs.Zero, rbs.Transient(errors.Errorf("snapshot %s not present after write", ref))
	}

	err = b.Log.AddSnapshot(ctx, replication.SnapshotInfo{Namespace: sourceNS, Blob: ref, CreatedAt: s.CreatedAt})
	if err != nil {
		return rbs.Zero, errors.Wrapf(err, "recording snapshot %s", ref)
	}

	b.logger().Info("built snapshot", "namespace", sourceNS, "snapshot", ref, "objects", len(s.LiveObjects), "bucket", s.LastBucket)

	if err := b.applyRetention(ctx, sourceNS); err != nil {
		return ref, err
	}
	if err := b.trimLog(ctx, sourceNS, s); err != nil {
		return ref, err
	}
	return ref, nil
}

func (b *Builder) applyRetention(ctx context.Context, ns rbs.NamespaceID) error {
	max := b.MaxSnapshots
	if max <= 0 {
		max = DefaultMaxSnapshots
	}

	var (
		n       int
		expired []rbs.Ref
	)
	err := b.Log.GetSnapshots(ctx, ns, func(info replication.SnapshotInfo) error {
		n++
		if n > max {
			expired = append(expired, info.Blob)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "listing snapshots of %s", ns)
	}

	// Oldest first.
	for i := len(expired) - 1; i >= 0; i-- {
		if err := b.Log.DeleteSnapshot(ctx, ns, expired[i]); err != nil && !errors.Is(err, rbs.ErrNotFound) {
			return errors.Wrapf(err, "deleting snapshot %s", expired[i])
		}
		b.logger().Debug("expired snapshot", "namespace", ns, "snapshot", expired[i])
	}
	return nil
}

func (b *Builder) trimLog(ctx context.Context, ns rbs.NamespaceID, s *Snapshot) error {
	if b.BucketRetention <= 0 || s.LastBucket == "" {
		return nil
	}
	limit := replication.BucketLabel(b.now().Add(-b.BucketRetention), 0)
	if s.LastBucket < limit {
		limit = s.LastBucket
	}
	n, err := b.Log.DeleteBucketsBefore(ctx, ns, limit)
	if err != nil {
		return errors.Wrapf(err, "trimming log of %s", ns)
	}
	if n > 0 {
		b.logger().Info("trimmed log", "namespace", ns, "before", limit, "events", n)
	}
	return nil
}
