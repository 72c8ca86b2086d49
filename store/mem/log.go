package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/replication"
)

var _ replication.Log = &Log{}

// Log is a memory-based implementation of a replication log.
type Log struct {
	mu     sync.Mutex
	period time.Duration
	logs   map[rbs.NamespaceID]*nsLog

	// Snapshot records are kept apart from logs:
	// recording one does not create the namespace's log.
	snapshots map[rbs.NamespaceID][]replication.SnapshotInfo // oldest first
}

type nsLog struct {
	buckets map[string][]replication.Event // each in EventID order
}

// NewLog produces a new Log whose buckets span the given period.
// A period of zero means replication.DefaultBucketPeriod.
func NewLog(period time.Duration) *Log {
	if period <= 0 {
		period = replication.DefaultBucketPeriod
	}
	return &Log{
		period:    period,
		logs:      make(map[rbs.NamespaceID]*nsLog),
		snapshots: make(map[rbs.NamespaceID][]replication.SnapshotInfo),
	}
}

func (l *Log) InsertAddEvent(_ context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref, ts time.Time) (replication.Cursor, error) {
	return l.insert(replication.Event{
		Namespace: ns,
		Bucket:    bucket,
		Key:       key,
		Blob:      blob,
		Op:        replication.Added,
		Timestamp: replication.EventTime(ts),
	})
}

func (l *Log) InsertDeleteEvent(_ context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, ts time.Time) (replication.Cursor, error) {
	return l.insert(replication.Event{
		Namespace: ns,
		Bucket:    bucket,
		Key:       key,
		Op:        replication.Deleted,
		Timestamp: replication.EventTime(ts),
	})
}

func (l *Log) insert(ev replication.Event) (replication.Cursor, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return replication.Cursor{}, errors.Wrap(err, "generating event id")
	}
	ev.EventID = id
	ev.TimeBucket = replication.BucketLabel(ev.Timestamp, l.period)

	l.mu.Lock()
	defer l.mu.Unlock()

	nl, ok := l.logs[ev.Namespace]
	if !ok {
		nl = &nsLog{buckets: make(map[string][]replication.Event)}
		l.logs[ev.Namespace] = nl
	}

	// Ids are generated outside the lock, so keep each bucket sorted on insert.
	events := nl.buckets[ev.TimeBucket]
	idx := sort.Search(len(events), func(n int) bool {
		return ev.Cursor().Less(events[n].Cursor())
	})
	events = append(events, replication.Event{})
	copy(events[idx+1:], events[idx:])
	events[idx] = ev
	nl.buckets[ev.TimeBucket] = events

	return ev.Cursor(), nil
}

// Caller must obtain a lock.
func (l *Log) sortedBuckets(nl *nsLog) []string {
	labels := make([]string, 0, len(nl.buckets))
	for label := range nl.buckets {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func (l *Log) Get(ctx context.Context, ns rbs.NamespaceID, after replication.Cursor, f func(replication.Event) error) error {
	var events []replication.Event

	err := func() error {
		l.mu.Lock()
		defer l.mu.Unlock()

		nl, ok := l.logs[ns]
		if !ok {
			return errors.Wrapf(rbs.ErrNotFound, "no log for %s", ns)
		}
		if !after.IsZero() {
			if _, ok := nl.buckets[after.Bucket]; !ok {
				return errors.Wrapf(replication.ErrUnknownBucket, "%s in %s", after.Bucket, ns)
			}
		}
		for _, label := range l.sortedBuckets(nl) {
			if label < after.Bucket {
				continue
			}
			for _, ev := range nl.buckets[label] {
				if !after.IsZero() && !after.Less(ev.Cursor()) {
					continue
				}
				events = append(events, ev)
			}
		}
		return nil
	}()
	if err != nil {
		return err
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f(ev); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) LastCursor(_ context.Context, ns rbs.NamespaceID) (replication.Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	nl, ok := l.logs[ns]
	if !ok {
		return replication.Cursor{}, errors.Wrapf(rbs.ErrNotFound, "no log for %s", ns)
	}
	labels := l.sortedBuckets(nl)
	for i := len(labels) - 1; i >= 0; i-- {
		events := nl.buckets[labels[i]]
		if len(events) > 0 {
			return events[len(events)-1].Cursor(), nil
		}
	}
	return replication.Cursor{}, nil
}

func (l *Log) GetSnapshots(ctx context.Context, ns rbs.NamespaceID, f func(replication.SnapshotInfo) error) error {
	l.mu.Lock()
	infos := make([]replication.SnapshotInfo, len(l.snapshots[ns]))
	copy(infos, l.snapshots[ns])
	l.mu.Unlock()

	for i := len(infos) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f(infos[i]); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) AddSnapshot(_ context.Context, info replication.SnapshotInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	infos := l.snapshots[info.Namespace]
	for i, existing := range infos {
		if existing.Blob == info.Blob {
			infos = append(infos[:i], infos[i+1:]...)
			break
		}
	}
	infos = append(infos, info)
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	l.snapshots[info.Namespace] = infos
	return nil
}

func (l *Log) DeleteSnapshot(_ context.Context, ns rbs.NamespaceID, blob rbs.Ref) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	infos := l.snapshots[ns]
	for i, info := range infos {
		if info.Blob == blob {
			l.snapshots[ns] = append(infos[:i], infos[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(rbs.ErrNotFound, "snapshot %s of %s", blob, ns)
}

func (l *Log) GetNamespaces(ctx context.Context, f func(rbs.NamespaceID) error) error {
	l.mu.Lock()
	namespaces := make([]rbs.NamespaceID, 0, len(l.logs))
	for ns := range l.logs {
		namespaces = append(namespaces, ns)
	}
	l.mu.Unlock()

	sort.Slice(namespaces, func(i, j int) bool { return namespaces[i] < namespaces[j] })
	for _, ns := range namespaces {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f(ns); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) DeleteBucketsBefore(_ context.Context, ns rbs.NamespaceID, label string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	nl, ok := l.logs[ns]
	if !ok {
		return 0, nil
	}
	var n int64
	for b, events := range nl.buckets {
		if b < label {
			n += int64(len(events))
			delete(nl.buckets, b)
		}
	}
	return n, nil
}
