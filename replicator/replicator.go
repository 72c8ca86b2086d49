// Package replicator implements the consumer side of the replication log.
// A Replicator pulls a namespace's events from a Source
// and applies them to local blob and reference stores,
// falling back to a snapshot when its cursor has rolled off the log.
package replicator

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/refs"
	"github.com/bobg/rbs/replication"
)

// DefaultInterval is how long Run waits between polls that find the log drained.
const DefaultInterval = 10 * time.Second

// DefaultPageSize is the number of events requested at once when PageSize is zero.
const DefaultPageSize = 1000

// Replicator copies one namespace from a Source into local stores.
type Replicator struct {
	Source    Source
	Namespace rbs.NamespaceID

	Blobs   rbs.BlobStore
	Refs    refs.Store
	Cursors CursorStore

	// PageSize is the number of events requested per step.
	// Zero means DefaultPageSize.
	PageSize int

	// Interval is how long Run waits after catching up.
	// Zero means DefaultInterval.
	Interval time.Duration

	Logger *slog.Logger
}

func (r *Replicator) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Replicator) pageSize() int {
	if r.PageSize > 0 {
		return r.PageSize
	}
	return DefaultPageSize
}

// Run calls Step repeatedly until the context is canceled,
// pausing for Interval whenever the replica has caught up.
// Transient errors are logged and retried after the interval;
// any other error ends the loop.
func (r *Replicator) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		n, err := r.Step(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case rbs.IsTransient(err):
			r.logger().WarnContext(ctx, "replication step failed, will retry", "namespace", r.Namespace, "err", err)
			timer.Reset(interval)
		case err != nil:
			return err
		case n >= r.pageSize():
			timer.Reset(0)
		default:
			timer.Reset(interval)
		}
	}
}

// Step applies the next page of events from the source.
// If the saved cursor is stale,
// it instead loads the snapshot the source names,
// applies it,
// and moves the cursor to the snapshot's position.
// It returns the number of events or live objects applied.
// A source namespace with no log yet is not an error;
// Step applies nothing.
func (r *Replicator) Step(ctx context.Context) (int, error) {
	cursor, err := r.Cursors.Get(ctx, r.Namespace)
	if err != nil {
		return 0, errors.Wrap(err, "getting cursor")
	}

	req := replication.IncrementalRequest{Count: r.pageSize()}
	if !cursor.IsZero() {
		req.LastBucket, req.LastEvent = cursor.Bucket, cursor.Event.String()
	}

	page, err := r.Source.ReadIncremental(ctx, r.Namespace, req)

	var stale *replication.StaleCursorError
	if errors.As(err, &stale) {
		return r.resync(ctx, stale.SnapshotID)
	}
	if errors.Is(err, rbs.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "reading log of %s", r.Namespace)
	}

	for _, ev := range page.Events {
		if err = r.apply(ctx, ev); err != nil {
			return 0, err
		}
	}
	if len(page.Events) > 0 {
		if err = r.Cursors.Set(ctx, r.Namespace, page.Next); err != nil {
			return 0, errors.Wrap(err, "saving cursor")
		}
		r.logger().DebugContext(ctx, "applied events", "namespace", r.Namespace, "count", len(page.Events), "bucket", page.Next.Bucket, "event", page.Next.Event)
	}
	return len(page.Events), nil
}

func (r *Replicator) apply(ctx context.Context, ev replication.Event) error {
	switch ev.Op {
	case replication.Added:
		if err := r.fetch(ctx, ev.Blob); err != nil {
			return err
		}
		err := r.Refs.Put(ctx, r.Namespace, ev.Bucket, ev.Key, ev.Blob, nil, true)
		return errors.Wrapf(err, "storing record %s/%s", ev.Bucket, ev.Key)

	case replication.Deleted:
		_, err := r.Refs.Delete(ctx, r.Namespace, ev.Bucket, ev.Key)
		if errors.Is(err, rbs.ErrNotFound) {
			return nil
		}
		return errors.Wrapf(err, "deleting record %s/%s", ev.Bucket, ev.Key)
	}
	return errors.Errorf("unknown op %d in event %s", ev.Op, ev.EventID)
}

// fetch copies a blob from the source unless it is already here.
func (r *Replicator) fetch(ctx context.Context, ref rbs.Ref) error {
	ok, err := r.Blobs.Exists(ctx, r.Namespace, ref)
	if err != nil {
		return errors.Wrapf(err, "checking blob %s", ref)
	}
	if ok {
		return nil
	}
	return r.copyBlob(ctx, ref)
}

func (r *Replicator) copyBlob(ctx context.Context, ref rbs.Ref) error {
	data, err := r.Source.GetObject(ctx, r.Namespace, ref)
	if err != nil {
		return errors.Wrapf(err, "fetching blob %s", ref)
	}
	if got := rbs.RefOf(data); got != ref {
		return errors.Errorf("source returned blob %s for %s", got, ref)
	}
	_, err = r.Blobs.PutObject(ctx, r.Namespace, ref, data)
	return errors.Wrapf(err, "storing blob %s", ref)
}

// resync replaces the local records of the namespace with the live objects of a snapshot.
func (r *Replicator) resync(ctx context.Context, id rbs.Ref) (int, error) {
	snap, err := r.Source.GetSnapshot(ctx, r.Namespace, id)
	if err != nil {
		return 0, errors.Wrapf(err, "loading snapshot %s", id)
	}

	r.logger().InfoContext(ctx, "cursor is stale, resyncing from snapshot", "namespace", r.Namespace, "snapshot", id, "objects", len(snap.LiveObjects))

	blobs := make([]rbs.Ref, 0, len(snap.LiveObjects))
	live := make(map[refs.Key]bool, len(snap.LiveObjects))
	for _, obj := range snap.LiveObjects {
		blobs = append(blobs, obj.Blob)
		live[refs.Key{Bucket: obj.Bucket, Key: obj.Key}] = true
	}

	missing, err := rbs.FilterOutKnownBlobs(ctx, r.Blobs, r.Namespace, dedup(blobs))
	if err != nil {
		return 0, errors.Wrap(err, "checking snapshot blobs")
	}
	for _, ref := range missing {
		if err = r.copyBlob(ctx, ref); err != nil {
			return 0, err
		}
	}

	for _, obj := range snap.LiveObjects {
		if err = r.Refs.Put(ctx, r.Namespace, obj.Bucket, obj.Key, obj.Blob, nil, true); err != nil {
			return 0, errors.Wrapf(err, "storing record %s/%s", obj.Bucket, obj.Key)
		}
	}

	if err = r.dropStale(ctx, live); err != nil {
		return 0, err
	}

	if err = r.Cursors.Set(ctx, r.Namespace, snap.Cursor()); err != nil {
		return 0, errors.Wrap(err, "saving cursor")
	}
	return len(snap.LiveObjects), nil
}

// dropStale deletes local records that are not live in the snapshot.
func (r *Replicator) dropStale(ctx context.Context, live map[refs.Key]bool) error {
	var stale []refs.Key
	err := r.Refs.GetRecords(ctx, r.Namespace, func(rec refs.ObjectRecord) error {
		k := refs.Key{Bucket: rec.Bucket, Key: rec.Key}
		if !live[k] {
			stale = append(stale, k)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scanning local records")
	}
	for _, k := range stale {
		_, err := r.Refs.Delete(ctx, r.Namespace, k.Bucket, k.Key)
		if err != nil && !errors.Is(err, rbs.ErrNotFound) {
			return errors.Wrapf(err, "deleting record %s/%s", k.Bucket, k.Key)
		}
	}
	return nil
}

func dedup(in []rbs.Ref) []rbs.Ref {
	seen := make(map[rbs.Ref]bool, len(in))
	result := in[:0]
	for _, ref := range in {
		if !seen[ref] {
			seen[ref] = true
			result = append(result, ref)
		}
	}
	return result
}
