package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/replication"
)

// T0 is the base time of log tests.
// It is the middle of a day, so T0 through T0+11h share a daily bucket.
var T0 = time.Date(2021, 8, 5, 12, 0, 0, 0, time.UTC)

// Log permits testing a replication.Log implementation
// with the default bucket period.
// Each subtest gets a fresh log from newLog.
func Log(ctx context.Context, t *testing.T, newLog func(*testing.T) replication.Log) {
	const ns = rbs.NamespaceID("log-ns")

	blob := rbs.RefOf([]byte("blob"))

	insert := func(t *testing.T, l replication.Log, key rbs.KeyID, ts time.Time) replication.Cursor {
		t.Helper()
		cur, err := l.InsertAddEvent(ctx, ns, "bucket", key, blob, ts)
		if err != nil {
			t.Fatal(err)
		}
		return cur
	}

	keys := func(t *testing.T, l replication.Log, after replication.Cursor) []rbs.KeyID {
		t.Helper()
		var result []rbs.KeyID
		err := l.Get(ctx, ns, after, func(ev replication.Event) error {
			result = append(result, ev.Key)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		return result
	}

	t.Run("unknown_namespace", func(t *testing.T) {
		l := newLog(t)
		err := l.Get(ctx, ns, replication.Cursor{}, func(replication.Event) error { return nil })
		if !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("Get: got %v, want ErrNotFound", err)
		}
		if _, err = l.LastCursor(ctx, ns); !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("LastCursor: got %v, want ErrNotFound", err)
		}
		_, err = replication.ReadIncremental(ctx, l, ns, replication.IncrementalRequest{})
		if !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("ReadIncremental: got %v, want ErrNotFound", err)
		}
	})

	t.Run("append_order", func(t *testing.T) {
		l := newLog(t)
		var want []rbs.KeyID
		for i := 0; i < 10; i++ {
			key := rbs.KeyID(fmt.Sprintf("object %d", i))
			insert(t, l, key, T0.Add(time.Duration(i)*time.Hour))
			want = append(want, key)
		}
		if diff := cmp.Diff(want, keys(t, l, replication.Cursor{})); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("bucket_order", func(t *testing.T) {
		l := newLog(t)
		// The later bucket is written first.
		insert(t, l, "tomorrow", T0.Add(24*time.Hour))
		insert(t, l, "today 1", T0)
		insert(t, l, "today 2", T0)

		want := []rbs.KeyID{"today 1", "today 2", "tomorrow"}
		if diff := cmp.Diff(want, keys(t, l, replication.Cursor{})); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}

		var events []replication.Event
		err := l.Get(ctx, ns, replication.Cursor{}, func(ev replication.Event) error {
			events = append(events, ev)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if got, want := events[0].TimeBucket, replication.BucketLabel(T0, 0); got != want {
			t.Errorf("got bucket %s, want %s", got, want)
		}
		if events[0].TimeBucket == events[2].TimeBucket {
			t.Errorf("events a day apart share bucket %s", events[0].TimeBucket)
		}
		if events[0].Blob != blob || events[0].Op != replication.Added || events[0].Namespace != ns {
			t.Errorf("unexpected event %+v", events[0])
		}
	})

	t.Run("strictly_after", func(t *testing.T) {
		l := newLog(t)
		cursors := make([]replication.Cursor, 5)
		for i := range cursors {
			cursors[i] = insert(t, l, rbs.KeyID(fmt.Sprintf("k%d", i)), T0.Add(time.Duration(i)*10*time.Hour))
		}
		for i, cur := range cursors {
			var want []rbs.KeyID
			for j := i + 1; j < len(cursors); j++ {
				want = append(want, rbs.KeyID(fmt.Sprintf("k%d", j)))
			}
			if diff := cmp.Diff(want, keys(t, l, cur)); diff != "" {
				t.Errorf("after cursor %d mismatch (-want +got):\n%s", i, diff)
			}
		}

		last, err := l.LastCursor(ctx, ns)
		if err != nil {
			t.Fatal(err)
		}
		if last != cursors[len(cursors)-1] {
			t.Errorf("got last cursor %v, want %v", last, cursors[len(cursors)-1])
		}
	})

	t.Run("scenario", func(t *testing.T) {
		l := newLog(t)
		curA := insert(t, l, "A", T0)
		insert(t, l, "B", T0.Add(2*time.Hour))
		insert(t, l, "C", T0.Add(3*time.Hour))

		page, err := replication.ReadIncremental(ctx, l, ns, replication.IncrementalRequest{
			LastBucket: curA.Bucket,
			LastEvent:  curA.Event.String(),
		})
		if err != nil {
			t.Fatal(err)
		}
		var got []rbs.KeyID
		for _, ev := range page.Events {
			got = append(got, ev.Key)
		}
		if diff := cmp.Diff([]rbs.KeyID{"B", "C"}, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("count", func(t *testing.T) {
		l := newLog(t)
		for i := 0; i < 7; i++ {
			insert(t, l, rbs.KeyID(fmt.Sprintf("k%d", i)), T0.Add(time.Duration(i)*time.Hour))
		}

		var (
			req = replication.IncrementalRequest{Count: 3}
			got []rbs.KeyID
		)
		for {
			page, err := replication.ReadIncremental(ctx, l, ns, req)
			if err != nil {
				t.Fatal(err)
			}
			if len(page.Events) > 3 {
				t.Fatalf("got page of %d events, want at most 3", len(page.Events))
			}
			if len(page.Events) == 0 {
				break
			}
			for _, ev := range page.Events {
				got = append(got, ev.Key)
			}
			req.LastBucket, req.LastEvent = page.Next.Bucket, page.Next.Event.String()
		}
		want := []rbs.KeyID{"k0", "k1", "k2", "k3", "k4", "k5", "k6"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("bad_requests", func(t *testing.T) {
		l := newLog(t)
		cur := insert(t, l, "k", T0)

		cases := []replication.IncrementalRequest{
			{LastBucket: "bogus", LastEvent: cur.Event.String()},
			{LastBucket: cur.Bucket},
			{LastEvent: cur.Event.String()},
			{LastBucket: cur.Bucket, LastEvent: "not-a-uuid"},
			{LastBucket: "rep-0000", LastEvent: cur.Event.String()},
			{Count: -1},
		}
		for i, c := range cases {
			i, c := i, c
			t.Run(fmt.Sprintf("case_%02d", i), func(t *testing.T) {
				_, err := replication.ReadIncremental(ctx, l, ns, c)
				if !errors.Is(err, rbs.ErrBadRequest) {
					t.Errorf("got %v, want ErrBadRequest", err)
				}
			})
		}
	})

	t.Run("stale_cursor", func(t *testing.T) {
		l := newLog(t)
		old := insert(t, l, "old", T0)
		insert(t, l, "new", T0.Add(48*time.Hour))

		snap := replication.SnapshotInfo{Namespace: ns, Blob: rbs.RefOf([]byte("snapshot")), CreatedAt: T0.Add(48 * time.Hour)}
		if err := l.AddSnapshot(ctx, snap); err != nil {
			t.Fatal(err)
		}

		n, err := l.DeleteBucketsBefore(ctx, ns, replication.BucketLabel(T0.Add(24*time.Hour), 0))
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("DeleteBucketsBefore removed %d events, want 1", n)
		}

		_, err = replication.ReadIncremental(ctx, l, ns, replication.IncrementalRequest{
			LastBucket: old.Bucket,
			LastEvent:  old.Event.String(),
		})
		var stale *replication.StaleCursorError
		if !errors.As(err, &stale) {
			t.Fatalf("got %v, want StaleCursorError", err)
		}
		if !errors.Is(err, rbs.ErrStaleCursor) {
			t.Error("StaleCursorError is not ErrStaleCursor")
		}
		if stale.SnapshotID != snap.Blob {
			t.Errorf("got snapshot %s, want %s", stale.SnapshotID, snap.Blob)
		}

		// An existing namespace whose log is empty still exists.
		if _, err = l.DeleteBucketsBefore(ctx, ns, replication.BucketLabel(T0.Add(72*time.Hour), 0)); err != nil {
			t.Fatal(err)
		}
		page, err := replication.ReadIncremental(ctx, l, ns, replication.IncrementalRequest{})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Events) != 0 {
			t.Errorf("got %d events after deleting all buckets, want 0", len(page.Events))
		}
	})

	t.Run("snapshots", func(t *testing.T) {
		l := newLog(t)
		insert(t, l, "k", T0)

		var want []rbs.Ref
		for i := 0; i < 4; i++ {
			info := replication.SnapshotInfo{
				Namespace: ns,
				Blob:      rbs.RefOf([]byte(fmt.Sprintf("snapshot %d", i))),
				CreatedAt: T0.Add(time.Duration(i) * time.Minute),
			}
			if err := l.AddSnapshot(ctx, info); err != nil {
				t.Fatal(err)
			}
			want = append([]rbs.Ref{info.Blob}, want...)
		}

		if diff := cmp.Diff(want, snapshotRefs(ctx, t, l, ns)); diff != "" {
			t.Errorf("newest-first mismatch (-want +got):\n%s", diff)
		}

		if err := l.DeleteSnapshot(ctx, ns, want[3]); err != nil {
			t.Fatal(err)
		}
		if err := l.DeleteSnapshot(ctx, ns, want[3]); !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("second DeleteSnapshot: got %v, want ErrNotFound", err)
		}
		if diff := cmp.Diff(want[:3], snapshotRefs(ctx, t, l, ns)); diff != "" {
			t.Errorf("after delete mismatch (-want +got):\n%s", diff)
		}

		latest, err := replication.LatestSnapshot(ctx, l, ns)
		if err != nil {
			t.Fatal(err)
		}
		if latest.Blob != want[0] {
			t.Errorf("got latest %s, want %s", latest.Blob, want[0])
		}
	})

	t.Run("snapshot_without_log", func(t *testing.T) {
		l := newLog(t)
		info := replication.SnapshotInfo{
			Namespace: ns,
			Blob:      rbs.RefOf([]byte("snapshot of unlogged namespace")),
			CreatedAt: T0,
		}
		if err := l.AddSnapshot(ctx, info); err != nil {
			t.Fatal(err)
		}

		_, err := replication.ReadIncremental(ctx, l, ns, replication.IncrementalRequest{})
		if !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("ReadIncremental: got %v, want ErrNotFound", err)
		}
		if _, err = l.LastCursor(ctx, ns); !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("LastCursor: got %v, want ErrNotFound", err)
		}

		var got []rbs.NamespaceID
		err = l.GetNamespaces(ctx, func(n rbs.NamespaceID) error {
			got = append(got, n)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("got namespaces %v, want none", got)
		}

		if diff := cmp.Diff([]rbs.Ref{info.Blob}, snapshotRefs(ctx, t, l, ns)); diff != "" {
			t.Errorf("snapshot records mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("namespaces", func(t *testing.T) {
		l := newLog(t)
		for _, n := range []rbs.NamespaceID{"zeta", "alpha", "mu"} {
			if _, err := l.InsertAddEvent(ctx, n, "b", "k", blob, T0); err != nil {
				t.Fatal(err)
			}
		}
		var got []rbs.NamespaceID
		err := l.GetNamespaces(ctx, func(n rbs.NamespaceID) error {
			got = append(got, n)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]rbs.NamespaceID{"alpha", "mu", "zeta"}, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("delete_events", func(t *testing.T) {
		l := newLog(t)
		insert(t, l, "k", T0)
		if _, err := l.InsertDeleteEvent(ctx, ns, "bucket", "k", T0.Add(time.Minute)); err != nil {
			t.Fatal(err)
		}
		var ops []replication.Op
		err := l.Get(ctx, ns, replication.Cursor{}, func(ev replication.Event) error {
			ops = append(ops, ev.Op)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]replication.Op{replication.Added, replication.Deleted}, ops); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func snapshotRefs(ctx context.Context, t *testing.T, l replication.Log, ns rbs.NamespaceID) []rbs.Ref {
	t.Helper()
	var result []rbs.Ref
	err := l.GetSnapshots(ctx, ns, func(info replication.SnapshotInfo) error {
		result = append(result, info.Blob)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return result
}
