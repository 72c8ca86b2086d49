package replicator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/objects"
	"github.com/bobg/rbs/refs"
	"github.com/bobg/rbs/replication"
	"github.com/bobg/rbs/snapshot"
	"github.com/bobg/rbs/store/mem"
)

const (
	ns     = rbs.NamespaceID("ns")
	snapNS = rbs.NamespaceID("snapshots")
)

var t0 = time.Date(2021, 8, 5, 12, 0, 0, 0, time.UTC)

type fixture struct {
	now     time.Time
	primary *objects.Service
	builder *snapshot.Builder
	replica *Replicator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{now: t0}

	oldNow := replication.Now
	replication.Now = func() time.Time { return f.now }
	t.Cleanup(func() { replication.Now = oldNow })

	var (
		blobs    = mem.NewBlobs()
		refStore = mem.NewRefs()
		log      = mem.NewLog(0)
	)
	refStore.Now = replication.Now

	f.primary = &objects.Service{Blobs: blobs, Refs: refStore, Log: log}
	f.builder = &snapshot.Builder{
		Refs:            refStore,
		Log:             log,
		Blobs:           blobs,
		BucketRetention: 24 * time.Hour,
		Now:             func() time.Time { return f.now },
	}
	f.replica = &Replicator{
		Source:    &LocalSource{Log: log, Blobs: blobs, SnapshotNamespace: snapNS},
		Namespace: ns,
		Blobs:     mem.NewBlobs(),
		Refs:      mem.NewRefs(),
		Cursors:   &MemCursors{},
	}
	return f
}

func (f *fixture) put(ctx context.Context, t *testing.T, key rbs.KeyID) {
	t.Helper()
	if _, _, err := f.primary.Put(ctx, ns, "bucket", key, []byte("content of "+key)); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) step(ctx context.Context, t *testing.T, want int) {
	t.Helper()
	n, err := f.replica.Step(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != want {
		t.Errorf("step applied %d, want %d", n, want)
	}
}

func (f *fixture) replicaKeys(ctx context.Context, t *testing.T) []rbs.KeyID {
	t.Helper()

	var keys []rbs.KeyID
	err := f.replica.Refs.GetRecords(ctx, ns, func(rec refs.ObjectRecord) error {
		keys = append(keys, rec.Key)

		data, err := f.replica.Blobs.GetObject(ctx, ns, rec.Blob)
		if err != nil {
			return err
		}
		if string(data) != "content of "+string(rec.Key) {
			t.Errorf("replica blob for %s is %q", rec.Key, data)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return keys
}

func TestStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Nothing to do before the source has a log.
	f.step(ctx, t, 0)

	f.put(ctx, t, "a")
	f.put(ctx, t, "b")
	if _, err := f.primary.Delete(ctx, ns, "bucket", "a"); err != nil {
		t.Fatal(err)
	}

	f.step(ctx, t, 3)
	f.step(ctx, t, 0)

	if diff := cmp.Diff([]rbs.KeyID{"b"}, f.replicaKeys(ctx, t)); diff != "" {
		t.Errorf("replica mismatch (-want +got):\n%s", diff)
	}

	last, err := f.primary.Log.LastCursor(ctx, ns)
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.replica.Cursors.Get(ctx, ns)
	if err != nil {
		t.Fatal(err)
	}
	if got != last {
		t.Errorf("got cursor %v, want %v", got, last)
	}
}

func TestStepPaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.replica.PageSize = 2

	for _, key := range []rbs.KeyID{"a", "b", "c"} {
		f.put(ctx, t, key)
	}

	f.step(ctx, t, 2)
	f.step(ctx, t, 1)
	f.step(ctx, t, 0)

	if diff := cmp.Diff([]rbs.KeyID{"a", "b", "c"}, f.replicaKeys(ctx, t)); diff != "" {
		t.Errorf("replica mismatch (-want +got):\n%s", diff)
	}
}

func TestStaleCursorResync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.put(ctx, t, "a")
	f.step(ctx, t, 1)

	f.now = t0.Add(48 * time.Hour)
	f.put(ctx, t, "b")
	if _, err := f.primary.Delete(ctx, ns, "bucket", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.builder.BuildSnapshot(ctx, ns, snapNS); err != nil {
		t.Fatal(err)
	}

	// The replica's cursor is in a bucket the builder trimmed.
	f.step(ctx, t, 1)
	if diff := cmp.Diff([]rbs.KeyID{"b"}, f.replicaKeys(ctx, t)); diff != "" {
		t.Errorf("replica after resync mismatch (-want +got):\n%s", diff)
	}

	f.put(ctx, t, "c")
	f.step(ctx, t, 1)
	if diff := cmp.Diff([]rbs.KeyID{"b", "c"}, f.replicaKeys(ctx, t)); diff != "" {
		t.Errorf("replica after resume mismatch (-want +got):\n%s", diff)
	}
}

func TestRunStops(t *testing.T) {
	f := newFixture(t)
	f.replica.Interval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f.put(ctx, t, "a")

	err := f.replica.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got error %v, want DeadlineExceeded", err)
	}
	if diff := cmp.Diff([]rbs.KeyID{"a"}, f.replicaKeys(context.Background(), t)); diff != "" {
		t.Errorf("replica mismatch (-want +got):\n%s", diff)
	}
}

func TestFileCursors(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "sub", "cursors.json")
	fc := &FileCursors{Path: path}

	got, err := fc.Get(ctx, ns)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("got cursor %v from an empty store, want zero", got)
	}

	want := replication.Cursor{
		Bucket: replication.BucketLabel(t0, 0),
		Event:  uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057"),
	}
	if err = fc.Set(ctx, ns, want); err != nil {
		t.Fatal(err)
	}
	if err = fc.Set(ctx, "other", want); err != nil {
		t.Fatal(err)
	}

	got, err = (&FileCursors{Path: path}).Get(ctx, ns)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got cursor %v, want %v", got, want)
	}

	if err = fc.Set(ctx, ns, replication.Cursor{}); err != nil {
		t.Fatal(err)
	}
	got, err = fc.Get(ctx, ns)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("got cursor %v after reset, want zero", got)
	}
}
