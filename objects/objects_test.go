package objects

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/refs"
	"github.com/bobg/rbs/replication"
	"github.com/bobg/rbs/store/mem"
)

const ns = rbs.NamespaceID("ns")

type fixture struct {
	svc  *Service
	refs *mem.Refs
	log  *mem.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var (
		clock = time.Date(2021, 8, 5, 12, 0, 0, 0, time.UTC)
		now   = func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}
		oldNow = replication.Now
	)
	replication.Now = now
	t.Cleanup(func() { replication.Now = oldNow })

	f := &fixture{
		refs: mem.NewRefs(),
		log:  mem.NewLog(0),
	}
	f.refs.Now = now
	f.svc = &Service{
		Blobs: mem.NewBlobs(),
		Refs:  f.refs,
		Log:   f.log,
	}
	return f
}

func (f *fixture) events(ctx context.Context, t *testing.T) []string {
	t.Helper()

	var result []string
	err := f.log.Get(ctx, ns, replication.Cursor{}, func(e replication.Event) error {
		result = append(result, fmt.Sprintf("%s %s/%s", e.Op, e.Bucket, e.Key))
		return nil
	})
	if errors.Is(err, rbs.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	small := []byte("small")
	big := []byte(strings.Repeat("x", DefaultInlineMax+1))

	ref, cursor, err := f.svc.Put(ctx, ns, "b", "small", small)
	if err != nil {
		t.Fatal(err)
	}
	if ref != rbs.RefOf(small) {
		t.Errorf("got ref %s, want %s", ref, rbs.RefOf(small))
	}
	if cursor.IsZero() {
		t.Error("got zero cursor")
	}
	if _, _, err = f.svc.Put(ctx, ns, "b", "big", big); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		key        rbs.KeyID
		want       []byte
		wantInline bool
	}{
		{key: "small", want: small, wantInline: true},
		{key: "big", want: big},
	} {
		tc := tc
		t.Run(string(tc.key), func(t *testing.T) {
			before, err := f.refs.Get(ctx, ns, "b", tc.key)
			if err != nil {
				t.Fatal(err)
			}
			if (before.Inline != nil) != tc.wantInline {
				t.Errorf("got inline %v, want %v", before.Inline != nil, tc.wantInline)
			}
			rec, data, err := f.svc.Get(ctx, ns, "b", tc.key)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(data, tc.want) {
				t.Error("content mismatch")
			}
			if !rec.IsFinalized {
				t.Error("record not finalized")
			}
			if !rec.LastAccess.After(before.LastAccess) {
				t.Errorf("last access %s not after %s", rec.LastAccess, before.LastAccess)
			}
		})
	}

	if diff := cmp.Diff([]string{"add b/small", "add b/big"}, f.events(ctx, t)); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	_, _, err = f.svc.Get(ctx, ns, "b", "absent")
	if !errors.Is(err, rbs.ErrNotFound) {
		t.Errorf("got error %v, want ErrNotFound", err)
	}
}

func TestPutRefFinalize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	data := []byte("uploaded separately")
	ref, _, err := rbs.Put(ctx, f.svc.Blobs, ns, data)
	if err != nil {
		t.Fatal(err)
	}

	cursor, err := f.svc.PutRef(ctx, ns, "b", "k", ref, false)
	if err != nil {
		t.Fatal(err)
	}
	if !cursor.IsZero() {
		t.Error("unfinalized PutRef appended an event")
	}
	if got := f.events(ctx, t); len(got) != 0 {
		t.Errorf("got events %v before finalization", got)
	}

	_, err = f.svc.Finalize(ctx, ns, "b", "k", rbs.RefOf([]byte("other")))
	if !errors.Is(err, rbs.ErrConflict) {
		t.Errorf("got error %v finalizing with the wrong blob, want ErrConflict", err)
	}

	cursor, err = f.svc.Finalize(ctx, ns, "b", "k", ref)
	if err != nil {
		t.Fatal(err)
	}
	if cursor.IsZero() {
		t.Error("finalization appended no event")
	}

	cursor, err = f.svc.Finalize(ctx, ns, "b", "k", ref)
	if err != nil {
		t.Fatal(err)
	}
	if !cursor.IsZero() {
		t.Error("re-finalization appended an event")
	}

	if diff := cmp.Diff([]string{"add b/k"}, f.events(ctx, t)); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	_, err = f.svc.PutRef(ctx, ns, "b", "k2", rbs.RefOf([]byte("never stored")), true)
	if !errors.Is(err, rbs.ErrBadRequest) {
		t.Errorf("got error %v for PutRef of a missing blob, want ErrBadRequest", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, _, err := f.svc.Put(ctx, ns, "b", "k", []byte("doomed")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Delete(ctx, ns, "b", "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Delete(ctx, ns, "b", "k"); !errors.Is(err, rbs.ErrNotFound) {
		t.Errorf("got error %v deleting twice, want ErrNotFound", err)
	}
	if diff := cmp.Diff([]string{"add b/k", "delete b/k"}, f.events(ctx, t)); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestEvict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 1; i <= 5; i++ {
		key := rbs.KeyID(fmt.Sprintf("k%d", i))
		if _, _, err := f.svc.Put(ctx, ns, "b", key, []byte(key)); err != nil {
			t.Fatal(err)
		}
	}

	// Touch k1 so that k2 and k3 are the oldest.
	if _, _, err := f.svc.Get(ctx, ns, "b", "k1"); err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.Evict(ctx, ns, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("evicted %d objects, want 2", n)
	}

	var remaining []string
	err = f.refs.GetRecords(ctx, ns, func(rec refs.ObjectRecord) error {
		remaining = append(remaining, string(rec.Key))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"k1", "k4", "k5"}, remaining); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}

	n, err = f.svc.Evict(ctx, ns, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second eviction removed %d objects, want 0", n)
	}

	if _, err = f.svc.Evict(ctx, ns, -1); !errors.Is(err, rbs.ErrBadRequest) {
		t.Errorf("got error %v for negative keep, want ErrBadRequest", err)
	}
}
