package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/refs"
)

// Refs permits testing a refs.Store implementation.
// The store should be empty.
func Refs(ctx context.Context, t *testing.T, s refs.Store) {
	const (
		ns     = rbs.NamespaceID("refs-ns")
		other  = rbs.NamespaceID("refs-other")
		bucket = rbs.BucketID("bucket")
	)

	var (
		blob1 = rbs.RefOf([]byte("blob 1"))
		blob2 = rbs.RefOf([]byte("blob 2"))
	)

	t.Run("get_absent", func(t *testing.T) {
		_, err := s.Get(ctx, ns, bucket, "absent")
		if !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
		if err = s.Finalize(ctx, ns, bucket, "absent", blob1); !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("Finalize: got %v, want ErrNotFound", err)
		}
		if err = s.UpdateLastAccessTime(ctx, ns, bucket, "absent", time.Now()); !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("UpdateLastAccessTime: got %v, want ErrNotFound", err)
		}
		if _, err = s.Delete(ctx, ns, bucket, "absent"); !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("Delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("put_get", func(t *testing.T) {
		if err := s.Put(ctx, ns, bucket, "object one", blob1, []byte("blob 1"), false); err != nil {
			t.Fatal(err)
		}
		rec, err := s.Get(ctx, ns, bucket, "object one")
		if err != nil {
			t.Fatal(err)
		}
		want := refs.ObjectRecord{
			Namespace: ns,
			Bucket:    bucket,
			Key:       "object one",
			Blob:      blob1,
			Inline:    []byte("blob 1"),
		}
		rec.LastAccess = time.Time{}
		if diff := cmp.Diff(want, rec); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}

		// Overwrite.
		if err = s.Put(ctx, ns, bucket, "object one", blob2, nil, false); err != nil {
			t.Fatal(err)
		}
		rec, err = s.Get(ctx, ns, bucket, "object one")
		if err != nil {
			t.Fatal(err)
		}
		if rec.Blob != blob2 {
			t.Errorf("got blob %s after overwrite, want %s", rec.Blob, blob2)
		}
		if len(rec.Inline) != 0 {
			t.Errorf("got inline %q after overwrite, want none", rec.Inline)
		}
	})

	t.Run("finalize", func(t *testing.T) {
		if err := s.Put(ctx, ns, bucket, "fin", blob1, nil, false); err != nil {
			t.Fatal(err)
		}
		if err := s.Finalize(ctx, ns, bucket, "fin", blob2); !errors.Is(err, rbs.ErrConflict) {
			t.Errorf("mismatched finalize: got %v, want ErrConflict", err)
		}
		if err := s.Finalize(ctx, ns, bucket, "fin", blob1); err != nil {
			t.Fatal(err)
		}
		if err := s.Finalize(ctx, ns, bucket, "fin", blob1); err != nil {
			t.Errorf("repeated finalize: %s", err)
		}
		rec, err := s.Get(ctx, ns, bucket, "fin")
		if err != nil {
			t.Fatal(err)
		}
		if !rec.IsFinalized {
			t.Error("record not finalized")
		}
	})

	t.Run("oldest", func(t *testing.T) {
		const oldestNS = rbs.NamespaceID("refs-oldest")

		base := time.Date(2021, 8, 5, 12, 0, 0, 0, time.UTC)
		// Access times deliberately out of insertion order.
		order := []int{3, 0, 4, 1, 2}
		for i := range order {
			key := rbs.KeyID(fmt.Sprintf("object %d", i))
			if err := s.Put(ctx, oldestNS, bucket, key, blob1, nil, true); err != nil {
				t.Fatal(err)
			}
		}
		for i, rank := range order {
			key := rbs.KeyID(fmt.Sprintf("object %d", i))
			if err := s.UpdateLastAccessTime(ctx, oldestNS, bucket, key, base.Add(time.Duration(rank)*time.Minute)); err != nil {
				t.Fatal(err)
			}
		}

		var got []rbs.KeyID
		err := s.GetOldestRecords(ctx, oldestNS, func(rec refs.ObjectRecord) error {
			got = append(got, rec.Key)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		want := []rbs.KeyID{"object 1", "object 3", "object 4", "object 0", "object 2"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}

		// Stopping early.
		errStop := errors.New("stop")
		var n int
		err = s.GetOldestRecords(ctx, oldestNS, func(refs.ObjectRecord) error {
			n++
			if n == 2 {
				return errStop
			}
			return nil
		})
		if !errors.Is(err, errStop) {
			t.Errorf("got %v, want errStop", err)
		}
		if n != 2 {
			t.Errorf("callback called %d times, want 2", n)
		}
	})

	t.Run("records", func(t *testing.T) {
		const recNS = rbs.NamespaceID("refs-records")
		for _, k := range []refs.Key{{Bucket: "b", Key: "2"}, {Bucket: "a", Key: "9"}, {Bucket: "b", Key: "1"}} {
			if err := s.Put(ctx, recNS, k.Bucket, k.Key, blob1, nil, true); err != nil {
				t.Fatal(err)
			}
		}
		var got []refs.Key
		err := s.GetRecords(ctx, recNS, func(rec refs.ObjectRecord) error {
			got = append(got, refs.Key{Bucket: rec.Bucket, Key: rec.Key})
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		want := []refs.Key{{Bucket: "a", Key: "9"}, {Bucket: "b", Key: "1"}, {Bucket: "b", Key: "2"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("delete", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := s.Put(ctx, other, "doomed", rbs.KeyID(fmt.Sprintf("k%d", i)), blob1, nil, true); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.Put(ctx, other, "kept", "k", blob1, nil, true); err != nil {
			t.Fatal(err)
		}

		n, err := s.Delete(ctx, other, "doomed", "k0")
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("Delete removed %d, want 1", n)
		}

		n, err = s.DeleteBucket(ctx, other, "doomed")
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("DeleteBucket removed %d, want 2", n)
		}
		if _, err = s.Get(ctx, other, "kept", "k"); err != nil {
			t.Errorf("record in other bucket: %s", err)
		}
	})

	t.Run("namespaces", func(t *testing.T) {
		const dropNS = rbs.NamespaceID("refs-zdrop")
		if err := s.Put(ctx, dropNS, bucket, "k", blob1, nil, true); err != nil {
			t.Fatal(err)
		}
		if !hasNamespace(ctx, t, s, dropNS) {
			t.Fatalf("namespace %s missing after Put", dropNS)
		}
		n, err := s.DropNamespace(ctx, dropNS)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("DropNamespace removed %d, want 1", n)
		}
		if hasNamespace(ctx, t, s, dropNS) {
			t.Errorf("namespace %s present after DropNamespace", dropNS)
		}
		if !hasNamespace(ctx, t, s, ns) {
			t.Errorf("namespace %s missing", ns)
		}
	})
}

func hasNamespace(ctx context.Context, t *testing.T, s refs.Store, want rbs.NamespaceID) bool {
	var found bool
	err := s.GetNamespaces(ctx, func(ns rbs.NamespaceID) error {
		if ns == want {
			found = true
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return found
}
