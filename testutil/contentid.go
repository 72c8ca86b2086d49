package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/contentid"
)

// ContentIDs permits testing a contentid.Store implementation
// through a contentid.Resolver.
// The stores should be empty.
func ContentIDs(ctx context.Context, t *testing.T, s contentid.Store, blobs rbs.BlobStore) {
	const ns = rbs.NamespaceID("cid-ns")

	put := func(t *testing.T, data string) rbs.Ref {
		t.Helper()
		ref, _, err := rbs.Put(ctx, blobs, ns, []byte(data))
		if err != nil {
			t.Fatal(err)
		}
		return ref
	}

	r := &contentid.Resolver{Store: s, Blobs: blobs}

	var (
		chunkA   = put(t, "chunk a")
		chunkB   = put(t, "chunk b")
		chunkC   = put(t, "chunk c")
		absent   = rbs.RefOf([]byte("absent chunk"))
		whole    = rbs.RefOf([]byte("chunk achunk bchunk c"))
		unknown  = rbs.RefOf([]byte("unknown"))
		stored   = put(t, "stored whole")
		weighted = rbs.RefOf([]byte("weighted"))
	)

	t.Run("candidates_order", func(t *testing.T) {
		for _, w := range []int{30, 10, 20} {
			if err := s.Put(ctx, ns, weighted, []rbs.Ref{chunkA}, w); err != nil {
				t.Fatal(err)
			}
		}
		// Replacing, not merging.
		if err := s.Put(ctx, ns, weighted, []rbs.Ref{chunkB, chunkC}, 20); err != nil {
			t.Fatal(err)
		}
		var got []contentid.Candidate
		err := s.Candidates(ctx, ns, weighted, func(c contentid.Candidate) error {
			got = append(got, c)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		want := []contentid.Candidate{
			{Weight: 10, Chunks: []rbs.Ref{chunkA}},
			{Weight: 20, Chunks: []rbs.Ref{chunkB, chunkC}},
			{Weight: 30, Chunks: []rbs.Ref{chunkA}},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("preferred_incomplete", func(t *testing.T) {
		if err := r.PutChunks(ctx, ns, whole, []rbs.Ref{chunkA, absent}, 0); err != nil {
			t.Fatal(err)
		}
		if err := r.PutChunks(ctx, ns, whole, []rbs.Ref{chunkA, chunkB, chunkC}, 1); err != nil {
			t.Fatal(err)
		}
		got, err := r.Resolve(ctx, ns, whole)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]rbs.Ref{chunkA, chunkB, chunkC}, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("preferred_complete", func(t *testing.T) {
		if err := r.PutChunks(ctx, ns, whole, []rbs.Ref{chunkC}, -1); err != nil {
			t.Fatal(err)
		}
		got, err := r.Resolve(ctx, ns, whole)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]rbs.Ref{chunkC}, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("raw_fallback", func(t *testing.T) {
		if err := r.Put(ctx, ns, stored, absent, 0); err != nil {
			t.Fatal(err)
		}
		got, err := r.Resolve(ctx, ns, stored)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]rbs.Ref{stored}, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unresolved", func(t *testing.T) {
		if err := r.Put(ctx, ns, unknown, absent, 0); err != nil {
			t.Fatal(err)
		}
		_, err := r.Resolve(ctx, ns, unknown)
		if !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
		_, err = r.Resolve(ctx, ns, rbs.RefOf([]byte("never registered")))
		if !errors.Is(err, contentid.ErrUnresolved) {
			t.Errorf("got %v, want ErrUnresolved", err)
		}
	})

	t.Run("namespace_isolation", func(t *testing.T) {
		_, err := r.Resolve(ctx, "cid-other", whole)
		if !errors.Is(err, rbs.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}
