// Package testutil holds conformance tests shared by the storage backends.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/rbs"
)

// Blobs permits testing a BlobStore implementation
// by writing blobs to it and reading them back out,
// checking namespace isolation along the way.
// The store should be empty.
func Blobs(ctx context.Context, t *testing.T, store rbs.BlobStore) {
	const (
		ns1 = rbs.NamespaceID("ns1")
		ns2 = rbs.NamespaceID("ns2")
	)

	data := []byte("four score and seven years ago")

	ref, added, err := rbs.Put(ctx, store, ns1, data)
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("first put: got added=false, want true")
	}
	if ref != rbs.RefOf(data) {
		t.Errorf("got ref %s, want %s", ref, rbs.RefOf(data))
	}

	_, added, err = rbs.Put(ctx, store, ns1, data)
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("second put: got added=true, want false")
	}

	got, err := store.GetObject(ctx, ns1, ref)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %q, want %q", got, data)
	}

	ok, err := store.Exists(ctx, ns1, ref)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("blob missing from ns1")
	}

	ok, err = store.Exists(ctx, ns2, ref)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("blob visible in ns2")
	}

	_, err = store.GetObject(ctx, ns2, ref)
	if !errors.Is(err, rbs.ErrNotFound) {
		t.Errorf("got error %v from GetObject in ns2, want ErrNotFound", err)
	}

	var (
		absent1 = rbs.RefOf([]byte("absent 1"))
		absent2 = rbs.RefOf([]byte("absent 2"))
	)
	missing, err := rbs.FilterOutKnownBlobs(ctx, store, ns1, []rbs.Ref{absent1, ref, absent2})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]rbs.Ref{absent1, absent2}, missing); diff != "" {
		t.Errorf("FilterOutKnownBlobs mismatch (-want +got):\n%s", diff)
	}
}

// BlobsQuick writes random sets of blobs to store
// and makes sure each can be read back.
func BlobsQuick(ctx context.Context, t *testing.T, store rbs.BlobStore) {
	const ns = rbs.NamespaceID("quick")

	err := quick.Check(func(blobs [][]byte) bool {
		refs := make([]rbs.Ref, 0, len(blobs))
		for _, blob := range blobs {
			ref, _, err := rbs.Put(ctx, store, ns, blob)
			if err != nil {
				t.Log(err)
				return false
			}
			refs = append(refs, ref)
		}
		got, err := rbs.GetMulti(ctx, store, ns, refs)
		if err != nil {
			t.Log(err)
			return false
		}
		for i, ref := range refs {
			if !bytes.Equal(got[ref], blobs[i]) {
				t.Logf("blob %s mismatch", ref)
				return false
			}
		}
		return true
	}, &quick.Config{MaxCount: 20})
	if err != nil {
		t.Error(err)
	}
}
