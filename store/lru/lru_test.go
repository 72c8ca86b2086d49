package lru

import (
	"bytes"
	"context"
	"testing"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store/mem"
	"github.com/bobg/rbs/testutil"
)

func TestStore(t *testing.T) {
	ctx := context.Background()

	s, err := New(mem.NewBlobs(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Blobs(ctx, t, s)
	testutil.BlobsQuick(ctx, t, s)
}

func TestEviction(t *testing.T) {
	ctx := context.Background()

	nested := mem.NewBlobs()
	s, err := New(nested, 2)
	if err != nil {
		t.Fatal(err)
	}

	var refs []rbs.Ref
	for _, word := range []string{"alpha", "beta", "gamma"} {
		ref, _, err := rbs.Put(ctx, s, "ns", []byte(word))
		if err != nil {
			t.Fatal(err)
		}
		refs = append(refs, ref)
	}
	if s.Len() != 2 {
		t.Errorf("got %d cached blobs, want 2", s.Len())
	}

	// The evicted blob still comes from the nested store.
	got, err := s.GetObject(ctx, "ns", refs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("alpha")) {
		t.Errorf("got %q, want alpha", got)
	}
	if s.Len() != 2 {
		t.Errorf("got %d cached blobs after refill, want 2", s.Len())
	}
}
