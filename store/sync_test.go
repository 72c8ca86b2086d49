package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/rbs"
	. "github.com/bobg/rbs/store"
	"github.com/bobg/rbs/store/mem"
)

func TestSync(t *testing.T) {
	const (
		text = `abc def ghi jkl mno pqr stu`
		ns   = rbs.NamespaceID("sync")
	)

	var (
		ctx    = context.Background()
		words  = strings.Fields(text)
		stores = make([]rbs.BlobStore, 0, len(words))
	)
	for i := range words {
		s := mem.NewBlobs()
		stores = append(stores, s)
		for j, word := range words {
			if i == j {
				continue
			}
			if _, _, err := rbs.Put(ctx, s, ns, []byte(word)); err != nil {
				t.Fatal(err)
			}
		}
	}

	// A blob in a different namespace stays put.
	if _, _, err := rbs.Put(ctx, stores[0], "other", []byte("other")); err != nil {
		t.Fatal(err)
	}

	if err := Sync(ctx, ns, stores); err != nil {
		t.Fatal(err)
	}

	refs := listRefs(ctx, t, stores[0], ns)
	if len(refs) != len(words) {
		t.Errorf("got %d refs, want %d", len(refs), len(words))
	}
	for i := 1; i < len(stores); i++ {
		if diff := cmp.Diff(refs, listRefs(ctx, t, stores[i], ns)); diff != "" {
			t.Errorf("store %d mismatch (-want +got):\n%s", i, diff)
		}
		if got := listRefs(ctx, t, stores[i], "other"); len(got) != 0 {
			t.Errorf("store %d: got %d refs in other namespace, want 0", i, len(got))
		}
	}
}

type noLister struct{ rbs.BlobStore }

func TestSyncRequiresLister(t *testing.T) {
	stores := []rbs.BlobStore{mem.NewBlobs(), noLister{mem.NewBlobs()}}
	err := Sync(context.Background(), "ns", stores)
	if !errors.Is(err, rbs.ErrBadRequest) {
		t.Errorf("got error %v, want ErrBadRequest", err)
	}
}

func listRefs(ctx context.Context, t *testing.T, s rbs.BlobStore, ns rbs.NamespaceID) []rbs.Ref {
	t.Helper()

	var refs []rbs.Ref
	err := s.(rbs.Lister).ListRefs(ctx, ns, rbs.Zero, func(ref rbs.Ref) error {
		refs = append(refs, ref)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return refs
}
