package testutil

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/bobg/rbs"
)

// AllRefs writes random sets of random blobs to fresh namespaces in store
// and makes sure that the right set of refs comes back in a call to ListRefs.
// It also checks that ListRefs starts strictly after its start ref.
func AllRefs(ctx context.Context, t *testing.T, store rbs.BlobStore) {
	lister, ok := store.(rbs.Lister)
	if !ok {
		t.Fatalf("%T does not implement ListRefs", store)
	}

	var iteration int

	err := quick.Check(func(blobs [][]byte) bool {
		iteration++
		ns := rbs.NamespaceID(fmt.Sprintf("allrefs-%d", iteration))

		var want []rbs.Ref
		for _, blob := range blobs {
			ref, added, err := rbs.Put(ctx, store, ns, blob)
			if err != nil {
				t.Fatal(err)
			}
			if added {
				want = append(want, ref)
			}
		}
		sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })

		got, err := listAll(ctx, lister, ns, rbs.Zero)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Logf("mismatch (-want +got):\n%s", diff)
			return false
		}

		if len(want) == 0 {
			return true
		}
		got, err = listAll(ctx, lister, ns, want[0])
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want[1:], got, cmpopts.EquateEmpty()); diff != "" {
			t.Logf("mismatch after %s (-want +got):\n%s", want[0], diff)
			return false
		}
		return true
	}, &quick.Config{MaxCount: 20})
	if err != nil {
		t.Error(err)
	}
}

func listAll(ctx context.Context, lister rbs.Lister, ns rbs.NamespaceID, start rbs.Ref) ([]rbs.Ref, error) {
	var refs []rbs.Ref
	err := lister.ListRefs(ctx, ns, start, func(ref rbs.Ref) error {
		refs = append(refs, ref)
		return nil
	})
	return refs, err
}
