package replica

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store/mem"
	"github.com/bobg/rbs/testutil"
)

const ns = rbs.NamespaceID("ns")

func TestReplicaSets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		m1 = mem.NewBlobs()
		m2 = mem.NewBlobs()
		s  = New(ctx, []rbs.BlobStore{m1, m2}, nil, 1)
	)

	ref1, _, err := rbs.Put(ctx, m1, ns, []byte("foo"))
	if err != nil {
		t.Fatal(err)
	}
	ref2, _, err := rbs.Put(ctx, m2, ns, []byte("bar"))
	if err != nil {
		t.Fatal(err)
	}
	ref3, added, err := rbs.Put(ctx, s, ns, []byte("baz"))
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("got added=false for a new blob")
	}

	checkReplica(ctx, t, "m1", m1, ref1, ref3)
	checkReplica(ctx, t, "m2", m2, ref2, ref3)
	checkReplica(ctx, t, "replica", s, ref1, ref2, ref3)

	// Either replica can serve a read.
	for _, ref := range []rbs.Ref{ref1, ref2} {
		if _, err = s.GetObject(ctx, ns, ref); err != nil {
			t.Errorf("getting %s: %s", ref, err)
		}
	}
}

func checkReplica(ctx context.Context, t *testing.T, name string, s rbs.Lister, want ...rbs.Ref) {
	t.Run(name, func(t *testing.T) {
		var got []rbs.Ref
		err := s.ListRefs(ctx, ns, rbs.Zero, func(r rbs.Ref) error {
			got = append(got, r)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBlobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(ctx, []rbs.BlobStore{mem.NewBlobs(), mem.NewBlobs()}, nil, 1)
	testutil.Blobs(ctx, t, s)
	testutil.AllRefs(ctx, t, New(ctx, []rbs.BlobStore{mem.NewBlobs(), mem.NewBlobs()}, nil, 1))
}

func TestAsync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		m1    = mem.NewBlobs()
		async = mem.NewBlobs()
		s     = New(ctx, []rbs.BlobStore{m1}, []rbs.BlobStore{async}, 4)
	)

	ref, _, err := rbs.Put(ctx, s, ns, []byte("eventually"))
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		ok, err := async.Exists(ctx, ns, ref)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("blob never reached the async store")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
