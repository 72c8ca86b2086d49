package mem

import (
	"context"
	"testing"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/replication"
	"github.com/bobg/rbs/testutil"
)

func TestBlobs(t *testing.T) {
	ctx := context.Background()
	testutil.Blobs(ctx, t, NewBlobs())
	testutil.BlobsQuick(ctx, t, NewBlobs())
	testutil.AllRefs(ctx, t, NewBlobs())
}

func TestRefs(t *testing.T) {
	testutil.Refs(context.Background(), t, NewRefs())
}

func TestLog(t *testing.T) {
	testutil.Log(context.Background(), t, func(*testing.T) replication.Log {
		return NewLog(0)
	})
}

func TestContentIDs(t *testing.T) {
	testutil.ContentIDs(context.Background(), t, NewContentIDs(), NewBlobs())
}

func TestRefsInstancesIsolated(t *testing.T) {
	ctx := context.Background()

	a, b := NewRefs(), NewRefs()
	if err := a.Put(ctx, "ns", "bucket", "key", rbs.Ref{1}, nil, true); err != nil {
		t.Fatal(err)
	}
	var n int
	err := b.GetNamespaces(ctx, func(rbs.NamespaceID) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("got %d namespaces in a fresh store, want 0", n)
	}
}
