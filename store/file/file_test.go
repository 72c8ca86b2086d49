package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/testutil"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	testutil.Blobs(ctx, t, New(t.TempDir()))
	testutil.BlobsQuick(ctx, t, New(t.TempDir()))
	testutil.AllRefs(ctx, t, New(t.TempDir()))
}

func TestNoTempFilesLeft(t *testing.T) {
	var (
		ctx  = context.Background()
		root = t.TempDir()
		s    = New(root)
	)
	ref, _, err := rbs.Put(ctx, s, "ns", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(s.blobpath("ns", ref)))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != ref.String() {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("got directory entries %v, want just %s", names, ref)
	}
}
