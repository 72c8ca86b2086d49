package contentid_test

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/contentid"
	"github.com/bobg/rbs/store/mem"
)

func TestWriteChunked(t *testing.T) {
	const ns = rbs.NamespaceID("chunked")

	ctx := context.Background()
	blobs := mem.NewBlobs()
	res := &contentid.Resolver{Store: mem.NewContentIDs(), Blobs: blobs}

	data := make([]byte, 200000)
	rand.New(rand.NewSource(1)).Read(data)

	id, err := contentid.WriteChunked(ctx, res, blobs, ns, bytes.NewReader(data), 1, contentid.Bits(10), contentid.MinSize(64))
	if err != nil {
		t.Fatal(err)
	}
	if id != rbs.RefOf(data) {
		t.Fatalf("got content id %s, want %s", id, rbs.RefOf(data))
	}

	id2, err := contentid.WriteChunked(ctx, res, blobs, ns, bytes.NewReader(data), 2, contentid.Bits(12))
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Fatalf("second write got content id %s, want %s", id2, id)
	}

	var cands []contentid.Candidate
	err = res.Store.Candidates(ctx, ns, id, func(c contentid.Candidate) error {
		cands = append(cands, c)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2", len(cands))
	}
	if len(cands[0].Chunks) < 2 {
		t.Errorf("input split into %d chunk(s)", len(cands[0].Chunks))
	}

	chunks, err := res.Resolve(ctx, ns, id)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cands[0].Chunks, chunks); diff != "" {
		t.Errorf("resolved chunks mismatch (-want +got):\n%s", diff)
	}

	buf := new(bytes.Buffer)
	if err := contentid.ReadResolved(ctx, res, ns, id, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Error("reassembled content differs from input")
	}

	// A different namespace has none of the chunks.
	err = contentid.ReadResolved(ctx, res, "elsewhere", id, buf)
	if !errors.Is(err, contentid.ErrUnresolved) {
		t.Errorf("got error %v, want ErrUnresolved", err)
	}
}

func TestWriterCloseTwice(t *testing.T) {
	const ns = rbs.NamespaceID("twice")

	ctx := context.Background()
	blobs := mem.NewBlobs()
	res := &contentid.Resolver{Store: mem.NewContentIDs(), Blobs: blobs}

	w := contentid.NewWriter(ctx, res, blobs, ns, 5)
	if _, err := w.Write([]byte("hello, world")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if w.ContentID != rbs.RefOf([]byte("hello, world")) {
		t.Errorf("got content id %s", w.ContentID)
	}

	chunks, err := res.Resolve(ctx, ns, w.ContentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0] != w.ContentID {
		t.Errorf("got chunks %v, want the whole input as one chunk", chunks)
	}
}
