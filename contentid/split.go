package contentid

import (
	"context"
	"crypto/sha256"
	"hash"
	"io"

	"github.com/bobg/hashsplit"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
)

// Writer is an io.WriteCloser that splits its input with a hashsplit.Splitter,
// writing the chunks to a blob store as separate blobs.
// On Close it registers the chunk list as a candidate
// for the content id of the whole input,
// which is then available as Writer.ContentID.
type Writer struct {
	Ctx       context.Context
	ContentID rbs.Ref // populated by Close

	r      *Resolver
	blobs  rbs.BlobStore
	ns     rbs.NamespaceID
	weight int
	spl    *hashsplit.Splitter
	h      hash.Hash
	chunks []rbs.Ref
	closed bool
}

// NewWriter produces a new Writer storing chunks in ns of blobs
// and registering them with r at the given weight.
// The given context object is stored in the Writer and used in subsequent calls to Write and Close.
func NewWriter(ctx context.Context, r *Resolver, blobs rbs.BlobStore, ns rbs.NamespaceID, weight int, opts ...Option) *Writer {
	w := &Writer{
		Ctx:    ctx,
		r:      r,
		blobs:  blobs,
		ns:     ns,
		weight: weight,
		h:      sha256.New(),
	}
	spl := hashsplit.NewSplitter(func(chunk []byte, _ uint) error {
		ref, _, err := rbs.Put(w.Ctx, blobs, ns, chunk)
		if err != nil {
			return errors.Wrap(err, "writing split chunk to store")
		}
		w.chunks = append(w.chunks, ref)
		return nil
	})
	spl.MinSize = 1024
	spl.SplitBits = 14
	w.spl = spl
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write implements io.Writer.
func (w *Writer) Write(inp []byte) (int, error) {
	w.h.Write(inp)
	return w.spl.Write(inp)
}

// Close implements io.Closer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.spl.Close(); err != nil {
		return err
	}
	copy(w.ContentID[:], w.h.Sum(nil))
	return w.r.PutChunks(w.Ctx, w.ns, w.ContentID, w.chunks, w.weight)
}

type Option func(*Writer)

func Bits(n uint) Option {
	return func(w *Writer) {
		w.spl.SplitBits = n
	}
}

func MinSize(n int) Option {
	return func(w *Writer) {
		w.spl.MinSize = n
	}
}

// WriteChunked splits the content of r into chunks,
// stores them in ns,
// and registers them as a candidate at the given weight.
// It returns the content id: the hash of the whole content.
func WriteChunked(ctx context.Context, res *Resolver, blobs rbs.BlobStore, ns rbs.NamespaceID, r io.Reader, weight int, opts ...Option) (rbs.Ref, error) {
	w := NewWriter(ctx, res, blobs, ns, weight, opts...)
	if _, err := io.Copy(w, r); err != nil {
		return rbs.Zero, errors.Wrap(err, "splitting input")
	}
	if err := w.Close(); err != nil {
		return rbs.Zero, err
	}
	return w.ContentID, nil
}

// ReadResolved resolves contentID
// and writes the content of its chunks, in order, to w.
func ReadResolved(ctx context.Context, res *Resolver, ns rbs.NamespaceID, contentID rbs.Ref, w io.Writer) error {
	chunks, err := res.Resolve(ctx, ns, contentID)
	if err != nil {
		return err
	}
	for _, ref := range chunks {
		data, err := res.Blobs.GetObject(ctx, ns, ref)
		if err != nil {
			return errors.Wrapf(err, "getting chunk %s", ref)
		}
		if _, err := w.Write(data); err != nil {
			return errors.Wrap(err, "writing chunk")
		}
	}
	return nil
}
