// Package compress implements a blob store that compresses and uncompresses blobs
// on their way into and out of a nested store.
//
// Blobs are stored in the nested store under their uncompressed refs.
// Each stored value begins with a one-byte tag naming the codec that produced it,
// so a Store can read values written with any compressor.
package compress

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store"
)

var _ rbs.BlobStore = &Store{}

// Store is a blob store that compresses blobs before writing them to a nested store.
type Store struct {
	s rbs.BlobStore
	c Compressor
}

// Compressor is a codec for blob contents.
type Compressor interface {
	// Tag is the byte that marks values produced by this compressor.
	Tag() byte

	Compress([]byte) ([]byte, error)
	Uncompress([]byte) ([]byte, error)
}

// New produces a new Store writing to s with c.
func New(s rbs.BlobStore, c Compressor) *Store {
	return &Store{s: s, c: c}
}

// Exists tells whether the blob with hash ref is in ns.
func (s *Store) Exists(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) (bool, error) {
	return s.s.Exists(ctx, ns, ref)
}

// GetObject gets the blob with hash ref from ns and uncompresses it.
func (s *Store) GetObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error) {
	stored, err := s.s.GetObject(ctx, ns, ref)
	if err != nil {
		return nil, err
	}
	blob, err := decode(stored)
	return blob, errors.Wrapf(err, "uncompressing blob %s", ref)
}

// PutObject compresses data and adds it to ns if it wasn't already present.
// Data that does not shrink is stored raw.
func (s *Store) PutObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref, data []byte) (bool, error) {
	compressed, err := s.c.Compress(data)
	if err != nil {
		return false, errors.Wrap(err, "compressing blob")
	}

	var stored []byte
	if len(compressed) < len(data) {
		stored = append([]byte{s.c.Tag()}, compressed...)
	} else {
		stored = append([]byte{tagRaw}, data...)
	}

	added, err := s.s.PutObject(ctx, ns, ref, stored)
	return added, errors.Wrap(err, "storing compressed blob")
}

func decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, errors.New("empty value")
	}
	tag, payload := stored[0], stored[1:]
	if tag == tagRaw {
		return payload, nil
	}
	c, ok := byTag[tag]
	if !ok {
		return nil, fmt.Errorf("unknown codec tag %d", tag)
	}
	return c.Uncompress(payload)
}

// Named gets a compressor by name: "zstd", "flate", or "s2".
// The level parameter is meaningful only for zstd and flate;
// zero means the codec's default.
func Named(name string, level int) (Compressor, error) {
	switch name {
	case "zstd":
		return NewZstd(level)
	case "flate":
		return Flate{Level: level}, nil
	case "s2":
		return S2{}, nil
	default:
		return nil, fmt.Errorf(`unknown compressor "%s"`, name)
	}
}

func init() {
	store.Register("compress", func(ctx context.Context, conf map[string]interface{}) (rbs.BlobStore, error) {
		nested, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, err
		}
		level, err := store.Int(conf, "level", 0)
		if err != nil {
			return nil, err
		}
		c, err := Named(store.OptString(conf, "compressor", "zstd"), level)
		if err != nil {
			return nil, err
		}
		return New(nested, c), nil
	})
}
