// Package lru implements a blob store that acts as a least-recently-used cache for a nested blob store.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store"
)

var _ rbs.BlobStore = &Store{}

// Store implements a memory-based least-recently-used cache for a blob store.
// Writes pass through to the underlying blob store.
// Blobs never change once written, so cached entries never go stale.
type Store struct {
	c *lru.Cache // key->[]byte
	s rbs.BlobStore
}

type key struct {
	ns  rbs.NamespaceID
	ref rbs.Ref
}

// New produces a new Store backed by s and caching up to size blobs.
func New(s rbs.BlobStore, size int) (*Store, error) {
	c, err := lru.New(size)
	return &Store{s: s, c: c}, errors.Wrap(err, "creating cache")
}

// Exists tells whether the blob with hash ref is in ns.
// Only positive answers are served from the cache.
func (s *Store) Exists(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) (bool, error) {
	if s.c.Contains(key{ns: ns, ref: ref}) {
		return true, nil
	}
	return s.s.Exists(ctx, ns, ref)
}

// GetObject gets the blob with hash ref from ns.
func (s *Store) GetObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error) {
	k := key{ns: ns, ref: ref}
	if got, ok := s.c.Get(k); ok {
		return got.([]byte), nil
	}
	blob, err := s.s.GetObject(ctx, ns, ref)
	if err != nil {
		return nil, err
	}
	s.c.Add(k, blob)
	return blob, nil
}

// PutObject adds a blob to ns if it wasn't already present.
func (s *Store) PutObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref, data []byte) (bool, error) {
	added, err := s.s.PutObject(ctx, ns, ref, data)
	if err != nil {
		return false, err
	}
	s.c.Add(key{ns: ns, ref: ref}, data)
	return added, nil
}

// Len tells how many blobs are cached.
func (s *Store) Len() int {
	return s.c.Len()
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (rbs.BlobStore, error) {
		size, err := store.Int(conf, "size", 0)
		if err != nil {
			return nil, err
		}
		if size <= 0 {
			return nil, errors.New(`missing "size" parameter`)
		}
		nested, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, err
		}
		return New(nested, size)
	})
}
