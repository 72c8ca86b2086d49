// Package mem implements in-memory blob and metadata stores.
// All state is scoped to the store value; nothing is shared between instances.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store"
)

var (
	_ rbs.BlobStore = &Blobs{}
	_ rbs.Lister    = &Blobs{}
)

// Blobs is a memory-based implementation of a blob store.
type Blobs struct {
	mu    sync.Mutex
	blobs map[rbs.NamespaceID]map[rbs.Ref][]byte
}

// NewBlobs produces a new Blobs.
func NewBlobs() *Blobs {
	return &Blobs{blobs: make(map[rbs.NamespaceID]map[rbs.Ref][]byte)}
}

// Exists tells whether the blob with hash ref is in ns.
func (s *Blobs) Exists(_ context.Context, ns rbs.NamespaceID, ref rbs.Ref) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.blobs[ns][ref]
	return ok, nil
}

// GetObject gets the blob with hash ref from ns.
func (s *Blobs) GetObject(_ context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.blobs[ns][ref]; ok {
		return b, nil
	}
	return nil, rbs.ErrNotFound
}

// PutObject adds a blob to ns if it wasn't already present.
func (s *Blobs) PutObject(_ context.Context, ns rbs.NamespaceID, ref rbs.Ref, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.blobs[ns]
	if !ok {
		m = make(map[rbs.Ref][]byte)
		s.blobs[ns] = m
	}
	if _, ok := m[ref]; ok {
		return false, nil
	}
	m[ref] = append([]byte(nil), data...)
	return true, nil
}

// FilterOutKnownBlobs returns the refs not present in ns.
func (s *Blobs) FilterOutKnownBlobs(_ context.Context, ns rbs.NamespaceID, refs []rbs.Ref) ([]rbs.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []rbs.Ref
	for _, ref := range refs {
		if _, ok := s.blobs[ns][ref]; !ok {
			missing = append(missing, ref)
		}
	}
	return missing, nil
}

// NewMeta produces a store.Meta backed by new in-memory stores.
func NewMeta() *store.Meta {
	return &store.Meta{
		Refs:       NewRefs(),
		Log:        NewLog(0),
		ContentIDs: NewContentIDs(),
	}
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (rbs.BlobStore, error) {
		return NewBlobs(), nil
	})
	store.RegisterMeta("mem", func(_ context.Context, conf map[string]interface{}) (*store.Meta, error) {
		period, err := store.Duration(conf, "bucket_period", 0)
		if err != nil {
			return nil, err
		}
		return &store.Meta{
			Refs:       NewRefs(),
			Log:        NewLog(period),
			ContentIDs: NewContentIDs(),
		}, nil
	})
}

// ListRefs produces all blob refs in ns, in lexicographic order.
func (s *Blobs) ListRefs(ctx context.Context, ns rbs.NamespaceID, start rbs.Ref, f func(rbs.Ref) error) error {
	s.mu.Lock()
	refs := make([]rbs.Ref, 0, len(s.blobs[ns]))
	for ref := range s.blobs[ns] {
		refs = append(refs, ref)
	}
	s.mu.Unlock()

	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	index := sort.Search(len(refs), func(n int) bool {
		return start.Less(refs[n])
	})

	for i := index; i < len(refs); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f(refs[i]); err != nil {
			return err
		}
	}
	return nil
}
