package rbs

import (
	"context"

	"github.com/pkg/errors"
)

// Getter is a read-only BlobStore (qv).
type Getter interface {
	// Exists tells whether the blob with the given ref is present in ns.
	Exists(context.Context, NamespaceID, Ref) (bool, error)

	// GetObject gets a blob by its ref.
	// It returns ErrNotFound if the blob is not present in ns.
	GetObject(context.Context, NamespaceID, Ref) ([]byte, error)
}

// BlobStore is a namespaced, content-addressed blob store.
// It stores byte sequences - "blobs" - of arbitrary length.
// Each blob can be retrieved using its "ref" as a lookup key.
// A ref is simply the SHA2-256 hash of the blob's content.
//
// Namespaces are isolated from each other:
// a blob added to one namespace is not visible in any other.
type BlobStore interface {
	Getter

	// PutObject adds data to ns under ref, if it was not already present.
	// Callers are responsible for ref being the hash of data;
	// use Put to compute it.
	// It returns a boolean that is true iff the blob had to be added.
	PutObject(ctx context.Context, ns NamespaceID, ref Ref, data []byte) (added bool, err error)
}

// KnownBlobFilterer is an optional interface a BlobStore may implement
// when it can answer FilterOutKnownBlobs more efficiently than one Exists call per ref.
type KnownBlobFilterer interface {
	FilterOutKnownBlobs(context.Context, NamespaceID, []Ref) ([]Ref, error)
}

// Lister is an optional interface a BlobStore may implement
// to enumerate its contents.
type Lister interface {
	// ListRefs calls a function for each blob ref in ns in lexicographic order,
	// beginning with the first ref _after_ the specified one.
	//
	// The calls reflect at least the set of refs
	// known at the moment ListRefs was called.
	// It is unspecified whether later changes,
	// that happen concurrently with ListRefs,
	// are reflected.
	//
	// If the callback function returns an error,
	// ListRefs exits with that error.
	ListRefs(ctx context.Context, ns NamespaceID, start Ref, f func(Ref) error) error
}

// Put computes the ref of data and adds it to ns in s.
func Put(ctx context.Context, s BlobStore, ns NamespaceID, data []byte) (Ref, bool, error) {
	ref := RefOf(data)
	added, err := s.PutObject(ctx, ns, ref, data)
	if err != nil {
		return Zero, false, errors.Wrapf(err, "storing blob %s in %s", ref, ns)
	}
	return ref, added, nil
}
