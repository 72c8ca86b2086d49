// Package contentid resolves content ids to the chunks that make up their content.
//
// The same logical content may be stored several ways,
// e.g. whole or split into chunks with different parameters.
// Each way is registered as a candidate with a weight;
// lower weights are preferred.
// Resolution picks the first candidate, in weight order,
// whose chunks are all present in the blob store.
package contentid

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/rbs"
)

// Candidate is one way of assembling a content id's content.
type Candidate struct {
	Weight int
	Chunks []rbs.Ref
}

// Store persists content id candidates.
type Store interface {
	// Candidates calls f for each candidate of contentID in ns,
	// in ascending order of weight.
	// If f returns an error, iteration stops and Candidates returns that error.
	Candidates(ctx context.Context, ns rbs.NamespaceID, contentID rbs.Ref, f func(Candidate) error) error

	// Put sets the chunks of the (contentID, weight) candidate in ns,
	// replacing any chunks previously stored for that pair.
	Put(ctx context.Context, ns rbs.NamespaceID, contentID rbs.Ref, chunks []rbs.Ref, weight int) error
}

// ErrUnresolved is the error returned by Resolve
// when no candidate is complete and the content id is not itself a stored blob.
var ErrUnresolved = errors.Wrap(rbs.ErrNotFound, "content id unresolved")

// Resolver resolves content ids against a blob store.
type Resolver struct {
	Store Store
	Blobs rbs.Getter
}

// Resolve returns the chunks of the first candidate of contentID,
// in weight order, whose chunks are all present in ns.
// If there is no such candidate but a blob whose ref is contentID is present,
// it returns a single-element list containing contentID.
// Otherwise it returns ErrUnresolved.
func (r *Resolver) Resolve(ctx context.Context, ns rbs.NamespaceID, contentID rbs.Ref) ([]rbs.Ref, error) {
	var result []rbs.Ref

	err := r.Store.Candidates(ctx, ns, contentID, func(c Candidate) error {
		missing, err := rbs.FilterOutKnownBlobs(ctx, r.Blobs, ns, c.Chunks)
		if err != nil {
			return errors.Wrapf(err, "checking chunks of %s at weight %d", contentID, c.Weight)
		}
		if len(missing) > 0 {
			return nil
		}
		result = c.Chunks
		return errFound
	})
	if errors.Is(err, errFound) {
		return result, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting candidates for %s", contentID)
	}

	ok, err := r.Blobs.Exists(ctx, ns, contentID)
	if err != nil {
		return nil, errors.Wrapf(err, "checking for blob %s", contentID)
	}
	if ok {
		return []rbs.Ref{contentID}, nil
	}
	return nil, errors.Wrapf(ErrUnresolved, "%s in %s", contentID, ns)
}

// Put records blob as the sole chunk of contentID at the given weight.
func (r *Resolver) Put(ctx context.Context, ns rbs.NamespaceID, contentID, blob rbs.Ref, weight int) error {
	return r.PutChunks(ctx, ns, contentID, []rbs.Ref{blob}, weight)
}

// PutChunks records chunks as the content of contentID at the given weight.
func (r *Resolver) PutChunks(ctx context.Context, ns rbs.NamespaceID, contentID rbs.Ref, chunks []rbs.Ref, weight int) error {
	err := r.Store.Put(ctx, ns, contentID, chunks, weight)
	return errors.Wrapf(err, "storing candidate for %s at weight %d", contentID, weight)
}

var errFound = errors.New("found")
