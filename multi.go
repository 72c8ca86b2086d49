package rbs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

// MaxConcurrentChecks bounds the number of concurrent Exists calls
// issued by FilterOutKnownBlobs and GetMulti.
var MaxConcurrentChecks = 16

// FilterOutKnownBlobs returns the members of refs that are not present in ns,
// in their original order.
// By default this is implemented as a bunch of concurrent individual Exists calls.
// However, if g implements KnownBlobFilterer, its FilterOutKnownBlobs method is used instead.
func FilterOutKnownBlobs(ctx context.Context, g Getter, ns NamespaceID, refs []Ref) ([]Ref, error) {
	if f, ok := g.(KnownBlobFilterer); ok {
		return f.FilterOutKnownBlobs(ctx, ns, refs)
	}

	present := make([]bool, len(refs))

	p := pool.New().WithMaxGoroutines(MaxConcurrentChecks).WithContext(ctx).WithCancelOnError()
	for i, ref := range refs {
		i, ref := i, ref
		p.Go(func(ctx context.Context) error {
			ok, err := g.Exists(ctx, ns, ref)
			if err != nil {
				return err
			}
			present[i] = ok
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	var missing []Ref
	for i, ref := range refs {
		if !present[i] {
			missing = append(missing, ref)
		}
	}
	return missing, nil
}

// GetMulti gets multiple blobs from ns with a single call,
// as a bunch of concurrent individual GetObject calls.
// The return value is a mapping of input refs to the blobs that were found in g.
// The returned error may be a MultiErr,
// mapping input refs to errors encountered retrieving those specific refs.
// This function may return a successful partial result even in case of error.
// In particular, when the error return is a MultiErr,
// every input ref appears in either the result map or the MultiErr map.
func GetMulti(ctx context.Context, g Getter, ns NamespaceID, refs []Ref) (map[Ref][]byte, error) {
	var (
		mu     sync.Mutex
		res    = make(map[Ref][]byte)
		errmap MultiErr
	)

	p := pool.New().WithMaxGoroutines(MaxConcurrentChecks)
	for _, ref := range refs {
		ref := ref
		p.Go(func() {
			blob, err := g.GetObject(ctx, ns, ref)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if errmap == nil {
					errmap = make(MultiErr)
				}
				errmap[ref] = err
				return
			}
			res[ref] = blob
		})
	}
	p.Wait()

	if errmap != nil {
		return res, errmap
	}
	return res, nil
}

// MultiErr is a type of error returned by GetMulti.
// It maps individual refs to errors encountered trying to get them.
type MultiErr map[Ref]error

// Error implements the error interface.
func (e MultiErr) Error() string {
	var strs []string
	for ref, err := range e {
		strs = append(strs, fmt.Sprintf("%s: %s", ref, err))
	}
	sort.Strings(strs)
	return "error(s): " + strings.Join(strs, "; ")
}
