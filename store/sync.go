package store

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/rbs"
)

// Sync synchronizes namespace ns across two or more blob stores.
// It runs ListRefs on all input stores,
// each of which must implement rbs.Lister.
// When a ref is found to be in some but not all stores,
// its blob is added to the stores where it's missing.
func Sync(ctx context.Context, ns rbs.NamespaceID, stores []rbs.BlobStore) error {
	if len(stores) < 2 {
		return nil
	}

	type tuple struct {
		s   rbs.BlobStore
		ch  <-chan rbs.Ref
		ref *rbs.Ref
	}

	listers := make([]rbs.Lister, 0, len(stores))
	for i, s := range stores {
		lister, ok := s.(rbs.Lister)
		if !ok {
			return errors.Wrapf(rbs.ErrBadRequest, "store %d (%T) cannot list refs", i, s)
		}
		listers = append(listers, lister)
	}

	ctx, cancel := context.WithCancel(ctx)
	eg, ctx2 := errgroup.WithContext(ctx)

	tuples := make([]*tuple, 0, len(stores))
	for i, s := range stores {
		lister := listers[i]
		ch := make(chan rbs.Ref)
		eg.Go(func() error {
			defer close(ch)
			return lister.ListRefs(ctx2, ns, rbs.Zero, func(ref rbs.Ref) error {
				select {
				case <-ctx2.Done():
					return ctx2.Err()
				case ch <- ref:
				}
				return nil
			})
		})
		tuples = append(tuples, &tuple{s: s, ch: ch})
	}

	// Whatever happens below, let the listers finish.
	defer func() {
		cancel()
		for _, tup := range tuples {
			for range tup.ch {
			}
		}
	}()

	advance := func(tup *tuple) error {
		select {
		case <-ctx2.Done():
			return eg.Wait()
		case ref, ok := <-tup.ch:
			if ok {
				tup.ref = &ref
			} else {
				tup.ref = nil
			}
		}
		return nil
	}

	havers := tuples
	for {
		for _, tup := range havers {
			if err := advance(tup); err != nil {
				return err
			}
		}

		sort.SliceStable(tuples, func(i, j int) bool {
			ri, rj := tuples[i].ref, tuples[j].ref
			if ri != nil {
				if rj != nil {
					return ri.Less(*rj)
				}
				return true
			}
			return false
		})

		if tuples[0].ref == nil {
			// We've reached the end of input on all channels.
			return eg.Wait()
		}

		ref := *(tuples[0].ref)

		havers = []*tuple{tuples[0]}
		i := 1
		for i < len(tuples) && tuples[i].ref != nil && *(tuples[i].ref) == ref {
			havers = append(havers, tuples[i])
			i++
		}

		if i == len(tuples) {
			continue
		}

		blob, err := havers[0].s.GetObject(ctx, ns, ref)
		if err != nil {
			return errors.Wrapf(err, "getting blob %s", ref)
		}
		for _, tup := range tuples[i:] {
			if _, err = tup.s.PutObject(ctx, ns, ref, blob); err != nil {
				return errors.Wrapf(err, "storing blob %s", ref)
			}
		}
	}
}
