// Package replica implements a blob store that fans writes out to several nested stores.
package replica

import (
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store"
)

var (
	_ rbs.BlobStore = (*Store)(nil)
	_ rbs.Lister    = (*Store)(nil)
)

// Store is a blob store that delegates reads and writes to two sets of nested stores.
// One set is synchronous:
// writes to all of these must succeed before a call to PutObject returns,
// and an error from any will cause PutObject to fail.
// The other set is asynchronous:
// a call to PutObject queues writes on these stores but does not wait for them to finish.
// However, if any asynchronous write encounters an error,
// the whole Store is put into an error state and further operations will fail.
type Store struct {
	sync   []rbs.BlobStore
	async  []asyncChans
	cancel context.CancelFunc

	mu  sync.Mutex // protects err
	err error      // the error from an async goroutine, if any
}

type write struct {
	ns   rbs.NamespaceID
	ref  rbs.Ref
	data []byte
}

type asyncChans struct {
	writes chan<- write
	errs   <-chan error
}

// New produces a new Store.
// The set of synchronous stores must be non-empty.
// The set of asynchronous stores may be empty.
// If there are any asynchronous stores,
// goroutines are launched for them,
// and canceling the given context object causes those to exit,
// placing the Store in an error state.
//
// Normally, writes to asynchronous stores do not block calls to PutObject,
// but the queue for each nested store has a fixed length given by n,
// which must be 1 or greater.
// If any async store falls too far behind,
// PutObject will block until all requests can be queued.
func New(ctx context.Context, sync []rbs.BlobStore, async []rbs.BlobStore, n int) *Store {
	result := &Store{sync: sync}

	if len(async) > 0 {
		ctx, result.cancel = context.WithCancel(ctx)

		selectCases := make([]reflect.SelectCase, 1+len(async))

		for i, a := range async {
			var (
				writes = make(chan write, n)
				errs   = make(chan error, 1)
			)

			result.async = append(result.async, asyncChans{writes: writes, errs: errs})

			selectCases[i].Dir = reflect.SelectRecv
			selectCases[i].Chan = reflect.ValueOf(errs)

			go runAsync(ctx, a, writes, errs)
		}

		selectCases[len(async)].Dir = reflect.SelectRecv
		selectCases[len(async)].Chan = reflect.ValueOf(ctx.Done())

		go func() {
			_, errval, ok := reflect.Select(selectCases)
			if ok {
				result.cancel()
				result.mu.Lock()
				result.err = errval.Interface().(error)
				result.mu.Unlock()
			}
		}()
	}

	return result
}

// Runs as a goroutine until ctx is canceled or an error occurs (which it writes to errs).
func runAsync(ctx context.Context, s rbs.BlobStore, writes <-chan write, errs chan<- error) {
	defer close(errs)

	for {
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return

		case w := <-writes:
			if _, err := s.PutObject(ctx, w.ns, w.ref, w.data); err != nil {
				errs <- err
				return
			}
		}
	}
}

// PutObject stores the blob in all synchronous nested stores.
// An error from any of them causes PutObject to return an error.
//
// Some nested stores may already have the blob and others may not,
// in which case the value of added is true if any store added it.
//
// A request to write the blob is queued for any asynchronous nested stores.
// Normally this does not block the call to PutObject,
// but if any async store falls too far behind,
// PutObject must wait for space to open in its request queue before proceeding.
// The size of this queue is given by the int passed to New.
func (s *Store) PutObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref, data []byte) (bool, error) {
	if err := s.checkErr(); err != nil {
		return false, errors.Wrap(err, "in async-store goroutine")
	}

	g, gctx := errgroup.WithContext(ctx)
	addeds := make([]bool, len(s.sync))
	for i, nested := range s.sync {
		i, nested := i, nested
		g.Go(func() error {
			added, err := nested.PutObject(gctx, ns, ref, data)
			addeds[i] = added
			return err
		})
	}

	for _, a := range s.async {
		select {
		case <-ctx.Done():
			g.Wait()
			return false, ctx.Err()

		case a.writes <- write{ns: ns, ref: ref, data: data}:
		}
	}

	if err := g.Wait(); err != nil {
		if s.cancel != nil {
			s.cancel()
		}
		return false, err
	}
	for _, added := range addeds {
		if added {
			return true, nil
		}
	}
	return false, nil
}

// Exists tells whether any synchronous store has the blob.
func (s *Store) Exists(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) (bool, error) {
	if err := s.checkErr(); err != nil {
		return false, errors.Wrap(err, "in async-store goroutine")
	}
	for _, nested := range s.sync {
		ok, err := nested.Exists(ctx, ns, ref)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// GetObject delegates the request to all of the synchronous stores in s,
// returning the result from the first one to respond without error
// and canceling the request to the others.
// If all synchronous stores respond with an error,
// one of those errors is returned.
func (s *Store) GetObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error) {
	if err := s.checkErr(); err != nil {
		return nil, errors.Wrap(err, "in async-store goroutine")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group

	ch := make(chan []byte, len(s.sync))
	for _, nested := range s.sync {
		nested := nested
		g.Go(func() error {
			blob, err := nested.GetObject(ctx, ns, ref)
			if err != nil {
				return err
			}
			ch <- blob
			return nil
		})
	}

	errch := make(chan error, 1)
	go func() {
		errch <- g.Wait()
		close(ch)
	}()

	if blob, ok := <-ch; ok {
		return blob, nil
	}
	if err := <-errch; err != nil {
		return nil, err
	}
	return nil, rbs.ErrNotFound
}

// ListRefs delegates the request to all of the synchronous stores in s,
// each of which must implement rbs.Lister,
// and synthesizes the result from the union of their refs.
func (s *Store) ListRefs(ctx context.Context, ns rbs.NamespaceID, start rbs.Ref, f func(rbs.Ref) error) error {
	if err := s.checkErr(); err != nil {
		return errors.Wrap(err, "in async-store goroutine")
	}

	listers := make([]rbs.Lister, 0, len(s.sync))
	for _, nested := range s.sync {
		lister, ok := nested.(rbs.Lister)
		if !ok {
			return errors.Wrapf(rbs.ErrBadRequest, "nested store %T cannot list refs", nested)
		}
		listers = append(listers, lister)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	chans := make([]chan rbs.Ref, len(listers))
	for i, lister := range listers {
		i, lister := i, lister
		ch := make(chan rbs.Ref, 1)
		chans[i] = ch
		g.Go(func() error {
			defer close(ch)
			return lister.ListRefs(ctx, ns, start, func(ref rbs.Ref) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ch <- ref:
					return nil
				}
			})
		})
	}

	// A closed channel yields the zero ref, which is never a real blob's ref.
	next := make([]rbs.Ref, len(chans))
	for i, ch := range chans {
		next[i] = <-ch
	}

	for {
		var best rbs.Ref
		for _, ref := range next {
			if ref.IsZero() {
				continue
			}
			if best.IsZero() || ref.Less(best) {
				best = ref
			}
		}
		if best.IsZero() {
			break
		}
		if err := f(best); err != nil {
			return err
		}
		for i, ref := range next {
			if ref == best {
				next[i] = <-chans[i]
			}
		}
	}

	return g.Wait()
}

func (s *Store) checkErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func init() {
	store.Register("replica", func(ctx context.Context, conf map[string]interface{}) (rbs.BlobStore, error) {
		syncStores, err := nestedList(ctx, conf, "sync")
		if err != nil {
			return nil, err
		}
		if len(syncStores) == 0 {
			return nil, errors.New(`missing "sync" parameter`)
		}
		asyncStores, err := nestedList(ctx, conf, "async")
		if err != nil {
			return nil, err
		}
		queueLen, err := store.Int(conf, "queuelen", 10)
		if err != nil {
			return nil, err
		}
		if queueLen < 1 {
			queueLen = 1
		}
		return New(ctx, syncStores, asyncStores, queueLen), nil
	})
}

func nestedList(ctx context.Context, conf map[string]interface{}, key string) ([]rbs.BlobStore, error) {
	var items []map[string]interface{}
	switch v := conf[key].(type) {
	case nil:
		return nil, nil
	case []map[string]interface{}:
		items = v
	case []interface{}:
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("%q item has type %T, want map", key, item)
			}
			items = append(items, m)
		}
	default:
		return nil, errors.Errorf("%q parameter has type %T, want list", key, v)
	}

	var result []rbs.BlobStore
	for _, nested := range items {
		s, err := store.FromConfig(ctx, nested)
		if err != nil {
			return nil, errors.Wrapf(err, "creating nested %s store", key)
		}
		result = append(result, s)
	}
	return result, nil
}
