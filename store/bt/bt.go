// Package bt implements a blob store on Google Cloud Bigtable.
package bt

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigtable"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store"
)

var (
	_ rbs.BlobStore         = &Store{}
	_ rbs.KnownBlobFilterer = &Store{}
	_ rbs.Lister            = &Store{}
)

// Family and Column locate blob contents within a row.
// The table must have the column family Family.
const (
	Family = "blob"
	Column = "blob"
)

// Store is a Google Cloud Bigtable-backed implementation of a blob store.
// Each blob is a row keyed <namespace>/b:<hex ref>.
type Store struct {
	t *bigtable.Table
}

// New produces a new Store.
func New(t *bigtable.Table) *Store {
	return &Store{t: t}
}

// Exists tells whether the blob with hash ref is in ns.
func (s *Store) Exists(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) (bool, error) {
	key := blobKey(ns, ref)
	row, err := s.t.ReadRow(ctx, key, bigtable.RowFilter(keysOnly))
	if err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "reading row %s", key))
	}
	return len(row) > 0, nil
}

// GetObject gets the blob with hash ref from ns.
func (s *Store) GetObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error) {
	key := blobKey(ns, ref)
	row, err := s.t.ReadRow(ctx, key, bigtable.RowFilter(bigtable.LatestNFilter(1)))
	if err != nil {
		return nil, rbs.Transient(errors.Wrapf(err, "reading row %s", key))
	}
	items := row[Family]
	if len(items) == 0 {
		return nil, rbs.ErrNotFound
	}
	return items[0].Value, nil
}

// PutObject adds a blob to ns if it wasn't already present.
func (s *Store) PutObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref, data []byte) (bool, error) {
	mut := bigtable.NewMutation()
	mut.Set(Family, Column, bigtable.Now(), data)

	cmut := bigtable.NewCondMutation(bigtable.LatestNFilter(1), nil, mut)

	var (
		alreadyPresent bool
		key            = blobKey(ns, ref)
	)
	err := s.t.Apply(ctx, key, cmut, bigtable.GetCondMutationResult(&alreadyPresent))
	if err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "writing row %s", key))
	}
	return !alreadyPresent, nil
}

// FilterOutKnownBlobs reads all the rows for refs in one call
// and returns the refs with no row, in their original order.
func (s *Store) FilterOutKnownBlobs(ctx context.Context, ns rbs.NamespaceID, refs []rbs.Ref) ([]rbs.Ref, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	keys := make(bigtable.RowList, len(refs))
	for i, ref := range refs {
		keys[i] = blobKey(ns, ref)
	}

	present := make(map[string]bool)
	err := s.t.ReadRows(ctx, keys, func(row bigtable.Row) bool {
		present[row.Key()] = true
		return true
	}, bigtable.RowFilter(keysOnly))
	if err != nil {
		return nil, rbs.Transient(errors.Wrapf(err, "reading rows in %s", ns))
	}

	var missing []rbs.Ref
	for i, ref := range refs {
		if !present[keys[i]] {
			missing = append(missing, ref)
		}
	}
	return missing, nil
}

// ListRefs produces all blob refs in ns, in lexicographic order,
// beginning after start.
func (s *Store) ListRefs(ctx context.Context, ns rbs.NamespaceID, start rbs.Ref, f func(rbs.Ref) error) error {
	var (
		prefix   = blobKeyPrefix(ns)
		innerErr error
	)
	rowFn := func(row bigtable.Row) bool {
		key := row.Key()
		ref, err := rbs.RefFromHex(strings.TrimPrefix(key, prefix))
		if err != nil {
			innerErr = errors.Wrapf(err, "extracting ref from key %s", key)
			return false
		}
		if err = f(ref); err != nil {
			innerErr = err
			return false
		}
		return true
	}

	// Every key in ns has the same length,
	// so appending to the start key excludes exactly that key.
	rng := bigtable.NewRange(blobKey(ns, start)+"0", prefixEnd(prefix))
	err := s.t.ReadRows(ctx, rng, rowFn, bigtable.RowFilter(keysOnly))
	if err != nil {
		return rbs.Transient(errors.Wrapf(err, "reading rows in %s", ns))
	}
	return innerErr
}

var keysOnly = bigtable.ChainFilters(bigtable.LatestNFilter(1), bigtable.StripValueFilter())

func blobKeyPrefix(ns rbs.NamespaceID) string {
	return string(ns) + "/b:"
}

func blobKey(ns rbs.NamespaceID, ref rbs.Ref) string {
	return fmt.Sprintf("%s%x", blobKeyPrefix(ns), ref[:])
}

// prefixEnd returns the smallest key greater than every key with the given prefix.
// The prefix must end in a byte below 0xff.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	b[len(b)-1]++
	return string(b)
}

func init() {
	store.Register("bt", func(ctx context.Context, conf map[string]interface{}) (rbs.BlobStore, error) {
		project, err := store.String(conf, "project")
		if err != nil {
			return nil, err
		}
		instance, err := store.String(conf, "instance")
		if err != nil {
			return nil, err
		}
		table, err := store.String(conf, "table")
		if err != nil {
			return nil, err
		}

		var options []option.ClientOption
		if creds := store.OptString(conf, "creds", ""); creds != "" {
			options = append(options, option.WithCredentialsFile(creds))
		}
		c, err := bigtable.NewClient(ctx, project, instance, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating bigtable client")
		}
		return New(c.Open(table)), nil
	})
}
