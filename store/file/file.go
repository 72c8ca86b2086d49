// Package file implements a blob store as a file hierarchy.
package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store"
)

var (
	_ rbs.BlobStore = &Store{}
	_ rbs.Lister    = &Store{}
)

// Store is a file-based implementation of a blob store.
// Blobs live at root/<namespace>/<hh>/<hhhh>/<hex>.
type Store struct {
	root string
}

// New produces a new Store storing data beneath root.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) blobpath(ns rbs.NamespaceID, ref rbs.Ref) string {
	h := ref.String()
	return filepath.Join(s.root, string(ns), h[:2], h[:4], h)
}

// Exists tells whether the blob with hash ref is in ns.
func (s *Store) Exists(_ context.Context, ns rbs.NamespaceID, ref rbs.Ref) (bool, error) {
	path := s.blobpath(ns, ref)
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "statting %s", path))
	}
	return true, nil
}

// GetObject gets the blob with hash ref from ns.
func (s *Store) GetObject(_ context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error) {
	path := s.blobpath(ns, ref)
	blob, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, rbs.ErrNotFound
	}
	return blob, rbs.Transient(errors.Wrapf(err, "reading %s", path))
}

// PutObject adds a blob to ns if it wasn't already present.
// The blob is written to a temporary file and renamed into place,
// so readers never see a partial blob.
func (s *Store) PutObject(_ context.Context, ns rbs.NamespaceID, ref rbs.Ref, data []byte) (bool, error) {
	var (
		path = s.blobpath(ns, ref)
		dir  = filepath.Dir(path)
	)

	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "ensuring path %s exists", dir))
	}

	f, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "creating temp file in %s", dir))
	}
	tmpname := f.Name()
	defer os.Remove(tmpname)

	_, err = f.Write(data)
	if err != nil {
		f.Close()
		return false, rbs.Transient(errors.Wrapf(err, "writing data to %s", tmpname))
	}
	if err = f.Close(); err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "closing %s", tmpname))
	}
	if err = os.Rename(tmpname, path); err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "renaming %s to %s", tmpname, path))
	}
	return true, nil
}

// ListRefs produces all blob refs in ns, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, ns rbs.NamespaceID, start rbs.Ref, f func(rbs.Ref) error) error {
	nsroot := filepath.Join(s.root, string(ns))

	topLevel, err := readHexDir(nsroot, 2)
	if err != nil {
		return err
	}

	startHex := start.String()
	topIndex := sort.Search(len(topLevel), func(n int) bool {
		return topLevel[n] >= startHex[:2]
	})
	for _, topName := range topLevel[topIndex:] {
		midLevel, err := readHexDir(filepath.Join(nsroot, topName), 4)
		if err != nil {
			return err
		}
		midIndex := sort.Search(len(midLevel), func(n int) bool {
			return midLevel[n] >= startHex[:4]
		})
		for _, midName := range midLevel[midIndex:] {
			if err := ctx.Err(); err != nil {
				return err
			}
			blobNames, err := readHexDir(filepath.Join(nsroot, topName, midName), len(startHex))
			if err != nil {
				return err
			}
			index := sort.Search(len(blobNames), func(n int) bool {
				return blobNames[n] > startHex
			})
			for _, name := range blobNames[index:] {
				ref, err := rbs.RefFromHex(name)
				if err != nil {
					return errors.Wrapf(err, "decoding filename %s", name)
				}
				if err = f(ref); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// readHexDir returns the sorted names in dir that are lowercase hex strings of length n.
// A nonexistent dir is empty.
func readHexDir(dir string, n int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, rbs.Transient(errors.Wrapf(err, "reading dir %s", dir))
	}
	var result []string
	for _, e := range entries {
		name := e.Name()
		if len(name) != n || strings.Trim(name, "0123456789abcdef") != "" {
			continue
		}
		result = append(result, name)
	}
	return result, nil
}

func init() {
	store.Register("file", func(_ context.Context, conf map[string]interface{}) (rbs.BlobStore, error) {
		root, err := store.String(conf, "root")
		if err != nil {
			return nil, err
		}
		return New(root), nil
	})
}
