// Package gcs implements a blob store on Google Cloud Storage.
package gcs

import (
	"context"
	stderrs "errors"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store"
)

var (
	_ rbs.BlobStore = &Store{}
	_ rbs.Lister    = &Store{}
)

// Store is a Google Cloud Storage-based implementation of a blob store.
// Each blob is an object named <namespace>/b:<hex ref>.
type Store struct {
	bucket *storage.BucketHandle
}

// New produces a new Store.
func New(bucket *storage.BucketHandle) *Store {
	return &Store{bucket: bucket}
}

// Exists tells whether the blob with hash ref is in ns.
func (s *Store) Exists(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) (bool, error) {
	name := blobObjName(ns, ref)
	_, err := s.bucket.Object(name).Attrs(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "getting object attrs for %s", name))
	}
	return true, nil
}

// GetObject gets the blob with hash ref from ns.
func (s *Store) GetObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error) {
	name := blobObjName(ns, ref)
	r, err := s.bucket.Object(name).NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return nil, rbs.ErrNotFound
	}
	if err != nil {
		return nil, rbs.Transient(errors.Wrapf(err, "reading info of object %s", name))
	}
	defer r.Close()

	b := make([]byte, r.Attrs.Size)
	_, err = io.ReadFull(r, b)
	return b, rbs.Transient(errors.Wrapf(err, "reading contents of object %s", name))
}

// PutObject adds a blob to ns if it wasn't already present.
func (s *Store) PutObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref, data []byte) (bool, error) {
	var (
		name = blobObjName(ns, ref)
		obj  = s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true})
		w    = obj.NewWriter(ctx)
	)

	if _, err := w.Write(data); err != nil {
		w.Close()
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, rbs.Transient(errors.Wrapf(err, "writing object %s", name))
	}

	// The precondition is usually reported only when the upload completes.
	err := w.Close()
	if isPreconditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "closing object %s", name))
	}
	return true, nil
}

func isPreconditionFailed(err error) bool {
	var e *googleapi.Error
	return stderrs.As(err, &e) && e.Code == http.StatusPreconditionFailed
}

// ListRefs produces all blob refs in ns, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, ns rbs.NamespaceID, start rbs.Ref, f func(rbs.Ref) error) error {
	// Google Cloud Storage iterators have no API for starting in the middle of a bucket.
	// But they can filter by object-name prefix.
	// So we take (the hex encoding of) start and repeatedly compute prefixes for the objects we want.
	// If start is e67a, for example, the sequence of generated prefixes is:
	//   e67b e67c e67d e67e e67f
	//   e68 e69 e6a e6b e6c e6d e6e e6f
	//   e7 e8 e9 ea eb ec ed ee ef
	//   f
	return eachHexPrefix(start.String(), false, func(prefix string) error {
		return s.listRefs(ctx, ns, prefix, f)
	})
}

func (s *Store) listRefs(ctx context.Context, ns rbs.NamespaceID, prefix string, f func(rbs.Ref) error) error {
	var (
		nsPrefix = blobObjPrefix(ns)
		iter     = s.bucket.Objects(ctx, &storage.Query{Prefix: nsPrefix + prefix})
	)
	for {
		obj, err := iter.Next()
		if stderrs.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return rbs.Transient(errors.Wrapf(err, "listing objects with prefix %s", prefix))
		}
		ref, err := rbs.RefFromHex(strings.TrimPrefix(obj.Name, nsPrefix))
		if err != nil {
			return errors.Wrapf(err, "decoding object name %s", obj.Name)
		}
		if err = f(ref); err != nil {
			return err
		}
	}
}

func eachHexPrefix(prefix string, incl bool, f func(string) error) error {
	prefix = strings.ToLower(prefix)
	for len(prefix) > 0 {
		end := hexval(prefix[len(prefix)-1])
		if !incl {
			end++
		}
		prefix = prefix[:len(prefix)-1]
		for c := end; c < 16; c++ {
			if err := f(prefix + string(hexdigit(c))); err != nil {
				return err
			}
		}
	}
	return nil
}

func hexval(b byte) int {
	switch {
	case '0' <= b && b <= '9':
		return int(b - '0')
	case 'a' <= b && b <= 'f':
		return int(10 + b - 'a')
	case 'A' <= b && b <= 'F':
		return int(10 + b - 'A')
	}
	return 0
}

func hexdigit(n int) byte {
	if n < 10 {
		return byte(n + '0')
	}
	return byte(n - 10 + 'a')
}

func blobObjPrefix(ns rbs.NamespaceID) string {
	return string(ns) + "/b:"
}

func blobObjName(ns rbs.NamespaceID, ref rbs.Ref) string {
	return blobObjPrefix(ns) + ref.String()
}

func init() {
	store.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (rbs.BlobStore, error) {
		creds, err := store.String(conf, "creds")
		if err != nil {
			return nil, err
		}
		bucketName, err := store.String(conf, "bucket")
		if err != nil {
			return nil, err
		}
		c, err := storage.NewClient(ctx, option.WithCredentialsFile(creds))
		if err != nil {
			return nil, errors.Wrap(err, "creating cloud storage client")
		}
		return New(c.Bucket(bucketName)), nil
	})
}
