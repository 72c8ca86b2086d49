// Package s3 implements a blob store on an S3-compatible object service.
package s3

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store"
)

var (
	_ rbs.BlobStore = &Store{}
	_ rbs.Lister    = &Store{}
)

// Store is an S3-based implementation of a blob store.
// Each blob is an object named <namespace>/b:<hex ref> in a single bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New produces a new Store on the given bucket, which must exist.
func New(client *minio.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Exists tells whether the blob with hash ref is in ns.
func (s *Store) Exists(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) (bool, error) {
	name := blobObjName(ns, ref)
	_, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "statting object %s", name))
	}
	return true, nil
}

// GetObject gets the blob with hash ref from ns.
func (s *Store) GetObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error) {
	name := blobObjName(ns, ref)
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, rbs.Transient(errors.Wrapf(err, "getting object %s", name))
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if isNotFound(err) {
		return nil, rbs.ErrNotFound
	}
	return b, rbs.Transient(errors.Wrapf(err, "reading object %s", name))
}

// PutObject adds a blob to ns if it wasn't already present.
// Two concurrent writers of the same new blob may both report it as added.
func (s *Store) PutObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref, data []byte) (bool, error) {
	ok, err := s.Exists(ctx, ns, ref)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}

	name := blobObjName(ns, ref)
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return false, rbs.Transient(errors.Wrapf(err, "putting object %s", name))
	}
	return true, nil
}

// ListRefs produces all blob refs in ns, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, ns rbs.NamespaceID, start rbs.Ref, f func(rbs.Ref) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prefix := blobObjPrefix(ns)
	objs := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:     prefix,
		StartAfter: blobObjName(ns, start),
		Recursive:  true,
	})
	for info := range objs {
		if info.Err != nil {
			return rbs.Transient(errors.Wrap(info.Err, "listing objects"))
		}
		ref, err := rbs.RefFromHex(strings.TrimPrefix(info.Key, prefix))
		if err != nil {
			return errors.Wrapf(err, "decoding object name %s", info.Key)
		}
		if err = f(ref); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func blobObjPrefix(ns rbs.NamespaceID) string {
	return string(ns) + "/b:"
}

func blobObjName(ns rbs.NamespaceID, ref rbs.Ref) string {
	return blobObjPrefix(ns) + ref.String()
}

// Open connects to the S3 service at endpoint.
func Open(endpoint, accessKey, secretKey string, secure bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       secure,
		BucketLookup: minio.BucketLookupPath,
	})
	return client, errors.Wrapf(err, "connecting to %s", endpoint)
}

func init() {
	store.Register("s3", func(ctx context.Context, conf map[string]interface{}) (rbs.BlobStore, error) {
		endpoint, err := store.String(conf, "endpoint")
		if err != nil {
			return nil, err
		}
		bucket, err := store.String(conf, "bucket")
		if err != nil {
			return nil, err
		}
		var (
			accessKey = store.OptString(conf, "access_key", "")
			secretKey = store.OptString(conf, "secret_key", "")
			secure    = !store.Bool(conf, "insecure")
		)
		client, err := Open(endpoint, accessKey, secretKey, secure)
		if err != nil {
			return nil, err
		}
		return New(client, bucket), nil
	})
}
