// Package objects ties the blob store, the reference store, and the replication log together
// into the write path for named objects.
//
// Every write follows the same order:
// the blob first, then the record, then the log event.
// A reader that sees an event can therefore always find the record and blob it names.
package objects

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/refs"
	"github.com/bobg/rbs/replication"
)

// DefaultInlineMax is the largest blob kept inline in its record when Service.InlineMax is zero.
const DefaultInlineMax = 1024

// Service is the write path for named objects.
type Service struct {
	Blobs rbs.BlobStore
	Refs  refs.Store
	Log   replication.Log

	// InlineMax is the largest blob, in bytes, that is also kept inline in its record.
	// Zero means DefaultInlineMax; a negative value disables inlining.
	InlineMax int

	Logger *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) inline(data []byte) []byte {
	max := s.InlineMax
	if max == 0 {
		max = DefaultInlineMax
	}
	if len(data) > max {
		return nil
	}
	if data == nil {
		return []byte{}
	}
	return data
}

// Put stores data as the finalized object (ns, bucket, key),
// replacing any previous record,
// and appends an Added event to the log.
func (s *Service) Put(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, data []byte) (rbs.Ref, replication.Cursor, error) {
	ref, added, err := rbs.Put(ctx, s.Blobs, ns, data)
	if err != nil {
		return rbs.Zero, replication.Cursor{}, err
	}
	if err = s.Refs.Put(ctx, ns, bucket, key, ref, s.inline(data), true); err != nil {
		return rbs.Zero, replication.Cursor{}, errors.Wrapf(err, "storing record %s/%s", bucket, key)
	}
	cursor, err := s.Log.InsertAddEvent(ctx, ns, bucket, key, ref, replication.Now())
	if err != nil {
		return rbs.Zero, replication.Cursor{}, errors.Wrapf(err, "logging %s/%s", bucket, key)
	}

	s.logger().DebugContext(ctx, "put object", "namespace", ns, "bucket", bucket, "key", key, "ref", ref, "new_blob", added)
	return ref, cursor, nil
}

// PutRef records blob, which must already be in the blob store, as object (ns, bucket, key).
// The Added event is appended only if isFinalized is true;
// otherwise it is appended by a later call to Finalize.
// The returned cursor is zero when no event was appended.
func (s *Service) PutRef(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref, isFinalized bool) (replication.Cursor, error) {
	ok, err := s.Blobs.Exists(ctx, ns, blob)
	if err != nil {
		return replication.Cursor{}, errors.Wrapf(err, "checking blob %s", blob)
	}
	if !ok {
		return replication.Cursor{}, errors.Wrapf(rbs.ErrBadRequest, "blob %s not in %s", blob, ns)
	}
	if err = s.Refs.Put(ctx, ns, bucket, key, blob, nil, isFinalized); err != nil {
		return replication.Cursor{}, errors.Wrapf(err, "storing record %s/%s", bucket, key)
	}
	if !isFinalized {
		return replication.Cursor{}, nil
	}
	cursor, err := s.Log.InsertAddEvent(ctx, ns, bucket, key, blob, replication.Now())
	return cursor, errors.Wrapf(err, "logging %s/%s", bucket, key)
}

// Finalize marks object (ns, bucket, key) as finalized with the given blob.
// When the record was not already finalized,
// an Added event is appended and its cursor returned.
// Re-finalizing with the same blob is a no-op that returns the zero cursor.
func (s *Service) Finalize(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref) (replication.Cursor, error) {
	rec, err := s.Refs.Get(ctx, ns, bucket, key)
	if err != nil {
		return replication.Cursor{}, errors.Wrapf(err, "getting record %s/%s", bucket, key)
	}
	if err = s.Refs.Finalize(ctx, ns, bucket, key, blob); err != nil {
		return replication.Cursor{}, errors.Wrapf(err, "finalizing %s/%s", bucket, key)
	}
	if rec.IsFinalized {
		return replication.Cursor{}, nil
	}
	cursor, err := s.Log.InsertAddEvent(ctx, ns, bucket, key, blob, replication.Now())
	return cursor, errors.Wrapf(err, "logging %s/%s", bucket, key)
}

// Get returns the record and content of object (ns, bucket, key)
// and updates its last-access time.
func (s *Service) Get(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID) (refs.ObjectRecord, []byte, error) {
	rec, err := s.Refs.Get(ctx, ns, bucket, key)
	if err != nil {
		return refs.ObjectRecord{}, nil, errors.Wrapf(err, "getting record %s/%s", bucket, key)
	}

	data := rec.Inline
	if data == nil {
		data, err = s.Blobs.GetObject(ctx, ns, rec.Blob)
		if err != nil {
			return refs.ObjectRecord{}, nil, errors.Wrapf(err, "getting blob %s for %s/%s", rec.Blob, bucket, key)
		}
	}

	now := replication.Now()
	if err = s.Refs.UpdateLastAccessTime(ctx, ns, bucket, key, now); err != nil {
		// The read itself succeeded.
		s.logger().WarnContext(ctx, "updating last-access time", "namespace", ns, "bucket", bucket, "key", key, "err", err)
	} else {
		rec.LastAccess = now
	}
	return rec, data, nil
}

// Delete removes object (ns, bucket, key) and appends a Deleted event.
// It returns rbs.ErrNotFound if there is no such object.
func (s *Service) Delete(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID) (replication.Cursor, error) {
	if _, err := s.Refs.Delete(ctx, ns, bucket, key); err != nil {
		return replication.Cursor{}, errors.Wrapf(err, "deleting %s/%s", bucket, key)
	}
	cursor, err := s.Log.InsertDeleteEvent(ctx, ns, bucket, key, replication.Now())
	return cursor, errors.Wrapf(err, "logging deletion of %s/%s", bucket, key)
}

// Evict deletes the least recently accessed objects of ns until at most keep remain,
// appending a Deleted event for each.
// It returns the number of objects deleted.
func (s *Service) Evict(ctx context.Context, ns rbs.NamespaceID, keep int) (int, error) {
	if keep < 0 {
		return 0, errors.Wrapf(rbs.ErrBadRequest, "negative keep count %d", keep)
	}

	// Collect first: some backends cannot write while a scan is open.
	var oldest []refs.Key
	err := s.Refs.GetOldestRecords(ctx, ns, func(rec refs.ObjectRecord) error {
		oldest = append(oldest, refs.Key{Bucket: rec.Bucket, Key: rec.Key})
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "scanning records of %s", ns)
	}
	if len(oldest) <= keep {
		return 0, nil
	}

	var n int
	for _, k := range oldest[:len(oldest)-keep] {
		_, err := s.Delete(ctx, ns, k.Bucket, k.Key)
		if errors.Is(err, rbs.ErrNotFound) {
			// Deleted concurrently.
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}

	s.logger().InfoContext(ctx, "evicted objects", "namespace", ns, "count", n, "kept", keep)
	return n, nil
}
