package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/refs"
)

var _ refs.Store = &Refs{}

// Refs is a memory-based implementation of a reference store.
type Refs struct {
	mu      sync.Mutex
	records map[rbs.NamespaceID]map[refs.Key]refs.ObjectRecord

	// Now is the clock used for last-access times.
	Now func() time.Time
}

// NewRefs produces a new Refs.
func NewRefs() *Refs {
	return &Refs{
		records: make(map[rbs.NamespaceID]map[refs.Key]refs.ObjectRecord),
		Now:     time.Now,
	}
}

func (s *Refs) Get(_ context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID) (refs.ObjectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[ns][refs.Key{Bucket: bucket, Key: key}]
	if !ok {
		return refs.ObjectRecord{}, errors.Wrapf(rbs.ErrNotFound, "%s/%s/%s", ns, bucket, key)
	}
	return rec, nil
}

func (s *Refs) Put(_ context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref, inline []byte, isFinalized bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[ns]
	if !ok {
		m = make(map[refs.Key]refs.ObjectRecord)
		s.records[ns] = m
	}
	var inlineCopy []byte
	if inline != nil {
		inlineCopy = append([]byte{}, inline...)
	}
	m[refs.Key{Bucket: bucket, Key: key}] = refs.ObjectRecord{
		Namespace:   ns,
		Bucket:      bucket,
		Key:         key,
		LastAccess:  s.Now(),
		Blob:        blob,
		Inline:      inlineCopy,
		IsFinalized: isFinalized,
	}
	return nil
}

func (s *Refs) Finalize(_ context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := refs.Key{Bucket: bucket, Key: key}
	rec, ok := s.records[ns][k]
	if !ok {
		return errors.Wrapf(rbs.ErrNotFound, "%s/%s/%s", ns, bucket, key)
	}
	if rec.Blob != blob {
		return errors.Wrapf(rbs.ErrConflict, "finalizing %s/%s/%s with blob %s, record has %s", ns, bucket, key, blob, rec.Blob)
	}
	rec.IsFinalized = true
	s.records[ns][k] = rec
	return nil
}

func (s *Refs) UpdateLastAccessTime(_ context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := refs.Key{Bucket: bucket, Key: key}
	rec, ok := s.records[ns][k]
	if !ok {
		return errors.Wrapf(rbs.ErrNotFound, "%s/%s/%s", ns, bucket, key)
	}
	rec.LastAccess = t
	s.records[ns][k] = rec
	return nil
}

// Caller must not hold the lock.
func (s *Refs) snapshot(ns rbs.NamespaceID) []refs.ObjectRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]refs.ObjectRecord, 0, len(s.records[ns]))
	for _, rec := range s.records[ns] {
		result = append(result, rec)
	}
	return result
}

func (s *Refs) GetOldestRecords(ctx context.Context, ns rbs.NamespaceID, f func(refs.ObjectRecord) error) error {
	recs := s.snapshot(ns)
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].LastAccess.Equal(recs[j].LastAccess) {
			return keyOf(recs[i]).Less(keyOf(recs[j]))
		}
		return recs[i].LastAccess.Before(recs[j].LastAccess)
	})
	return each(ctx, recs, f)
}

func (s *Refs) GetRecords(ctx context.Context, ns rbs.NamespaceID, f func(refs.ObjectRecord) error) error {
	recs := s.snapshot(ns)
	sort.Slice(recs, func(i, j int) bool { return keyOf(recs[i]).Less(keyOf(recs[j])) })
	return each(ctx, recs, f)
}

func (s *Refs) GetNamespaces(ctx context.Context, f func(rbs.NamespaceID) error) error {
	s.mu.Lock()
	namespaces := make([]rbs.NamespaceID, 0, len(s.records))
	for ns := range s.records {
		namespaces = append(namespaces, ns)
	}
	s.mu.Unlock()

	sort.Slice(namespaces, func(i, j int) bool { return namespaces[i] < namespaces[j] })
	for _, ns := range namespaces {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f(ns); err != nil {
			return err
		}
	}
	return nil
}

func (s *Refs) Delete(_ context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := refs.Key{Bucket: bucket, Key: key}
	if _, ok := s.records[ns][k]; !ok {
		return 0, errors.Wrapf(rbs.ErrNotFound, "%s/%s/%s", ns, bucket, key)
	}
	delete(s.records[ns], k)
	return 1, nil
}

func (s *Refs) DropNamespace(_ context.Context, ns rbs.NamespaceID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.records[ns]))
	delete(s.records, ns)
	return n, nil
}

func (s *Refs) DeleteBucket(_ context.Context, ns rbs.NamespaceID, bucket rbs.BucketID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k := range s.records[ns] {
		if k.Bucket == bucket {
			delete(s.records[ns], k)
			n++
		}
	}
	return n, nil
}

func keyOf(rec refs.ObjectRecord) refs.Key {
	return refs.Key{Bucket: rec.Bucket, Key: rec.Key}
}

func each(ctx context.Context, recs []refs.ObjectRecord, f func(refs.ObjectRecord) error) error {
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f(rec); err != nil {
			return err
		}
	}
	return nil
}
