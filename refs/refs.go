// Package refs describes the reference store,
// which maps (namespace, bucket, key) triples to blob records.
package refs

import (
	"context"
	"time"

	"github.com/bobg/rbs"
)

// ObjectRecord is the record of a named object.
type ObjectRecord struct {
	Namespace  rbs.NamespaceID
	Bucket     rbs.BucketID
	Key        rbs.KeyID
	LastAccess time.Time
	Blob       rbs.Ref

	// Inline holds the blob's content when it is small enough to keep alongside the record.
	// It is nil otherwise.
	Inline []byte

	IsFinalized bool
}

// Store is a reference store.
//
// Implementations must be safe for concurrent use.
// Iteration methods call a function once per result;
// if the function returns an error,
// iteration stops and the method returns that error.
// Each call is a fresh, finite scan.
type Store interface {
	// Get returns the record for (ns, bucket, key).
	// It returns rbs.ErrNotFound if there is none.
	Get(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID) (ObjectRecord, error)

	// Put creates or overwrites the record for (ns, bucket, key),
	// setting its last-access time to the current time,
	// and adds ns to the set of known namespaces.
	// It does not write to the replication log.
	Put(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref, inline []byte, isFinalized bool) error

	// Finalize marks the record for (ns, bucket, key) as finalized.
	// It returns rbs.ErrNotFound if there is no such record
	// and rbs.ErrConflict if blob differs from the record's blob.
	// Finalizing an already-finalized record with the same blob is a no-op.
	Finalize(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, blob rbs.Ref) error

	// UpdateLastAccessTime sets the last-access time of the record for (ns, bucket, key).
	// It returns rbs.ErrNotFound if there is no such record.
	UpdateLastAccessTime(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID, t time.Time) error

	// GetOldestRecords calls f for each record in ns
	// in ascending order of last-access time.
	GetOldestRecords(ctx context.Context, ns rbs.NamespaceID, f func(ObjectRecord) error) error

	// GetRecords calls f for each record in ns
	// in ascending (bucket, key) order.
	GetRecords(ctx context.Context, ns rbs.NamespaceID, f func(ObjectRecord) error) error

	// GetNamespaces calls f for each namespace written and not yet dropped,
	// in lexicographic order.
	GetNamespaces(ctx context.Context, f func(rbs.NamespaceID) error) error

	// Delete removes the record for (ns, bucket, key), returning the number of records removed.
	// It returns rbs.ErrNotFound if there is no such record.
	Delete(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID, key rbs.KeyID) (int64, error)

	// DropNamespace removes all records in ns and removes ns from the set of known namespaces.
	DropNamespace(ctx context.Context, ns rbs.NamespaceID) (int64, error)

	// DeleteBucket removes all records in the given bucket of ns.
	DeleteBucket(ctx context.Context, ns rbs.NamespaceID, bucket rbs.BucketID) (int64, error)
}

// Key identifies a record within a namespace.
type Key struct {
	Bucket rbs.BucketID
	Key    rbs.KeyID
}

// Less orders keys by bucket, then key.
func (k Key) Less(other Key) bool {
	if k.Bucket != other.Bucket {
		return k.Bucket < other.Bucket
	}
	return k.Key < other.Key
}
