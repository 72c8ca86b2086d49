package replicator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/replication"
	"github.com/bobg/rbs/snapshot"
)

// Source is the primary side of replication, as seen by a replica.
type Source interface {
	// ReadIncremental reads a page of the log of ns.
	// Its errors follow replication.ReadIncremental.
	ReadIncremental(ctx context.Context, ns rbs.NamespaceID, req replication.IncrementalRequest) (replication.IncrementalPage, error)

	// GetSnapshot loads the snapshot of ns with the given id.
	GetSnapshot(ctx context.Context, ns rbs.NamespaceID, id rbs.Ref) (*snapshot.Snapshot, error)

	// GetObject gets a blob of ns.
	GetObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error)
}

// LocalSource is a Source reading from stores in the same process.
type LocalSource struct {
	Log   replication.Log
	Blobs rbs.Getter

	// SnapshotNamespace is the namespace of Blobs holding snapshot blobs.
	SnapshotNamespace rbs.NamespaceID
}

var _ Source = &LocalSource{}

func (s *LocalSource) ReadIncremental(ctx context.Context, ns rbs.NamespaceID, req replication.IncrementalRequest) (replication.IncrementalPage, error) {
	return replication.ReadIncremental(ctx, s.Log, ns, req)
}

func (s *LocalSource) GetSnapshot(ctx context.Context, ns rbs.NamespaceID, id rbs.Ref) (*snapshot.Snapshot, error) {
	snap, err := snapshot.Load(ctx, s.Blobs, s.SnapshotNamespace, id)
	if err != nil {
		return nil, err
	}
	if snap.Namespace != ns {
		return nil, errors.Wrapf(rbs.ErrConflict, "snapshot %s is of %s, not %s", id, snap.Namespace, ns)
	}
	return snap, nil
}

func (s *LocalSource) GetObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error) {
	return s.Blobs.GetObject(ctx, ns, ref)
}
