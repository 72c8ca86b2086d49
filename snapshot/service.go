package snapshot

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/rbs"
)

// DefaultInterval is how often a Service builds snapshots by default.
const DefaultInterval = time.Hour

// Service periodically builds snapshots of every namespace in the replication log.
type Service struct {
	Builder *Builder

	// SnapshotNamespace is where snapshot blobs are stored.
	SnapshotNamespace rbs.NamespaceID

	// Interval is the time between rounds.
	// Zero means DefaultInterval.
	Interval time.Duration

	// Concurrency limits how many namespaces are snapshotted at once.
	// Zero means 4.
	Concurrency int
}

// Run builds snapshots once per interval until the context is canceled.
// Failures for individual namespaces are logged, not returned.
func (s *Service) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.Builder.logger().Error("building snapshots", "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce builds one snapshot of each namespace in the replication log,
// except the snapshot namespace itself.
// It returns the first error encountered, after all builds finish.
func (s *Service) RunOnce(ctx context.Context) error {
	var namespaces []rbs.NamespaceID
	err := s.Builder.Log.GetNamespaces(ctx, func(ns rbs.NamespaceID) error {
		if ns != s.SnapshotNamespace {
			namespaces = append(namespaces, ns)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "listing namespaces")
	}

	limit := s.Concurrency
	if limit <= 0 {
		limit = 4
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, ns := range namespaces {
		ns := ns
		g.Go(func() error {
			_, err := s.Builder.BuildSnapshot(ctx, ns, s.SnapshotNamespace)
			return errors.Wrapf(err, "building snapshot of %s", ns)
		})
	}
	return g.Wait()
}
