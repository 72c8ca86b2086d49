// Package logging implements a store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"
	"log/slog"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/store"
)

var _ rbs.BlobStore = &Store{}

// Store logs each call before passing it to a nested store.
type Store struct {
	s      rbs.BlobStore
	logger *slog.Logger
}

// New produces a new Store logging to logger.
// A nil logger means slog.Default().
func New(s rbs.BlobStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{s: s, logger: logger}
}

func (s *Store) Exists(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) (bool, error) {
	ok, err := s.s.Exists(ctx, ns, ref)
	if err != nil {
		s.logger.ErrorContext(ctx, "Exists", "namespace", ns, "ref", ref, "err", err)
	} else {
		s.logger.DebugContext(ctx, "Exists", "namespace", ns, "ref", ref, "exists", ok)
	}
	return ok, err
}

func (s *Store) GetObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref) ([]byte, error) {
	b, err := s.s.GetObject(ctx, ns, ref)
	if err != nil {
		s.logger.ErrorContext(ctx, "GetObject", "namespace", ns, "ref", ref, "err", err)
	} else {
		s.logger.DebugContext(ctx, "GetObject", "namespace", ns, "ref", ref, "size", len(b))
	}
	return b, err
}

func (s *Store) PutObject(ctx context.Context, ns rbs.NamespaceID, ref rbs.Ref, data []byte) (bool, error) {
	added, err := s.s.PutObject(ctx, ns, ref, data)
	if err != nil {
		s.logger.ErrorContext(ctx, "PutObject", "namespace", ns, "ref", ref, "err", err)
	} else {
		s.logger.DebugContext(ctx, "PutObject", "namespace", ns, "ref", ref, "size", len(data), "added", added)
	}
	return added, err
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (rbs.BlobStore, error) {
		nested, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, err
		}
		return New(nested, nil), nil
	})
}
