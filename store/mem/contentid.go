package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/bobg/rbs"
	"github.com/bobg/rbs/contentid"
)

var _ contentid.Store = &ContentIDs{}

// ContentIDs is a memory-based implementation of a content id store.
type ContentIDs struct {
	mu         sync.Mutex
	candidates map[rbs.NamespaceID]map[rbs.Ref]map[int][]rbs.Ref
}

// NewContentIDs produces a new ContentIDs.
func NewContentIDs() *ContentIDs {
	return &ContentIDs{candidates: make(map[rbs.NamespaceID]map[rbs.Ref]map[int][]rbs.Ref)}
}

func (s *ContentIDs) Candidates(ctx context.Context, ns rbs.NamespaceID, contentID rbs.Ref, f func(contentid.Candidate) error) error {
	s.mu.Lock()
	var cands []contentid.Candidate
	for weight, chunks := range s.candidates[ns][contentID] {
		cands = append(cands, contentid.Candidate{Weight: weight, Chunks: append([]rbs.Ref(nil), chunks...)})
	}
	s.mu.Unlock()

	sort.Slice(cands, func(i, j int) bool { return cands[i].Weight < cands[j].Weight })
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *ContentIDs) Put(_ context.Context, ns rbs.NamespaceID, contentID rbs.Ref, chunks []rbs.Ref, weight int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.candidates[ns]
	if !ok {
		byID = make(map[rbs.Ref]map[int][]rbs.Ref)
		s.candidates[ns] = byID
	}
	byWeight, ok := byID[contentID]
	if !ok {
		byWeight = make(map[int][]rbs.Ref)
		byID[contentID] = byWeight
	}
	byWeight[weight] = append([]rbs.Ref(nil), chunks...)
	return nil
}
