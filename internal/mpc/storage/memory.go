package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps round records in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	rounds map[uint64]*RoundRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rounds: make(map[uint64]*RoundRecord)}
}

func (s *MemoryStore) SaveRound(_ context.Context, rec *RoundRecord) error {
	cp := *rec
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[rec.Index] = &cp
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, index uint64) (*RoundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rounds[index]
	if !ok {
		return nil, ErrRoundNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListRounds(_ context.Context, limit int) ([]*RoundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indices := make([]uint64, 0, len(s.rounds))
	for idx := range s.rounds {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] > indices[j] })
	if limit < len(indices) {
		if limit < 0 {
			limit = 0
		}
		indices = indices[:limit]
	}

	out := make([]*RoundRecord, 0, len(indices))
	for _, idx := range indices {
		cp := *s.rounds[idx]
		out = append(out, &cp)
	}
	return out, nil
}
