package pattern

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/invoice-match/internal/model"
)

// MemoryStore is an in-process PatternStore. It backs tests and dry runs.
type MemoryStore struct {
	now      func() time.Time
	patterns map[string]model.LearnedPattern
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		patterns: make(map[string]model.LearnedPattern),
	}
}

// GetPattern returns the pattern for key, or nil if none exists.
func (s *MemoryStore) GetPattern(_ context.Context, key string) (*model.LearnedPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// AdjustPattern adds delta to the key's weight, clamping to the allowed range.
func (s *MemoryStore) AdjustPattern(_ context.Context, key string, delta float64) (*model.LearnedPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.patterns[key]
	p.Key = key
	p.Weight = model.ClampWeight(p.Weight + delta)
	p.UsageCount++
	p.UpdatedAt = s.now()
	s.patterns[key] = p

	return &p, nil
}

// Set stores a pattern as-is.
func (s *MemoryStore) Set(p model.LearnedPattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Weight = model.ClampWeight(p.Weight)
	s.patterns[p.Key] = p
}

// List returns all patterns ordered by key.
func (s *MemoryStore) List(_ context.Context) ([]model.LearnedPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LearnedPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
