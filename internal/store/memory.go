package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atmx/pnl-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	portfolios map[string]*memEntry
}

// memEntry holds one portfolio. writeMu serializes writers; readers load
// the current immutable snapshot without locking.
type memEntry struct {
	writeMu  sync.Mutex
	snapshot atomic.Pointer[model.Portfolio]
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios: make(map[string]*memEntry),
	}
}

func (s *MemoryStore) entry(id string) (*memEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.portfolios[id]
	return e, ok
}

func (s *MemoryStore) UpsertPortfolio(_ context.Context, id, baseCurrency string) (*model.Portfolio, error) {
	s.mu.Lock()
	e, ok := s.portfolios[id]
	if !ok {
		e = &memEntry{}
		e.snapshot.Store(&model.Portfolio{
			ID:           id,
			BaseCurrency: baseCurrency,
			Trades:       []model.Trade{},
			Lots:         []model.Lot{},
			UpdatedAt:    time.Now().UTC(),
		})
		s.portfolios[id] = e
		s.mu.Unlock()
		return e.snapshot.Load().Clone(), nil
	}
	s.mu.Unlock()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	next := e.snapshot.Load().Clone()
	next.BaseCurrency = baseCurrency
	next.UpdatedAt = time.Now().UTC()
	e.snapshot.Store(next)
	return next.Clone(), nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, id string) (*model.Portfolio, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	// Copy to avoid external mutation of the shared snapshot.
	return e.snapshot.Load().Clone(), nil
}

func (s *MemoryStore) MutatePortfolio(_ context.Context, id string, fn MutateFunc) (*model.Portfolio, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	next := e.snapshot.Load().Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	e.snapshot.Store(next)
	return next.Clone(), nil
}

func (s *MemoryStore) ListPortfolios(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.portfolios))
	for id := range s.portfolios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
