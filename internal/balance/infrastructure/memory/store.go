package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	balance "balance-tracer/internal/balance/domain"
)

// Store is an in-memory balance store for demo/testing.
type Store struct {
	mu     sync.RWMutex
	points map[string][]balance.BalanceRecord
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{points: make(map[string][]balance.BalanceRecord)}
}

// Track registers a series without any record yet.
func (s *Store) Track(ctx context.Context, seriesID string) error {
	_ = ctx
	if seriesID == "" {
		return errors.New("memory balance store: empty series id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.points[seriesID]; !ok {
		s.points[seriesID] = nil
	}
	return nil
}

// Append stores records, keeping every series ordered by time ascending.
func (s *Store) Append(ctx context.Context, records ...balance.BalanceRecord) error {
	_ = ctx
	for _, rec := range records {
		if rec.Series == "" {
			return errors.New("memory balance store: empty series id")
		}
		if err := rec.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		rec.At = rec.At.UTC()
		// copy on write: snapshots handed out by SeriesAsOf keep their view
		current := s.points[rec.Series]
		list := make([]balance.BalanceRecord, len(current), len(current)+1)
		copy(list, current)
		list = append(list, rec)
		sort.SliceStable(list, func(i, j int) bool { return list[i].At.Before(list[j].At) })
		s.points[rec.Series] = list
	}
	return nil
}

// SeriesAsOf returns one lazy series per tracked id, newest first at-or-before asOf.
func (s *Store) SeriesAsOf(ctx context.Context, asOf time.Time) (map[string]balance.Series, error) {
	_ = ctx
	if asOf.IsZero() {
		return nil, errors.New("memory balance store: zero as-of")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]balance.Series, len(s.points))
	for id, list := range s.points {
		snapshot := list
		result[id] = func(yield func(balance.BalanceRecord, error) bool) {
			idx := sort.Search(len(snapshot), func(i int) bool { return snapshot[i].At.After(asOf) })
			for i := idx - 1; i >= 0; i-- {
				if !yield(snapshot[i], nil) {
					return
				}
			}
		}
	}
	return result, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	_ = ctx
	return nil
}
