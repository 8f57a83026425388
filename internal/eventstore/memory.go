package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// MemoryStore keeps streams in process memory. Each instance owns its
// data; use it for tests and single-node development.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[uuid.UUID][]domain.Event
	all     []domain.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[uuid.UUID][]domain.Event)}
}

// SaveEvents implements Store.
func (s *MemoryStore) SaveEvents(ctx context.Context, aggregateID uuid.UUID, events []domain.Event, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current := len(s.streams[aggregateID]); current != expectedVersion {
		return ErrConcurrency
	}

	stamped := stamp(aggregateID, events, expectedVersion)
	s.streams[aggregateID] = append(s.streams[aggregateID], stamped...)
	s.all = append(s.all, stamped...)
	return nil
}

// GetEvents implements Store.
func (s *MemoryStore) GetEvents(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	return s.GetEventsFrom(ctx, aggregateID, 1)
}

// GetEventsFrom implements Store.
func (s *MemoryStore) GetEventsFrom(ctx context.Context, aggregateID uuid.UUID, fromVersion int) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[aggregateID]
	if fromVersion < 1 {
		fromVersion = 1
	}
	if fromVersion > len(stream) {
		return []domain.Event{}, nil
	}
	out := make([]domain.Event, len(stream)-fromVersion+1)
	copy(out, stream[fromVersion-1:])
	return out, nil
}

// GetEventsByType implements Store.
func (s *MemoryStore) GetEventsByType(ctx context.Context, kind domain.EventKind, from, to time.Time) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []domain.Event
	for _, e := range s.all {
		if e.Kind() == kind && inRange(e.OccurredAt, from, to) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(ctx context.Context, aggregateID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[aggregateID]) > 0, nil
}
