// ===========================================
// Package eventstore - Append-Only Event Log
// ===========================================
// The event store is the source of truth for every short URL.
// Streams are keyed by aggregate ID and versioned from 1.
//
// OPTIMISTIC CONCURRENCY:
// SaveEvents takes the version the caller last saw. If someone else
// appended in the meantime, the whole batch is rejected with
// ErrConcurrency and nothing is written. Callers reload and retry.
// ===========================================

package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// ErrConcurrency means the stream moved past the expected version.
var ErrConcurrency = errors.New("concurrency conflict: stream version changed")

// Store is an append-only, per-aggregate versioned event log.
type Store interface {
	// SaveEvents appends events atomically if the stream is still at
	// expectedVersion. Events are stamped expectedVersion+1, +2, ...
	SaveEvents(ctx context.Context, aggregateID uuid.UUID, events []domain.Event, expectedVersion int) error

	// GetEvents returns the full stream in version order.
	GetEvents(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error)

	// GetEventsFrom returns events with version >= fromVersion.
	GetEventsFrom(ctx context.Context, aggregateID uuid.UUID, fromVersion int) ([]domain.Event, error)

	// GetEventsByType returns events of one kind across all streams,
	// ordered by occurrence time. Zero times leave the range open.
	GetEventsByType(ctx context.Context, kind domain.EventKind, from, to time.Time) ([]domain.Event, error)

	// Exists reports whether any event is stored for the aggregate.
	Exists(ctx context.Context, aggregateID uuid.UUID) (bool, error)
}

// stamp assigns stream identity and versions to a batch.
func stamp(aggregateID uuid.UUID, events []domain.Event, expectedVersion int) []domain.Event {
	out := make([]domain.Event, len(events))
	for i, e := range events {
		e.AggregateID = aggregateID
		e.Version = expectedVersion + i + 1
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = time.Now().UTC()
		}
		out[i] = e
	}
	return out
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
