package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/thromel/URLShortener-sub000/internal/database"
	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// PostgreSQL error code 23505 = unique_violation
const uniqueViolation = "23505"

// PostgresStore persists streams in the domain_events table.
//
// HOW THE VERSION CHECK WORKS:
//  1. Take a transaction-scoped advisory lock on the aggregate
//  2. Read MAX(version) for the stream
//  3. Compare with expectedVersion, reject on mismatch
//  4. Insert the batch; the UNIQUE (aggregate_id, version)
//     constraint is the last line if two writers slip through
type PostgresStore struct {
	db *database.PostgresDB
}

// NewPostgresStore creates an event store on db.
func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveEvents implements Store.
func (s *PostgresStore) SaveEvents(ctx context.Context, aggregateID uuid.UUID, events []domain.Event, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}

	stamped := stamp(aggregateID, events, expectedVersion)

	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, aggregateID.String()); err != nil {
			return fmt.Errorf("lock stream: %w", err)
		}

		var current int
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM domain_events WHERE aggregate_id = $1`,
			aggregateID,
		).Scan(&current)
		if err != nil {
			return fmt.Errorf("read stream version: %w", err)
		}
		if current != expectedVersion {
			return ErrConcurrency
		}

		batch := &pgx.Batch{}
		for _, e := range stamped {
			payload, err := domain.EncodePayload(e.Payload)
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO domain_events (event_id, aggregate_id, version, kind, payload, occurred_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				e.ID, e.AggregateID, e.Version, e.Kind().String(), payload, e.OccurredAt,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for range stamped {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return err
			}
		}
		return results.Close()
	})

	if err != nil {
		if isUniqueViolation(err) {
			return ErrConcurrency
		}
		if errors.Is(err, ErrConcurrency) {
			return err
		}
		return fmt.Errorf("save events for %s: %w", aggregateID, err)
	}
	return nil
}

// GetEvents implements Store.
func (s *PostgresStore) GetEvents(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	return s.GetEventsFrom(ctx, aggregateID, 1)
}

// GetEventsFrom implements Store.
func (s *PostgresStore) GetEventsFrom(ctx context.Context, aggregateID uuid.UUID, fromVersion int) ([]domain.Event, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT event_id, aggregate_id, version, kind, payload, occurred_at
		FROM domain_events
		WHERE aggregate_id = $1 AND version >= $2
		ORDER BY version ASC`,
		aggregateID, fromVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("query events for %s: %w", aggregateID, err)
	}
	return scanEvents(rows)
}

// GetEventsByType implements Store.
func (s *PostgresStore) GetEventsByType(ctx context.Context, kind domain.EventKind, from, to time.Time) ([]domain.Event, error) {
	// NULL bounds leave the range open
	var fromArg, toArg *time.Time
	if !from.IsZero() {
		fromArg = &from
	}
	if !to.IsZero() {
		toArg = &to
	}

	rows, err := s.db.Pool.Query(ctx, `
		SELECT event_id, aggregate_id, version, kind, payload, occurred_at
		FROM domain_events
		WHERE kind = $1
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR occurred_at <= $3)
		ORDER BY occurred_at ASC, version ASC`,
		kind.String(), fromArg, toArg,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s events: %w", kind, err)
	}
	return scanEvents(rows)
}

// Exists implements Store.
func (s *PostgresStore) Exists(ctx context.Context, aggregateID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM domain_events WHERE aggregate_id = $1)`,
		aggregateID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check stream %s: %w", aggregateID, err)
	}
	return exists, nil
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var (
			e        domain.Event
			kindName string
			payload  []byte
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.Version, &kindName, &payload, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		kind, err := domain.ParseEventKind(kindName)
		if err != nil {
			return nil, err
		}
		if e.Payload, err = domain.DecodePayload(kind, payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
