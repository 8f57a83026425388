// ===========================================
// Package messaging - NATS Event Bus
// ===========================================
// Committed domain events are published to JetStream so other
// services (analytics pipelines, audit, search indexers) can follow
// the event log without reading Postgres.
//
// SUBJECTS:
//   <prefix>.url.created
//   <prefix>.url.accessed
//   <prefix>.url.disabled
//
// Each message carries Nats-Msg-Id = event ID, so JetStream drops
// duplicates when a publish is retried.
// ===========================================

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/thromel/URLShortener-sub000/internal/config"
	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// EventPublisher forwards committed events.
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// NoopPublisher drops events. Used when NATS is not configured.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(context.Context, []domain.Event) error { return nil }

// Bus is a NATS connection with a JetStream context.
type Bus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
	log    zerolog.Logger
}

// Connect dials NATS and makes sure the event stream exists.
func Connect(cfg config.NATSConfig, log zerolog.Logger) (*Bus, error) {
	log = log.With().Str("component", "nats").Logger()

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("url-shortener"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	b := &Bus{conn: conn, js: js, prefix: cfg.SubjectPrefix, log: log}
	if err := b.ensureStream(cfg.StreamName); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("stream", cfg.StreamName).Msg("connected to nats")
	return b, nil
}

func (b *Bus) ensureStream(name string) error {
	streamCfg := &nats.StreamConfig{
		Name:       name,
		Subjects:   []string{b.prefix + ".>"},
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	}

	_, err := b.js.StreamInfo(name)
	if errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := b.js.AddStream(streamCfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up stream %s: %w", name, err)
	}

	if _, err := b.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", name, err)
	}
	return nil
}

// Publish implements EventPublisher. Events are sent in order and the
// first failure stops the batch.
func (b *Bus) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		_, err = b.js.Publish(Subject(b.prefix, e.Kind()), data,
			nats.Context(ctx),
			nats.MsgId(e.ID.String()),
		)
		if err != nil {
			return fmt.Errorf("publish event %s: %w", e.ID, err)
		}
	}
	return nil
}

// Conn exposes the raw connection for core NATS publishers.
func (b *Bus) Conn() *nats.Conn {
	return b.conn
}

// Health reports whether the connection is up.
func (b *Bus) Health(_ context.Context) error {
	if status := b.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection is %s", status)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (b *Bus) Close() {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Subject returns the subject an event kind is published on.
func Subject(prefix string, kind domain.EventKind) string {
	return prefix + "." + kind.String()
}
