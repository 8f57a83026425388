package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Purge request kinds.
const (
	PurgePath    = "path"
	PurgePattern = "pattern"
)

// PurgeRequest is the message edge nodes consume to drop cached
// redirects.
type PurgeRequest struct {
	Kind        string    `json:"kind"`
	Target      string    `json:"target"`
	RequestedAt time.Time `json:"requested_at"`
}

// publisher is the core NATS publish call. *nats.Conn satisfies it.
type publisher interface {
	Publish(subject string, data []byte) error
}

// EdgePurger asks edge caches to drop entries by publishing purge
// requests on a subject. It satisfies cache.EdgeInvalidator.
type EdgePurger struct {
	pub     publisher
	subject string
	now     func() time.Time
}

// NewEdgePurger creates a purger publishing on subject.
func NewEdgePurger(pub publisher, subject string) *EdgePurger {
	return &EdgePurger{pub: pub, subject: subject, now: time.Now}
}

// InvalidatePath requests removal of a single path.
func (p *EdgePurger) InvalidatePath(ctx context.Context, path string) error {
	return p.send(ctx, PurgePath, path)
}

// InvalidatePattern requests removal of every path matching pattern.
func (p *EdgePurger) InvalidatePattern(ctx context.Context, pattern string) error {
	return p.send(ctx, PurgePattern, pattern)
}

func (p *EdgePurger) send(ctx context.Context, kind, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(PurgeRequest{Kind: kind, Target: target, RequestedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode purge request: %w", err)
	}
	if err := p.pub.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish purge request for %s: %w", target, err)
	}
	return nil
}
