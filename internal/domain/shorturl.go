// ===========================================
// Package domain - Short URL Aggregate
// ===========================================
// ShortURL is the authoritative state of one short link.
// It is never written directly: operations raise events, and
// events are the only thing that changes fields.
//
// LIFECYCLE:
//   Create ──► Active ──► Disabled (terminal)
//                    └──► Expired  (terminal)
//
// VERSIONING:
// Version equals the number of events applied. Events raised by an
// operation are buffered until the caller persists them with
// expectedVersion = CommittedVersion().
// ===========================================

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Domain errors
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrReconstruction = errors.New("cannot reconstruct aggregate from events")
	ErrURLInactive    = errors.New("short URL is not active")
	ErrURLExpired     = errors.New("short URL has expired")
)

// Status is the lifecycle state of a short URL.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	StatusExpired  Status = "expired"
)

// DisableReason explains why a short URL was taken out of service.
type DisableReason string

const (
	ReasonPolicyViolation    DisableReason = "policy_violation"
	ReasonSuspiciousActivity DisableReason = "suspicious_activity"
	ReasonAdminAction        DisableReason = "admin_action"
	ReasonExpired            DisableReason = "expired"
)

// Valid reports whether r is one of the known reasons.
func (r DisableReason) Valid() bool {
	switch r {
	case ReasonPolicyViolation, ReasonSuspiciousActivity, ReasonAdminAction, ReasonExpired:
		return true
	}
	return false
}

// CodeGenerator produces fresh short codes.
type CodeGenerator interface {
	NextCode() (string, error)
}

// CreateParams carries everything needed to create a short URL.
// The URL is expected to be validated by the caller.
type CreateParams struct {
	OriginalURL string
	UserID      string
	CustomAlias string
	ExpiresAt   *time.Time
	IPAddress   string
	UserAgent   string
	Metadata    map[string]string
}

// AccessParams describes one access to a short URL.
type AccessParams struct {
	IPAddress string
	UserAgent string
	Referrer  string
	Location  Location
	Device    DeviceInfo
}

// ShortURL is the event-sourced aggregate.
type ShortURL struct {
	ID             uuid.UUID
	ShortCode      string
	OriginalURL    string
	UserID         string
	IsCustomAlias  bool
	Metadata       map[string]string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	Status         Status
	AccessCount    int64
	LastAccessedAt *time.Time
	Version        int

	uncommitted []Event
}

// NewShortURL creates an aggregate and raises its Created event.
// A custom alias is used verbatim; otherwise gen supplies the code.
func NewShortURL(p CreateParams, gen CodeGenerator) (*ShortURL, error) {
	if strings.TrimSpace(p.OriginalURL) == "" {
		return nil, fmt.Errorf("%w: original URL is required", ErrInvalidInput)
	}

	code := p.CustomAlias
	custom := code != ""
	if !custom {
		if gen == nil {
			return nil, fmt.Errorf("%w: no code generator", ErrInvalidInput)
		}
		generated, err := gen.NextCode()
		if err != nil {
			return nil, fmt.Errorf("generate short code: %w", err)
		}
		code = generated
	}
	if code == "" {
		return nil, fmt.Errorf("%w: empty short code", ErrInvalidInput)
	}

	u := &ShortURL{ID: uuid.New()}
	u.raise(&Created{
		ShortCode:     code,
		OriginalURL:   p.OriginalURL,
		IsCustomAlias: custom,
		UserID:        p.UserID,
		ExpiresAt:     p.ExpiresAt,
		IPAddress:     p.IPAddress,
		UserAgent:     p.UserAgent,
		Metadata:      p.Metadata,
	})
	return u, nil
}

// FromEvents rebuilds an aggregate by replaying its stream.
// The stream must start at version 1 with no gaps.
func FromEvents(events []Event) (*ShortURL, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: empty stream", ErrReconstruction)
	}
	if events[0].Kind() != KindCreated {
		return nil, fmt.Errorf("%w: stream starts with %s", ErrReconstruction, events[0].Kind())
	}

	u := &ShortURL{ID: events[0].AggregateID}
	for _, e := range events {
		if e.AggregateID != u.ID {
			return nil, fmt.Errorf("%w: event %s belongs to %s", ErrReconstruction, e.ID, e.AggregateID)
		}
		if err := u.apply(e); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// RecordAccess raises an Accessed event. Only active, unexpired
// URLs accept access.
func (u *ShortURL) RecordAccess(a AccessParams) error {
	if u.Status != StatusActive {
		return fmt.Errorf("%w: status is %s", ErrURLInactive, u.Status)
	}
	if u.IsExpired(time.Now()) {
		return ErrURLExpired
	}
	u.raise(&Accessed{
		IPAddress: a.IPAddress,
		UserAgent: a.UserAgent,
		Referrer:  a.Referrer,
		Location:  a.Location,
		Device:    a.Device,
	})
	return nil
}

// Disable raises a Disabled event. Disabling an already disabled URL
// still appends an event; the first terminal status sticks.
func (u *ShortURL) Disable(reason DisableReason, notes string) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: unknown disable reason %q", ErrInvalidInput, reason)
	}
	u.raise(&Disabled{Reason: reason, Notes: notes})
	return nil
}

// IsActive reports whether the URL currently resolves.
func (u *ShortURL) IsActive(now time.Time) bool {
	return u.Status == StatusActive && !u.IsExpired(now)
}

// IsExpired reports whether the expiry time has passed.
func (u *ShortURL) IsExpired(now time.Time) bool {
	return u.ExpiresAt != nil && now.After(*u.ExpiresAt)
}

// UncommittedEvents returns events raised since the last clear.
func (u *ShortURL) UncommittedEvents() []Event {
	out := make([]Event, len(u.uncommitted))
	copy(out, u.uncommitted)
	return out
}

// ClearUncommittedEvents marks buffered events as persisted.
func (u *ShortURL) ClearUncommittedEvents() {
	u.uncommitted = nil
}

// CommittedVersion is the version of the last persisted event.
func (u *ShortURL) CommittedVersion() int {
	return u.Version - len(u.uncommitted)
}

func (u *ShortURL) raise(p Payload) {
	e := Event{
		ID:          uuid.New(),
		AggregateID: u.ID,
		Version:     u.Version + 1,
		OccurredAt:  time.Now().UTC(),
		Payload:     p,
	}
	// apply cannot fail here: the version is ours and p is a known kind
	_ = u.apply(e)
	u.uncommitted = append(u.uncommitted, e)
}

func (u *ShortURL) apply(e Event) error {
	if e.Version != u.Version+1 {
		return fmt.Errorf("%w: expected version %d, got %d", ErrReconstruction, u.Version+1, e.Version)
	}

	switch p := e.Payload.(type) {
	case *Created:
		if u.Version != 0 {
			return fmt.Errorf("%w: created event at version %d", ErrReconstruction, e.Version)
		}
		u.ShortCode = p.ShortCode
		u.OriginalURL = p.OriginalURL
		u.IsCustomAlias = p.IsCustomAlias
		u.UserID = p.UserID
		u.ExpiresAt = p.ExpiresAt
		u.Metadata = p.Metadata
		u.CreatedAt = e.OccurredAt
		u.Status = StatusActive
	case *Accessed:
		u.AccessCount++
		at := e.OccurredAt
		u.LastAccessedAt = &at
	case *Disabled:
		if u.Status == StatusActive {
			if p.Reason == ReasonExpired {
				u.Status = StatusExpired
			} else {
				u.Status = StatusDisabled
			}
		}
	default:
		return fmt.Errorf("%w: unsupported payload %T", ErrReconstruction, e.Payload)
	}

	u.Version = e.Version
	return nil
}
