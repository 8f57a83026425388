// ===========================================
// Package domain - Short URL Events
// ===========================================
// Every change to a short URL is recorded as an immutable event.
// The aggregate state is whatever you get by replaying those
// events in version order.
//
// EVENT KINDS:
// - Created:  the short URL came into existence (always version 1)
// - Accessed: someone followed the link
// - Disabled: the link was taken out of service
//
// Payloads are stored as JSON next to their kind name. Decoding goes
// through a fixed table keyed by EventKind, never through type names.
// ===========================================

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent is returned when an event cannot be encoded or decoded.
var ErrInvalidEvent = errors.New("invalid event")

// EventKind identifies the variant of a domain event.
type EventKind uint8

const (
	KindUnknown EventKind = iota
	KindCreated
	KindAccessed
	KindDisabled

	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:  "unknown",
	KindCreated:  "url.created",
	KindAccessed: "url.accessed",
	KindDisabled: "url.disabled",
}

// String returns the stable name stored alongside the payload.
func (k EventKind) String() string {
	if k >= kindCount {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ParseEventKind maps a stored name back to its kind.
func ParseEventKind(name string) (EventKind, error) {
	for k := KindCreated; k < kindCount; k++ {
		if kindNames[k] == name {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, name)
}

// Kinds lists every concrete event kind.
func Kinds() []EventKind {
	kinds := make([]EventKind, 0, kindCount-1)
	for k := KindCreated; k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Payload is the variant-specific part of an event.
type Payload interface {
	Kind() EventKind
}

// payloadFactories is the decode dispatch table.
var payloadFactories = [kindCount]func() Payload{
	KindCreated:  func() Payload { return &Created{} },
	KindAccessed: func() Payload { return &Accessed{} },
	KindDisabled: func() Payload { return &Disabled{} },
}

// Event is one entry in an aggregate's stream.
type Event struct {
	ID          uuid.UUID `json:"id"`
	AggregateID uuid.UUID `json:"aggregate_id"`
	Version     int       `json:"version"`
	OccurredAt  time.Time `json:"occurred_at"`
	Payload     Payload   `json:"-"`
}

// Kind reports the variant of the event's payload.
func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return KindUnknown
	}
	return e.Payload.Kind()
}

// Created is the first event of every stream.
type Created struct {
	ShortCode     string            `json:"short_code"`
	OriginalURL   string            `json:"original_url"`
	IsCustomAlias bool              `json:"is_custom_alias"`
	UserID        string            `json:"user_id"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	IPAddress     string            `json:"ip_address,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (*Created) Kind() EventKind { return KindCreated }

// Accessed records one resolution of the short URL.
type Accessed struct {
	IPAddress string     `json:"ip_address,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	Referrer  string     `json:"referrer,omitempty"`
	Location  Location   `json:"location"`
	Device    DeviceInfo `json:"device"`
}

func (*Accessed) Kind() EventKind { return KindAccessed }

// Disabled takes the short URL out of service.
type Disabled struct {
	Reason DisableReason `json:"reason"`
	Notes  string        `json:"notes,omitempty"`
}

func (*Disabled) Kind() EventKind { return KindDisabled }

// Location is the resolved geolocation of an access.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
	Network string `json:"network,omitempty"`
}

// DeviceInfo is the parsed user agent of an access.
type DeviceInfo struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	DeviceType     string `json:"device_type,omitempty"`
	IsBot          bool   `json:"is_bot,omitempty"`
}

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidEvent)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return data, nil
}

// DecodePayload rebuilds a payload from its kind and stored bytes.
func DecodePayload(kind EventKind, data []byte) (Payload, error) {
	if kind == KindUnknown || kind >= kindCount || payloadFactories[kind] == nil {
		return nil, fmt.Errorf("%w: no decoder for kind %d", ErrInvalidEvent, kind)
	}
	p := payloadFactories[kind]()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidEvent, kind, err)
	}
	return p, nil
}

// envelope is the JSON form used when an event travels as a whole
// (message bus, debugging dumps).
type envelope struct {
	ID          uuid.UUID       `json:"id"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	Version     int             `json:"version"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
}

// MarshalJSON writes the event with its kind tag.
func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := EncodePayload(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		ID:          e.ID,
		AggregateID: e.AggregateID,
		Version:     e.Version,
		OccurredAt:  e.OccurredAt,
		Kind:        e.Kind().String(),
		Payload:     payload,
	})
}

// UnmarshalJSON reads an event written by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	kind, err := ParseEventKind(env.Kind)
	if err != nil {
		return err
	}
	payload, err := DecodePayload(kind, env.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		ID:          env.ID,
		AggregateID: env.AggregateID,
		Version:     env.Version,
		OccurredAt:  env.OccurredAt,
		Payload:     payload,
	}
	return nil
}
