package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the offer protocol engine.
const (
	TypeOfferCreated    = "offer.created"
	TypeOfferTaken      = "offer.taken"
	TypeOfferRedirected = "offer.redirected"
	TypeOfferReclaimed  = "offer.reclaimed"
)

// MaxPayloadBytes bounds the serialized payload size of a single event.
const MaxPayloadBytes = 1 << 20

// ErrInvalidEvent is returned when an event fails construction validation.
var ErrInvalidEvent = errors.New("invalid event")

// Event is a serialized offer lifecycle notification.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// OfferPayload is the payload shared by all offer lifecycle events.
type OfferPayload struct {
	Sender     string     `json:"sender"`
	Recipient  string     `json:"recipient"`
	OfferID    uint64     `json:"offerId"`
	Amount     int64      `json:"amount"`
	Memo       string     `json:"memo,omitempty"`
	ResolvedTo string     `json:"resolvedTo,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// New creates a validated event with a fresh identifier.
func New(eventType string, occurredAt time.Time, payload OfferPayload) (Event, error) {
	if strings.TrimSpace(eventType) == "" {
		return Event{}, fmt.Errorf("%w: event type is empty", ErrInvalidEvent)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal payload: %w", err)
	}

	if len(raw) > MaxPayloadBytes {
		return Event{}, fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidEvent, MaxPayloadBytes)
	}

	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: occurredAt.UTC(),
		Payload:    raw,
	}, nil
}

// Publisher delivers events to an external broker or sink.
//
//go:generate mockgen --destination=publisher_mock.go --package=events . Publisher
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
