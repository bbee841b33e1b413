// Package events publishes domain events (messages, presence, calls) to a
// message broker for consumers outside the realtime server.
package events

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Routing keys.
const (
	KeyMessageCreated  = "message.created"
	KeyMessageDeleted  = "message.deleted"
	KeyPresenceChanged = "presence.changed"
	KeyCallEnded       = "call.ended"
)

// Meta describes an emitted event.
type Meta struct {
	// Unique event ID
	ID string `json:"id"`
	// Event name, equal to the routing key
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Envelope is the broker message body.
type Envelope struct {
	Meta    Meta `json:"meta"`
	Payload any  `json:"payload"`
}

// NewEnvelope stamps payload with a fresh id and the current time.
func NewEnvelope(key string, payload any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:         uuid.Must(uuid.NewV4()).String(),
			Type:       key,
			OccurredAt: time.Now().UTC(),
		},
		Payload: payload,
	}
}

// Publisher delivers envelopes under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}
