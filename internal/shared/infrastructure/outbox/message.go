package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/theatro/theatro/internal/shared/domain"
)

// Message is a domain event staged for publishing. Messages are written in
// the same transaction as the state change they describe.
type Message struct {
	ID            int64
	EventID       uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	RoutingKey    string
	Payload       json.RawMessage
	Metadata      json.RawMessage
	CreatedAt     time.Time
	PublishedAt   *time.Time
	NextRetryAt   *time.Time
	RetryCount    int
	LastError     *string
}

// NewMessage serializes a domain event into an outbox message.
func NewMessage(event domain.DomainEvent) (*Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(event.Metadata())
	if err != nil {
		return nil, err
	}

	return &Message{
		EventID:       event.EventID(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		RoutingKey:    event.RoutingKey(),
		Payload:       payload,
		Metadata:      metadata,
		CreatedAt:     event.OccurredAt(),
	}, nil
}

// IsPublished returns true once the message has been relayed.
func (m *Message) IsPublished() bool { return m.PublishedAt != nil }

// CanRetry returns true while retries remain.
func (m *Message) CanRetry(maxRetries int) bool { return m.RetryCount < maxRetries }
