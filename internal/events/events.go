// Package events publishes relay activity to a RabbitMQ topic exchange.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Routing keys.
const (
	MessageSent   = "relay.message.sent"
	TenantCreated = "relay.tenant.created"
)

type Meta struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// MessageSentData never carries the raw ticket id or the message text.
type MessageSentData struct {
	TenantID   string `json:"tenantId,omitempty"`
	TicketHash string `json:"ticketHash"`
	MessageID  string `json:"messageId"`
}

type TenantCreatedData struct {
	TenantID     string `json:"tenantId"`
	InstanceName string `json:"instanceName,omitempty"`
}

func NewEnvelope(eventType string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Type:       eventType,
			OccurredAt: time.Now().UTC(),
		},
		Data: data,
	}
}

// Publisher delivers envelopes keyed by their Meta.Type.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
func (Nop) Close() error                            { return nil }
