// Package notification delivers order events to the email and invoice
// pipeline without holding up the request that produced them.
package notification

import (
	"time"

	"pantry-store/internal/domain"

	"github.com/google/uuid"
)

// EventType names an order event.
type EventType string

const (
	EventOrderPlaced        EventType = "order.placed"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventOrderCancelled     EventType = "order.cancelled"
)

// Event is one order occurrence. Order is a private copy owned by the event.
type Event struct {
	ID             uuid.UUID
	Type           EventType
	OccurredAt     time.Time
	PreviousStatus domain.OrderStatus
	Order          *domain.Order
}

// NewOrderEvent snapshots order into an event of type t.
func NewOrderEvent(t EventType, order *domain.Order, previous domain.OrderStatus, at time.Time) Event {
	return Event{
		ID:             uuid.New(),
		Type:           t,
		OccurredAt:     at.UTC(),
		PreviousStatus: previous,
		Order:          order.Clone(),
	}
}

// envelope is the wire form pushed to downstream consumers.
type envelope struct {
	Version        int                `json:"version"`
	ID             string             `json:"id"`
	Type           EventType          `json:"type"`
	OccurredAt     time.Time          `json:"occurred_at"`
	PreviousStatus domain.OrderStatus `json:"previous_status,omitempty"`
	Order          *domain.Order      `json:"order"`
}

const envelopeVersion = 1

func (e Event) envelope() envelope {
	return envelope{
		Version:        envelopeVersion,
		ID:             e.ID.String(),
		Type:           e.Type,
		OccurredAt:     e.OccurredAt,
		PreviousStatus: e.PreviousStatus,
		Order:          e.Order,
	}
}
