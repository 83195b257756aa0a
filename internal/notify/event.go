// Package notify delivers best-effort notifications about procurement
// transitions. Delivery failures never affect the transition itself.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a notification.
type EventType string

const (
	EventPOCreated   EventType = "po.created"
	EventPOReceived  EventType = "po.received"
	EventPOCancelled EventType = "po.cancelled"
)

// Event describes a committed transition.
type Event struct {
	Type           EventType       `json:"type"`
	DocumentNumber string          `json:"document_number"`
	Supplier       string          `json:"supplier,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	References     []string        `json:"references,omitempty"`
	EvidenceURLs   []string        `json:"evidence_urls,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Actor          string          `json:"actor"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Dispatcher hands an event to its delivery channel.
type Dispatcher interface {
	Notify(ctx context.Context, evt Event) error
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, text string) error
}
