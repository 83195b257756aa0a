package procurement

import (
	"context"
	"log/slog"

	"github.com/fleetmaint/backoffice/internal/notify"
)

// Notifier receives procurement events after their unit of work commits.
type Notifier interface {
	Notify(ctx context.Context, evt notify.Event) error
}

func orderEvent(typ notify.EventType, po PurchaseOrder, actor string) notify.Event {
	evt := notify.Event{
		Type:           typ,
		DocumentNumber: po.Number,
		Supplier:       po.Supplier,
		Amount:         po.Totals.TotalAmount,
		References:     po.LinkedPRNumbers,
		Actor:          actor,
	}
	switch typ {
	case notify.EventPOReceived:
		evt.EvidenceURLs = po.EvidenceURLs
		if po.ReceivedAt != nil {
			evt.OccurredAt = *po.ReceivedAt
		}
	case notify.EventPOCancelled:
		evt.Reason = po.CancelReason
		if po.CancelledAt != nil {
			evt.OccurredAt = *po.CancelledAt
		}
	default:
		evt.OccurredAt = po.CreatedAt
	}
	return evt
}

// publish never fails the caller; delivery problems are only logged.
func (s *Service) publish(ctx context.Context, evt notify.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Warn("procurement notification failed",
			slog.String("type", string(evt.Type)),
			slog.String("document", evt.DocumentNumber),
			slog.Any("error", err))
	}
}
