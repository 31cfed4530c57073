package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/equiprent/rental-workflow/internal/application/dispatcher"
	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/event"
)

// NewEventStreamHandler forwards every event to the external stream keyed by entity
func NewEventStreamHandler(publisher port.EventPublisher, logger Logger) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", evt.ID, err)
		}
		if err := publisher.Publish(ctx, evt.PartitionKey(), payload); err != nil {
			logger.Error("Failed to publish event", "event_id", evt.ID, "event_type", evt.Type, "error", err)
			return fmt.Errorf("publish event %s: %w", evt.ID, err)
		}
		return nil
	}
}

// NewOverdueAlertHandler alerts operators when a charge becomes overdue
func NewOverdueAlertHandler(notifier port.OperatorNotifier, logger Logger) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		if evt.Type != event.TypeBillingStatusChanged {
			return nil
		}
		if evt.GetPayloadString("new_status") != string(entity.BillingStatusOverdue) {
			return nil
		}

		reference := evt.GetPayloadString("reference")
		title := fmt.Sprintf("Billing %s is overdue", reference)
		body := fmt.Sprintf("Damage charge %s for report %d passed its due date without payment.",
			reference, evt.GetPayloadInt("report_id"))

		if err := notifier.NotifyOperators(ctx, title, body); err != nil {
			logger.Error("Failed to send overdue alert", "reference", reference, "error", err)
			return err
		}
		logger.Info("Overdue alert sent", "reference", reference)
		return nil
	}
}
