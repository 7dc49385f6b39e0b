package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"tourbook/internal/queue"
	"tourbook/internal/types"
)

// OrderRepairer re-runs fulfillment for one paid order.
type OrderRepairer interface {
	RepairOrder(ctx context.Context, orderID string) (*types.FulfillmentResult, error)
}

// Handler consumes FulfillmentFailed messages.
type Handler struct {
	repairer       OrderRepairer
	logger         *slog.Logger
	messageTimeout time.Duration
}

// Handle repairs each message independently. Messages that can never
// succeed (malformed, unknown order, record not paid) are acknowledged;
// transient failures are returned in BatchItemFailures so SQS redelivers
// only those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "fulfillment repair failed",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	msg, err := queue.DecodeFulfillmentMessage(record.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "dropping undecodable repair message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	logger := h.logger.With(
		"message_id", record.MessageId,
		"order_id", msg.ProviderOrderID,
		"payment_id", msg.PaymentID,
		"provider", msg.Provider,
		"request_id", msg.RequestID,
	)

	ctx, cancel := context.WithTimeout(ctx, h.messageTimeout)
	defer cancel()

	fr, err := h.repairer.RepairOrder(ctx, msg.ProviderOrderID)
	switch {
	case err == nil:
		logger.InfoContext(ctx, "fulfillment repaired",
			"kind", fr.Kind,
			"created", fr.Created,
			"original_reason", msg.Reason,
		)
		return nil
	case types.IsCode(err, types.ErrCodeNotFoundPayment), types.IsCode(err, types.ErrCodeConflictPaymentState):
		logger.WarnContext(ctx, "repair message not applicable", "error", err)
		return nil
	default:
		return err
	}
}
