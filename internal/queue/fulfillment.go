// Package queue carries FulfillmentFailed messages over SQS from the API to
// the fulfillment repair worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"tourbook/internal/config"
	"tourbook/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Message attribute names set on every FulfillmentFailed message.
const (
	AttrProvider  = "provider"
	AttrRequestID = "request_id"
)

// FulfillmentReporter publishes fulfillment failures to the repair queue.
// FIFO queues (URL ending in .fifo) are grouped by provider order id and
// deduplicated on the payment id.
type FulfillmentReporter struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewFulfillmentReporter creates a reporter for the queue named in awsCfg.
func NewFulfillmentReporter(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *FulfillmentReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FulfillmentReporter{
		client:   client,
		queueURL: awsCfg.FulfillmentQueueURL,
		logger:   logger,
	}
}

// ReportFulfillmentFailure implements payments.FailureReporter.
func (r *FulfillmentReporter) ReportFulfillmentFailure(ctx context.Context, msg types.FulfillmentFailedMessage) error {
	if msg.ProviderOrderID == "" {
		return fmt.Errorf("queue: FulfillmentFailed message has no provider order id")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal FulfillmentFailed message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(r.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			AttrProvider: {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Provider)),
			},
		},
	}
	if msg.RequestID != "" {
		input.MessageAttributes[AttrRequestID] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.RequestID),
		}
	}
	if strings.HasSuffix(r.queueURL, ".fifo") {
		input.MessageGroupId = aws.String(msg.ProviderOrderID)
		input.MessageDeduplicationId = aws.String(msg.PaymentID)
	}

	out, err := r.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send FulfillmentFailed message to %s: %w", r.queueURL, err)
	}

	r.logger.InfoContext(ctx, "fulfillment failure queued",
		"queue_url", r.queueURL,
		"message_id", aws.ToString(out.MessageId),
		"order_id", msg.ProviderOrderID,
		"payment_id", msg.PaymentID,
	)
	return nil
}

// DecodeFulfillmentMessage parses a queued FulfillmentFailed body. Messages
// without a provider order id cannot be repaired and are rejected.
func DecodeFulfillmentMessage(body string) (types.FulfillmentFailedMessage, error) {
	var msg types.FulfillmentFailedMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return msg, fmt.Errorf("queue: malformed FulfillmentFailed message: %w", err)
	}
	if msg.ProviderOrderID == "" {
		return msg, fmt.Errorf("queue: FulfillmentFailed message has no provider order id")
	}
	return msg, nil
}
