// Package payments is the reconciliation core: order creation, the
// created -> paid | failed transition driven by checkout verification and
// provider webhooks, and the fulfillment that follows a paid record.
package payments

import (
	"context"

	"github.com/shopspring/decimal"

	"tourbook/internal/external"
	"tourbook/internal/types"
)

// PaymentStore persists PaymentRecords. TransitionFromCreated must be a
// single conditional write so that concurrent confirmations have exactly one
// winner.
type PaymentStore interface {
	Create(ctx context.Context, p *types.PaymentRecord) error
	GetByProviderOrderID(ctx context.Context, orderID string) (*types.PaymentRecord, error)
	TransitionFromCreated(ctx context.Context, orderID string, to types.PaymentStatus, paymentID, signature string, channel types.Channel) (*types.PaymentRecord, bool, error)
	ListPaidUnfulfilled(ctx context.Context, limit int) ([]*types.PaymentRecord, error)
}

// FulfillmentStore persists bookings and library membership. Both writes
// must be idempotent on the payment back-reference at the storage layer.
type FulfillmentStore interface {
	GetBookingByPaymentID(ctx context.Context, paymentID string) (*types.Booking, error)
	CreateBooking(ctx context.Context, b *types.Booking) (*types.Booking, bool, error)
	HasPurchasedBook(ctx context.Context, userID, bookID string) (bool, error)
	AddPurchasedBook(ctx context.Context, pb *types.PurchasedBook) (bool, error)
}

// Catalog resolves the authoritative price of a tour or book.
type Catalog interface {
	PriceOf(ctx context.Context, ref types.SubjectRef) (decimal.Decimal, error)
}

// Gateways resolves provider adapters by name.
type Gateways interface {
	Gateway(name types.ProviderName) (external.PaymentGateway, error)
	Default() (external.PaymentGateway, error)
}

// Fulfiller grants the entitlement a paid record bought.
type Fulfiller interface {
	Fulfill(ctx context.Context, rec *types.PaymentRecord) (*types.FulfillmentResult, error)
}

// FailureReporter hands fulfillment failures to the out-of-band repair path.
type FailureReporter interface {
	ReportFulfillmentFailure(ctx context.Context, msg types.FulfillmentFailedMessage) error
}

// WebhookArchiver keeps a copy of signature-valid webhook bodies.
type WebhookArchiver interface {
	Archive(ctx context.Context, provider types.ProviderName, eventID string, body []byte) error
}

// MetricsRecorder counts reconciliation outcomes.
type MetricsRecorder interface {
	RecordReconcile(ctx context.Context, provider types.ProviderName, channel types.Channel, outcome types.Outcome)
	RecordFulfillmentFailure(ctx context.Context, kind types.SubjectKind)
}

type noopReporter struct{}

func (noopReporter) ReportFulfillmentFailure(context.Context, types.FulfillmentFailedMessage) error {
	return nil
}

type noopArchiver struct{}

func (noopArchiver) Archive(context.Context, types.ProviderName, string, []byte) error { return nil }

type noopMetrics struct{}

func (noopMetrics) RecordReconcile(context.Context, types.ProviderName, types.Channel, types.Outcome) {}
func (noopMetrics) RecordFulfillmentFailure(context.Context, types.SubjectKind) {}
