package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SubjectRef names the catalog item a payment purchases. A zero SubjectRef
// means the payment has no fulfillment.
type SubjectRef struct {
	Kind SubjectKind `json:"kind,omitempty"`
	ID   string      `json:"id,omitempty"`
}

// IsZero reports whether the reference points at nothing.
func (s SubjectRef) IsZero() bool {
	return s.Kind == SubjectNone || s.ID == ""
}

// TourSubject returns a reference to a tour.
func TourSubject(id string) SubjectRef { return SubjectRef{Kind: SubjectTour, ID: id} }

// BookSubject returns a reference to a book.
func BookSubject(id string) SubjectRef { return SubjectRef{Kind: SubjectBook, ID: id} }

// PaymentRecord is the local mirror of a provider order.
type PaymentRecord struct {
	ID                string          `json:"id" db:"id"`
	OwnerID           string          `json:"owner_id" db:"owner_id"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Currency          string          `json:"currency" db:"currency"`
	Provider          ProviderName    `json:"provider" db:"provider"`
	ProviderOrderID   string          `json:"provider_order_id" db:"provider_order_id"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty" db:"provider_payment_id"`
	Signature         string          `json:"-" db:"signature"`
	Status            PaymentStatus   `json:"status" db:"status"`
	Subject           SubjectRef      `json:"subject" db:"-"`
	Receipt           string          `json:"receipt,omitempty" db:"receipt"`
	PaidChannel       Channel         `json:"paid_channel,omitempty" db:"paid_channel"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Booking is the fulfillment record for a paid tour.
type Booking struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	TourID    string          `json:"tour_id" db:"tour_id"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Paid      bool            `json:"paid" db:"paid"`
	PaymentID string          `json:"payment_id" db:"payment_id"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// PurchasedBook is the fulfillment record for a paid book: membership of the
// book in the user's library, back-referenced to the payment.
type PurchasedBook struct {
	UserID    string    `json:"user_id" db:"user_id"`
	BookID    string    `json:"book_id" db:"book_id"`
	PaymentID string    `json:"payment_id" db:"payment_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// OrderRequest is what the order service hands to a gateway. Amount is in
// major units; gateways convert to minor units.
type OrderRequest struct {
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Notes    map[string]string
}

// RemoteOrder is a provider order. Raw carries the provider's native JSON,
// which is returned to the client unchanged.
type RemoteOrder struct {
	ID          string          `json:"id"`
	AmountMinor int64           `json:"amount"`
	Currency    string          `json:"currency"`
	Receipt     string          `json:"receipt,omitempty"`
	Status      string          `json:"status,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// ConfirmationEvent is the single input to the reconciliation transition.
// Both the client verify call and the provider webhook produce one.
type ConfirmationEvent struct {
	OrderID   string
	PaymentID string
	Signature string
	Channel   Channel
	// Failed marks a provider-reported payment failure (created -> failed).
	Failed bool
}

// ReconcileResult reports what a confirmation did.
type ReconcileResult struct {
	Outcome     Outcome            `json:"outcome"`
	Record      *PaymentRecord     `json:"record,omitempty"`
	Fulfillment *FulfillmentResult `json:"fulfillment,omitempty"`
	// FulfillmentErr is set when the record is paid but its side effect did
	// not complete. It never reverts the payment.
	FulfillmentErr error `json:"-"`
}

// FulfillmentResult describes the side effect of a paid record.
type FulfillmentResult struct {
	Kind FulfillmentKind `json:"kind"`
	// Created is false when an earlier confirmation already fulfilled the payment.
	Created   bool           `json:"created"`
	Booking   *Booking       `json:"booking,omitempty"`
	Purchased *PurchasedBook `json:"purchased,omitempty"`
}

// FulfillmentFailedMessage is published when a paid record's side effect
// failed, so a worker or operator can repair it out of band.
type FulfillmentFailedMessage struct {
	PaymentID       string       `json:"payment_id"`
	ProviderOrderID string       `json:"provider_order_id"`
	Provider        ProviderName `json:"provider"`
	Reason          string       `json:"reason"`
	OccurredAt      time.Time    `json:"occurred_at"`
	RequestID       string       `json:"request_id,omitempty"`
}

// WebhookEvent is a signature-verified provider notification. Confirmation
// is nil for event types reconciliation does not act on.
type WebhookEvent struct {
	ID           string
	Type         string
	Provider     ProviderName
	Confirmation *ConfirmationEvent
}
