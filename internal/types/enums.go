package types

// PaymentStatus is the lifecycle state of a PaymentRecord.
// The only legal transitions are created -> paid and created -> failed.
type PaymentStatus string

const (
	PaymentStatusCreated PaymentStatus = "created"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed
}

// Channel identifies which entry point delivered a confirmation.
type Channel string

const (
	ChannelVerify  Channel = "verify"
	ChannelWebhook Channel = "webhook"
	ChannelRepair  Channel = "repair"
)

// SubjectKind is what a payment buys.
type SubjectKind string

const (
	SubjectNone SubjectKind = ""
	SubjectTour SubjectKind = "tour"
	SubjectBook SubjectKind = "book"
)

// ProviderName identifies a payment provider adapter.
type ProviderName string

const (
	ProviderRazorpay ProviderName = "razorpay"
	ProviderStripe   ProviderName = "stripe"
)

// DefaultCurrency is applied when an order request omits the currency.
const DefaultCurrency = "INR"

// Outcome describes what a confirmation did to the record it targeted.
type Outcome string

const (
	// OutcomeTransitioned means this confirmation won the created -> terminal race.
	OutcomeTransitioned Outcome = "transitioned"
	// OutcomeAlreadyPaid means the record was already paid; the confirmation
	// is a no-op apart from an idempotent fulfillment re-check.
	OutcomeAlreadyPaid Outcome = "already_paid"
	// OutcomeAlreadyFailed means the record is terminally failed.
	OutcomeAlreadyFailed Outcome = "already_failed"
	// OutcomeUntracked means no record exists for the provider order id.
	OutcomeUntracked Outcome = "untracked"
	// OutcomeIgnored means the webhook event type is not handled.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means the confirmation failed authentication. It is
	// only recorded in metrics.
	OutcomeRejected Outcome = "rejected"
)

// FulfillmentKind describes which side effect a fulfillment produced.
type FulfillmentKind string

const (
	FulfillmentNone    FulfillmentKind = "none"
	FulfillmentBooking FulfillmentKind = "booking"
	FulfillmentLibrary FulfillmentKind = "library"
)
