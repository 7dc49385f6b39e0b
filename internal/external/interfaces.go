package external

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"tourbook/internal/types"
)

// PaymentGateway abstracts one payment provider. Implementations own the
// minor-unit conversion and the provider's signature schemes; callers deal in
// major units and ConfirmationEvents only.
type PaymentGateway interface {
	// Name returns the provider identifier used in routes and records.
	Name() types.ProviderName

	// CreateOrder opens a provider order. It fails with InvalidAmount before
	// any network call when the amount is not positive, and with
	// GatewayUnavailable on timeouts, transport errors and provider 5xx. It
	// never retries.
	CreateOrder(ctx context.Context, req types.OrderRequest) (*types.RemoteOrder, error)

	// VerifyCheckout checks the signature the provider's checkout hands back
	// to the client. Providers without a client-side signature return false.
	VerifyCheckout(orderID, paymentID, signature string) bool

	// ParseWebhook verifies the raw body against the signature header and
	// decodes it. A mismatch returns InvalidSignature. A body that passes the
	// signature but cannot be decoded returns an invalid_body AppError.
	// Event types reconciliation does not act on yield a nil Confirmation.
	// A failed payment attempt is one of those: the provider order stays
	// payable and a later attempt may still capture it.
	ParseWebhook(payload []byte, header http.Header) (*types.WebhookEvent, error)
}

// Webhook event type constants.
const (
	EventRazorpayPaymentCaptured = "payment.captured"
	EventRazorpayPaymentFailed   = "payment.failed"
	EventRazorpayOrderPaid       = "order.paid"

	EventStripePaymentSucceeded = "payment_intent.succeeded"
	EventStripePaymentFailed    = "payment_intent.payment_failed"
	EventStripePaymentCanceled  = "payment_intent.canceled"
)

// Signature header names.
const (
	HeaderRazorpaySignature = "X-Razorpay-Signature"
	HeaderRazorpayEventID   = "X-Razorpay-Event-Id"
	HeaderStripeSignature   = "Stripe-Signature"
)

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a major-unit amount to the provider's smallest unit,
// rounding half away from zero: 250.00 -> 25000, 10.005 -> 1001.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return types.ErrInvalidAmount("amount must be greater than zero")
	}
	if MinorUnits(amount) <= 0 {
		return types.ErrInvalidAmount("amount is below the smallest currency unit")
	}
	return nil
}

func invalidBody(provider types.ProviderName, err error) *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody,
		"webhook body could not be decoded", err,
		map[string]any{"provider": string(provider)})
}
