package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"tourbook/internal/security"
	"tourbook/internal/types"
)

// StubSecret keys stub checkout and webhook signatures when no real secret is
// configured.
const StubSecret = "tourbook-local-secret"

// StubGateway implements PaymentGateway without network access so the API can
// boot with APP_ENV=local. Orders get sequential ids; signatures are real
// HMACs under the configured secret, using the Razorpay webhook envelope, so
// the reconciliation path runs end to end against curl.
type StubGateway struct {
	name     types.ProviderName
	secret   string
	verifier security.SignatureVerifier
	seq      atomic.Int64
	logger   *slog.Logger
}

// NewStubGateway creates a StubGateway answering for name. An empty secret
// selects StubSecret.
func NewStubGateway(name types.ProviderName, secret string, logger *slog.Logger) *StubGateway {
	if secret == "" {
		secret = StubSecret
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StubGateway{name: name, secret: secret, logger: logger}
}

// Name implements PaymentGateway.
func (s *StubGateway) Name() types.ProviderName { return s.name }

// CreateOrder implements PaymentGateway.
func (s *StubGateway) CreateOrder(ctx context.Context, in types.OrderRequest) (*types.RemoteOrder, error) {
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = types.DefaultCurrency
	}

	order := &types.RemoteOrder{
		ID:          fmt.Sprintf("order_stub_%d", s.seq.Add(1)),
		AmountMinor: MinorUnits(in.Amount),
		Currency:    currency,
		Receipt:     in.Receipt,
		Status:      "created",
	}
	raw, err := json.Marshal(map[string]any{
		"id":       order.ID,
		"entity":   "order",
		"amount":   order.AmountMinor,
		"currency": order.Currency,
		"receipt":  order.Receipt,
		"status":   order.Status,
		"notes":    in.Notes,
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode stub order", err)
	}
	order.Raw = raw

	s.logger.InfoContext(ctx, "stub: CreateOrder called",
		"provider", s.name,
		"order_id", order.ID,
		"amount_minor", order.AmountMinor,
	)
	return order, nil
}

// VerifyCheckout implements PaymentGateway.
func (s *StubGateway) VerifyCheckout(orderID, paymentID, signature string) bool {
	return s.verifier.Verify(security.CheckoutPayload(orderID, paymentID), signature, s.secret)
}

// SignCheckout returns the checkout signature the stub accepts. Local tooling
// uses it to simulate the provider's checkout widget.
func (s *StubGateway) SignCheckout(orderID, paymentID string) string {
	return s.verifier.Sign(security.CheckoutPayload(orderID, paymentID), s.secret)
}

// ParseWebhook implements PaymentGateway.
func (s *StubGateway) ParseWebhook(payload []byte, header http.Header) (*types.WebhookEvent, error) {
	return parseRazorpayWebhook(s.name, s.verifier, payload, header, s.secret)
}

var _ PaymentGateway = (*StubGateway)(nil)
