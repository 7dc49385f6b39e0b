package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"tourbook/internal/security"
	"tourbook/internal/types"
)

// razorpayAPIBase is the default Razorpay API base URL.
// Overridable in tests via RazorpayConfig.BaseURL.
const razorpayAPIBase = "https://api.razorpay.com"

// RazorpayConfig holds the configuration for creating a RazorpayGateway.
type RazorpayConfig struct {
	KeyID     string
	KeySecret types.SecretString
	// WebhookSecret signs webhook bodies. Falls back to KeySecret when empty.
	WebhookSecret types.SecretString
	BaseURL       string
	Logger        *slog.Logger
}

// RazorpayGateway implements PaymentGateway against the Razorpay Orders API.
// Checkout signatures are HMAC-SHA256 over "{order_id}|{payment_id}" keyed by
// the API key secret; webhook signatures cover the raw body and are keyed by
// the webhook secret.
type RazorpayGateway struct {
	base          *BaseClient
	keyID         string
	keySecret     types.SecretString
	webhookSecret types.SecretString
	baseURL       string
	verifier      security.SignatureVerifier
	logger        *slog.Logger
}

// NewRazorpayGateway creates a RazorpayGateway. The httpClient timeout bounds
// each order call.
func NewRazorpayGateway(httpClient *http.Client, cfg RazorpayConfig) *RazorpayGateway {
	return NewRazorpayGatewayWithBase(
		NewBaseClient(httpClient, "razorpay", "Tourbook/1.0"),
		cfg,
	)
}

// NewRazorpayGatewayWithBase creates a RazorpayGateway with a pre-configured
// BaseClient.
func NewRazorpayGatewayWithBase(base *BaseClient, cfg RazorpayConfig) *RazorpayGateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = razorpayAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	webhookSecret := cfg.WebhookSecret
	if webhookSecret.IsEmpty() {
		webhookSecret = cfg.KeySecret
	}
	return &RazorpayGateway{
		base:          base,
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: webhookSecret,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		logger:        logger,
	}
}

// Name implements PaymentGateway.
func (g *RazorpayGateway) Name() types.ProviderName { return types.ProviderRazorpay }

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// CreateOrder implements PaymentGateway.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, in types.OrderRequest) (*types.RemoteOrder, error) {
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = types.DefaultCurrency
	}

	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   MinorUnits(in.Amount),
		Currency: currency,
		Receipt:  in.Receipt,
		Notes:    in.Notes,
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode Razorpay order", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build Razorpay request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.keySecret.Unmask())

	resp, err := g.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.ErrGatewayUnavailable(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, g.mapErrorResponse(ctx, resp.StatusCode, raw)
	}

	var order types.RemoteOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamRejected, "failed to decode Razorpay order response", err)
	}
	if order.ID == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamRejected, "Razorpay order response has no id", nil)
	}
	order.Raw = raw
	return &order, nil
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Field       string `json:"field"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

// mapErrorResponse translates a non-200 Razorpay response. 5xx and 429 never
// reach here; BaseClient maps those to GatewayUnavailable.
func (g *RazorpayGateway) mapErrorResponse(ctx context.Context, status int, body []byte) error {
	var rzpErr razorpayErrorResponse
	_ = json.Unmarshal(body, &rzpErr)
	desc := rzpErr.Error.Description
	if desc == "" {
		desc = http.StatusText(status)
	}

	g.logger.WarnContext(ctx, "razorpay rejected order",
		"status", status,
		"code", rzpErr.Error.Code,
		"field", rzpErr.Error.Field,
	)

	if rzpErr.Error.Field == "amount" {
		return types.ErrInvalidAmount(desc)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamRejected,
		fmt.Sprintf("Razorpay rejected the order (%d): %s", status, desc), nil,
		map[string]any{"status": status, "provider_code": rzpErr.Error.Code})
}

// VerifyCheckout implements PaymentGateway.
func (g *RazorpayGateway) VerifyCheckout(orderID, paymentID, signature string) bool {
	return g.verifier.Verify(security.CheckoutPayload(orderID, paymentID), signature, g.keySecret.Unmask())
}

// ParseWebhook implements PaymentGateway.
func (g *RazorpayGateway) ParseWebhook(payload []byte, header http.Header) (*types.WebhookEvent, error) {
	return parseRazorpayWebhook(g.Name(), g.verifier, payload, header, g.webhookSecret.Unmask())
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// parseRazorpayWebhook is shared with the stub gateway so local webhooks use
// the same envelope.
func parseRazorpayWebhook(provider types.ProviderName, v security.SignatureVerifier, payload []byte, header http.Header, secret string) (*types.WebhookEvent, error) {
	sig := header.Get(HeaderRazorpaySignature)
	if !v.Verify(payload, sig, secret) {
		return nil, types.ErrInvalidSignature()
	}

	var body razorpayWebhook
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, invalidBody(provider, err)
	}

	ev := &types.WebhookEvent{
		ID:       header.Get(HeaderRazorpayEventID),
		Type:     body.Event,
		Provider: provider,
	}

	entity := body.Payload.Payment.Entity
	orderID := entity.OrderID
	if orderID == "" {
		orderID = body.Payload.Order.Entity.ID
	}

	switch body.Event {
	case EventRazorpayPaymentCaptured, EventRazorpayOrderPaid:
		if orderID == "" || entity.ID == "" {
			// Payments created outside an order carry nothing to reconcile.
			return ev, nil
		}
		ev.Confirmation = &types.ConfirmationEvent{
			OrderID:   orderID,
			PaymentID: entity.ID,
			Signature: sig,
			Channel:   types.ChannelWebhook,
		}
	}
	return ev, nil
}

var _ PaymentGateway = (*RazorpayGateway)(nil)
