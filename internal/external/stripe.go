package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"tourbook/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeConfig holds the configuration for creating a StripeGateway.
type StripeConfig struct {
	SecretKey     types.SecretString
	WebhookSecret types.SecretString
	BaseURL       string
	Logger        *slog.Logger
}

// StripeGateway implements PaymentGateway with PaymentIntents. The intent id
// is the provider order id. Stripe returns no client-side checkout signature,
// so confirmation arrives through the webhook only.
//
// Requests go through BaseClient directly rather than the stripe-go API
// client so they share the breaker and error mapping with Razorpay; stripe-go
// supplies the API version, the resource types and webhook verification.
type StripeGateway struct {
	base          *BaseClient
	secretKey     types.SecretString
	webhookSecret types.SecretString
	baseURL       string
	logger        *slog.Logger
}

// NewStripeGateway creates a StripeGateway.
func NewStripeGateway(httpClient *http.Client, cfg StripeConfig) *StripeGateway {
	return NewStripeGatewayWithBase(NewBaseClient(httpClient, "stripe", "Tourbook/1.0"), cfg)
}

// NewStripeGatewayWithBase creates a StripeGateway with a pre-configured
// BaseClient.
func NewStripeGatewayWithBase(base *BaseClient, cfg StripeConfig) *StripeGateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeGateway{
		base:          base,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		logger:        logger,
	}
}

// Name implements PaymentGateway.
func (g *StripeGateway) Name() types.ProviderName { return types.ProviderStripe }

// CreateOrder implements PaymentGateway by creating a PaymentIntent. The
// receipt doubles as the Idempotency-Key so a caller-driven retry with the
// same receipt cannot open a second intent.
func (g *StripeGateway) CreateOrder(ctx context.Context, in types.OrderRequest) (*types.RemoteOrder, error) {
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	currency := in.Currency
	if currency == "" {
		currency = types.DefaultCurrency
	}

	params := url.Values{}
	params.Set("amount", strconv.FormatInt(MinorUnits(in.Amount), 10))
	params.Set("currency", strings.ToLower(currency))
	params.Set("automatic_payment_methods[enabled]", "true")
	if in.Receipt != "" {
		params.Set("metadata[receipt]", in.Receipt)
	}
	for k, v := range in.Notes {
		params.Set("metadata["+k+"]", v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment_intents", strings.NewReader(params.Encode()))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build Stripe request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+g.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	if in.Receipt != "" {
		req.Header.Set("Idempotency-Key", in.Receipt)
	}

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

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamRejected, "failed to decode Stripe payment intent", err)
	}
	if intent.ID == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamRejected, "Stripe payment intent has no id", nil)
	}

	return &types.RemoteOrder{
		ID:          intent.ID,
		AmountMinor: intent.Amount,
		Currency:    strings.ToUpper(string(intent.Currency)),
		Receipt:     in.Receipt,
		Status:      string(intent.Status),
		Raw:         raw,
	}, nil
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
	} `json:"error"`
}

func (g *StripeGateway) mapErrorResponse(ctx context.Context, status int, body []byte) error {
	var sErr stripeErrorResponse
	_ = json.Unmarshal(body, &sErr)
	msg := sErr.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	g.logger.WarnContext(ctx, "stripe rejected payment intent",
		"status", status,
		"code", sErr.Error.Code,
		"param", sErr.Error.Param,
	)

	if sErr.Error.Param == "amount" || sErr.Error.Code == "amount_too_small" || sErr.Error.Code == "amount_too_large" {
		return types.ErrInvalidAmount(msg)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamRejected,
		fmt.Sprintf("Stripe rejected the payment intent (%d): %s", status, msg), nil,
		map[string]any{"status": status, "provider_code": sErr.Error.Code})
}

// VerifyCheckout implements PaymentGateway. Stripe has no checkout signature.
func (g *StripeGateway) VerifyCheckout(string, string, string) bool { return false }

// ParseWebhook implements PaymentGateway using Stripe's timestamped signature
// scheme.
func (g *StripeGateway) ParseWebhook(payload []byte, header http.Header) (*types.WebhookEvent, error) {
	sig := header.Get(HeaderStripeSignature)
	if sig == "" || g.webhookSecret.IsEmpty() {
		return nil, types.ErrInvalidSignature()
	}
	if err := webhook.ValidatePayload(payload, sig, g.webhookSecret.Unmask()); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthInvalidSignature, "invalid signature", err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, invalidBody(g.Name(), err)
	}

	ev := &types.WebhookEvent{
		ID:       event.ID,
		Type:     string(event.Type),
		Provider: g.Name(),
	}

	// payment_intent.payment_failed leaves the intent payable; only
	// cancellation is terminal.
	switch ev.Type {
	case EventStripePaymentSucceeded, EventStripePaymentCanceled:
		if event.Data == nil {
			return nil, invalidBody(g.Name(), fmt.Errorf("event %s has no data", event.ID))
		}
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, invalidBody(g.Name(), err)
		}
		paymentID := intent.ID
		if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
			paymentID = intent.LatestCharge.ID
		}
		ev.Confirmation = &types.ConfirmationEvent{
			OrderID:   intent.ID,
			PaymentID: paymentID,
			Signature: sig,
			Channel:   types.ChannelWebhook,
			Failed:    ev.Type == EventStripePaymentCanceled,
		}
	}
	return ev, nil
}

var _ PaymentGateway = (*StripeGateway)(nil)
