// Package handlers contains the HTTP handlers of the payments API.
//
// Handlers decode and validate requests, pull the actor from the context and
// delegate to the payments package. Errors are rendered by core.Error.
package handlers

import (
	"cmp"
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"tourbook/internal/core"
	"tourbook/internal/payments"
	"tourbook/internal/types"
)

// OrderCreator opens provider orders.
type OrderCreator interface {
	CreateOrder(ctx context.Context, userID string, in payments.CreateOrderInput) (*payments.CreatedOrder, error)
}

// CheckoutVerifier applies the client's post-checkout confirmation.
type CheckoutVerifier interface {
	VerifyCheckout(ctx context.Context, provider types.ProviderName, orderID, paymentID, signature string) (*types.ReconcileResult, error)
}

// CreateOrderRequest is the body of POST /v1/payments/create-order. Amount is
// only read when neither tour_id nor book_id is set.
type CreateOrderRequest struct {
	Provider string            `json:"provider,omitempty" validate:"omitempty,provider_name"`
	Amount   *decimal.Decimal  `json:"amount,omitempty"`
	Currency string            `json:"currency,omitempty" validate:"omitempty,currency_code"`
	Receipt  string            `json:"receipt,omitempty" validate:"omitempty,max=40"`
	Notes    map[string]string `json:"notes,omitempty" validate:"omitempty,max=15,dive,keys,max=256,endkeys,max=256"`
	TourID   string            `json:"tour_id,omitempty" validate:"omitempty,max=64"`
	BookID   string            `json:"book_id,omitempty" validate:"omitempty,max=64"`
}

// VerifyPaymentRequest is the body of POST /v1/payments/verify-payment. The
// razorpay_* names are what Razorpay Checkout hands the browser; provider_*
// and the camelCase providerOrderId/providerPaymentId/signature are the
// neutral spellings. The first non-empty spelling of each field wins.
type VerifyPaymentRequest struct {
	Provider          string `json:"provider,omitempty" validate:"omitempty,provider_name"`
	RazorpayOrderID   string `json:"razorpay_order_id,omitempty"`
	RazorpayPaymentID string `json:"razorpay_payment_id,omitempty"`
	RazorpaySignature string `json:"razorpay_signature,omitempty"`
	ProviderOrderID   string `json:"provider_order_id,omitempty"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	ProviderSignature string `json:"provider_signature,omitempty"`
	OrderID           string `json:"providerOrderId,omitempty"`
	PaymentID         string `json:"providerPaymentId,omitempty"`
	Signature         string `json:"signature,omitempty"`
}

type verifyFields struct {
	OrderID   string `json:"order_id" validate:"required,max=255"`
	PaymentID string `json:"payment_id" validate:"required,max=255"`
	Signature string `json:"signature" validate:"required,max=512"`
}

func (r VerifyPaymentRequest) fields() verifyFields {
	return verifyFields{
		OrderID:   cmp.Or(r.RazorpayOrderID, r.ProviderOrderID, r.OrderID),
		PaymentID: cmp.Or(r.RazorpayPaymentID, r.ProviderPaymentID, r.PaymentID),
		Signature: cmp.Or(r.RazorpaySignature, r.ProviderSignature, r.Signature),
	}
}

// StatusResponse is the verify-payment success body.
type StatusResponse struct {
	Status string `json:"status"`
}

// PaymentsHandler serves the authenticated checkout endpoints.
type PaymentsHandler struct {
	orders    OrderCreator
	verifier  CheckoutVerifier
	validator *core.Validator
	logger    *slog.Logger
}

// NewPaymentsHandler creates a PaymentsHandler.
func NewPaymentsHandler(orders OrderCreator, verifier CheckoutVerifier, v *core.Validator, logger *slog.Logger) *PaymentsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentsHandler{
		orders:    orders,
		verifier:  verifier,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts the checkout endpoints under /payments.
func (h *PaymentsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/create-order", h.HandleCreateOrder)
		r.Post("/verify-payment", h.HandleVerifyPayment)
	})
}

// HandleCreateOrder opens a provider order for the caller and returns the
// provider's order JSON unchanged, which the checkout widget consumes as is.
func (h *PaymentsHandler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserIDFromContext(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "a user token is required", nil))
		return
	}

	var req CreateOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	created, err := h.orders.CreateOrder(r.Context(), userID, payments.CreateOrderInput{
		Provider: types.ProviderName(req.Provider),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
		TourID:   req.TourID,
		BookID:   req.BookID,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if len(created.Remote.Raw) > 0 {
		core.RawJSON(w, http.StatusOK, created.Remote.Raw)
		return
	}
	core.JSON(w, r, http.StatusOK, created.Remote)
}

// HandleVerifyPayment checks the checkout signature and reconciles the
// order. A valid signature for an order this service never created is still
// answered with ok: the payment is genuine and the engine has logged it.
func (h *PaymentsHandler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	if _, ok := types.GetActor(r.Context()); !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req VerifyPaymentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	f := req.fields()
	if err := h.validator.ValidateStruct(f); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.verifier.VerifyCheckout(r.Context(), types.ProviderName(req.Provider), f.OrderID, f.PaymentID, f.Signature)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if res.FulfillmentErr != nil {
		h.logger.WarnContext(r.Context(), "payment verified with pending fulfillment",
			"order_id", f.OrderID,
			"error", res.FulfillmentErr,
		)
	}

	core.JSON(w, r, http.StatusOK, StatusResponse{Status: "ok"})
}
