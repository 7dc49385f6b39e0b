package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tourbook/internal/core"
	"tourbook/internal/types"
)

// maxWebhookBodySize caps provider notifications (64 KB).
const maxWebhookBodySize = 64 * 1024

// WebhookProcessor verifies and applies provider notifications.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, provider types.ProviderName, body []byte, header http.Header) (*types.ReconcileResult, error)
}

// WebhookHandler receives provider notifications. The route is public; the
// provider signature is the only authentication.
type WebhookHandler struct {
	processor WebhookProcessor
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(processor WebhookProcessor, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{processor: processor, logger: logger}
}

// RegisterRoutes mounts POST /webhooks/{provider}.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/{provider}", h.Handle)
}

// Handle reads the raw body, since signatures cover the exact bytes, and
// hands it to the processor. Any 2xx tells the provider to stop redelivering,
// so only signature, provider and storage failures answer otherwise.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	provider := types.ProviderName(chi.URLParam(r, "provider"))

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		msg := "failed to read request body"
		if errors.As(err, &maxErr) {
			msg = "webhook body exceeds 64KB"
		}
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"provider", provider,
			"error", err,
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, msg, err))
		return
	}

	res, err := h.processor.HandleWebhook(r.Context(), provider, body, r.Header)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.DebugContext(r.Context(), "webhook processed",
		"provider", provider,
		"outcome", res.Outcome,
	)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
