package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tourbook/internal/core"
	"tourbook/internal/types"
)

// FulfillmentRepairer re-runs fulfillment for a paid order.
type FulfillmentRepairer interface {
	RepairOrder(ctx context.Context, orderID string) (*types.FulfillmentResult, error)
}

// AdminHandler serves operator endpoints. Every route requires an admin actor.
type AdminHandler struct {
	repairer FulfillmentRepairer
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(repairer FulfillmentRepairer, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{repairer: repairer, logger: logger}
}

// RegisterRoutes mounts the admin routes under /admin.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(core.RequireAdmin)
		r.Post("/payments/{orderId}/fulfill", h.HandleFulfill)
	})
}

// HandleFulfill repairs the entitlement of a paid order. It is safe to call
// repeatedly; an already fulfilled order reports created=false.
func (h *AdminHandler) HandleFulfill(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "orderId is required", nil))
		return
	}

	actor, _ := types.GetActor(r.Context())
	fr, err := h.repairer.RepairOrder(r.Context(), orderID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "manual fulfillment failed",
			"order_id", orderID,
			"actor", actor.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "manual fulfillment",
		"order_id", orderID,
		"actor", actor.ID,
		"kind", fr.Kind,
		"created", fr.Created,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: fr})
}
