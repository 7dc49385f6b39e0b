package payments

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"tourbook/internal/types"
)

// Dispatcher maps a paid record to its entitlement: a Booking for tours,
// library membership for books. Every path checks for an existing
// fulfillment keyed by the record id before writing, and the store enforces
// the same key with a uniqueness constraint, so repeated or concurrent calls
// produce at most one entitlement.
type Dispatcher struct {
	store  FulfillmentStore
	logger *slog.Logger
	newID  func() string
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store FulfillmentStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, logger: logger, newID: uuid.NewString}
}

// Fulfill implements Fulfiller. Errors are FulfillmentFailed AppErrors
// wrapping the storage cause.
func (d *Dispatcher) Fulfill(ctx context.Context, rec *types.PaymentRecord) (*types.FulfillmentResult, error) {
	if rec.Status != types.PaymentStatusPaid {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictPaymentState,
			"only paid records can be fulfilled", nil,
			map[string]any{"order_id": rec.ProviderOrderID, "status": string(rec.Status)})
	}
	if rec.Subject.IsZero() {
		return &types.FulfillmentResult{Kind: types.FulfillmentNone}, nil
	}

	switch rec.Subject.Kind {
	case types.SubjectTour:
		return d.book(ctx, rec)
	case types.SubjectBook:
		return d.grantBook(ctx, rec)
	default:
		return nil, types.ErrFulfillmentFailed(rec.ID,
			types.NewAppError(types.ErrCodeValidationSubject, "unknown subject kind "+string(rec.Subject.Kind), nil))
	}
}

func (d *Dispatcher) book(ctx context.Context, rec *types.PaymentRecord) (*types.FulfillmentResult, error) {
	existing, err := d.store.GetBookingByPaymentID(ctx, rec.ID)
	if err != nil {
		return nil, types.ErrFulfillmentFailed(rec.ID, err)
	}
	if existing != nil {
		return &types.FulfillmentResult{Kind: types.FulfillmentBooking, Booking: existing}, nil
	}

	b, created, err := d.store.CreateBooking(ctx, &types.Booking{
		ID:        d.newID(),
		UserID:    rec.OwnerID,
		TourID:    rec.Subject.ID,
		Price:     rec.Amount,
		Paid:      true,
		PaymentID: rec.ID,
	})
	if err != nil {
		return nil, types.ErrFulfillmentFailed(rec.ID, err)
	}
	if created {
		d.logger.InfoContext(ctx, "booking created",
			"booking_id", b.ID,
			"tour_id", b.TourID,
			"user_id", b.UserID,
			"order_id", rec.ProviderOrderID,
		)
	}
	return &types.FulfillmentResult{Kind: types.FulfillmentBooking, Created: created, Booking: b}, nil
}

func (d *Dispatcher) grantBook(ctx context.Context, rec *types.PaymentRecord) (*types.FulfillmentResult, error) {
	pb := &types.PurchasedBook{UserID: rec.OwnerID, BookID: rec.Subject.ID, PaymentID: rec.ID}

	owned, err := d.store.HasPurchasedBook(ctx, pb.UserID, pb.BookID)
	if err != nil {
		return nil, types.ErrFulfillmentFailed(rec.ID, err)
	}
	if owned {
		return &types.FulfillmentResult{Kind: types.FulfillmentLibrary, Purchased: pb}, nil
	}

	added, err := d.store.AddPurchasedBook(ctx, pb)
	if err != nil {
		return nil, types.ErrFulfillmentFailed(rec.ID, err)
	}
	if added {
		d.logger.InfoContext(ctx, "book added to library",
			"book_id", pb.BookID,
			"user_id", pb.UserID,
			"order_id", rec.ProviderOrderID,
		)
	}
	return &types.FulfillmentResult{Kind: types.FulfillmentLibrary, Created: added, Purchased: pb}, nil
}
