package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"tourbook/internal/types"
)

// FulfillmentRepository writes the side effects of paid records: bookings
// for tours and library membership for books. Both tables carry a UNIQUE
// constraint on payment_id, so concurrent fulfillment of the same payment
// yields at most one row.
type FulfillmentRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewFulfillmentRepository creates a FulfillmentRepository.
func NewFulfillmentRepository(db DBTX, logger *slog.Logger) *FulfillmentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &FulfillmentRepository{db: db, logger: logger}
}

const bookingColumns = `id, user_id, tour_id, price, paid, payment_id, created_at`

func scanBooking(row pgx.Row) (*types.Booking, error) {
	var b types.Booking
	err := row.Scan(&b.ID, &b.UserID, &b.TourID, &b.Price, &b.Paid, &b.PaymentID, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBookingByPaymentID returns the booking back-referencing the payment, or
// (nil, nil) when none exists.
func (r *FulfillmentRepository) GetBookingByPaymentID(ctx context.Context, paymentID string) (*types.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE payment_id = $1`,
		paymentID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.ErrStorageUnavailable("failed to load booking", err)
	}
	return b, nil
}

// CreateBooking inserts the booking unless one already exists for its
// payment. It returns the stored booking and whether this call created it.
func (r *FulfillmentRepository) CreateBooking(ctx context.Context, b *types.Booking) (*types.Booking, bool, error) {
	stored, err := scanBooking(r.db.QueryRow(ctx,
		`INSERT INTO bookings (id, user_id, tour_id, price, paid, payment_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (payment_id) DO NOTHING
		 RETURNING `+bookingColumns,
		b.ID,
		b.UserID,
		b.TourID,
		b.Price,
		b.Paid,
		b.PaymentID,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, types.ErrStorageUnavailable("failed to create booking", err)
	}

	// Lost the race to a concurrent confirmation; return the winner's row.
	existing, err := r.GetBookingByPaymentID(ctx, b.PaymentID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, types.ErrStorageUnavailable("booking conflict without existing row", nil)
	}
	r.logger.InfoContext(ctx, "booking already exists for payment",
		slog.String("payment_id", b.PaymentID),
		slog.String("booking_id", existing.ID),
	)
	return existing, false, nil
}

// HasPurchasedBook reports whether the user's library already contains the book.
func (r *FulfillmentRepository) HasPurchasedBook(ctx context.Context, userID, bookID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_purchased_books WHERE user_id = $1 AND book_id = $2)`,
		userID, bookID,
	).Scan(&exists)
	if err != nil {
		return false, types.ErrStorageUnavailable("failed to check purchased books", err)
	}
	return exists, nil
}

// AddPurchasedBook adds the book to the user's library with set semantics.
// It returns true when a row was inserted.
func (r *FulfillmentRepository) AddPurchasedBook(ctx context.Context, pb *types.PurchasedBook) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO user_purchased_books (user_id, book_id, payment_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		pb.UserID,
		pb.BookID,
		pb.PaymentID,
	)
	if err != nil {
		return false, types.ErrStorageUnavailable("failed to add purchased book", err)
	}
	return tag.RowsAffected() == 1, nil
}
