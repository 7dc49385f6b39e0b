package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"tourbook/internal/types"
)

// PaymentRepository stores PaymentRecords.
//
// Status changes go exclusively through TransitionFromCreated, a single
// conditional UPDATE guarded by status = 'created'. Two racing confirmations
// for the same order therefore produce exactly one winner.
type PaymentRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewPaymentRepository creates a PaymentRepository backed by the given
// database connection (pool or transaction).
func NewPaymentRepository(db DBTX, logger *slog.Logger) *PaymentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentRepository{db: db, logger: logger}
}

const paymentColumns = `id, owner_id, amount, currency, provider, provider_order_id,
	provider_payment_id, signature, status, tour_id, book_id, receipt, paid_channel,
	created_at, updated_at`

func scanPayment(row pgx.Row) (*types.PaymentRecord, error) {
	var p types.PaymentRecord
	var (
		paymentID   *string
		signature   *string
		tourID      *string
		bookID      *string
		receipt     *string
		paidChannel *string
	)
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Amount,
		&p.Currency,
		&p.Provider,
		&p.ProviderOrderID,
		&paymentID,
		&signature,
		&p.Status,
		&tourID,
		&bookID,
		&receipt,
		&paidChannel,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ProviderPaymentID = derefString(paymentID)
	p.Signature = derefString(signature)
	p.Receipt = derefString(receipt)
	p.PaidChannel = types.Channel(derefString(paidChannel))
	switch {
	case tourID != nil:
		p.Subject = types.TourSubject(*tourID)
	case bookID != nil:
		p.Subject = types.BookSubject(*bookID)
	}
	return &p, nil
}

func subjectColumns(s types.SubjectRef) (tourID, bookID *string) {
	switch s.Kind {
	case types.SubjectTour:
		return nullIfEmpty(s.ID), nil
	case types.SubjectBook:
		return nil, nullIfEmpty(s.ID)
	}
	return nil, nil
}

// Create inserts a new record in status created. A duplicate provider order id
// is reported as a conflict.
func (r *PaymentRepository) Create(ctx context.Context, p *types.PaymentRecord) error {
	tourID, bookID := subjectColumns(p.Subject)
	err := r.db.QueryRow(ctx,
		`INSERT INTO payments (id, owner_id, amount, currency, provider, provider_order_id,
		                       status, tour_id, book_id, receipt)
		 VALUES ($1, $2, $3, $4, $5, $6, 'created', $7, $8, $9)
		 RETURNING created_at, updated_at`,
		p.ID,
		p.OwnerID,
		p.Amount,
		p.Currency,
		p.Provider,
		p.ProviderOrderID,
		tourID,
		bookID,
		nullIfEmpty(p.Receipt),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppErrorWithDetails(types.ErrCodeConflictDuplicate,
				"payment record already exists for provider order", err,
				map[string]any{"order_id": p.ProviderOrderID})
		}
		return types.ErrStorageUnavailable("failed to create payment record", err)
	}
	p.Status = types.PaymentStatusCreated
	return nil
}

// GetByProviderOrderID returns the record keyed by the provider's order id.
func (r *PaymentRepository) GetByProviderOrderID(ctx context.Context, orderID string) (*types.PaymentRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider_order_id = $1`,
		orderID,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrRecordNotFound(orderID)
		}
		return nil, types.ErrStorageUnavailable("failed to load payment record", err)
	}
	return p, nil
}

// TransitionFromCreated moves the record from created to the target status.
// Only a transition to paid records the confirming payment id, signature and
// channel; a failed record keeps them empty. It returns
// (record, true) for the caller that performed the transition and
// (nil, false) when the record was not in status created, including when it
// does not exist.
func (r *PaymentRepository) TransitionFromCreated(
	ctx context.Context,
	orderID string,
	to types.PaymentStatus,
	paymentID, signature string,
	channel types.Channel,
) (*types.PaymentRecord, bool, error) {
	if !to.IsTerminal() {
		return nil, false, types.NewAppError(types.ErrCodeConflictPaymentState,
			"transition target must be terminal", nil)
	}
	var pid, sig, ch *string
	if to == types.PaymentStatusPaid {
		pid, sig, ch = nullIfEmpty(paymentID), nullIfEmpty(signature), nullIfEmpty(string(channel))
	}
	row := r.db.QueryRow(ctx,
		`UPDATE payments
		 SET status = $2,
		     provider_payment_id = COALESCE($3, provider_payment_id),
		     signature = COALESCE($4, signature),
		     paid_channel = COALESCE($5, paid_channel),
		     updated_at = NOW()
		 WHERE provider_order_id = $1
		   AND status = 'created'
		 RETURNING `+paymentColumns,
		orderID,
		to,
		pid,
		sig,
		ch,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, types.ErrStorageUnavailable("failed to transition payment record", err)
	}
	r.logger.InfoContext(ctx, "payment record transitioned",
		slog.String("order_id", orderID),
		slog.String("status", string(to)),
		slog.String("channel", string(channel)),
	)
	return p, true, nil
}

// ListPaidUnfulfilled returns paid records with a subject whose fulfillment
// row is missing, oldest first.
func (r *PaymentRepository) ListPaidUnfulfilled(ctx context.Context, limit int) ([]*types.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments p
		 WHERE p.status = 'paid'
		   AND (
		     (p.tour_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM bookings b WHERE b.payment_id = p.id))
		     OR
		     (p.book_id IS NOT NULL AND NOT EXISTS (
		        SELECT 1 FROM user_purchased_books ub
		        WHERE ub.user_id = p.owner_id AND ub.book_id = p.book_id))
		   )
		 ORDER BY p.updated_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.ErrStorageUnavailable("failed to list unfulfilled payments", err)
	}
	defer rows.Close()

	var out []*types.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, types.ErrStorageUnavailable("failed to scan payment record", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.ErrStorageUnavailable("failed to iterate payment records", err)
	}
	return out, nil
}
