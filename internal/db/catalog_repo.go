package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"tourbook/internal/types"
)

// CatalogRepository reads authoritative prices for purchasable items.
type CatalogRepository struct {
	db DBTX
}

// NewCatalogRepository creates a CatalogRepository.
func NewCatalogRepository(db DBTX) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// PriceOf returns the current price of the referenced tour or book.
func (r *CatalogRepository) PriceOf(ctx context.Context, ref types.SubjectRef) (decimal.Decimal, error) {
	var (
		query    string
		notFound types.ErrorCode
	)
	switch ref.Kind {
	case types.SubjectTour:
		query, notFound = `SELECT price FROM tours WHERE id = $1`, types.ErrCodeNotFoundTour
	case types.SubjectBook:
		query, notFound = `SELECT price FROM books WHERE id = $1`, types.ErrCodeNotFoundBook
	default:
		return decimal.Zero, types.NewAppError(types.ErrCodeValidationSubject, "unknown subject kind", nil)
	}

	var price decimal.Decimal
	if err := r.db.QueryRow(ctx, query, ref.ID).Scan(&price); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, types.NewAppErrorWithDetails(notFound, string(ref.Kind)+" not found", nil,
				map[string]any{"id": ref.ID})
		}
		return decimal.Zero, types.ErrStorageUnavailable("failed to load price", err)
	}
	return price, nil
}
