package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tourbook/internal/external"
	"tourbook/internal/types"
)

const defaultGatewayTimeout = 10 * time.Second

var currencyValidator = validator.New()

// CreateOrderInput is a checkout request. When TourID or BookID is set the
// catalog price is authoritative and Amount is ignored.
type CreateOrderInput struct {
	Provider types.ProviderName
	Amount   *decimal.Decimal
	Currency string
	Receipt  string
	Notes    map[string]string
	TourID   string
	BookID   string
}

// CreatedOrder pairs the persisted record with the provider's order.
type CreatedOrder struct {
	Record *types.PaymentRecord
	Remote *types.RemoteOrder
}

// OrderServiceOption configures an OrderService.
type OrderServiceOption func(*OrderService)

// WithGatewayTimeout bounds the provider call of CreateOrder.
func WithGatewayTimeout(d time.Duration) OrderServiceOption {
	return func(s *OrderService) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

// WithDefaultCurrency sets the currency used when a request omits one.
func WithDefaultCurrency(c string) OrderServiceOption {
	return func(s *OrderService) {
		if c != "" {
			s.defaultCurrency = strings.ToUpper(c)
		}
	}
}

// WithOrderLogger sets the service logger.
func WithOrderLogger(l *slog.Logger) OrderServiceOption {
	return func(s *OrderService) { s.logger = l }
}

// OrderService opens provider orders and mirrors them as PaymentRecords.
type OrderService struct {
	payments PaymentStore
	catalog  Catalog
	gateways Gateways
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	defaultCurrency string
	gatewayTimeout  time.Duration
}

// NewOrderService creates an OrderService.
func NewOrderService(store PaymentStore, catalog Catalog, gateways Gateways, opts ...OrderServiceOption) *OrderService {
	s := &OrderService{
		payments:        store,
		catalog:         catalog,
		gateways:        gateways,
		logger:          slog.Default(),
		now:             time.Now,
		newID:           uuid.NewString,
		defaultCurrency: types.DefaultCurrency,
		gatewayTimeout:  defaultGatewayTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder prices the request, opens a provider order and persists a
// created PaymentRecord. The record is written only after the provider call
// succeeds.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, in CreateOrderInput) (*CreatedOrder, error) {
	if userID == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil)
	}

	subject, err := subjectOf(in)
	if err != nil {
		return nil, err
	}

	amount, err := s.price(ctx, subject, in.Amount)
	if err != nil {
		return nil, err
	}

	currency, err := s.currency(in.Currency)
	if err != nil {
		return nil, err
	}

	receipt := in.Receipt
	if receipt == "" {
		receipt = fmt.Sprintf("rcpt_%d", s.now().UnixMilli())
	}

	gw, err := s.gateway(in.Provider)
	if err != nil {
		return nil, err
	}

	notes := make(map[string]string, len(in.Notes)+2)
	for k, v := range in.Notes {
		notes[k] = v
	}
	notes["user_id"] = userID
	switch subject.Kind {
	case types.SubjectTour:
		notes["tour_id"] = subject.ID
	case types.SubjectBook:
		notes["book_id"] = subject.ID
	}

	// The provider order must not be orphaned by a client disconnect.
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.gatewayTimeout)
	defer cancel()

	remote, err := gw.CreateOrder(gctx, types.OrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "provider order creation failed",
			"provider", gw.Name(),
			"receipt", receipt,
			"error", err,
		)
		return nil, err
	}

	rec := &types.PaymentRecord{
		ID:              s.newID(),
		OwnerID:         userID,
		Amount:          amount,
		Currency:        currency,
		Provider:        gw.Name(),
		ProviderOrderID: remote.ID,
		Status:          types.PaymentStatusCreated,
		Subject:         subject,
		Receipt:         receipt,
	}
	if err := s.payments.Create(gctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "provider order created but record not persisted",
			"provider", gw.Name(),
			"order_id", remote.ID,
			"receipt", receipt,
			"error", err,
		)
		return nil, err
	}

	s.logger.InfoContext(ctx, "payment order created",
		"provider", gw.Name(),
		"order_id", remote.ID,
		"record_id", rec.ID,
		"amount", amount.StringFixed(2),
		"currency", currency,
		"subject_kind", subject.Kind,
	)
	return &CreatedOrder{Record: rec, Remote: remote}, nil
}

func subjectOf(in CreateOrderInput) (types.SubjectRef, error) {
	switch {
	case in.TourID != "" && in.BookID != "":
		return types.SubjectRef{}, types.NewAppError(types.ErrCodeValidationSubject,
			"an order may reference a tour or a book, not both", nil)
	case in.TourID != "":
		return types.TourSubject(in.TourID), nil
	case in.BookID != "":
		return types.BookSubject(in.BookID), nil
	}
	return types.SubjectRef{}, nil
}

func (s *OrderService) price(ctx context.Context, subject types.SubjectRef, requested *decimal.Decimal) (decimal.Decimal, error) {
	if !subject.IsZero() {
		amount, err := s.catalog.PriceOf(ctx, subject)
		if err != nil {
			return decimal.Zero, err
		}
		if !amount.IsPositive() {
			return decimal.Zero, types.ErrInvalidAmount(string(subject.Kind) + " has no payable price")
		}
		return amount, nil
	}
	if requested == nil {
		return decimal.Zero, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"amount is required", nil, map[string]any{"field": "amount"})
	}
	if !requested.IsPositive() {
		return decimal.Zero, types.ErrInvalidAmount("amount must be greater than zero")
	}
	return *requested, nil
}

func (s *OrderService) currency(c string) (string, error) {
	if c == "" {
		return s.defaultCurrency, nil
	}
	c = strings.ToUpper(strings.TrimSpace(c))
	if err := currencyValidator.Var(c, "iso4217"); err != nil {
		return "", types.NewAppError(types.ErrCodeValidationInvalidCurrency, "currency must be an ISO 4217 code", nil)
	}
	return c, nil
}

func (s *OrderService) gateway(name types.ProviderName) (external.PaymentGateway, error) {
	if name == "" {
		return s.gateways.Default()
	}
	return s.gateways.Gateway(name)
}
