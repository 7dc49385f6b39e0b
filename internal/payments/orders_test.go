package payments

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tourbook/internal/types"
)

func newOrderFixture(t *testing.T) (*OrderService, *memStore, *mockCatalog, *mockGateway) {
	t.Helper()
	store := newMemStore()
	catalog := &mockCatalog{}
	gw := &mockGateway{name: types.ProviderRazorpay}
	svc := NewOrderService(store, catalog, staticGateways{gw})
	svc.now = func() time.Time { return time.UnixMilli(1767225600000) }
	svc.newID = func() string { return "rec_fixed" }
	return svc, store, catalog, gw
}

func amountPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCreateOrder_TourUsesCatalogPrice(t *testing.T) {
	svc, store, catalog, gw := newOrderFixture(t)
	catalog.On("PriceOf", mock.Anything, types.TourSubject("tour_1")).Return(decimal.RequireFromString("250.00"), nil)
	gw.On("CreateOrder", mock.Anything, mock.MatchedBy(func(in types.OrderRequest) bool {
		return in.Amount.Equal(decimal.RequireFromString("250.00")) &&
			in.Currency == "INR" &&
			in.Receipt == "rcpt_1767225600000" &&
			in.Notes["user_id"] == "user_1" &&
			in.Notes["tour_id"] == "tour_1" &&
			in.Notes["source"] == "app"
	})).Return(&types.RemoteOrder{ID: "order_1", AmountMinor: 25000, Currency: "INR"}, nil)

	out, err := svc.CreateOrder(context.Background(), "user_1", CreateOrderInput{
		Amount: amountPtr("1.00"),
		TourID: "tour_1",
		Notes:  map[string]string{"source": "app"},
	})
	require.NoError(t, err)

	assert.Equal(t, "order_1", out.Remote.ID)
	assert.Equal(t, "rec_fixed", out.Record.ID)
	assert.Equal(t, types.ProviderRazorpay, out.Record.Provider)
	assert.Equal(t, types.TourSubject("tour_1"), out.Record.Subject)

	stored := store.get("order_1")
	require.NotNil(t, stored)
	assert.Equal(t, types.PaymentStatusCreated, stored.Status)
	assert.Equal(t, "user_1", stored.OwnerID)
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("250.00")))
	gw.AssertExpectations(t)
	catalog.AssertExpectations(t)
}

func TestCreateOrder_FreeFormAmount(t *testing.T) {
	svc, store, catalog, gw := newOrderFixture(t)
	gw.On("CreateOrder", mock.Anything, mock.MatchedBy(func(in types.OrderRequest) bool {
		return in.Amount.Equal(decimal.RequireFromString("99.50")) && in.Currency == "USD" && in.Receipt == "r-42"
	})).Return(&types.RemoteOrder{ID: "order_7"}, nil)

	_, err := svc.CreateOrder(context.Background(), "user_1", CreateOrderInput{
		Amount:   amountPtr("99.50"),
		Currency: "usd",
		Receipt:  "r-42",
	})
	require.NoError(t, err)
	assert.True(t, store.get("order_7").Subject.IsZero())
	catalog.AssertNotCalled(t, "PriceOf", mock.Anything, mock.Anything)
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		in     CreateOrderInput
		want   types.ErrorCode
	}{
		{"no user", "", CreateOrderInput{Amount: amountPtr("10")}, types.ErrCodeAuthTokenMissing},
		{"missing amount", "user_1", CreateOrderInput{}, types.ErrCodeValidationMissingField},
		{"zero amount", "user_1", CreateOrderInput{Amount: amountPtr("0")}, types.ErrCodeValidationInvalidAmount},
		{"negative amount", "user_1", CreateOrderInput{Amount: amountPtr("-1")}, types.ErrCodeValidationInvalidAmount},
		{"bad currency", "user_1", CreateOrderInput{Amount: amountPtr("10"), Currency: "RUPEES"}, types.ErrCodeValidationInvalidCurrency},
		{"digit currency", "user_1", CreateOrderInput{Amount: amountPtr("10"), Currency: "U5D"}, types.ErrCodeValidationInvalidCurrency},
		{"unassigned currency", "user_1", CreateOrderInput{Amount: amountPtr("10"), Currency: "ABC"}, types.ErrCodeValidationInvalidCurrency},
		{"two subjects", "user_1", CreateOrderInput{TourID: "t", BookID: "b"}, types.ErrCodeValidationSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _, gw := newOrderFixture(t)
			_, err := svc.CreateOrder(context.Background(), tt.userID, tt.in)
			assert.True(t, types.IsCode(err, tt.want), "error = %v, want %s", err, tt.want)
			gw.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
			assert.Empty(t, store.records)
		})
	}
}

func TestCreateOrder_UnknownSubject(t *testing.T) {
	svc, _, catalog, gw := newOrderFixture(t)
	catalog.On("PriceOf", mock.Anything, types.BookSubject("missing")).
		Return(decimal.Zero, types.NewAppError(types.ErrCodeNotFoundBook, "book not found", nil))

	_, err := svc.CreateOrder(context.Background(), "user_1", CreateOrderInput{BookID: "missing"})
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundBook))
	gw.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestCreateOrder_GatewayFailureWritesNothing(t *testing.T) {
	svc, store, _, gw := newOrderFixture(t)
	gw.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, types.ErrGatewayUnavailable(errDatabaseDown))

	_, err := svc.CreateOrder(context.Background(), "user_1", CreateOrderInput{Amount: amountPtr("10")})
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamGateway))
	assert.Empty(t, store.records)
}

func TestCreateOrder_PersistFailureIsReturned(t *testing.T) {
	svc, store, _, gw := newOrderFixture(t)
	store.seed(&types.PaymentRecord{ID: "other", ProviderOrderID: "order_dup", Status: types.PaymentStatusCreated})
	gw.On("CreateOrder", mock.Anything, mock.Anything).Return(&types.RemoteOrder{ID: "order_dup"}, nil)

	_, err := svc.CreateOrder(context.Background(), "user_1", CreateOrderInput{Amount: amountPtr("10")})
	assert.True(t, types.IsCode(err, types.ErrCodeConflictDuplicate))
	assert.Equal(t, "other", store.get("order_dup").ID)
}

func TestCreateOrder_CanceledClientStillPersists(t *testing.T) {
	svc, store, _, gw := newOrderFixture(t)
	gw.On("CreateOrder", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything).
		Return(&types.RemoteOrder{ID: "order_c"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.CreateOrder(ctx, "user_1", CreateOrderInput{Amount: amountPtr("10")})
	require.NoError(t, err)
	assert.NotNil(t, store.get("order_c"))
}

func TestCreateOrder_DefaultCurrencyOption(t *testing.T) {
	store := newMemStore()
	gw := &mockGateway{name: types.ProviderStripe}
	svc := NewOrderService(store, &mockCatalog{}, staticGateways{gw}, WithDefaultCurrency("usd"))
	gw.On("CreateOrder", mock.Anything, mock.MatchedBy(func(in types.OrderRequest) bool {
		return in.Currency == "USD"
	})).Return(&types.RemoteOrder{ID: "pi_1"}, nil)

	out, err := svc.CreateOrder(context.Background(), "user_1", CreateOrderInput{Amount: amountPtr("5")})
	require.NoError(t, err)
	assert.Equal(t, types.ProviderStripe, out.Record.Provider)
	assert.Equal(t, "USD", out.Record.Currency)
}
