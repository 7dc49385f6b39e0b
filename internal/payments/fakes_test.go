package payments

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"tourbook/internal/external"
	"tourbook/internal/security"
	"tourbook/internal/types"
)

// --- In-memory store ---

// memStore implements PaymentStore and FulfillmentStore with the same
// guarantees as the Postgres repositories: the status update is a
// compare-and-swap and fulfillment rows are unique on their back-reference.
type memStore struct {
	mu        sync.Mutex
	records   map[string]*types.PaymentRecord // by provider order id
	bookings  map[string]*types.Booking       // by payment id
	purchased map[string]*types.PurchasedBook // by user_id/book_id

	transitionErr error
	bookingErr    error
	bookingWrites int
}

func newMemStore() *memStore {
	return &memStore{
		records:   make(map[string]*types.PaymentRecord),
		bookings:  make(map[string]*types.Booking),
		purchased: make(map[string]*types.PurchasedBook),
	}
}

func (s *memStore) seed(rec *types.PaymentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ProviderOrderID] = &cp
}

func (s *memStore) get(orderID string) *types.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[orderID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (s *memStore) bookingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

func (s *memStore) Create(_ context.Context, p *types.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[p.ProviderOrderID]; ok {
		return types.NewAppError(types.ErrCodeConflictDuplicate, "duplicate", nil)
	}
	p.Status = types.PaymentStatusCreated
	cp := *p
	s.records[p.ProviderOrderID] = &cp
	return nil
}

func (s *memStore) GetByProviderOrderID(_ context.Context, orderID string) (*types.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[orderID]
	if !ok {
		return nil, types.ErrRecordNotFound(orderID)
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) TransitionFromCreated(_ context.Context, orderID string, to types.PaymentStatus, paymentID, signature string, channel types.Channel) (*types.PaymentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return nil, false, s.transitionErr
	}
	rec, ok := s.records[orderID]
	if !ok || rec.Status != types.PaymentStatusCreated {
		return nil, false, nil
	}
	rec.Status = to
	rec.ProviderPaymentID = paymentID
	rec.Signature = signature
	rec.PaidChannel = channel
	cp := *rec
	return &cp, true, nil
}

func (s *memStore) ListPaidUnfulfilled(_ context.Context, limit int) ([]*types.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.PaymentRecord
	for _, rec := range s.records {
		if rec.Status != types.PaymentStatusPaid || rec.Subject.IsZero() {
			continue
		}
		switch rec.Subject.Kind {
		case types.SubjectTour:
			if _, ok := s.bookings[rec.ID]; ok {
				continue
			}
		case types.SubjectBook:
			if _, ok := s.purchased[rec.OwnerID+"/"+rec.Subject.ID]; ok {
				continue
			}
		}
		cp := *rec
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) GetBookingByPaymentID(_ context.Context, paymentID string) (*types.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[paymentID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) CreateBooking(_ context.Context, b *types.Booking) (*types.Booking, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bookingErr != nil {
		return nil, false, s.bookingErr
	}
	if existing, ok := s.bookings[b.PaymentID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	s.bookingWrites++
	cp := *b
	s.bookings[b.PaymentID] = &cp
	return b, true, nil
}

func (s *memStore) HasPurchasedBook(_ context.Context, userID, bookID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.purchased[userID+"/"+bookID]
	return ok, nil
}

func (s *memStore) AddPurchasedBook(_ context.Context, pb *types.PurchasedBook) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pb.UserID + "/" + pb.BookID
	if _, ok := s.purchased[key]; ok {
		return false, nil
	}
	cp := *pb
	s.purchased[key] = &cp
	return true, nil
}

// --- Collaborator fakes ---

type recordingReporter struct {
	mu   sync.Mutex
	msgs []types.FulfillmentFailedMessage
	err  error
}

func (r *recordingReporter) ReportFulfillmentFailure(_ context.Context, msg types.FulfillmentFailedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

type recordingArchiver struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (a *recordingArchiver) Archive(_ context.Context, _ types.ProviderName, _ string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bodies = append(a.bodies, body)
	return a.err
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[types.Outcome]int
	failures int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: make(map[types.Outcome]int)}
}

func (m *countingMetrics) RecordReconcile(_ context.Context, _ types.ProviderName, _ types.Channel, o types.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[o]++
}

func (m *countingMetrics) RecordFulfillmentFailure(context.Context, types.SubjectKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *countingMetrics) count(o types.Outcome) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[o]
}

// --- Mock Catalog ---

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) PriceOf(ctx context.Context, ref types.SubjectRef) (decimal.Decimal, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// --- Mock Gateway ---

type mockGateway struct {
	mock.Mock
	name types.ProviderName
}

func (m *mockGateway) Name() types.ProviderName { return m.name }

func (m *mockGateway) CreateOrder(ctx context.Context, in types.OrderRequest) (*types.RemoteOrder, error) {
	args := m.Called(ctx, in)
	if o := args.Get(0); o != nil {
		return o.(*types.RemoteOrder), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) VerifyCheckout(orderID, paymentID, signature string) bool {
	return m.Called(orderID, paymentID, signature).Bool(0)
}

func (m *mockGateway) ParseWebhook(payload []byte, header http.Header) (*types.WebhookEvent, error) {
	args := m.Called(payload, header)
	if e := args.Get(0); e != nil {
		return e.(*types.WebhookEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

type staticGateways struct {
	gw *mockGateway
}

func (s staticGateways) Gateway(name types.ProviderName) (external.PaymentGateway, error) {
	if name != s.gw.name {
		return nil, types.NewAppError(types.ErrCodeNotFoundProvider, "unknown provider", nil)
	}
	return s.gw, nil
}

func (s staticGateways) Default() (external.PaymentGateway, error) { return s.gw, nil }

// --- Fixtures ---

const testSecret = "test-secret"

var errDatabaseDown = errors.New("connection refused")

func tourRecord() *types.PaymentRecord {
	return &types.PaymentRecord{
		ID:              "pay_rec_1",
		OwnerID:         "user_1",
		Amount:          decimal.RequireFromString("250.00"),
		Currency:        "INR",
		Provider:        types.ProviderRazorpay,
		ProviderOrderID: "order_1",
		Status:          types.PaymentStatusCreated,
		Subject:         types.TourSubject("tour_1"),
		Receipt:         "rcpt_1",
	}
}

func bookRecord() *types.PaymentRecord {
	rec := tourRecord()
	rec.ID = "pay_rec_2"
	rec.ProviderOrderID = "order_2"
	rec.Subject = types.BookSubject("book_1")
	return rec
}

func newStubRegistry() (*external.Registry, *external.StubGateway) {
	stub := external.NewStubGateway(types.ProviderRazorpay, testSecret, nil)
	return external.NewRegistry(types.ProviderRazorpay, stub), stub
}

func signedWebhook(body string) ([]byte, http.Header) {
	var v security.SignatureVerifier
	payload := []byte(body)
	h := http.Header{}
	h.Set(external.HeaderRazorpaySignature, v.Sign(payload, testSecret))
	h.Set(external.HeaderRazorpayEventID, "evt_1")
	return payload, h
}

func capturedWebhook(orderID, paymentID string) ([]byte, http.Header) {
	return signedWebhook(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"` +
		paymentID + `","order_id":"` + orderID + `","status":"captured"}}}}`)
}
