package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"tourbook/internal/config"
	"tourbook/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, auth Authenticator, registrars ...RouteRegistrar) *Server {
	t.Helper()
	s, err := NewServer(&config.Config{}, testLogger())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	s.Authenticator = auth
	s.V1RouteRegistrars = registrars
	s.MountRoutes()
	return s
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not an error envelope: %v (%s)", err, rec.Body.String())
	}
	return body.Error
}

func TestNewServer_Validation(t *testing.T) {
	if _, err := NewServer(nil, testLogger()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(&config.Config{}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestMountRoutes_HealthIsPublic(t *testing.T) {
	auth := &MockAuthenticator{Err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "bad", nil)}
	s := newTestServer(t, auth)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(auth.Calls) != 0 {
		t.Error("health check must not resolve tokens")
	}
}

func TestMountRoutes_WebhooksArePublic(t *testing.T) {
	auth := &MockAuthenticator{}
	s := newTestServer(t, auth, func(r chi.Router) {
		r.Post("/webhooks/{provider}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/webhooks/razorpay", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	var seen types.Actor
	handler := func(r chi.Router) {
		r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
			seen, _ = types.GetActor(r.Context())
			w.WriteHeader(http.StatusNoContent)
		})
	}

	tests := []struct {
		name     string
		header   string
		auth     *MockAuthenticator
		status   int
		wantCode types.ErrorCode
	}{
		{"missing header", "", &MockAuthenticator{}, http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
		{"not bearer", "Basic Zm9v", &MockAuthenticator{}, http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
		{"expired", "Bearer t", &MockAuthenticator{Err: types.NewAppError(types.ErrCodeAuthTokenExpired, "x", nil)}, http.StatusUnauthorized, types.ErrCodeAuthTokenExpired},
		{"invalid", "Bearer t", &MockAuthenticator{Err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "x", nil)}, http.StatusUnauthorized, types.ErrCodeAuthTokenInvalid},
		{"nil actor", "Bearer t", &MockAuthenticator{}, http.StatusUnauthorized, types.ErrCodeAuthTokenInvalid},
		{"valid", "bearer t", &MockAuthenticator{Actor: &types.Actor{ID: "user_1", Type: types.ActorTypeUser}}, http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = types.Actor{}
			s := newTestServer(t, tt.auth, handler)
			req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.wantCode != "" {
				if got := decodeError(t, rec).Code; got != string(tt.wantCode) {
					t.Errorf("code = %s, want %s", got, tt.wantCode)
				}
				return
			}
			if seen.ID != "user_1" {
				t.Errorf("actor not injected: %+v", seen)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		actor  *types.Actor
		status int
	}{
		{"no actor", nil, http.StatusUnauthorized},
		{"shopper", &types.Actor{ID: "u", Type: types.ActorTypeUser}, http.StatusForbidden},
		{"admin", &types.Actor{ID: "admin", Type: types.ActorTypeAdmin}, http.StatusOK},
		{"system", &types.Actor{ID: "sys", Type: types.ActorTypeSystem}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/x", nil)
			if tt.actor != nil {
				req = req.WithContext(types.WithActor(req.Context(), *tt.actor))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRequestID_GeneratedAndPropagated(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if len(rec.Header().Get("X-Request-Id")) != 32 {
		t.Errorf("generated request id = %q", rec.Header().Get("X-Request-Id"))
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") != "req-123" {
		t.Errorf("request id not propagated: %q", rec.Header().Get("X-Request-Id"))
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Cache-Control"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}

func TestRecoverer(t *testing.T) {
	s := newTestServer(t, nil, func(r chi.Router) {
		r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/boom", nil)
	req.Header.Set("X-Request-Id", "req-panic")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	detail := decodeError(t, rec)
	if detail.Code != string(types.ErrCodeInternalUnexpected) || detail.RequestID != "req-panic" {
		t.Errorf("unexpected body: %+v", detail)
	}
}

func TestRecoverer_GeneratedRequestID(t *testing.T) {
	s := newTestServer(t, nil, func(r chi.Router) {
		r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/boom", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	echoed := rec.Header().Get("X-Request-Id")
	if echoed == "" {
		t.Fatal("no X-Request-Id on the response")
	}
	if detail := decodeError(t, rec); detail.RequestID != echoed {
		t.Errorf("request_id = %q, want %q", detail.RequestID, echoed)
	}
}

func TestCORS(t *testing.T) {
	mw := NewCORSMiddleware([]string{"https://shop.example.com"})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/v1/payments/create-order", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://shop.example.com" {
		t.Error("allowed origin not echoed")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin must not be allowed")
	}
}

type recordingCollector struct {
	endpoint string
	status   string
}

func (c *recordingCollector) RecordRequest(_, endpoint, status string, _ time.Duration) {
	c.endpoint, c.status = endpoint, status
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	collector := &recordingCollector{}
	s, err := NewServer(&config.Config{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.Metrics = collector
	s.V1RouteRegistrars = []RouteRegistrar{func(r chi.Router) {
		r.Post("/admin/payments/{orderId}/fulfill", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
	}}
	s.MountRoutes()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/payments/order_123/fulfill", nil))

	if collector.endpoint != "/v1/admin/payments/{orderId}/fulfill" {
		t.Errorf("endpoint = %q", collector.endpoint)
	}
	if collector.status != "202" {
		t.Errorf("status = %q", collector.status)
	}
}

func TestContextTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	h := ContextTimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, _ = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if deadline.IsZero() || time.Until(deadline) > time.Second {
		t.Errorf("deadline not applied: %v", deadline)
	}
}

func TestShutdown_RunsClosers(t *testing.T) {
	s, _ := NewServer(&config.Config{}, testLogger())
	closed := 0
	s.Closers = []func(){func() { closed++ }, func() { closed++ }}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if closed != 2 {
		t.Errorf("closed = %d, want 2", closed)
	}
}
