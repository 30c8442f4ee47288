package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uddoktapay-gateway/internal/audit"
	"github.com/noah-isme/uddoktapay-gateway/internal/checkout"
	"github.com/noah-isme/uddoktapay-gateway/internal/gateway"
	"github.com/noah-isme/uddoktapay-gateway/internal/health"
	"github.com/noah-isme/uddoktapay-gateway/internal/ratelimit"
	"github.com/noah-isme/uddoktapay-gateway/internal/security"
	"github.com/noah-isme/uddoktapay-gateway/internal/uddoktapay"
)

type offlineDoer struct{}

func (offlineDoer) Do(context.Context, *http.Request) (*http.Response, error) {
	return nil, errors.New("network disabled in tests")
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *memAuditStore) InsertTransactionLog(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memAuditStore) ListTransactionLogs(context.Context, audit.ListFilter) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.entries...), nil
}

func newTestRouter(t *testing.T) (http.Handler, *memAuditStore) {
	t.Helper()
	return newTestRouterWith(t, nil)
}

func newTestRouterWith(t *testing.T, adjust func(*Services)) (http.Handler, *memAuditStore) {
	t.Helper()
	client, err := uddoktapay.NewClient("secret", "https://sandbox.uddoktapay.com", offlineDoer{})
	require.NoError(t, err)
	limiter, err := ratelimit.New("100-M", nil, "test")
	require.NoError(t, err)

	store := &memAuditStore{}
	svcs := &Services{
		Checkout: &checkout.Service{
			Clients: map[gateway.Variant]checkout.ProviderClient{gateway.Default: client},
			URLs:    checkout.URLs{SystemURL: "https://billing.example.com", PublicURL: "https://gw.example.com"},
			Logger:  zerolog.Nop(),
		},
		Audit:      &audit.Service{Store: store, Enabled: true, Logger: zerolog.Nop()},
		AuditStore: store,
		Limiter:    limiter,
	}
	if adjust != nil {
		adjust(svcs)
	}
	cfg := RouterConfig{
		MetricsGatherer: prometheus.NewRegistry(),
		SecurityHeaders: security.Headers{Enable: true},
		WebhookMaxBody:  32,
		AdminAPIToken:   "admin-token",
		Health:          health.Handler{},
	}
	return NewRouter(cfg, svcs, zerolog.Nop()), store
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterUnavailableVariant(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := serve(router, httptest.NewRequest(http.MethodGet, "/checkout/global?id=1&action=init", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "The gateway is unavailable.", rr.Body.String())
	require.NotEmpty(t, rr.Header().Get("X-RateLimit-Limit"))
}

func TestRouterWebhookWithoutKeyIsRejectedAndLogged(t *testing.T) {
	router, store := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/checkout/default?id=1&action=notify", strings.NewReader(`{"invoice_id":"REF"}`))
	rr := serve(router, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "Missing API key in request header", rr.Body.String())
	require.Len(t, store.entries, 1)
	require.Equal(t, "HTTP 401", store.entries[0].Status)
	require.Equal(t, "uddoktapay", store.entries[0].Gateway)
	require.Equal(t, "notify", store.entries[0].Trigger)
}

func TestRouterCapsRejectedWebhookLogRows(t *testing.T) {
	rejectLimiter, err := ratelimit.New("1-M", nil, "reject")
	require.NoError(t, err)
	router, store := newTestRouterWith(t, func(s *Services) { s.RejectLogLimiter = rejectLimiter })

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/checkout/default?id=1&action=notify", strings.NewReader(`{}`))
		require.Equal(t, http.StatusUnauthorized, serve(router, req).Code)
	}
	require.Len(t, store.entries, 1)
}

func TestRouterPostRejectsBrowserActions(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := serve(router, httptest.NewRequest(http.MethodPost, "/checkout/default?id=1&action=init", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRouterWebhookBodyLimit(t *testing.T) {
	router, store := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/checkout/default?id=1&action=notify", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set(uddoktapay.HeaderAPIKey, "secret")
	rr := serve(router, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Len(t, store.entries, 1)
	require.Equal(t, "HTTP 413", store.entries[0].Status)
}

func TestRouterAdminGatewayLogRequiresToken(t *testing.T) {
	router, store := newTestRouter(t)
	store.entries = append(store.entries, audit.Entry{Gateway: "uddoktapay", Trigger: "verify", Status: "COMPLETED"})

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/admin/gateway-log", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/gateway-log", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	require.Equal(t, http.StatusUnauthorized, serve(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/gateway-log?limit=10", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	rr = serve(router, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"COMPLETED"`)
}

func TestPprofHiddenWithoutCredentials(t *testing.T) {
	h := protectPprof(newPprofMux(), "", "")
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	h = protectPprof(newPprofMux(), "ops", "pw")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
	req.SetBasicAuth("ops", "pw")
	require.Equal(t, http.StatusOK, serve(h, req).Code)
}
