package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/appointment-intent-engine/internal/availability"
	"github.com/wolfman30/appointment-intent-engine/internal/dispatch"
	"github.com/wolfman30/appointment-intent-engine/internal/engine"
	"github.com/wolfman30/appointment-intent-engine/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/appointment-intent-engine/internal/http/middleware"
	"github.com/wolfman30/appointment-intent-engine/internal/interpret"
	"github.com/wolfman30/appointment-intent-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-intent-engine/internal/resolver"
	"github.com/wolfman30/appointment-intent-engine/internal/scheduling"
	"github.com/wolfman30/appointment-intent-engine/internal/store"
	"github.com/wolfman30/appointment-intent-engine/internal/tenancy"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

const testSecret = "router-secret"

type replyClient struct{ reply string }

func (c *replyClient) Complete(context.Context, interpret.Request) (interpret.Response, error) {
	return interpret.Response{Text: c.reply}, nil
}

type testServer struct {
	handler http.Handler
	client  *replyClient
	mem     *store.Memory
}

func newTestServer(t *testing.T, limiter *httpmiddleware.TenantRateLimiter) *testServer {
	t.Helper()
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	mem := store.NewMemory()
	silva := mem.AddAttendant(scheduling.Attendant{TenantID: "tenant-a", Name: "João Silva", Active: true})
	if _, err := mem.AddWorkingInterval(scheduling.WorkingInterval{
		TenantID: "tenant-a", AttendantID: silva.ID, Weekday: time.Saturday, StartMinute: 9 * 60, EndMinute: 12 * 60,
	}); err != nil {
		t.Fatalf("add interval: %v", err)
	}

	client := &replyClient{}
	m := metrics.NewIntentMetrics(prometheus.NewRegistry())
	res := resolver.New(mem, resolver.Options{}, m, nil)
	eng := engine.New(engine.Deps{
		Interpreter: interpret.New(client, mem, interpret.Config{Provider: "test", Model: "m", Timeout: time.Second}, nil, m, nil).WithClock(clock),
		Dispatcher:  dispatch.New(mem, res, nil, nil),
		Slots:       availability.New(mem, nil).WithClock(clock),
		Attendants:  mem,
		Resolver:    res,
	}, engine.Config{}, m, nil).WithClock(clock)

	logger := logging.NewWithWriter("error", &strings.Builder{})
	h := New(&Config{
		Logger:          logger,
		Intents:         handlers.NewIntentHandler(eng, tenancy.StaticResolver{}, logger),
		RateLimiter:     limiter,
		TenantJWTSecret: testSecret,
		MetricsHandler:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
	})
	return &testServer{handler: h, client: client, mem: mem}
}

func bearer(t *testing.T, tenantID string) string {
	t.Helper()
	claims := httpmiddleware.TenantClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		TenantID:         tenantID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + token
}

func (s *testServer) post(t *testing.T, path, tenantID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set("Authorization", bearer(t, tenantID))
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected request id header")
	}
}

func TestRouterReadyEndpoint(t *testing.T) {
	h := New(&Config{Ready: func(context.Context) error { return errors.New("db down") }})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRouterProcessIntentEndToEnd(t *testing.T) {
	s := newTestServer(t, nil)
	s.client.reply = `{"action":"schedule","customerEmail":"ana@example.com","attendantName":"Dr. Silva","date":"2025-03-15","time":"10:00"}`

	rr := s.post(t, "/v1/intents", "tenant-a", `{"text":"book me with Dr. Silva tomorrow at 10"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res engine.Result
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Appointment == nil || res.Appointment.TenantID != "tenant-a" {
		t.Fatalf("expected appointment for tenant-a, got %+v", res.Appointment)
	}

	rr = s.post(t, "/v1/intents", "tenant-a", `{"text":"again"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a double booking, got %d", rr.Code)
	}

	// The same intent under another tenant cannot see tenant-a's attendant.
	rr = s.post(t, "/v1/intents", "tenant-b", `{"text":"book"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 across tenants, got %d", rr.Code)
	}
}

func TestRouterSuggestSlots(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.post(t, "/v1/slots/suggest", "tenant-a", `{"attendantName":"Silva","limit":2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Slots []scheduling.Slot `json:"slots"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Slots) != 2 || body.Slots[0].Hour != 9 || body.Slots[1].Hour != 10 {
		t.Fatalf("unexpected slots: %+v", body.Slots)
	}
}

func TestRouterRequiresTenantCredential(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.post(t, "/v1/intents", "", `{"text":"book"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/intents", strings.NewReader("text=book"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", bearer(t, "tenant-a"))
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 for form bodies, got %d", rr.Code)
	}
}

func TestRouterRateLimitsPerTenant(t *testing.T) {
	s := newTestServer(t, httpmiddleware.NewTenantRateLimiter(0.001, 1))
	s.client.reply = `{"success":false,"message":"Which day?"}`

	if rr := s.post(t, "/v1/intents", "tenant-a", `{"text":"book"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}
	rr := s.post(t, "/v1/intents", "tenant-a", `{"text":"book"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if rr := s.post(t, "/v1/intents", "tenant-b", `{"text":"book"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected other tenant unaffected, got %d", rr.Code)
	}
}

func TestRouterAdminRoutesRequireToken(t *testing.T) {
	settings := handlers.NewTenantSettingsHandler(staticSettings{}, nil)

	// Not mounted without a token.
	h := New(&Config{TenantSettings: settings})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/tenants/t1/settings", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when admin token unset, got %d", rr.Code)
	}

	h = New(&Config{TenantSettings: settings, AdminToken: "op-token"})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/tenants/t1/settings", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants/t1/settings", nil)
	req.Header.Set(adminTokenHeader, "op-token")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
}

type staticSettings struct{}

func (staticSettings) Get(_ context.Context, tenantID string) (*tenancy.Settings, error) {
	return tenancy.DefaultSettings(tenantID, "UTC"), nil
}

func (staticSettings) Set(context.Context, *tenancy.Settings) error { return nil }
