package backoffice

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualcc/backoffice/internal/backoffice/bometrics"
	"github.com/virtualcc/backoffice/internal/logging"
)

func TestOriginMatcher(t *testing.T) {
	m := NewOriginMatcher([]string{"https://*.vcc.org.au", "http://localhost:3000"})

	assert.True(t, m.Allowed("https://admin.vcc.org.au"))
	assert.True(t, m.Allowed("http://localhost:3000"))
	assert.False(t, m.Allowed("https://vcc.org.au.evil.example"))
	assert.False(t, m.Allowed(""))
	assert.False(t, NewOriginMatcher(nil).Allowed("https://admin.vcc.org.au"))
	assert.True(t, NewOriginMatcher([]string{"*"}).Allowed("https://anything.example"))
}

func TestCheckOrigin(t *testing.T) {
	m := NewOriginMatcher([]string{"https://*.vcc.org.au"})

	req := httptest.NewRequest(http.MethodGet, "http://backoffice.internal/api/admin/activity/stream", nil)
	assert.True(t, m.CheckOrigin(req), "no origin header")

	req.Header.Set("Origin", "https://admin.vcc.org.au")
	assert.True(t, m.CheckOrigin(req))

	req.Header.Set("Origin", "http://backoffice.internal")
	assert.True(t, m.CheckOrigin(req), "same host")

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, m.CheckOrigin(req))
}

func TestCORS(t *testing.T) {
	m := NewOriginMatcher([]string{"https://*.vcc.org.au"})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.CORS(next)

	t.Run("preflight allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/subscriptions", nil)
		req.Header.Set("Origin", "https://admin.vcc.org.au")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://admin.vcc.org.au", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
	})

	t.Run("preflight rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/subscriptions", nil)
		req.Header.Set("Origin", "https://evil.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request passes through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, contentSecurityPolicy, rec.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestRequestLoggerRecordsRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	var seenID string
	mux.HandleFunc("GET /api/widgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		seenID = logging.RequestID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})
	h := RequestLogger(mux)

	counter := bometrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "GET /api/widgets/{id}", "202")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/widgets/42", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotEmpty(t, seenID)
	assert.Equal(t, seenID, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	unmatched := bometrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")
	before = testutil.ToFloat64(unmatched)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(unmatched))
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("203.0.113.5"))
	assert.True(t, rl.Allow("203.0.113.5"))
	assert.False(t, rl.Allow("203.0.113.5"))
	assert.True(t, rl.Allow("198.51.100.7"), "limits are per IP")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("203.0.113.5"), "window slides")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, rl.Prune())
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too many requests"}`, rec.Body.String())
}

func TestNewRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, defaultRateLimit, rl.limit)
	assert.Equal(t, defaultRateWindow, rl.window)
}
