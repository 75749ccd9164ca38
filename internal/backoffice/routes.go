package backoffice

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/virtualcc/backoffice/internal/auth"
	"github.com/virtualcc/backoffice/internal/backoffice/activity"
	"github.com/virtualcc/backoffice/internal/backoffice/admin"
	"github.com/virtualcc/backoffice/internal/backoffice/analytics"
	"github.com/virtualcc/backoffice/internal/backoffice/billing"
	"github.com/virtualcc/backoffice/internal/backoffice/email"
	"github.com/virtualcc/backoffice/internal/backoffice/registrations"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	"github.com/virtualcc/backoffice/internal/backoffice/stripe"
	"github.com/virtualcc/backoffice/internal/backoffice/xero"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config      *Config
	Store       *store.Store
	Tokens      *auth.Tokens
	Billing     *billing.Service
	Analytics   *analytics.Service
	Activity    *activity.Logger
	Broadcaster *activity.Broadcaster
	Mailer      *email.Mailer
	Reconciler  stripe.PaymentReconciler
	Limiters    *Limiters
	Version     string
	Started     time.Time
}

// Limiters are the per-IP rate limiters shared by the routes.
type Limiters struct {
	Webhook *RateLimiter
	API     *RateLimiter
}

// NewLimiters builds the limiters from configuration.
func NewLimiters(cfg *Config) *Limiters {
	return &Limiters{
		Webhook: NewRateLimiter(cfg.WebhookRateLimit, cfg.RateWindow),
		API:     NewRateLimiter(cfg.APIRateLimit, cfg.RateWindow),
	}
}

// RegisterRoutes wires all HTTP handlers onto mux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	cfg := deps.Config
	limiters := deps.Limiters
	if limiters == nil {
		limiters = NewLimiters(cfg)
	}
	authn := auth.NewAuthenticator(deps.Tokens, cfg.AdminAPIKey)
	authed := func(h http.HandlerFunc) http.Handler {
		return limiters.API.Middleware(authn.RequireAuth(h))
	}
	adminOnly := authn.RequireAdmin

	// Health / readiness are unauthenticated probes.
	mux.Handle("GET /healthz", admin.HandleHealthz(deps.Started, deps.Store))
	mux.Handle("GET /readyz", admin.HandleReadyz(deps.Started, deps.Store))

	metricsHandler := promhttp.Handler()
	if cfg.PublicMetrics {
		mux.Handle("GET /metrics", metricsHandler)
	} else {
		mux.Handle("GET /metrics", adminOnly(metricsHandler))
	}

	// Webhooks are signature-authenticated.
	mux.Handle("POST /webhooks/stripe", limiters.Webhook.Middleware(
		stripe.NewWebhookHandler(cfg.StripeWebhookSecret, deps.Reconciler, deps.Billing)))
	mux.Handle("POST /webhooks/xero", limiters.Webhook.Middleware(xero.NewWebhookHandler(cfg.XeroWebhookKey)))

	mux.Handle("POST /api/auth/login", limiters.API.Middleware(
		auth.NewLoginHandler(deps.Store, deps.Tokens, cfg.SecureCookies())))

	// Subscriptions (authenticated; ownership is enforced by the service).
	subs := billing.NewHandlers(deps.Billing)
	mux.Handle("POST /api/subscriptions", authed(subs.HandleCreate))
	mux.Handle("GET /api/subscriptions", authed(subs.HandleList))
	mux.Handle("GET /api/subscriptions/{id}", authed(subs.HandleGet))
	mux.Handle("PUT /api/subscriptions/{id}", authed(subs.HandleUpdate))
	mux.Handle("DELETE /api/subscriptions/{id}", authed(subs.HandleCancel))

	// Report registrations: public sign-up, admin listing.
	regs := registrations.NewHandlers(deps.Store, deps.Mailer, registrations.Config{
		ReportURL: cfg.ReportURL,
		ClientURL: cfg.ClientURL,
	})
	mux.Handle("POST /api/report-registrations", limiters.API.Middleware(http.HandlerFunc(regs.HandleCreate)))
	mux.Handle("GET /api/report-registrations", adminOnly(http.HandlerFunc(regs.HandleList)))

	// Admin API.
	origins := NewOriginMatcher(cfg.AllowedOrigins)
	mux.Handle("GET /api/admin/analytics", adminOnly(admin.HandleAnalytics(deps.Analytics)))
	mux.Handle("GET /api/admin/reports", adminOnly(admin.HandleReport(deps.Analytics)))
	mux.Handle("GET /api/admin/status", adminOnly(admin.HandleStatus(deps.Store, deps.Activity, deps.Version)))
	mux.Handle("GET /api/admin/activity", adminOnly(admin.HandleActivity(deps.Activity)))
	mux.Handle("GET /api/admin/activity/stream", adminOnly(admin.NewActivityStream(deps.Broadcaster, origins.CheckOrigin)))
}

// Handler wraps mux with the middleware applied to every request.
func Handler(mux http.Handler, cfg *Config) http.Handler {
	origins := NewOriginMatcher(cfg.AllowedOrigins)
	return RequestLogger(origins.CORS(SecurityHeaders(mux)))
}
