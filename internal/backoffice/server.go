package backoffice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/virtualcc/backoffice/internal/auth"
	"github.com/virtualcc/backoffice/internal/backoffice/activity"
	"github.com/virtualcc/backoffice/internal/backoffice/analytics"
	"github.com/virtualcc/backoffice/internal/backoffice/billing"
	"github.com/virtualcc/backoffice/internal/backoffice/email"
	"github.com/virtualcc/backoffice/internal/backoffice/netutil"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	"github.com/virtualcc/backoffice/internal/backoffice/stripe"
	"github.com/virtualcc/backoffice/internal/backoffice/xero"
	"github.com/virtualcc/backoffice/internal/logging"
)

const shutdownTimeout = 30 * time.Second

// ErrXeroNotConfigured is returned for payments received while Xero
// credentials are missing. The webhook answers 500 so Stripe redelivers.
var ErrXeroNotConfigured = errors.New("xero integration not configured")

type unconfiguredReconciler struct{}

func (unconfiguredReconciler) ReconcilePayment(_ context.Context, p xero.Payment) (*store.Reconciliation, error) {
	log.Warn().Str("payment_intent", p.ID).Msg("Payment received but Xero is not configured")
	return nil, ErrXeroNotConfigured
}

// OpenStore ensures the database directory exists and opens the database.
func OpenStore(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

// NewMailer picks the email transport: SMTP when SMTP_HOST is set, then
// Postmark, then log-only.
func NewMailer(cfg *Config) *email.Mailer {
	var sender email.Sender
	switch {
	case cfg.SMTPHost != "":
		sender = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Secure:   cfg.SMTPSecure,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		})
		log.Info().Str("host", cfg.SMTPHost).Int("port", cfg.SMTPPort).Msg("Email sender configured (SMTP)")
	case cfg.PostmarkServerToken != "":
		sender = email.NewPostmarkSender(cfg.PostmarkServerToken)
		log.Info().Msg("Email sender configured (Postmark)")
	default:
		sender = email.NewLogSender(func(to, subject, body string) {
			const maxBody = 4096
			bodyForLog := body
			if len(bodyForLog) > maxBody {
				bodyForLog = bodyForLog[:maxBody] + "...(truncated)"
			}
			log.Info().
				Str("to", to).
				Str("subject", subject).
				Str("body", bodyForLog).
				Msg("Email (log-only, no email provider configured)")
		})
		log.Info().Msg("Email sender: log-only (set SMTP_HOST or POSTMARK_SERVER_TOKEN to enable)")
	}
	return email.NewMailer(sender, cfg.EmailFrom)
}

// Run starts the back office HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.Logging)
	defer logging.Shutdown()

	log.Info().Str("version", version).Msg("Starting VCC back office")

	db, err := OpenStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dialer := netutil.NewCachedDialer(cfg.DNSCacheTTL)
	go dialer.Run(ctx)
	httpClient := netutil.NewHTTPClient(dialer, netutil.DefaultRequestTimeout)

	stripeClient, err := stripe.NewClient(stripe.ClientConfig{
		SecretKey:  cfg.StripeSecretKey,
		URL:        cfg.StripeAPIURL,
		HTTPClient: httpClient,
	})
	if err != nil {
		return fmt.Errorf("init stripe client: %w", err)
	}

	var reconciler stripe.PaymentReconciler = unconfiguredReconciler{}
	if cfg.XeroEnabled() {
		xeroClient, err := xero.NewClient(xero.Config{
			ClientID:     cfg.XeroClientID,
			ClientSecret: cfg.XeroClientSecret,
			TenantID:     cfg.XeroTenantID,
			APIURL:       cfg.XeroBaseURL,
			TokenURL:     cfg.XeroTokenURL,
			HTTPClient:   httpClient,
		})
		if err != nil {
			return fmt.Errorf("init xero client: %w", err)
		}
		reconciler = xero.NewReconciler(xeroClient, db)
	} else {
		log.Warn().Msg("Xero credentials not set; succeeded payments will not be invoiced")
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("init tokens: %w", err)
	}

	broadcaster := activity.NewBroadcaster(activity.DefaultHistorySize)
	activityLog := activity.NewLogger(db, broadcaster)
	mailer := NewMailer(cfg)
	limiters := NewLimiters(cfg)

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:      cfg,
		Store:       db,
		Tokens:      tokens,
		Billing:     billing.NewService(db, stripeClient, activityLog, mailer),
		Analytics:   analytics.NewService(db),
		Activity:    activityLog,
		Broadcaster: broadcaster,
		Mailer:      mailer,
		Reconciler:  reconciler,
		Limiters:    limiters,
		Version:     version,
		Started:     time.Now(),
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(mux, cfg),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go runStateMetrics(ctx, db)
	go limiters.Webhook.Run(ctx)
	go limiters.API.Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Back office listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Back office stopped")
	return nil
}
