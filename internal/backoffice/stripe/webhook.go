package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/virtualcc/backoffice/internal/backoffice/bometrics"
	"github.com/virtualcc/backoffice/internal/backoffice/httputil"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	"github.com/virtualcc/backoffice/internal/backoffice/xero"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
	"github.com/virtualcc/backoffice/internal/logging"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// PaymentReconciler invoices succeeded payments in the accounting system.
type PaymentReconciler interface {
	ReconcilePayment(ctx context.Context, p xero.Payment) (*store.Reconciliation, error)
}

// BillingEvents reacts to subscription billing events.
type BillingEvents interface {
	HandleInvoicePaid(ctx context.Context, inv Invoice) error
	HandlePaymentFailed(ctx context.Context, pi PaymentIntent) error
	HandleSubscriptionDeleted(ctx context.Context, sub Subscription) error
}

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	secret     string
	reconciler PaymentReconciler
	billing    BillingEvents
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler. billing may be nil,
// in which case billing events are acknowledged without processing.
func NewWebhookHandler(secret string, reconciler PaymentReconciler, billing BillingEvents) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		reconciler: reconciler,
		billing:    billing,
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event. Processing
// failures answer 500 so Stripe redelivers.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		bometrics.WebhookRequestsTotal.WithLabelValues(provider, eventType, strconv.Itoa(status)).Inc()
		bometrics.WebhookDuration.WithLabelValues(provider, eventType).Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Stripe webhook signature verification failed")
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	logger := logging.FromContext(r.Context()).With().Str("event_id", event.ID).Str("type", eventType).Logger()
	if err := h.handleEvent(r.Context(), &event); err != nil {
		logger.Error().Err(err).Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: "processing failed"})
		return
	}

	logger.Debug().Dur("elapsed", time.Since(start)).Msg("Stripe webhook processed")
	httputil.WriteJSON(w, status, webhookReceivedResponse{Received: true})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event *stripelib.Event) error {
	switch event.Type {
	case "payment_intent.succeeded":
		var pi PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return fmt.Errorf("decode payment_intent: %w", err)
		}
		log.Info().
			Str("payment_intent", pi.ID).
			Int64("amount", pi.Amount).
			Str("customer", pi.Customer).
			Msg("Processing successful payment")
		rec, err := h.reconciler.ReconcilePayment(ctx, pi.ToPayment())
		if errors.Is(err, boerrors.ErrInvalidInput) {
			// Redelivery cannot fix the payment; the reconciliation stays failed.
			log.Warn().Err(err).Str("payment_intent", pi.ID).Msg("Payment cannot be reconciled, acknowledging event")
			return nil
		}
		if err != nil {
			return err
		}
		log.Info().
			Str("payment_intent", pi.ID).
			Str("invoice_id", rec.XeroInvoiceID).
			Str("contact_id", rec.XeroContactID).
			Msg("Successfully created Xero invoice")
		return nil

	case "payment_intent.payment_failed":
		var pi PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return fmt.Errorf("decode payment_intent: %w", err)
		}
		if h.billing == nil {
			return nil
		}
		return h.billing.HandlePaymentFailed(ctx, pi)

	case "invoice.paid":
		var inv Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		if h.billing == nil {
			return nil
		}
		return h.billing.HandleInvoicePaid(ctx, inv)

	case "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		if h.billing == nil {
			return nil
		}
		return h.billing.HandleSubscriptionDeleted(ctx, sub)

	default:
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
}
