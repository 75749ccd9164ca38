package xero

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/virtualcc/backoffice/internal/backoffice/bometrics"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
)

// Payment is a succeeded Stripe payment to be invoiced in Xero.
type Payment struct {
	ID           string
	Amount       int64
	Currency     string
	Description  string
	Email        string
	CustomerName string
	Phone        string
	ABN          string
	Address      store.Address
}

// API is the Xero surface the reconciler drives.
type API interface {
	FindContactByEmail(ctx context.Context, email string) (*Contact, error)
	CreateContact(ctx context.Context, contact Contact) (*Contact, error)
	FindInvoiceByReference(ctx context.Context, reference string) (*Invoice, error)
	CreateInvoice(ctx context.Context, inv Invoice) (*Invoice, error)
	DefaultBrandingTheme(ctx context.Context) (*BrandingTheme, error)
}

// ReconciliationStore persists reconciliation progress.
type ReconciliationStore interface {
	GetReconciliation(ctx context.Context, paymentIntentID string) (*store.Reconciliation, error)
	SaveReconciliation(ctx context.Context, r *store.Reconciliation) error
}

// Reconciler turns succeeded Stripe payments into Xero invoices. Each payment
// moves received -> contact_resolved -> invoice_created -> done, and any
// step may move it to failed. Progress is saved after every step so a
// redelivered event resumes instead of repeating work.
type Reconciler struct {
	api   API
	store ReconciliationStore
	now   func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(api API, s ReconciliationStore) *Reconciler {
	return &Reconciler{api: api, store: s, now: time.Now}
}

// ReconcilePayment invoices p in Xero. It returns the final record; on error
// the record is saved as failed and the error is returned for the caller to
// report so the sender redelivers.
func (r *Reconciler) ReconcilePayment(ctx context.Context, p Payment) (*store.Reconciliation, error) {
	const op = "reconcile.payment"
	if strings.TrimSpace(p.ID) == "" {
		return nil, boerrors.Validation(op, "payment intent id is required")
	}

	rec, err := r.store.GetReconciliation(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load reconciliation %s: %w", p.ID, err)
	}
	if rec != nil && rec.State == store.ReconDone {
		log.Info().Str("payment_intent", p.ID).Str("invoice_id", rec.XeroInvoiceID).Msg("Payment already reconciled, skipping")
		bometrics.ReconciliationTotal.WithLabelValues("duplicate").Inc()
		return rec, nil
	}
	if rec == nil {
		rec = &store.Reconciliation{PaymentIntentID: p.ID}
	}
	rec.State = store.ReconReceived
	rec.Email = p.Email
	rec.Amount = p.Amount
	rec.Currency = strings.ToUpper(p.Currency)
	rec.LastError = ""
	rec.Attempts++
	if err := r.store.SaveReconciliation(ctx, rec); err != nil {
		return nil, fmt.Errorf("save reconciliation %s: %w", p.ID, err)
	}

	logger := log.With().Str("payment_intent", p.ID).Int64("amount", p.Amount).Int("attempt", rec.Attempts).Logger()
	logger.Info().Str("customer_name", p.CustomerName).Msg("Processing Stripe payment for Xero invoice")

	if err := r.resolveContact(ctx, rec, p); err != nil {
		return rec, r.fail(ctx, rec, err)
	}
	logger.Info().Str("contact_id", rec.XeroContactID).Msg("Xero contact resolved")

	if err := r.ensureInvoice(ctx, rec, p); err != nil {
		return rec, r.fail(ctx, rec, err)
	}

	rec.State = store.ReconDone
	if err := r.store.SaveReconciliation(ctx, rec); err != nil {
		return rec, fmt.Errorf("save reconciliation %s: %w", p.ID, err)
	}
	bometrics.ReconciliationTotal.WithLabelValues("success").Inc()
	logger.Info().
		Str("contact_id", rec.XeroContactID).
		Str("invoice_id", rec.XeroInvoiceID).
		Msg("Payment reconciled to Xero invoice")
	return rec, nil
}

func (r *Reconciler) resolveContact(ctx context.Context, rec *store.Reconciliation, p Payment) error {
	if rec.XeroContactID == "" {
		if strings.TrimSpace(p.Email) == "" {
			return boerrors.Validation("reconcile.contact", "payment has no receipt email")
		}
		contact, err := r.api.FindContactByEmail(ctx, p.Email)
		if err != nil {
			return fmt.Errorf("find contact: %w", err)
		}
		if contact == nil {
			contact, err = r.api.CreateContact(ctx, NewCustomerContact(p))
			if err != nil {
				return fmt.Errorf("create contact: %w", err)
			}
			log.Info().Str("contact_id", contact.ContactID).Str("email", p.Email).Msg("Created new Xero contact")
		} else {
			log.Info().Str("contact_id", contact.ContactID).Str("email", p.Email).Msg("Found existing Xero contact")
		}
		rec.XeroContactID = contact.ContactID
	}
	rec.State = store.ReconContactResolved
	return r.store.SaveReconciliation(ctx, rec)
}

func (r *Reconciler) ensureInvoice(ctx context.Context, rec *store.Reconciliation, p Payment) error {
	if rec.XeroInvoiceID == "" {
		existing, err := r.api.FindInvoiceByReference(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("find invoice: %w", err)
		}
		if existing != nil {
			log.Info().Str("invoice_id", existing.InvoiceID).Str("payment_intent", p.ID).Msg("Reusing existing Xero invoice")
			rec.XeroInvoiceID = existing.InvoiceID
		} else {
			inv := NewPaymentInvoice(rec.XeroContactID, p, r.now())
			inv.BrandingThemeID = r.brandingThemeID(ctx)
			created, err := r.api.CreateInvoice(ctx, inv)
			if err != nil {
				return fmt.Errorf("create invoice: %w", err)
			}
			rec.XeroInvoiceID = created.InvoiceID
		}
	}
	rec.State = store.ReconInvoiceCreated
	return r.store.SaveReconciliation(ctx, rec)
}

// brandingThemeID looks up the default theme. Failures only cost the branding.
func (r *Reconciler) brandingThemeID(ctx context.Context) string {
	theme, err := r.api.DefaultBrandingTheme(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load Xero branding theme, using organisation default")
		return ""
	}
	if theme == nil {
		log.Warn().Msg("No default Xero branding theme found")
		return ""
	}
	return theme.BrandingThemeID
}

func (r *Reconciler) fail(ctx context.Context, rec *store.Reconciliation, cause error) error {
	rec.State = store.ReconFailed
	rec.LastError = cause.Error()
	bometrics.ReconciliationTotal.WithLabelValues("failed").Inc()
	log.Error().Err(cause).
		Str("payment_intent", rec.PaymentIntentID).
		Int("attempt", rec.Attempts).
		Msg("Stripe payment reconciliation failed")
	if err := r.store.SaveReconciliation(ctx, rec); err != nil {
		log.Error().Err(err).Str("payment_intent", rec.PaymentIntentID).Msg("Failed to persist reconciliation failure")
	}
	return cause
}
