package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/virtualcc/backoffice/internal/backoffice/activity"
	"github.com/virtualcc/backoffice/internal/backoffice/email"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	"github.com/virtualcc/backoffice/internal/backoffice/stripe"
)

var _ stripe.BillingEvents = (*Service)(nil)

// HandleInvoicePaid marks the subscription's orders paid and records the
// payment. Invoices outside a known subscription are acknowledged.
func (s *Service) HandleInvoicePaid(ctx context.Context, inv stripe.Invoice) error {
	subID := inv.SubscriptionID()
	if subID == "" {
		log.Debug().Str("invoice", inv.ID).Msg("Paid invoice has no subscription; nothing to update")
		return nil
	}

	local, err := s.store.GetSubscriptionByStripeID(ctx, subID)
	if err != nil {
		return fmt.Errorf("load subscription %s: %w", subID, err)
	}

	paid := store.OrderPaid
	n, err := s.store.UpdateOrdersForSubscription(ctx, subID, store.OrderUpdate{
		Status: &paid,
		Metadata: map[string]any{
			"lastInvoiceId": inv.ID,
			"amountPaid":    inv.AmountPaid,
		},
	})
	if err != nil {
		return fmt.Errorf("mark orders paid for %s: %w", subID, err)
	}

	userID := ""
	localID := ""
	if local != nil {
		userID, localID = local.UserID, local.ID
	} else if u, err := s.userForCustomer(ctx, inv.Customer, inv.CustomerEmail); err != nil {
		return err
	} else if u != nil {
		userID = u.ID
	}

	log.Info().
		Str("invoice", inv.ID).
		Str("subscription", subID).
		Int64("amount_paid", inv.AmountPaid).
		Int("orders", n).
		Msg("Subscription invoice paid")

	s.logActivity(ctx, activity.Entry{
		Type:           activity.PaymentSucceeded,
		UserID:         userID,
		SubscriptionID: localID,
		Metadata: map[string]any{
			"amount":    inv.AmountPaid,
			"currency":  strings.ToUpper(inv.Currency),
			"invoiceId": inv.ID,
		},
	})
	return nil
}

// HandlePaymentFailed records the failure and asks the customer to update
// their payment method.
func (s *Service) HandlePaymentFailed(ctx context.Context, pi stripe.PaymentIntent) error {
	u, err := s.userForCustomer(ctx, pi.Customer, pi.ReceiptEmail)
	if err != nil {
		return err
	}

	log.Warn().
		Str("payment_intent", pi.ID).
		Str("customer", pi.Customer).
		Int64("amount", pi.Amount).
		Str("reason", pi.FailureMessage()).
		Msg("Payment failed")

	if u == nil {
		log.Warn().Str("payment_intent", pi.ID).Msg("Failed payment does not match a known user")
		return nil
	}

	s.logActivity(ctx, activity.Entry{
		Type:   activity.PaymentFailed,
		UserID: u.ID,
		Metadata: map[string]any{
			"amount":          pi.Amount,
			"currency":        strings.ToUpper(pi.Currency),
			"paymentIntentId": pi.ID,
			"reason":          pi.FailureMessage(),
		},
	})

	product := strings.TrimSpace(pi.Description)
	if product == "" {
		product = "your subscription"
	}
	s.notify(ctx, "payment_failed", u, func() (email.Message, error) {
		return email.RenderPaymentFailedEmail(email.PaymentFailedData{
			CustomerName: customerName(u),
			ProductName:  product,
			Amount:       FormatAmount(pi.Amount, pi.Currency),
			Reason:       pi.FailureMessage(),
		})
	})
	return nil
}

// HandleSubscriptionDeleted soft-ends the local subscription when Stripe
// ends it, whether by API, dashboard or failed renewal.
func (s *Service) HandleSubscriptionDeleted(ctx context.Context, sub stripe.Subscription) error {
	local, err := s.store.GetSubscriptionByStripeID(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("load subscription %s: %w", sub.ID, err)
	}
	if local == nil {
		log.Info().Str("subscription", sub.ID).Msg("Deleted subscription is not tracked locally")
		return nil
	}

	now := s.now().UTC()
	if local.CancelledAt == nil {
		cancelled := now
		if sub.CanceledAt > 0 {
			cancelled = time.Unix(sub.CanceledAt, 0).UTC()
		}
		local.CancelledAt = &cancelled
	}
	if local.EndedAt == nil {
		ended := now
		if sub.EndedAt > 0 {
			ended = time.Unix(sub.EndedAt, 0).UTC()
		}
		local.EndedAt = &ended
	}
	if sub.Status != "" {
		local.Status = sub.Status
	}
	if err := s.store.UpdateSubscription(ctx, local); err != nil {
		return fmt.Errorf("end subscription %s: %w", sub.ID, err)
	}

	status := store.OrderCancelled
	if _, err := s.store.UpdateOrdersForSubscription(ctx, sub.ID, store.OrderUpdate{
		Status:   &status,
		Metadata: map[string]any{"subscriptionStatus": local.Status},
	}); err != nil {
		return fmt.Errorf("cancel orders for %s: %w", sub.ID, err)
	}

	log.Info().Str("subscription", sub.ID).Time("cancelled_at", *local.CancelledAt).Msg("Subscription ended by Stripe")
	return nil
}

// userForCustomer finds the user behind a Stripe customer, falling back to
// the billing email.
func (s *Service) userForCustomer(ctx context.Context, customerID, emailAddr string) (*store.User, error) {
	if customerID = strings.TrimSpace(customerID); customerID != "" {
		u, err := s.store.GetUserByStripeCustomerID(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("load user for customer %s: %w", customerID, err)
		}
		if u != nil {
			return u, nil
		}
	}
	if emailAddr = strings.TrimSpace(emailAddr); emailAddr != "" {
		u, err := s.store.GetUserByEmail(ctx, emailAddr)
		if err != nil {
			return nil, fmt.Errorf("load user by email: %w", err)
		}
		return u, nil
	}
	return nil, nil
}
