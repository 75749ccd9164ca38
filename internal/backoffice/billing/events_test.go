package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	"github.com/virtualcc/backoffice/internal/backoffice/stripe"
)

func TestHandleInvoicePaidMarksOrdersPaid(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.svc.Create(ctx, e.principal(e.user), CreateRequest{PriceID: e.monthly.ID, Quantity: 1})
	require.NoError(t, err)

	inv := stripe.Invoice{ID: "in_1", Customer: "cus_test1", AmountPaid: 4999, Currency: "aud"}
	inv.Parent.SubscriptionDetails.Subscription = res.SubscriptionID
	require.NoError(t, e.svc.HandleInvoicePaid(ctx, inv))

	orders, err := e.store.ListOrdersForSubscription(ctx, res.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, store.OrderPaid, orders[0].Status)
	assert.Equal(t, "in_1", orders[0].Metadata["lastInvoiceId"])

	_, entries, err := e.store.ListActivity(ctx, store.ActivityFilter{Type: "payment_succeeded", Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e.user.ID, entries[0].UserID)
	assert.Equal(t, "AUD", entries[0].Metadata["currency"])
}

func TestHandleInvoicePaidWithoutSubscription(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.HandleInvoicePaid(context.Background(), stripe.Invoice{ID: "in_oneoff"}))
}

func TestHandlePaymentFailedEmailsCustomer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.svc.Create(ctx, e.principal(e.user), CreateRequest{PriceID: e.monthly.ID, Quantity: 1})
	require.NoError(t, err)

	pi := stripe.PaymentIntent{ID: "pi_failed", Customer: "cus_test1", Amount: 4999, Currency: "aud", Description: "Career Coaching"}
	pi.LastPaymentError = &struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: "card_declined", Message: "Your card was declined."}
	require.NoError(t, e.svc.HandlePaymentFailed(ctx, pi))

	subjects := e.outbox.subjects()
	require.Len(t, subjects, 2)
	assert.Equal(t, "Payment Failed - Action Required", subjects[1])
	assert.Contains(t, e.outbox.msgs[1].HTML, "Your card was declined.")
	assert.Contains(t, e.activityTypes(t), "payment_failed")

	// Unknown customers are acknowledged without side effects.
	require.NoError(t, e.svc.HandlePaymentFailed(ctx, stripe.PaymentIntent{ID: "pi_x", Customer: "cus_nobody"}))
	assert.Len(t, e.outbox.subjects(), 2)
}

func TestHandlePaymentFailedFallsBackToReceiptEmail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.svc.HandlePaymentFailed(ctx, stripe.PaymentIntent{ID: "pi_1", ReceiptEmail: "SAM@example.org", Amount: 100, Currency: "aud"}))
	require.Len(t, e.outbox.msgs, 1)
	assert.Equal(t, "sam@example.org", e.outbox.msgs[0].To)
}

func TestHandleSubscriptionDeletedEndsLocalRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.svc.Create(ctx, e.principal(e.user), CreateRequest{PriceID: e.monthly.ID, Quantity: 1})
	require.NoError(t, err)

	canceledAt := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.svc.HandleSubscriptionDeleted(ctx, stripe.Subscription{ID: res.SubscriptionID, Status: "canceled", CanceledAt: canceledAt.Unix()}))

	local, err := e.store.GetSubscriptionByStripeID(ctx, res.SubscriptionID)
	require.NoError(t, err)
	require.NotNil(t, local.CancelledAt)
	assert.Equal(t, canceledAt, local.CancelledAt.UTC())
	require.NotNil(t, local.EndedAt)
	assert.False(t, local.Active())

	orders, err := e.store.ListOrdersForSubscription(ctx, res.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, store.OrderCancelled, orders[0].Status)

	// Untracked subscriptions are acknowledged.
	require.NoError(t, e.svc.HandleSubscriptionDeleted(ctx, stripe.Subscription{ID: "sub_unknown"}))
}
