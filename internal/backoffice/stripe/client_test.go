package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
)

const subscriptionJSON = `{
	"id":"sub_123","object":"subscription","customer":"cus_abc","status":"incomplete","currency":"aud",
	"created":1767225600,"metadata":{"userId":"u-1"},
	"items":{"object":"list","data":[{"id":"si_1","object":"subscription_item","quantity":2,"current_period_end":1769904000,
		"price":{"id":"price_basic","object":"price","unit_amount":4999,"currency":"aud","recurring":{"interval":"month"}}}]},
	"latest_invoice":{"id":"in_1","object":"invoice","confirmation_secret":{"client_secret":"pi_secret_xyz","type":"payment_intent"}}
}`

type fakeStripeAPI struct {
	mu       sync.Mutex
	requests []*http.Request
	forms    []map[string][]string
}

func newFakeStripe(t *testing.T) (*fakeStripeAPI, *Client) {
	t.Helper()
	f := &fakeStripeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/subscriptions", f.record(subscriptionJSON))
	mux.HandleFunc("GET /v1/subscriptions/sub_123", f.record(subscriptionJSON))
	mux.HandleFunc("POST /v1/subscriptions/sub_123", f.record(subscriptionJSON))
	mux.HandleFunc("DELETE /v1/subscriptions/sub_123", f.record(subscriptionJSON))
	mux.HandleFunc("GET /v1/subscriptions", f.record(`{"object":"list","url":"/v1/subscriptions","has_more":false,"data":[`+subscriptionJSON+`]}`))
	mux.HandleFunc("POST /v1/customers", f.record(`{"id":"cus_new","object":"customer"}`))
	mux.HandleFunc("GET /v1/subscriptions/sub_missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{SecretKey: "sk_test_123", URL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return f, c
}

func (f *fakeStripeAPI) record(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.requests = append(f.requests, r)
		f.forms = append(f.forms, r.Form)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func (f *fakeStripeAPI) lastForm() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[len(f.forms)-1]
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestCreateSubscription(t *testing.T) {
	f, c := newFakeStripe(t)

	sub, err := c.CreateSubscription(context.Background(), CreateSubscriptionInput{
		CustomerID: "cus_abc",
		PriceID:    "price_basic",
		Quantity:   2,
		Metadata:   map[string]string{"userId": "u-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_123", sub.ID)
	assert.Equal(t, "cus_abc", sub.Customer)
	assert.Equal(t, "pi_secret_xyz", sub.ClientSecret)
	assert.Equal(t, int64(9998), sub.Total())
	require.NotNil(t, sub.FirstItem())
	assert.Equal(t, "month", sub.FirstItem().Price.Recurring.Interval)

	form := f.lastForm()
	assert.Equal(t, []string{"cus_abc"}, form["customer"])
	assert.Equal(t, []string{"price_basic"}, form["items[0][price]"])
	assert.Equal(t, []string{"2"}, form["items[0][quantity]"])
	assert.Equal(t, []string{"default_incomplete"}, form["payment_behavior"])
	assert.Equal(t, []string{"on_subscription"}, form["payment_settings[save_default_payment_method]"])
	assert.Equal(t, []string{"latest_invoice.confirmation_secret"}, form["expand[0]"])
	assert.Equal(t, []string{"u-1"}, form["metadata[userId]"])
}

func TestUpdateSubscriptionMergesItemChanges(t *testing.T) {
	f, c := newFakeStripe(t)
	price := "price_pro"
	qty := int64(5)

	_, err := c.UpdateSubscription(context.Background(), "sub_123", UpdateSubscriptionInput{
		PriceID:  &price,
		Quantity: &qty,
		Metadata: map[string]string{"plan": "pro"},
	})
	require.NoError(t, err)

	form := f.lastForm()
	assert.Equal(t, []string{"si_1"}, form["items[0][id]"])
	assert.Equal(t, []string{"price_pro"}, form["items[0][price]"])
	assert.Equal(t, []string{"5"}, form["items[0][quantity]"])
	assert.Equal(t, []string{"pro"}, form["metadata[plan]"])
	assert.Equal(t, []string{"u-1"}, form["metadata[userId]"])
}

func TestListCustomerSubscriptions(t *testing.T) {
	f, c := newFakeStripe(t)

	subs, err := c.ListCustomerSubscriptions(context.Background(), "cus_abc")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub_123", subs[0].ID)

	form := f.lastForm()
	assert.Equal(t, []string{"cus_abc"}, form["customer"])
	assert.Equal(t, []string{"all"}, form["status"])
}

func TestCancelAndCustomer(t *testing.T) {
	_, c := newFakeStripe(t)

	sub, err := c.CancelSubscription(context.Background(), "sub_123")
	require.NoError(t, err)
	assert.Equal(t, "sub_123", sub.ID)

	id, err := c.CreateCustomer(context.Background(), "jo@example.org", "Jo", nil)
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
}

func TestMissingSubscriptionIsNotFound(t *testing.T) {
	_, c := newFakeStripe(t)

	_, err := c.GetSubscription(context.Background(), "sub_missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, boerrors.ErrNotFound)
}

func TestSubscriptionJSONRoundTrip(t *testing.T) {
	var sub Subscription
	require.NoError(t, json.Unmarshal([]byte(subscriptionJSON), &sub))
	assert.Equal(t, "price_basic", sub.FirstPriceID())
	assert.Equal(t, int64(1769904000), sub.FirstItem().CurrentPeriodEnd)
	assert.Empty(t, sub.ClientSecret)
}
