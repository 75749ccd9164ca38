package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
)

const provider = "stripe"

// SubscriptionAPI is the Stripe surface the billing service uses.
type SubscriptionAPI interface {
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*Subscription, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id string, in UpdateSubscriptionInput) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*Subscription, error)
	ListCustomerSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error)
}

// CreateSubscriptionInput describes a new subscription awaiting first payment.
type CreateSubscriptionInput struct {
	CustomerID string
	PriceID    string
	Quantity   int64
	Metadata   map[string]string
}

// UpdateSubscriptionInput changes an existing subscription. Nil fields are left as is.
type UpdateSubscriptionInput struct {
	PriceID  *string
	Quantity *int64
	Metadata map[string]string
}

// ClientConfig configures the Stripe API adapter.
type ClientConfig struct {
	SecretKey string
	// URL overrides the API base, for tests.
	URL        string
	HTTPClient *http.Client
}

// Client adapts stripe-go to SubscriptionAPI.
type Client struct {
	subscriptions subscription.Client
	customers     customer.Client
}

// NewClient builds a Stripe client. Network retries are disabled; retries are
// left to the caller's caller.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	backendCfg := &stripelib.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		LeveledLogger:     zerologLeveled{},
		MaxNetworkRetries: stripelib.Int64(0),
	}
	if cfg.URL != "" {
		backendCfg.URL = stripelib.String(cfg.URL)
	}
	backend := stripelib.GetBackendWithConfig(stripelib.APIBackend, backendCfg)
	return &Client{
		subscriptions: subscription.Client{B: backend, Key: cfg.SecretKey},
		customers:     customer.Client{B: backend, Key: cfg.SecretKey},
	}, nil
}

// CreateCustomer creates a Stripe customer and returns its ID.
func (c *Client) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	params := &stripelib.CustomerParams{
		Email:    stripelib.String(email),
		Metadata: metadata,
	}
	if name != "" {
		params.Name = stripelib.String(name)
	}
	params.Context = ctx
	cust, err := c.customers.New(params)
	if err != nil {
		return "", wrapError("stripe.create_customer", "Customer", err)
	}
	return cust.ID, nil
}

// CreateSubscription creates an incomplete subscription whose first invoice
// must be confirmed client-side with the returned ClientSecret.
func (c *Client) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*Subscription, error) {
	item := &stripelib.SubscriptionItemsParams{Price: stripelib.String(in.PriceID)}
	if in.Quantity > 0 {
		item.Quantity = stripelib.Int64(in.Quantity)
	}
	params := &stripelib.SubscriptionParams{
		Customer:        stripelib.String(in.CustomerID),
		Items:           []*stripelib.SubscriptionItemsParams{item},
		PaymentBehavior: stripelib.String("default_incomplete"),
		PaymentSettings: &stripelib.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripelib.String("on_subscription"),
		},
		Metadata: in.Metadata,
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.confirmation_secret")

	sub, err := c.subscriptions.New(params)
	if err != nil {
		return nil, wrapError("stripe.create_subscription", "Subscription", err)
	}
	out := fromStripe(sub)
	if sub.LatestInvoice != nil && sub.LatestInvoice.ConfirmationSecret != nil {
		out.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	return out, nil
}

// GetSubscription retrieves a subscription by ID.
func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.subscriptions.Get(id, params)
	if err != nil {
		return nil, wrapError("stripe.get_subscription", "Subscription", err)
	}
	return fromStripe(sub), nil
}

// UpdateSubscription changes the price and/or quantity of the first item and
// merges metadata.
func (c *Client) UpdateSubscription(ctx context.Context, id string, in UpdateSubscriptionInput) (*Subscription, error) {
	current, err := c.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	if in.PriceID != nil || in.Quantity != nil {
		first := current.FirstItem()
		if first == nil {
			return nil, boerrors.Validation("stripe.update_subscription", "Subscription has no items")
		}
		item := &stripelib.SubscriptionItemsParams{ID: stripelib.String(first.ID)}
		if in.PriceID != nil {
			item.Price = in.PriceID
		}
		if in.Quantity != nil {
			item.Quantity = in.Quantity
		}
		params.Items = []*stripelib.SubscriptionItemsParams{item}
	}
	if len(in.Metadata) > 0 {
		merged := make(map[string]string, len(current.Metadata)+len(in.Metadata))
		for k, v := range current.Metadata {
			merged[k] = v
		}
		for k, v := range in.Metadata {
			merged[k] = v
		}
		params.Metadata = merged
	}

	sub, err := c.subscriptions.Update(id, params)
	if err != nil {
		return nil, wrapError("stripe.update_subscription", "Subscription", err)
	}
	return fromStripe(sub), nil
}

// CancelSubscription cancels a subscription immediately.
func (c *Client) CancelSubscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripelib.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := c.subscriptions.Cancel(id, params)
	if err != nil {
		return nil, wrapError("stripe.cancel_subscription", "Subscription", err)
	}
	return fromStripe(sub), nil
}

// ListCustomerSubscriptions returns every subscription of a customer,
// including cancelled ones.
func (c *Client) ListCustomerSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error) {
	params := &stripelib.SubscriptionListParams{
		Customer: stripelib.String(customerID),
		Status:   stripelib.String("all"),
	}
	params.Context = ctx

	out := []*Subscription{}
	iter := c.subscriptions.List(params)
	for iter.Next() {
		out = append(out, fromStripe(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, wrapError("stripe.list_subscriptions", "Subscription", err)
	}
	return out, nil
}

func fromStripe(s *stripelib.Subscription) *Subscription {
	out := &Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		Currency:          string(s.Currency),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Created:           s.Created,
		CanceledAt:        s.CanceledAt,
		EndedAt:           s.EndedAt,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.Customer = s.Customer.ID
	}
	if s.Items != nil {
		for _, it := range s.Items.Data {
			if it == nil {
				continue
			}
			item := SubscriptionItem{ID: it.ID, Quantity: it.Quantity, CurrentPeriodEnd: it.CurrentPeriodEnd}
			if it.Price != nil {
				item.Price.ID = it.Price.ID
				item.Price.UnitAmount = it.Price.UnitAmount
				item.Price.Currency = string(it.Price.Currency)
				item.Price.Metadata = it.Price.Metadata
				if it.Price.Recurring != nil {
					item.Price.Recurring = &struct {
						Interval string `json:"interval"`
					}{Interval: string(it.Price.Recurring.Interval)}
				}
			}
			out.Items.Data = append(out.Items.Data, item)
		}
	}
	return out
}

// wrapError maps a Stripe API error onto the error taxonomy. Missing
// resources become not-found; everything else is an upstream failure.
func wrapError(op, what string, err error) error {
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) {
		log.Error().
			Str("op", op).
			Int("status", stripeErr.HTTPStatusCode).
			Str("code", string(stripeErr.Code)).
			Str("request_id", stripeErr.RequestID).
			Msg("Stripe API call failed")
		if stripeErr.HTTPStatusCode == http.StatusNotFound {
			return boerrors.NotFound(op, what)
		}
		return boerrors.Upstream(op, provider, err).WithStatusCode(stripeErr.HTTPStatusCode)
	}
	log.Error().Err(err).Str("op", op).Msg("Stripe API call failed")
	return boerrors.Upstream(op, provider, err)
}

// zerologLeveled routes stripe-go's internal logging through zerolog.
type zerologLeveled struct{}

func (zerologLeveled) Debugf(format string, v ...interface{}) {
	log.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (zerologLeveled) Infof(format string, v ...interface{}) {
	log.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (zerologLeveled) Warnf(format string, v ...interface{}) {
	log.Warn().Str("component", "stripe").Msgf(format, v...)
}

func (zerologLeveled) Errorf(format string, v ...interface{}) {
	log.Error().Str("component", "stripe").Msgf(format, v...)
}
