// Package billing manages customer subscriptions in Stripe and mirrors them
// into the local store, the activity log and customer email.
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/virtualcc/backoffice/internal/auth"
	"github.com/virtualcc/backoffice/internal/backoffice/activity"
	"github.com/virtualcc/backoffice/internal/backoffice/email"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	"github.com/virtualcc/backoffice/internal/backoffice/stripe"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
)

const defaultCustomerName = "Valued Customer"

// Store is the persistence billing needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*store.User, error)
	UpdateUser(ctx context.Context, u *store.User) error
	GetProduct(ctx context.Context, id string) (*store.Product, error)
	GetPrice(ctx context.Context, id string) (*store.Price, error)
	GetPriceByStripeID(ctx context.Context, stripePriceID string) (*store.Price, error)
	CreateSubscription(ctx context.Context, sub *store.Subscription) error
	GetSubscriptionByStripeID(ctx context.Context, stripeID string) (*store.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *store.Subscription) error
	CreateOrder(ctx context.Context, o *store.Order) error
	UpdateOrdersForSubscription(ctx context.Context, stripeSubscriptionID string, upd store.OrderUpdate) (int, error)
}

// Service creates and changes subscriptions on behalf of authenticated users.
type Service struct {
	store    Store
	stripe   stripe.SubscriptionAPI
	activity *activity.Logger
	mailer   *email.Mailer
	now      func() time.Time
}

// NewService creates a billing service. mailer may be nil to disable
// customer email.
func NewService(s Store, api stripe.SubscriptionAPI, activityLog *activity.Logger, mailer *email.Mailer) *Service {
	return &Service{store: s, stripe: api, activity: activityLog, mailer: mailer, now: time.Now}
}

// CreateRequest is the body of POST /api/subscriptions.
type CreateRequest struct {
	PriceID  string `json:"priceId"`
	Quantity int64  `json:"quantity"`
}

// CreateResult carries what the client needs to confirm the first payment.
type CreateResult struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientSecret   string `json:"clientSecret"`
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
}

// UpdateRequest is the body of PUT /api/subscriptions/{id}. At least one
// field must be set.
type UpdateRequest struct {
	PriceID  *string           `json:"priceId,omitempty"`
	Quantity *int64            `json:"quantity,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Create starts an incomplete Stripe subscription for the caller and records
// it locally with a pending order.
func (s *Service) Create(ctx context.Context, caller *auth.Principal, req CreateRequest) (*CreateResult, error) {
	const op = "billing.create"
	req.PriceID = strings.TrimSpace(req.PriceID)
	if req.PriceID == "" || req.Quantity <= 0 {
		return nil, boerrors.Validation(op, "Missing required parameters")
	}

	user, err := s.store.GetUser(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, boerrors.NotFound(op, "User")
	}
	price, product, err := s.resolvePrice(ctx, op, req.PriceID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCustomer(ctx, user); err != nil {
		return nil, err
	}

	sub, err := s.stripe.CreateSubscription(ctx, stripe.CreateSubscriptionInput{
		CustomerID: user.StripeCustomerID,
		PriceID:    price.StripePriceID,
		Quantity:   req.Quantity,
		Metadata: map[string]string{
			"userId":       user.ID,
			"productId":    product.ID,
			"billingEmail": user.Email,
		},
	})
	if err != nil {
		return nil, err
	}

	local := &store.Subscription{
		UserID:               user.ID,
		ProductID:            product.ID,
		PriceID:              price.ID,
		Quantity:             req.Quantity,
		StripeSubscriptionID: sub.ID,
		Status:               sub.Status,
	}
	if err := s.store.CreateSubscription(ctx, local); err != nil {
		return nil, fmt.Errorf("record subscription %s: %w", sub.ID, err)
	}

	order := &store.Order{
		UserID:               user.ID,
		Status:               store.OrderPending,
		Total:                price.UnitAmount * req.Quantity,
		Currency:             price.Currency,
		StripeSubscriptionID: sub.ID,
		Metadata: map[string]any{
			"billingEmail":       user.Email,
			"subscriptionStatus": sub.Status,
			"interval":           price.Interval,
		},
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("record order for %s: %w", sub.ID, err)
	}

	log.Info().
		Str("user_id", user.ID).
		Str("subscription", sub.ID).
		Str("order_id", order.ID).
		Msg("Subscription created")

	s.logActivity(ctx, activity.Entry{
		Type:           activity.SubscriptionCreated,
		UserID:         user.ID,
		SubscriptionID: local.ID,
		Metadata: map[string]any{
			"productName": product.Name,
			"priceId":     price.ID,
			"quantity":    req.Quantity,
		},
	})
	s.notify(ctx, "subscription_created", user, func() (email.Message, error) {
		return email.RenderSubscriptionCreatedEmail(email.SubscriptionCreatedData{
			CustomerName:    customerName(user),
			ProductName:     product.Name,
			Amount:          FormatAmount(price.UnitAmount*req.Quantity, price.Currency),
			Interval:        price.Interval,
			NextBillingDate: s.nextBillingDate(sub, price.Interval),
		})
	})

	return &CreateResult{
		SubscriptionID: sub.ID,
		ClientSecret:   sub.ClientSecret,
		OrderID:        order.ID,
		Status:         sub.Status,
	}, nil
}

// Get returns a subscription the caller may see.
func (s *Service) Get(ctx context.Context, caller *auth.Principal, id string) (*stripe.Subscription, error) {
	if _, err := s.authorize(ctx, "billing.get", caller, id); err != nil {
		return nil, err
	}
	return s.stripe.GetSubscription(ctx, id)
}

// ListForCustomer returns every subscription of a Stripe customer, including
// cancelled ones. Non-admins may only list their own.
func (s *Service) ListForCustomer(ctx context.Context, caller *auth.Principal, customerID string) ([]*stripe.Subscription, error) {
	const op = "billing.list"
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, boerrors.Validation(op, "Customer ID is required")
	}
	if !stripe.IsSafeStripeID(customerID) {
		return nil, boerrors.Validation(op, "Invalid customer ID")
	}
	if !caller.IsAdmin() {
		owner, err := s.store.GetUserByStripeCustomerID(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("load customer owner: %w", err)
		}
		if owner == nil || owner.ID != caller.UserID {
			return nil, boerrors.Forbidden(op)
		}
	}
	return s.stripe.ListCustomerSubscriptions(ctx, customerID)
}

// Update changes the price, quantity or metadata of a subscription. Price and
// quantity changes are applied to the same item together.
func (s *Service) Update(ctx context.Context, caller *auth.Principal, id string, req UpdateRequest) (*stripe.Subscription, error) {
	const op = "billing.update"
	if req.PriceID == nil && req.Quantity == nil && len(req.Metadata) == 0 {
		return nil, boerrors.Validation(op, "At least one update parameter is required")
	}
	if req.Quantity != nil && *req.Quantity <= 0 {
		return nil, boerrors.Validation(op, "Quantity must be at least 1")
	}

	local, err := s.authorize(ctx, op, caller, id)
	if err != nil {
		return nil, err
	}

	in := stripe.UpdateSubscriptionInput{Quantity: req.Quantity, Metadata: req.Metadata}
	var newPrice *store.Price
	var newProduct *store.Product
	if req.PriceID != nil {
		p, prod, err := s.resolvePrice(ctx, op, *req.PriceID)
		if err != nil {
			return nil, err
		}
		newPrice, newProduct = p, prod
		in.PriceID = &p.StripePriceID
	}

	updated, err := s.stripe.UpdateSubscription(ctx, id, in)
	if err != nil {
		return nil, err
	}

	var changes []string
	var events []activity.Entry
	if newPrice != nil && newPrice.ID != local.PriceID {
		changes = append(changes, "Price updated to "+FormatAmount(newPrice.UnitAmount, newPrice.Currency))
		events = append(events, activity.Entry{
			Type: activity.PriceUpdated,
			Metadata: map[string]any{
				"currency":  strings.ToUpper(newPrice.Currency),
				"newAmount": newPrice.UnitAmount,
				"priceId":   newPrice.ID,
			},
		})
		local.PriceID = newPrice.ID
		local.ProductID = newProduct.ID
	}
	if req.Quantity != nil && *req.Quantity != local.Quantity {
		changes = append(changes, fmt.Sprintf("Quantity updated from %d to %d", local.Quantity, *req.Quantity))
		events = append(events, activity.Entry{
			Type: activity.QuantityUpdated,
			Metadata: map[string]any{
				"oldQuantity": local.Quantity,
				"newQuantity": *req.Quantity,
			},
		})
		local.Quantity = *req.Quantity
	}
	local.Status = updated.Status
	if err := s.store.UpdateSubscription(ctx, local); err != nil {
		return nil, fmt.Errorf("record subscription update %s: %w", id, err)
	}

	total := updated.Total()
	if _, err := s.store.UpdateOrdersForSubscription(ctx, id, store.OrderUpdate{
		Total:    &total,
		Metadata: map[string]any{"subscriptionStatus": updated.Status},
	}); err != nil {
		return nil, fmt.Errorf("update orders for %s: %w", id, err)
	}

	log.Info().Str("subscription", id).Strs("changes", changes).Msg("Subscription updated")

	for _, e := range events {
		e.UserID = local.UserID
		e.SubscriptionID = local.ID
		s.logActivity(ctx, e)
	}
	s.logActivity(ctx, activity.Entry{
		Type:           activity.SubscriptionUpdated,
		UserID:         local.UserID,
		SubscriptionID: local.ID,
		Metadata:       map[string]any{"changes": changesOrEmpty(changes)},
	})

	if len(changes) > 0 {
		user, product := s.owner(ctx, local)
		s.notify(ctx, "subscription_updated", user, func() (email.Message, error) {
			return email.RenderSubscriptionUpdatedEmail(email.SubscriptionUpdatedData{
				CustomerName:    customerName(user),
				ProductName:     productName(product),
				Changes:         changes,
				NextBillingDate: s.nextBillingDate(updated, ""),
			})
		})
	}
	return updated, nil
}

// Cancel cancels a subscription immediately and marks its orders cancelled.
func (s *Service) Cancel(ctx context.Context, caller *auth.Principal, id string) (*stripe.Subscription, error) {
	const op = "billing.cancel"
	local, err := s.authorize(ctx, op, caller, id)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.stripe.CancelSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	effective := s.now().UTC()
	if cancelled.CanceledAt > 0 {
		effective = time.Unix(cancelled.CanceledAt, 0).UTC()
	}
	if local.CancelledAt == nil {
		local.CancelledAt = &effective
	}
	local.Status = cancelled.Status
	if err := s.store.UpdateSubscription(ctx, local); err != nil {
		return nil, fmt.Errorf("record cancellation %s: %w", id, err)
	}

	status := store.OrderCancelled
	if _, err := s.store.UpdateOrdersForSubscription(ctx, id, store.OrderUpdate{
		Status:   &status,
		Metadata: map[string]any{"subscriptionStatus": cancelled.Status},
	}); err != nil {
		return nil, fmt.Errorf("cancel orders for %s: %w", id, err)
	}

	log.Info().Str("subscription", id).Time("effective", effective).Msg("Subscription cancelled")

	user, product := s.owner(ctx, local)
	s.logActivity(ctx, activity.Entry{
		Type:           activity.SubscriptionCancelled,
		UserID:         local.UserID,
		SubscriptionID: local.ID,
		Metadata: map[string]any{
			"effectiveDate": effective.Format(time.RFC3339),
			"productName":   productName(product),
		},
	})
	s.notify(ctx, "subscription_cancelled", user, func() (email.Message, error) {
		return email.RenderSubscriptionCancelledEmail(email.SubscriptionCancelledData{
			CustomerName: customerName(user),
			ProductName:  productName(product),
			EndDate:      effective,
		})
	})
	return cancelled, nil
}

// authorize loads the local record of a Stripe subscription and checks the
// caller owns it or is an admin.
func (s *Service) authorize(ctx context.Context, op string, caller *auth.Principal, id string) (*store.Subscription, error) {
	id = strings.TrimSpace(id)
	if !stripe.IsSafeStripeID(id) {
		return nil, boerrors.Validation(op, "Invalid subscription ID")
	}
	local, err := s.store.GetSubscriptionByStripeID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load subscription %s: %w", id, err)
	}
	if local == nil {
		return nil, boerrors.NotFound(op, "Subscription")
	}
	if !caller.IsAdmin() && local.UserID != caller.UserID {
		return nil, boerrors.Forbidden(op)
	}
	return local, nil
}

// resolvePrice accepts either a local price ID or a Stripe price ID.
func (s *Service) resolvePrice(ctx context.Context, op, id string) (*store.Price, *store.Product, error) {
	price, err := s.store.GetPrice(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load price: %w", err)
	}
	if price == nil {
		if price, err = s.store.GetPriceByStripeID(ctx, id); err != nil {
			return nil, nil, fmt.Errorf("load price: %w", err)
		}
	}
	if price == nil {
		return nil, nil, boerrors.NotFound(op, "Price")
	}
	if price.StripePriceID == "" || price.Interval == "" {
		return nil, nil, boerrors.Validation(op, "Price is not available as a subscription")
	}
	product, err := s.store.GetProduct(ctx, price.ProductID)
	if err != nil {
		return nil, nil, fmt.Errorf("load product: %w", err)
	}
	if product == nil || !product.Active {
		return nil, nil, boerrors.Validation(op, "Product is not available")
	}
	return price, product, nil
}

func (s *Service) ensureCustomer(ctx context.Context, u *store.User) error {
	if u.StripeCustomerID != "" {
		return nil
	}
	id, err := s.stripe.CreateCustomer(ctx, u.Email, u.Name, map[string]string{"userId": u.ID})
	if err != nil {
		return err
	}
	u.StripeCustomerID = id
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("save stripe customer for %s: %w", u.ID, err)
	}
	log.Info().Str("user_id", u.ID).Str("customer", id).Msg("Stripe customer created")
	return nil
}

// owner loads the user and product of a subscription for notifications.
// Lookup failures are logged and yield nil.
func (s *Service) owner(ctx context.Context, sub *store.Subscription) (*store.User, *store.Product) {
	user, err := s.store.GetUser(ctx, sub.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", sub.UserID).Msg("Failed to load subscription owner")
	}
	product, err := s.store.GetProduct(ctx, sub.ProductID)
	if err != nil {
		log.Warn().Err(err).Str("product_id", sub.ProductID).Msg("Failed to load subscription product")
	}
	return user, product
}

// logActivity records e. The Stripe mutation has already happened, so a
// failure here is logged rather than returned.
func (s *Service) logActivity(ctx context.Context, e activity.Entry) {
	if s.activity == nil || e.UserID == "" {
		return
	}
	if _, err := s.activity.Log(ctx, e); err != nil {
		log.Warn().Err(err).Str("type", string(e.Type)).Msg("Activity not recorded")
	}
}

// notify renders and sends a customer email. Failures are logged only.
func (s *Service) notify(ctx context.Context, template string, to *store.User, render func() (email.Message, error)) {
	if s.mailer == nil || to == nil || to.Email == "" {
		return
	}
	msg, err := render()
	if err != nil {
		log.Error().Err(err).Str("template", template).Msg("Failed to render email")
		return
	}
	_ = s.mailer.Deliver(ctx, template, to.Email, msg)
}

// nextBillingDate is the end of the current period, or one interval from now
// when Stripe did not report it.
func (s *Service) nextBillingDate(sub *stripe.Subscription, interval string) time.Time {
	if item := sub.FirstItem(); item != nil {
		if item.CurrentPeriodEnd > 0 {
			return time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
		if interval == "" && item.Price.Recurring != nil {
			interval = item.Price.Recurring.Interval
		}
	}
	now := s.now().UTC()
	switch interval {
	case "year":
		return now.AddDate(1, 0, 0)
	case "week":
		return now.AddDate(0, 0, 7)
	case "day":
		return now.AddDate(0, 0, 1)
	}
	return now.AddDate(0, 1, 0)
}

// FormatAmount renders minor units as "AUD 49.99".
func FormatAmount(minor int64, currency string) string {
	amount := decimal.New(minor, -2).StringFixed(2)
	if currency == "" {
		return amount
	}
	return strings.ToUpper(currency) + " " + amount
}

func customerName(u *store.User) string {
	if u == nil || strings.TrimSpace(u.Name) == "" {
		return defaultCustomerName
	}
	return u.Name
}

func productName(p *store.Product) string {
	if p == nil {
		return "your subscription"
	}
	return p.Name
}

func changesOrEmpty(c []string) []string {
	if c == nil {
		return []string{}
	}
	return c
}
