package stripe

import (
	"strings"

	"github.com/virtualcc/backoffice/internal/backoffice/store"
	"github.com/virtualcc/backoffice/internal/backoffice/xero"
)

// StripeAddress is a postal address as Stripe serialises it.
type StripeAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// PaymentIntent is a minimal representation of a Stripe payment_intent event.
type PaymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Description  string            `json:"description"`
	ReceiptEmail string            `json:"receipt_email"`
	Customer     string            `json:"customer"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
	Shipping     *struct {
		Name    string        `json:"name"`
		Phone   string        `json:"phone"`
		Address StripeAddress `json:"address"`
	} `json:"shipping"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// ToPayment converts the intent to the reconciler's input. The customer name
// and contact details come from checkout metadata, falling back to shipping.
func (p *PaymentIntent) ToPayment() xero.Payment {
	out := xero.Payment{
		ID:           p.ID,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Description:  p.Description,
		Email:        strings.TrimSpace(p.ReceiptEmail),
		CustomerName: strings.TrimSpace(p.Metadata["customer_name"]),
		Phone:        strings.TrimSpace(p.Metadata["phone"]),
		ABN:          strings.TrimSpace(p.Metadata["abn"]),
	}
	if out.Email == "" {
		out.Email = strings.TrimSpace(p.Metadata["email"])
	}
	if p.Shipping != nil {
		if out.CustomerName == "" {
			out.CustomerName = strings.TrimSpace(p.Shipping.Name)
		}
		if out.Phone == "" {
			out.Phone = strings.TrimSpace(p.Shipping.Phone)
		}
		out.Address = store.Address{
			Line1:    p.Shipping.Address.Line1,
			City:     p.Shipping.Address.City,
			State:    p.Shipping.Address.State,
			Postcode: p.Shipping.Address.PostalCode,
			Country:  p.Shipping.Address.Country,
		}
	}
	return out
}

// FailureMessage returns the decline reason, if Stripe reported one.
func (p *PaymentIntent) FailureMessage() string {
	if p.LastPaymentError == nil {
		return ""
	}
	return p.LastPaymentError.Message
}

// Invoice is a minimal representation of a Stripe invoice event.
type Invoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	AmountPaid    int64  `json:"amount_paid"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	// Subscription is set by API versions before 2025-03-31.
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// SubscriptionID returns the subscription the invoice bills, if any.
func (i *Invoice) SubscriptionID() string {
	if id := strings.TrimSpace(i.Parent.SubscriptionDetails.Subscription); id != "" {
		return id
	}
	return strings.TrimSpace(i.Subscription)
}

// SubscriptionItem is one price line of a subscription.
type SubscriptionItem struct {
	ID               string `json:"id"`
	Quantity         int64  `json:"quantity"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Price            struct {
		ID         string            `json:"id"`
		UnitAmount int64             `json:"unit_amount"`
		Currency   string            `json:"currency"`
		Metadata   map[string]string `json:"metadata"`
		Recurring  *struct {
			Interval string `json:"interval"`
		} `json:"recurring"`
	} `json:"price"`
}

// Subscription is a minimal representation of a Stripe subscription, as
// delivered by webhooks and returned by the API adapter.
type Subscription struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	Currency          string            `json:"currency"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Created           int64             `json:"created"`
	CanceledAt        int64             `json:"canceled_at"`
	EndedAt           int64             `json:"ended_at"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`

	// ClientSecret confirms the first payment of an incomplete subscription.
	// Only populated on creation.
	ClientSecret string `json:"-"`
}

// FirstItem returns the first subscription item, or nil.
func (s *Subscription) FirstItem() *SubscriptionItem {
	if len(s.Items.Data) == 0 {
		return nil
	}
	return &s.Items.Data[0]
}

// FirstPriceID returns the price ID from the first subscription item.
func (s *Subscription) FirstPriceID() string {
	for _, item := range s.Items.Data {
		if priceID := strings.TrimSpace(item.Price.ID); priceID != "" {
			return priceID
		}
	}
	return ""
}

// Total is the recurring amount of the first item in minor units.
func (s *Subscription) Total() int64 {
	item := s.FirstItem()
	if item == nil {
		return 0
	}
	qty := item.Quantity
	if qty <= 0 {
		qty = 1
	}
	return item.Price.UnitAmount * qty
}

// IsSafeStripeID validates that a Stripe ID (cus_..., sub_...) is safe for
// use as a lookup key and in request paths.
func IsSafeStripeID(stripeID string) bool {
	if len(stripeID) < 5 || len(stripeID) > 128 {
		return false
	}
	for i := 0; i < len(stripeID); i++ {
		c := stripeID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
