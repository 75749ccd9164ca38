package store

import (
	"errors"
	"time"
)

// ErrDuplicate is returned when a unique key already exists.
var ErrDuplicate = errors.New("record already exists")

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Address is a postal address as captured at checkout.
type Address struct {
	Line1    string `json:"line1"`
	City     string `json:"city"`
	State    string `json:"state"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

// User is a customer or administrator account.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Role             Role      `json:"role"`
	Phone            string    `json:"phone,omitempty"`
	ABN              string    `json:"abn,omitempty"`
	Address          Address   `json:"address"`
	PasswordHash     string    `json:"-"`
	StripeCustomerID string    `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ProductCategory string

const (
	CategoryOneTime      ProductCategory = "one_time"
	CategorySubscription ProductCategory = "subscription"
)

// Product is a sellable item in the catalogue.
type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Category        ProductCategory `json:"category"`
	StripeProductID string          `json:"stripe_product_id,omitempty"`
	StripePriceID   string          `json:"stripe_price_id,omitempty"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Price is the amount charged for a product, in minor currency units.
type Price struct {
	ID            string `json:"id"`
	ProductID     string `json:"product_id"`
	UnitAmount    int64  `json:"unit_amount"`
	Currency      string `json:"currency"`
	Interval      string `json:"interval,omitempty"`
	StripePriceID string `json:"stripe_price_id,omitempty"`
}

// Subscription is a customer's recurring purchase of a product at a price.
type Subscription struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	ProductID            string     `json:"product_id"`
	PriceID              string     `json:"price_id"`
	Quantity             int64      `json:"quantity"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	Status               string     `json:"status,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	CancelledAt          *time.Time `json:"cancelled_at"`
	EndedAt              *time.Time `json:"ended_at"`
}

// Active reports whether the subscription has neither been cancelled nor ended.
func (s *Subscription) Active() bool {
	return s.CancelledAt == nil && s.EndedAt == nil
}

// EffectiveQuantity treats a zero quantity as one unit.
func (s *Subscription) EffectiveQuantity() int64 {
	if s.Quantity <= 0 {
		return 1
	}
	return s.Quantity
}

// CustomerRef is the subset of a user joined onto subscription rows.
type CustomerRef struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SubscriptionDetail is a subscription joined with its customer, product and price.
type SubscriptionDetail struct {
	Subscription
	User    CustomerRef `json:"user"`
	Product Product     `json:"product"`
	Price   Price       `json:"price"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

// Order records a checkout, one-off or recurring.
type Order struct {
	ID                   string         `json:"id"`
	UserID               string         `json:"user_id"`
	Status               OrderStatus    `json:"status"`
	Total                int64          `json:"total"`
	Currency             string         `json:"currency"`
	StripeSubscriptionID string         `json:"stripe_subscription_id,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// ActivityEntry is one append-only audit trail record.
type ActivityEntry struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	UserID         string         `json:"user_id"`
	SubscriptionID string         `json:"subscription_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	User           *CustomerRef   `json:"user,omitempty"`
}

// ActivityFilter narrows ListActivity. Zero values mean "no filter".
type ActivityFilter struct {
	UserID         string
	SubscriptionID string
	Type           string
	Start          *time.Time
	End            *time.Time
	Limit          int
	Offset         int
}

type ReconciliationState string

const (
	ReconReceived        ReconciliationState = "received"
	ReconContactResolved ReconciliationState = "contact_resolved"
	ReconInvoiceCreated  ReconciliationState = "invoice_created"
	ReconDone            ReconciliationState = "done"
	ReconFailed          ReconciliationState = "failed"
)

// Reconciliation tracks one Stripe payment intent through invoicing in Xero.
type Reconciliation struct {
	PaymentIntentID string              `json:"payment_intent_id"`
	State           ReconciliationState `json:"state"`
	Email           string              `json:"email"`
	Amount          int64               `json:"amount"`
	Currency        string              `json:"currency"`
	XeroContactID   string              `json:"xero_contact_id,omitempty"`
	XeroInvoiceID   string              `json:"xero_invoice_id,omitempty"`
	LastError       string              `json:"last_error,omitempty"`
	Attempts        int                 `json:"attempts"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// ReportRegistration is a request for the published employment report.
type ReportRegistration struct {
	Email          string    `json:"email"`
	Company        string    `json:"company"`
	State          string    `json:"state"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	MarketingOptIn bool      `json:"marketing_opt_in"`
	CreatedAt      time.Time `json:"created_at"`
}
