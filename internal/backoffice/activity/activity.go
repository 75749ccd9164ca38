package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
)

// Type identifies the kind of event recorded in the activity log.
type Type string

const (
	SubscriptionCreated   Type = "subscription_created"
	SubscriptionUpdated   Type = "subscription_updated"
	SubscriptionCancelled Type = "subscription_cancelled"
	PaymentSucceeded      Type = "payment_succeeded"
	PaymentFailed         Type = "payment_failed"
	QuantityUpdated       Type = "quantity_updated"
	PriceUpdated          Type = "price_updated"
)

// Valid reports whether t is one of the known activity types.
func (t Type) Valid() bool {
	switch t {
	case SubscriptionCreated, SubscriptionUpdated, SubscriptionCancelled,
		PaymentSucceeded, PaymentFailed, QuantityUpdated, PriceUpdated:
		return true
	}
	return false
}

const (
	DefaultListLimit   = 50
	DefaultRecentLimit = 10
)

// Store is the persistence the activity log needs.
type Store interface {
	AppendActivity(ctx context.Context, e *store.ActivityEntry) error
	ListActivity(ctx context.Context, f store.ActivityFilter) (int, []*store.ActivityEntry, error)
}

// Entry is the caller-supplied part of an activity record.
type Entry struct {
	Type           Type
	UserID         string
	SubscriptionID string
	Metadata       map[string]any
}

// Page is one page of activity with the unpaged total.
type Page struct {
	Total      int                    `json:"total"`
	Activities []*store.ActivityEntry `json:"activities"`
}

// Logger appends to and reads from the activity log. New entries are
// published to the optional broadcaster for live subscribers.
type Logger struct {
	store       Store
	broadcaster *Broadcaster
	now         func() time.Time
}

// NewLogger creates an activity logger. broadcaster may be nil.
func NewLogger(s Store, broadcaster *Broadcaster) *Logger {
	return &Logger{store: s, broadcaster: broadcaster, now: time.Now}
}

// Log records an entry stamped with the current time.
func (l *Logger) Log(ctx context.Context, e Entry) (*store.ActivityEntry, error) {
	if !e.Type.Valid() {
		return nil, fmt.Errorf("unknown activity type %q", e.Type)
	}
	if strings.TrimSpace(e.UserID) == "" {
		return nil, fmt.Errorf("activity user id is required")
	}

	rec := &store.ActivityEntry{
		ID:             ulid.Make().String(),
		Type:           string(e.Type),
		UserID:         e.UserID,
		SubscriptionID: e.SubscriptionID,
		Metadata:       e.Metadata,
		Timestamp:      l.now().UTC(),
	}
	if err := l.store.AppendActivity(ctx, rec); err != nil {
		log.Error().Err(err).Str("type", rec.Type).Str("user_id", rec.UserID).Msg("Failed to log activity")
		return nil, err
	}
	if l.broadcaster != nil {
		l.broadcaster.Publish(rec)
	}
	return rec, nil
}

// List returns a filtered page of activity, newest first. A zero limit
// means DefaultListLimit.
func (l *Logger) List(ctx context.Context, f store.ActivityFilter) (*Page, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	total, entries, err := l.store.ListActivity(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	if entries == nil {
		entries = []*store.ActivityEntry{}
	}
	return &Page{Total: total, Activities: entries}, nil
}

// Recent returns the latest entries across all users.
func (l *Logger) Recent(ctx context.Context, limit int) ([]*store.ActivityEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	page, err := l.List(ctx, store.ActivityFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	return page.Activities, nil
}

// FormatMessage renders a human readable line for an activity entry.
func FormatMessage(e *store.ActivityEntry) string {
	md := e.Metadata
	switch Type(e.Type) {
	case SubscriptionCreated:
		return fmt.Sprintf("Subscription created for %s", metaString(md, "productName"))
	case SubscriptionUpdated:
		return fmt.Sprintf("Subscription updated: %s", strings.Join(metaStrings(md, "changes"), ", "))
	case SubscriptionCancelled:
		effective := metaString(md, "effectiveDate")
		if t, err := time.Parse(time.RFC3339Nano, effective); err == nil {
			effective = t.Format("02/01/2006")
		}
		return fmt.Sprintf("Subscription cancelled. Effective: %s", effective)
	case PaymentSucceeded:
		return fmt.Sprintf("Payment of %s %s succeeded", metaString(md, "currency"), majorUnits(md, "amount"))
	case PaymentFailed:
		return fmt.Sprintf("Payment of %s %s failed", metaString(md, "currency"), majorUnits(md, "amount"))
	case QuantityUpdated:
		return fmt.Sprintf("Quantity updated from %s to %s", metaString(md, "oldQuantity"), metaString(md, "newQuantity"))
	case PriceUpdated:
		return fmt.Sprintf("Price updated to %s %s", metaString(md, "currency"), majorUnits(md, "newAmount"))
	default:
		return "Activity logged"
	}
}

func metaString(md map[string]any, key string) string {
	switch v := md[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func metaStrings(md map[string]any, key string) []string {
	switch v := md[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

func majorUnits(md map[string]any, key string) string {
	var minor float64
	switch v := md[key].(type) {
	case float64:
		minor = v
	case int64:
		minor = float64(v)
	case int:
		minor = float64(v)
	case json.Number:
		minor, _ = v.Float64()
	}
	return strconv.FormatFloat(minor/100, 'f', 2, 64)
}
