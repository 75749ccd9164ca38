package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const subscriptionColumns = `s.id, s.user_id, s.product_id, s.price_id, s.quantity,
	s.stripe_subscription_id, s.status, s.created_at, s.updated_at, s.cancelled_at, s.ended_at`

const subscriptionDetailSelect = `SELECT ` + subscriptionColumns + `,
	COALESCE(u.name, ''), COALESCE(u.email, ''),
	p.id, p.name, p.description, p.category, p.stripe_product_id, p.stripe_price_id, p.active, p.created_at,
	pr.id, pr.product_id, pr.unit_amount, pr.currency, pr.interval, pr.stripe_price_id
	FROM subscriptions s
	JOIN products p ON p.id = s.product_id
	JOIN prices pr ON pr.id = s.price_id
	LEFT JOIN users u ON u.id = s.user_id`

// CreateSubscription inserts a new local subscription record.
func (s *Store) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription is nil")
	}
	if sub.ID == "" {
		sub.ID = NewID()
	}
	if sub.Quantity <= 0 {
		sub.Quantity = 1
	}
	now := s.now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO subscriptions (
			id, user_id, product_id, price_id, quantity,
			stripe_subscription_id, status, created_at, updated_at, cancelled_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.ProductID, sub.PriceID, sub.Quantity,
		sub.StripeSubscriptionID, sub.Status, toMillis(sub.CreatedAt), toMillis(sub.UpdatedAt),
		nullableMillis(sub.CancelledAt), nullableMillis(sub.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID. It returns nil, nil when not found.
func (s *Store) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions s WHERE s.id = ?`, id)
	return scanSubscription(row)
}

// GetSubscriptionByStripeID retrieves the local mirror of a Stripe subscription.
func (s *Store) GetSubscriptionByStripeID(ctx context.Context, stripeID string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+`
		FROM subscriptions s WHERE s.stripe_subscription_id = ?`, stripeID)
	return scanSubscription(row)
}

// UpdateSubscription modifies an existing subscription record.
func (s *Store) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription is nil")
	}
	sub.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE subscriptions SET
			product_id = ?, price_id = ?, quantity = ?, stripe_subscription_id = ?, status = ?,
			updated_at = ?, cancelled_at = ?, ended_at = ?
		WHERE id = ?`,
		sub.ProductID, sub.PriceID, sub.Quantity, sub.StripeSubscriptionID, sub.Status,
		toMillis(sub.UpdatedAt), nullableMillis(sub.CancelledAt), nullableMillis(sub.EndedAt),
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("subscription %q not found", sub.ID)
	}
	return nil
}

// ListSubscriptionsCreatedBetween returns subscriptions created within
// [start, end], joined with customer, product and price, oldest first.
func (s *Store) ListSubscriptionsCreatedBetween(ctx context.Context, start, end time.Time) ([]*SubscriptionDetail, error) {
	rows, err := s.db.QueryContext(ctx, subscriptionDetailSelect+`
		WHERE s.created_at >= ? AND s.created_at <= ?
		ORDER BY s.created_at ASC, s.id ASC`, toMillis(start), toMillis(end))
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by creation window: %w", err)
	}
	defer rows.Close()
	return scanSubscriptionDetails(rows)
}

// ListSubscriptionsOverlapping returns subscriptions that were live at some
// point in [from, to]: created no later than to, and either never cancelled
// or cancelled no earlier than from.
func (s *Store) ListSubscriptionsOverlapping(ctx context.Context, from, to time.Time) ([]*SubscriptionDetail, error) {
	rows, err := s.db.QueryContext(ctx, subscriptionDetailSelect+`
		WHERE s.created_at <= ? AND (s.cancelled_at IS NULL OR s.cancelled_at >= ?)
		ORDER BY s.created_at ASC, s.id ASC`, toMillis(to), toMillis(from))
	if err != nil {
		return nil, fmt.Errorf("list subscriptions overlapping window: %w", err)
	}
	defer rows.Close()
	return scanSubscriptionDetails(rows)
}

// ListActiveSubscriptions returns every subscription that is neither
// cancelled nor ended, regardless of when it was created.
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]*SubscriptionDetail, error) {
	rows, err := s.db.QueryContext(ctx, subscriptionDetailSelect+`
		WHERE s.cancelled_at IS NULL AND s.ended_at IS NULL
		ORDER BY s.created_at ASC, s.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptionDetails(rows)
}

// CountSubscriptionsByState returns the number of active and cancelled
// (cancelled or ended) subscriptions.
func (s *Store) CountSubscriptionsByState(ctx context.Context) (active, cancelled int, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN cancelled_at IS NULL AND ended_at IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN cancelled_at IS NOT NULL OR ended_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM subscriptions`)
	if err := row.Scan(&active, &cancelled); err != nil {
		return 0, 0, fmt.Errorf("count subscriptions by state: %w", err)
	}
	return active, cancelled, nil
}

func scanSubscription(sc scanner) (*Subscription, error) {
	var sub Subscription
	var createdAt, updatedAt int64
	var cancelledAt, endedAt sql.NullInt64
	err := sc.Scan(
		&sub.ID, &sub.UserID, &sub.ProductID, &sub.PriceID, &sub.Quantity,
		&sub.StripeSubscriptionID, &sub.Status, &createdAt, &updatedAt, &cancelledAt, &endedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.CreatedAt = fromMillis(createdAt)
	sub.UpdatedAt = fromMillis(updatedAt)
	sub.CancelledAt = timePtr(cancelledAt)
	sub.EndedAt = timePtr(endedAt)
	return &sub, nil
}

func scanSubscriptionDetails(rows *sql.Rows) ([]*SubscriptionDetail, error) {
	var out []*SubscriptionDetail
	for rows.Next() {
		var d SubscriptionDetail
		var createdAt, updatedAt, productCreatedAt int64
		var cancelledAt, endedAt sql.NullInt64
		var category string
		var active int
		err := rows.Scan(
			&d.ID, &d.UserID, &d.ProductID, &d.PriceID, &d.Quantity,
			&d.StripeSubscriptionID, &d.Status, &createdAt, &updatedAt, &cancelledAt, &endedAt,
			&d.User.Name, &d.User.Email,
			&d.Product.ID, &d.Product.Name, &d.Product.Description, &category,
			&d.Product.StripeProductID, &d.Product.StripePriceID, &active, &productCreatedAt,
			&d.Price.ID, &d.Price.ProductID, &d.Price.UnitAmount, &d.Price.Currency,
			&d.Price.Interval, &d.Price.StripePriceID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan subscription detail: %w", err)
		}
		d.CreatedAt = fromMillis(createdAt)
		d.UpdatedAt = fromMillis(updatedAt)
		d.CancelledAt = timePtr(cancelledAt)
		d.EndedAt = timePtr(endedAt)
		d.Product.Category = ProductCategory(category)
		d.Product.Active = active != 0
		d.Product.CreatedAt = fromMillis(productCreatedAt)
		out = append(out, &d)
	}
	return out, rows.Err()
}
