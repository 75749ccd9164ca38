package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// OrderUpdate carries the fields to change on orders for a subscription.
// Nil fields are left untouched; Metadata keys are merged.
type OrderUpdate struct {
	Status   *OrderStatus
	Total    *int64
	Metadata map[string]any
}

// CreateOrder inserts a new order.
func (s *Store) CreateOrder(ctx context.Context, o *Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}
	if o.ID == "" {
		o.ID = NewID()
	}
	if o.Status == "" {
		o.Status = OrderPending
	}
	now := s.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	meta, err := encodeMetadata(o.Metadata)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO orders (
			id, user_id, status, total, currency, stripe_subscription_id, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, string(o.Status), o.Total, o.Currency, o.StripeSubscriptionID, meta,
		toMillis(o.CreatedAt), toMillis(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by ID. It returns nil, nil when not found.
func (s *Store) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, user_id, status, total, currency, stripe_subscription_id, metadata, created_at, updated_at
		FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// ListOrdersForSubscription returns the orders linked to a Stripe subscription.
func (s *Store) ListOrdersForSubscription(ctx context.Context, stripeSubscriptionID string) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, user_id, status, total, currency, stripe_subscription_id, metadata, created_at, updated_at
		FROM orders WHERE stripe_subscription_id = ? ORDER BY created_at ASC`, stripeSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list orders for subscription: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrdersForSubscription applies upd to every order of a Stripe
// subscription and returns how many were changed.
func (s *Store) UpdateOrdersForSubscription(ctx context.Context, stripeSubscriptionID string, upd OrderUpdate) (int, error) {
	orders, err := s.ListOrdersForSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	for _, o := range orders {
		if upd.Status != nil {
			o.Status = *upd.Status
		}
		if upd.Total != nil {
			o.Total = *upd.Total
		}
		if len(upd.Metadata) > 0 {
			if o.Metadata == nil {
				o.Metadata = make(map[string]any, len(upd.Metadata))
			}
			for k, v := range upd.Metadata {
				o.Metadata[k] = v
			}
		}
		meta, err := encodeMetadata(o.Metadata)
		if err != nil {
			return 0, fmt.Errorf("update order %s: %w", o.ID, err)
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE orders SET status = ?, total = ?, metadata = ?, updated_at = ? WHERE id = ?`,
			string(o.Status), o.Total, meta, toMillis(now), o.ID); err != nil {
			return 0, fmt.Errorf("update order %s: %w", o.ID, err)
		}
	}
	return len(orders), nil
}

// CountOrdersByStatus returns a map of status -> count.
func (s *Store) CountOrdersByStatus(ctx context.Context) (map[OrderStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count orders by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[OrderStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[OrderStatus(status)] = count
	}
	return counts, rows.Err()
}

func scanOrder(sc scanner) (*Order, error) {
	var o Order
	var status, meta string
	var createdAt, updatedAt int64
	err := sc.Scan(&o.ID, &o.UserID, &status, &o.Total, &o.Currency, &o.StripeSubscriptionID, &meta, &createdAt, &updatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = OrderStatus(status)
	o.CreatedAt = fromMillis(createdAt)
	o.UpdatedAt = fromMillis(updatedAt)
	if o.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, fmt.Errorf("decode order metadata: %w", err)
	}
	return &o, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
