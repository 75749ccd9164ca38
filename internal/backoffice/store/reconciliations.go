package store

import (
	"context"
	"fmt"
)

// GetReconciliation retrieves the record for a payment intent. It returns
// nil, nil when the payment has never been seen.
func (s *Store) GetReconciliation(ctx context.Context, paymentIntentID string) (*Reconciliation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		payment_intent_id, state, email, amount, currency, xero_contact_id, xero_invoice_id,
		last_error, attempts, created_at, updated_at
		FROM reconciliations WHERE payment_intent_id = ?`, paymentIntentID)

	var r Reconciliation
	var state string
	var createdAt, updatedAt int64
	err := row.Scan(&r.PaymentIntentID, &state, &r.Email, &r.Amount, &r.Currency,
		&r.XeroContactID, &r.XeroInvoiceID, &r.LastError, &r.Attempts, &createdAt, &updatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan reconciliation: %w", err)
	}
	r.State = ReconciliationState(state)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

// SaveReconciliation inserts or replaces the record for r.PaymentIntentID.
func (s *Store) SaveReconciliation(ctx context.Context, r *Reconciliation) error {
	if r == nil || r.PaymentIntentID == "" {
		return fmt.Errorf("reconciliation requires a payment intent id")
	}
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO reconciliations (
			payment_intent_id, state, email, amount, currency, xero_contact_id, xero_invoice_id,
			last_error, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payment_intent_id) DO UPDATE SET
			state = excluded.state,
			email = excluded.email,
			amount = excluded.amount,
			currency = excluded.currency,
			xero_contact_id = excluded.xero_contact_id,
			xero_invoice_id = excluded.xero_invoice_id,
			last_error = excluded.last_error,
			attempts = excluded.attempts,
			updated_at = excluded.updated_at`,
		r.PaymentIntentID, string(r.State), r.Email, r.Amount, r.Currency, r.XeroContactID, r.XeroInvoiceID,
		r.LastError, r.Attempts, toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save reconciliation: %w", err)
	}
	return nil
}

// CountReconciliationsByState returns a map of state -> count.
func (s *Store) CountReconciliationsByState(ctx context.Context) (map[ReconciliationState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM reconciliations GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count reconciliations by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[ReconciliationState]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[ReconciliationState(state)] = count
	}
	return counts, rows.Err()
}
