package store

import (
	"context"
	"fmt"
	"strings"
)

// CreateReportRegistration stores a registration. A second registration for
// the same email fails with ErrDuplicate.
func (s *Store) CreateReportRegistration(ctx context.Context, r *ReportRegistration) error {
	if r == nil {
		return fmt.Errorf("registration is nil")
	}
	r.Email = normalizeEmail(r.Email)
	r.Company = strings.TrimSpace(r.Company)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO report_registrations (
			email, company, state, first_name, last_name, marketing_opt_in, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Email, r.Company, r.State, r.FirstName, r.LastName, boolToInt(r.MarketingOptIn), toMillis(r.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create report registration %q: %w", r.Email, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create report registration: %w", err)
	}
	return nil
}

// ListReportRegistrations returns the total matching state (all when empty)
// and one page of registrations, newest first.
func (s *Store) ListReportRegistrations(ctx context.Context, state string, limit, offset int) (int, []*ReportRegistration, error) {
	clause := ""
	var args []any
	if state != "" {
		clause = " WHERE state = ?"
		args = append(args, state)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM report_registrations`+clause, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count report registrations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT email, company, state, first_name, last_name, marketing_opt_in, created_at
		FROM report_registrations`+clause+` ORDER BY created_at DESC, email ASC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return 0, nil, fmt.Errorf("list report registrations: %w", err)
	}
	defer rows.Close()

	var out []*ReportRegistration
	for rows.Next() {
		var r ReportRegistration
		var optIn int
		var createdAt int64
		if err := rows.Scan(&r.Email, &r.Company, &r.State, &r.FirstName, &r.LastName, &optIn, &createdAt); err != nil {
			return 0, nil, fmt.Errorf("scan report registration: %w", err)
		}
		r.MarketingOptIn = optIn != 0
		r.CreatedAt = fromMillis(createdAt)
		out = append(out, &r)
	}
	return total, out, rows.Err()
}
