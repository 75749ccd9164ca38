package store

import (
	"context"
	"fmt"
	"strings"
)

const userColumns = `id, email, name, role, phone, abn,
	address_line1, city, state, postcode, country,
	password_hash, stripe_customer_id, created_at, updated_at`

// CreateUser inserts a new user. Emails are stored lower-cased.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u == nil {
		return fmt.Errorf("user is nil")
	}
	if u.ID == "" {
		u.ID = NewID()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	u.Email = normalizeEmail(u.Email)
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, string(u.Role), u.Phone, u.ABN,
		u.Address.Line1, u.Address.City, u.Address.State, u.Address.Postcode, u.Address.Country,
		u.PasswordHash, u.StripeCustomerID, toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create user %q: %w", u.Email, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID. It returns nil, nil when not found.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email))
	return scanUser(row)
}

// GetUserByStripeCustomerID retrieves the user linked to a Stripe customer.
func (s *Store) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE stripe_customer_id = ?`, customerID)
	return scanUser(row)
}

// UpdateUser modifies an existing user record.
func (s *Store) UpdateUser(ctx context.Context, u *User) error {
	if u == nil {
		return fmt.Errorf("user is nil")
	}
	u.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE users SET
			email = ?, name = ?, role = ?, phone = ?, abn = ?,
			address_line1 = ?, city = ?, state = ?, postcode = ?, country = ?,
			password_hash = ?, stripe_customer_id = ?, updated_at = ?
		WHERE id = ?`,
		normalizeEmail(u.Email), u.Name, string(u.Role), u.Phone, u.ABN,
		u.Address.Line1, u.Address.City, u.Address.State, u.Address.Postcode, u.Address.Country,
		u.PasswordHash, u.StripeCustomerID, toMillis(u.UpdatedAt),
		u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("user %q not found", u.ID)
	}
	return nil
}

// CountUsers returns the total number of users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func scanUser(sc scanner) (*User, error) {
	var u User
	var role string
	var createdAt, updatedAt int64
	err := sc.Scan(
		&u.ID, &u.Email, &u.Name, &role, &u.Phone, &u.ABN,
		&u.Address.Line1, &u.Address.City, &u.Address.State, &u.Address.Postcode, &u.Address.Country,
		&u.PasswordHash, &u.StripeCustomerID, &createdAt, &updatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = Role(role)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
