package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateProduct inserts a catalogue product.
func (s *Store) CreateProduct(ctx context.Context, p *Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.Category == "" {
		p.Category = CategorySubscription
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO products (
			id, name, description, category, stripe_product_id, stripe_price_id, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, string(p.Category), p.StripeProductID, p.StripePriceID,
		boolToInt(p.Active), toMillis(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// GetProduct retrieves a product by ID. It returns nil, nil when not found.
func (s *Store) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, name, description, category, stripe_product_id, stripe_price_id, active, created_at
		FROM products WHERE id = ?`, id)
	return scanProduct(row)
}

// ListProducts returns every product ordered by name.
func (s *Store) ListProducts(ctx context.Context) ([]*Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, name, description, category, stripe_product_id, stripe_price_id, active, created_at
		FROM products ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CreatePrice inserts a price for a product.
func (s *Store) CreatePrice(ctx context.Context, p *Price) error {
	if p == nil {
		return fmt.Errorf("price is nil")
	}
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.Currency == "" {
		p.Currency = "aud"
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO prices (
			id, product_id, unit_amount, currency, interval, stripe_price_id
		) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProductID, p.UnitAmount, p.Currency, p.Interval, p.StripePriceID,
	)
	if err != nil {
		return fmt.Errorf("create price: %w", err)
	}
	return nil
}

// GetPrice retrieves a price by ID. It returns nil, nil when not found.
func (s *Store) GetPrice(ctx context.Context, id string) (*Price, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, product_id, unit_amount, currency, interval, stripe_price_id
		FROM prices WHERE id = ?`, id)
	return scanPrice(row)
}

// GetPriceByStripeID retrieves the local price mirroring a Stripe price.
func (s *Store) GetPriceByStripeID(ctx context.Context, stripePriceID string) (*Price, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, product_id, unit_amount, currency, interval, stripe_price_id
		FROM prices WHERE stripe_price_id = ?`, stripePriceID)
	return scanPrice(row)
}

func scanProduct(sc scanner) (*Product, error) {
	var p Product
	var category string
	var active int
	var createdAt int64
	err := sc.Scan(&p.ID, &p.Name, &p.Description, &category, &p.StripeProductID, &p.StripePriceID, &active, &createdAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.Category = ProductCategory(category)
	p.Active = active != 0
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

func scanPrice(sc scanner) (*Price, error) {
	var p Price
	err := sc.Scan(&p.ID, &p.ProductID, &p.UnitAmount, &p.Currency, &p.Interval, &p.StripePriceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan price: %w", err)
	}
	return &p, nil
}
