package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AppendActivity inserts an activity entry. Entries are never updated.
func (s *Store) AppendActivity(ctx context.Context, e *ActivityEntry) error {
	if e == nil {
		return fmt.Errorf("activity entry is nil")
	}
	if e.ID == "" {
		return fmt.Errorf("activity entry id is empty")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO activity_log (
			id, type, user_id, subscription_id, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.UserID, e.SubscriptionID, meta, toMillis(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivity returns the total number of entries matching f and the
// requested page, newest first. A zero Limit means no limit.
func (s *Store) ListActivity(ctx context.Context, f ActivityFilter) (int, []*ActivityEntry, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "a.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.SubscriptionID != "" {
		where = append(where, "a.subscription_id = ?")
		args = append(args, f.SubscriptionID)
	}
	if f.Type != "" {
		where = append(where, "a.type = ?")
		args = append(args, f.Type)
	}
	if f.Start != nil {
		where = append(where, "a.timestamp >= ?")
		args = append(args, toMillis(*f.Start))
	}
	if f.End != nil {
		where = append(where, "a.timestamp <= ?")
		args = append(args, toMillis(*f.End))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log a`+clause, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count activity: %w", err)
	}

	query := `SELECT a.id, a.type, a.user_id, a.subscription_id, a.metadata, a.timestamp, u.name, u.email
		FROM activity_log a LEFT JOIN users u ON u.id = a.user_id` + clause +
		` ORDER BY a.timestamp DESC, a.id DESC`
	pageArgs := append([]any(nil), args...)
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		pageArgs = append(pageArgs, f.Limit, max(f.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return 0, nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []*ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var meta string
		var ts int64
		var name, email sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &e.UserID, &e.SubscriptionID, &meta, &ts, &name, &email); err != nil {
			return 0, nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Timestamp = fromMillis(ts)
		if e.Metadata, err = decodeMetadata(meta); err != nil {
			return 0, nil, fmt.Errorf("decode activity metadata: %w", err)
		}
		if name.Valid || email.Valid {
			e.User = &CustomerRef{Name: name.String, Email: email.String}
		}
		entries = append(entries, &e)
	}
	return total, entries, rows.Err()
}
