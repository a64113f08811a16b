package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"itemreminder/go-server/internal/model"
)

// AlertFilter narrows AlertsForUser queries.
type AlertFilter struct {
	ItemID string
	Type   string
	Read   *bool
	Limit  int
}

// InsertAlert persists a freshly created alert.
func (s *Store) InsertAlert(ctx context.Context, a *model.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Severity == "" {
		a.Severity = model.SeverityInfo
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, user_id, item_id, type, severity, message, context,
			read, notification_sent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.ItemID, a.Type, a.Severity, a.Message, a.Context,
		a.Read, a.NotificationSent, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// AlertsForUser lists a user's alerts newest first, bounded by filter.Limit.
func (s *Store) AlertsForUser(ctx context.Context, userID string, filter AlertFilter) ([]model.Alert, error) {
	query := `SELECT * FROM alerts WHERE user_id = ?`
	args := []any{userID}

	if filter.ItemID != "" {
		query += ` AND item_id = ?`
		args = append(args, filter.ItemID)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	if filter.Read != nil {
		query += ` AND read = ?`
		args = append(args, *filter.Read)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC LIMIT ?;`
	args = append(args, limit)

	var alerts []model.Alert
	if err := s.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	return alerts, nil
}

// MarkAlertRead flips the read flag for one of the user's alerts.
func (s *Store) MarkAlertRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET read = 1 WHERE id = ? AND user_id = ?;`, id, userID)
	if err != nil {
		return fmt.Errorf("mark alert read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAlertNotificationSent records that at least one delivery succeeded.
func (s *Store) MarkAlertNotificationSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET notification_sent = 1 WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// DeleteAlert removes one of the user's alerts.
func (s *Store) DeleteAlert(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM alerts WHERE id = ? AND user_id = ?;`, id, userID)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
