package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"itemreminder/go-server/internal/model"
)

// CreateUser inserts a user record, generating an ID when none is supplied.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, push_token, email_notifications, push_notifications, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.PushToken, u.EmailNotifications, u.PushNotifications,
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserByID returns one user.
func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?;`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// UpdateUser rewrites profile and notification preference fields.
func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	u.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = ?, name = ?, push_token = ?,
			email_notifications = ?, push_notifications = ?, updated_at = ?
		WHERE id = ?;`,
		u.Email, u.Name, u.PushToken, u.EmailNotifications, u.PushNotifications,
		u.UpdatedAt, u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearPushToken drops a push token the provider rejected as invalid.
func (s *Store) ClearPushToken(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET push_token = '', updated_at = ? WHERE id = ?;`,
		time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("clear push token: %w", err)
	}
	return nil
}
