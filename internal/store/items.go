package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"itemreminder/go-server/internal/model"
)

// CreateItem inserts a new item, generating an ID when none is supplied.
func (s *Store) CreateItem(ctx context.Context, item *model.Item) error {
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("item name must not be empty")
	}
	if strings.TrimSpace(item.DeviceID) == "" {
		return fmt.Errorf("item device id must not be empty")
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Category == "" {
		item.Category = model.CategoryOther
	}
	if item.Unit == "" {
		item.Unit = "grams"
	}
	if item.Mode == "" {
		item.Mode = model.ModeWeight
	}
	if item.ThresholdWeight == 0 {
		item.ThresholdWeight = 10
	}
	if item.TriggerCondition == "" {
		item.TriggerCondition = model.TriggerBoth
	}

	now := time.Now().UTC()
	item.Active = true
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.LastReading.IsZero() {
		item.LastReading = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (
			id, user_id, device_id, name, description, category, unit, mode,
			current_weight, threshold_weight, status, custom_alert_message,
			geofence_id, trigger_condition, active, last_reading, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.DeviceID, item.Name, item.Description,
		item.Category, item.Unit, item.Mode, item.CurrentWeight,
		item.ThresholdWeight, item.Status, item.CustomAlertMessage,
		item.GeofenceID, item.TriggerCondition, item.Active,
		item.LastReading, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// ItemByID returns one item regardless of active flag.
func (s *Store) ItemByID(ctx context.Context, id string) (*model.Item, error) {
	var item model.Item
	err := s.db.GetContext(ctx, &item, `SELECT * FROM items WHERE id = ?;`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

// ItemByDeviceID resolves the item provisioned for a sensor device.
func (s *Store) ItemByDeviceID(ctx context.Context, deviceID string) (*model.Item, error) {
	var item model.Item
	err := s.db.GetContext(ctx, &item, `SELECT * FROM items WHERE device_id = ? AND active = 1;`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item by device: %w", err)
	}
	return &item, nil
}

// ItemsForUser lists a user's active items, newest first.
func (s *Store) ItemsForUser(ctx context.Context, userID string) ([]model.Item, error) {
	var items []model.Item
	err := s.db.SelectContext(ctx, &items,
		`SELECT * FROM items WHERE user_id = ? AND active = 1 ORDER BY created_at DESC;`, userID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return items, nil
}

// ActiveItemsForGeofence lists the user's active items referencing the given geofence.
func (s *Store) ActiveItemsForGeofence(ctx context.Context, userID, geofenceID string) ([]model.Item, error) {
	var items []model.Item
	err := s.db.SelectContext(ctx, &items,
		`SELECT * FROM items WHERE user_id = ? AND geofence_id = ? AND active = 1;`, userID, geofenceID)
	if err != nil {
		return nil, fmt.Errorf("query items for geofence: %w", err)
	}
	return items, nil
}

// ActiveItemsForUser lists active items that reference any geofence.
func (s *Store) ActiveItemsForUser(ctx context.Context, userID string) ([]model.Item, error) {
	var items []model.Item
	err := s.db.SelectContext(ctx, &items,
		`SELECT * FROM items WHERE user_id = ? AND active = 1 AND geofence_id IS NOT NULL;`, userID)
	if err != nil {
		return nil, fmt.Errorf("query geofenced items: %w", err)
	}
	return items, nil
}

// UpdateItem rewrites the user-editable fields of an item.
func (s *Store) UpdateItem(ctx context.Context, item *model.Item) error {
	item.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET
			name = ?, description = ?, category = ?, unit = ?, mode = ?,
			threshold_weight = ?, custom_alert_message = ?, geofence_id = ?,
			trigger_condition = ?, updated_at = ?
		WHERE id = ? AND user_id = ?;`,
		item.Name, item.Description, item.Category, item.Unit, item.Mode,
		item.ThresholdWeight, item.CustomAlertMessage, item.GeofenceID,
		item.TriggerCondition, item.UpdatedAt, item.ID, item.UserID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateItemState persists the sensor-derived fields in one statement so a
// partial status update can never be observed.
func (s *Store) UpdateItemState(ctx context.Context, item *model.Item) error {
	item.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET
			mode = ?, current_weight = ?, threshold_weight = ?, status = ?,
			last_reading = ?, updated_at = ?
		WHERE id = ?;`,
		item.Mode, item.CurrentWeight, item.ThresholdWeight, item.Status,
		item.LastReading, item.UpdatedAt, item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateItem soft-deletes an item; its history stays queryable.
func (s *Store) DeactivateItem(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET active = 0, updated_at = ? WHERE id = ? AND user_id = ?;`,
		time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("deactivate item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
