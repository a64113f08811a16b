package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"itemreminder/go-server/internal/model"
)

// InsertReading appends one telemetry sample to the audit trail.
func (s *Store) InsertReading(ctx context.Context, r *model.Reading) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO readings (id, item_id, device_id, weight, threshold, status, wifi_rssi, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ItemID, r.DeviceID, r.Weight, r.Threshold, r.Status, r.WiFiRSSI, r.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// RecentReadings returns the newest readings for an item.
func (s *Store) RecentReadings(ctx context.Context, itemID string, limit int) ([]model.Reading, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var readings []model.Reading
	err := s.db.SelectContext(ctx, &readings,
		`SELECT * FROM readings WHERE item_id = ? ORDER BY recorded_at DESC LIMIT ?;`,
		itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	return readings, nil
}
