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

// CreateGeofence inserts a new geofence, generating an ID when none is supplied.
func (s *Store) CreateGeofence(ctx context.Context, g *model.Geofence) error {
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("geofence name must not be empty")
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.RadiusMeters <= 0 {
		g.RadiusMeters = 100
	}

	now := time.Now().UTC()
	g.Active = true
	g.CreatedAt = now
	g.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geofences (
			id, user_id, name, latitude, longitude, radius_meters, active,
			currently_inside, entered_at, exited_at, last_location_update,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.UserID, g.Name, g.Latitude, g.Longitude, g.RadiusMeters,
		g.Active, g.CurrentlyInside, g.EnteredAt, g.ExitedAt,
		g.LastLocationUpdate, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert geofence: %w", err)
	}
	return nil
}

// GeofenceByID returns one geofence.
func (s *Store) GeofenceByID(ctx context.Context, id string) (*model.Geofence, error) {
	var g model.Geofence
	err := s.db.GetContext(ctx, &g, `SELECT * FROM geofences WHERE id = ?;`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get geofence: %w", err)
	}
	return &g, nil
}

// ActiveGeofencesForUser lists a user's active geofences.
func (s *Store) ActiveGeofencesForUser(ctx context.Context, userID string) ([]model.Geofence, error) {
	var fences []model.Geofence
	err := s.db.SelectContext(ctx, &fences,
		`SELECT * FROM geofences WHERE user_id = ? AND active = 1 ORDER BY created_at ASC;`, userID)
	if err != nil {
		return nil, fmt.Errorf("query geofences: %w", err)
	}
	return fences, nil
}

// UpdateGeofence rewrites the user-editable fields of a geofence.
func (s *Store) UpdateGeofence(ctx context.Context, g *model.Geofence) error {
	g.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE geofences SET
			name = ?, latitude = ?, longitude = ?, radius_meters = ?, updated_at = ?
		WHERE id = ? AND user_id = ?;`,
		g.Name, g.Latitude, g.Longitude, g.RadiusMeters, g.UpdatedAt, g.ID, g.UserID,
	)
	if err != nil {
		return fmt.Errorf("update geofence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateGeofenceState persists the containment bookkeeping in one statement
// so concurrent readers never observe a half-applied transition.
func (s *Store) UpdateGeofenceState(ctx context.Context, g *model.Geofence) error {
	g.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE geofences SET
			currently_inside = ?, entered_at = ?, exited_at = ?,
			last_location_update = ?, updated_at = ?
		WHERE id = ?;`,
		g.CurrentlyInside, g.EnteredAt, g.ExitedAt, g.LastLocationUpdate,
		g.UpdatedAt, g.ID,
	)
	if err != nil {
		return fmt.Errorf("update geofence state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateGeofence soft-deletes a geofence.
func (s *Store) DeactivateGeofence(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE geofences SET active = 0, updated_at = ? WHERE id = ? AND user_id = ?;`,
		time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("deactivate geofence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
