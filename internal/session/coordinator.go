// Package session serializes a user's location updates and applies geofence
// transition detection plus alert correlation atomically per user.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"itemreminder/go-server/internal/alerting"
	"itemreminder/go-server/internal/geo"
	"itemreminder/go-server/internal/geofence"
	"itemreminder/go-server/internal/model"
	"itemreminder/go-server/internal/syncutil"
)

// GeofenceStore is the slice of the storage layer the coordinator needs.
type GeofenceStore interface {
	ActiveGeofencesForUser(ctx context.Context, userID string) ([]model.Geofence, error)
	ActiveItemsForUser(ctx context.Context, userID string) ([]model.Item, error)
	UpdateGeofenceState(ctx context.Context, g *model.Geofence) error
}

// Correlator evaluates fired transitions against item state.
type Correlator interface {
	EvaluateForTransition(ctx context.Context, fence *model.Geofence, tr geofence.Transition, items []model.Item, loc geo.Point) ([]alerting.TriggeredAlert, error)
}

// GeofenceStatus is the per-zone slice of a location-update result.
type GeofenceStatus struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	IsInside       bool    `json:"is_inside"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Result is the bundle returned to the caller of a location update, for the
// live session push and the synchronous API response.
type Result struct {
	Latitude         float64                   `json:"latitude"`
	Longitude        float64                   `json:"longitude"`
	Timestamp        time.Time                 `json:"timestamp"`
	GeofenceStatuses []GeofenceStatus          `json:"geofence_statuses"`
	AlertsTriggered  []alerting.TriggeredAlert `json:"alerts_triggered"`
}

// Coordinator owns the per-user read-modify-write of containment state.
// Updates for one user are serialized; different users proceed in parallel.
type Coordinator struct {
	store  GeofenceStore
	alerts Correlator
	logger *slog.Logger
	locks  *syncutil.KeyedMutex
}

// New constructs a coordinator.
func New(store GeofenceStore, alerts Correlator, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		alerts: alerts,
		logger: logger,
		locks:  syncutil.NewKeyedMutex(),
	}
}

// ProcessLocationUpdate applies one GPS fix to all of the user's active
// geofences under the per-user lock and returns the result bundle.
func (c *Coordinator) ProcessLocationUpdate(ctx context.Context, sample model.LocationSample) (*Result, error) {
	if sample.UserID == "" {
		return nil, fmt.Errorf("location sample missing user id")
	}

	p := geo.Point{Lat: sample.Latitude, Lon: sample.Longitude}
	if !p.Valid() {
		return nil, fmt.Errorf("location sample (%.6f, %.6f): %w",
			sample.Latitude, sample.Longitude, geo.ErrInvalidCoordinate)
	}

	now := sample.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	unlock := c.locks.Lock(sample.UserID)
	defer unlock()

	fences, err := c.store.ActiveGeofencesForUser(ctx, sample.UserID)
	if err != nil {
		return nil, fmt.Errorf("load geofences: %w", err)
	}

	items, err := c.store.ActiveItemsForUser(ctx, sample.UserID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}

	result := &Result{
		Latitude:         sample.Latitude,
		Longitude:        sample.Longitude,
		Timestamp:        now,
		GeofenceStatuses: make([]GeofenceStatus, 0, len(fences)),
	}

	for i := range fences {
		fence := &fences[i]

		tr, err := geofence.Detect(fence, p, now)
		if err != nil {
			// The sample was range-checked above, so this only fires for a
			// corrupt stored center; skip the zone rather than fail the user.
			c.logger.Error("transition detection failed", "geofence", fence.ID, "error", err)
			continue
		}

		if tr != geofence.NoChange {
			c.logger.Info("geofence transition",
				"user", sample.UserID, "geofence", fence.Name, "transition", tr.String())

			triggered, err := c.alerts.EvaluateForTransition(ctx, fence, tr, items, p)
			if err != nil {
				c.logger.Error("alert correlation failed", "geofence", fence.ID, "error", err)
			}
			result.AlertsTriggered = append(result.AlertsTriggered, triggered...)
		}

		// Persist even on NoChange so lastLocationUpdate stays fresh.
		if err := c.store.UpdateGeofenceState(ctx, fence); err != nil {
			return nil, fmt.Errorf("persist geofence state: %w", err)
		}

		distance, _ := geo.DistanceMeters(p, geo.Point{Lat: fence.Latitude, Lon: fence.Longitude})
		result.GeofenceStatuses = append(result.GeofenceStatuses, GeofenceStatus{
			ID:             fence.ID,
			Name:           fence.Name,
			IsInside:       fence.CurrentlyInside,
			DistanceMeters: distance,
		})
	}

	return result, nil
}
