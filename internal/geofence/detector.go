// Package geofence computes enter/exit transitions for a user's zones.
package geofence

import (
	"fmt"
	"time"

	"itemreminder/go-server/internal/geo"
	"itemreminder/go-server/internal/model"
)

// Transition is the outcome of applying one location sample to one geofence.
type Transition int

const (
	NoChange Transition = iota
	Entered
	Exited
)

func (t Transition) String() string {
	switch t {
	case Entered:
		return "entered"
	case Exited:
		return "exited"
	default:
		return "no_change"
	}
}

// Direction maps a transition onto the trigger-condition vocabulary
// ("enter"/"exit"), or "" for NoChange.
func (t Transition) Direction() string {
	switch t {
	case Entered:
		return "enter"
	case Exited:
		return "exit"
	default:
		return ""
	}
}

// Detect applies one location sample to a geofence's authoritative
// containment state and updates the bookkeeping fields in place. The caller
// must hold the per-user lock so that wasInside is never a stale copy.
// LastLocationUpdate is refreshed even when nothing changed.
func Detect(g *model.Geofence, p geo.Point, now time.Time) (Transition, error) {
	center := geo.Point{Lat: g.Latitude, Lon: g.Longitude}
	isInside, err := geo.IsInside(p, center, g.RadiusMeters)
	if err != nil {
		return NoChange, fmt.Errorf("geofence %s: %w", g.ID, err)
	}

	wasInside := g.CurrentlyInside
	g.LastLocationUpdate = &now

	switch {
	case isInside && !wasInside:
		g.CurrentlyInside = true
		g.EnteredAt = &now
		g.ExitedAt = nil
		return Entered, nil
	case !isInside && wasInside:
		g.CurrentlyInside = false
		g.ExitedAt = &now
		return Exited, nil
	default:
		return NoChange, nil
	}
}
