package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itemreminder/go-server/internal/alerting"
	"itemreminder/go-server/internal/geo"
	"itemreminder/go-server/internal/geofence"
	"itemreminder/go-server/internal/model"
)

type fakeGeofenceStore struct {
	mu       sync.Mutex
	fences   map[string][]model.Geofence
	items    map[string][]model.Item
	persists []model.Geofence

	persistErr error
	loadErr    error
}

func (f *fakeGeofenceStore) ActiveGeofencesForUser(_ context.Context, userID string) ([]model.Geofence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make([]model.Geofence, len(f.fences[userID]))
	copy(out, f.fences[userID])
	return out, nil
}

func (f *fakeGeofenceStore) ActiveItemsForUser(_ context.Context, userID string) ([]model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Item, len(f.items[userID]))
	copy(out, f.items[userID])
	return out, nil
}

func (f *fakeGeofenceStore) UpdateGeofenceState(_ context.Context, g *model.Geofence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return f.persistErr
	}
	f.persists = append(f.persists, *g)
	stored := f.fences[g.UserID]
	for i := range stored {
		if stored[i].ID == g.ID {
			stored[i] = *g
		}
	}
	return nil
}

type fakeTransitionCorrelator struct {
	mu    sync.Mutex
	calls []geofence.Transition
	err   error
}

func (f *fakeTransitionCorrelator) EvaluateForTransition(_ context.Context, fence *model.Geofence, tr geofence.Transition, items []model.Item, loc geo.Point) ([]alerting.TriggeredAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tr)
	if f.err != nil {
		return nil, f.err
	}
	return []alerting.TriggeredAlert{{
		GeofenceName: fence.Name,
		TriggerType:  tr.Direction(),
	}}, nil
}

var (
	home    = geo.Point{Lat: 41.8781, Lon: -87.6298}
	inside  = geo.Point{Lat: 41.8785, Lon: -87.6298} // ~45 m from center
	outside = geo.Point{Lat: 41.8781, Lon: -87.6265} // ~270 m from center
)

func homeFence(currentlyInside bool) model.Geofence {
	return model.Geofence{
		ID:              "fence-1",
		UserID:          "user-1",
		Name:            "Home",
		Latitude:        home.Lat,
		Longitude:       home.Lon,
		RadiusMeters:    200,
		Active:          true,
		CurrentlyInside: currentlyInside,
	}
}

func newTestCoordinator(fences []model.Geofence, items []model.Item) (*Coordinator, *fakeGeofenceStore, *fakeTransitionCorrelator) {
	st := &fakeGeofenceStore{
		fences: map[string][]model.Geofence{"user-1": fences},
		items:  map[string][]model.Item{"user-1": items},
	}
	corr := &fakeTransitionCorrelator{}
	return New(st, corr, slog.New(slog.NewTextHandler(io.Discard, nil))), st, corr
}

func sample(p geo.Point) model.LocationSample {
	return model.LocationSample{UserID: "user-1", Latitude: p.Lat, Longitude: p.Lon}
}

// Scenario: a user inside a 200 m zone reports a fix ~270 m away. Exactly
// one exit fires and the persisted state flips.
func TestExitTransition(t *testing.T) {
	c, st, corr := newTestCoordinator([]model.Geofence{homeFence(true)}, nil)

	result, err := c.ProcessLocationUpdate(context.Background(), sample(outside))
	require.NoError(t, err)

	require.Len(t, result.GeofenceStatuses, 1)
	status := result.GeofenceStatuses[0]
	assert.False(t, status.IsInside)
	assert.InDelta(t, 270, status.DistanceMeters, 10)

	require.Len(t, result.AlertsTriggered, 1)
	assert.Equal(t, "exit", result.AlertsTriggered[0].TriggerType)

	assert.Equal(t, []geofence.Transition{geofence.Exited}, corr.calls)

	require.Len(t, st.persists, 1)
	assert.False(t, st.persists[0].CurrentlyInside)
	assert.NotNil(t, st.persists[0].ExitedAt)
}

// Identical repeated fixes fire the correlator exactly once.
func TestRepeatedSamplesFireOnce(t *testing.T) {
	c, st, corr := newTestCoordinator([]model.Geofence{homeFence(true)}, nil)

	for i := 0; i < 5; i++ {
		_, err := c.ProcessLocationUpdate(context.Background(), sample(outside))
		require.NoError(t, err)
	}

	assert.Len(t, corr.calls, 1)
	// Every sample still refreshes the stored state.
	assert.Len(t, st.persists, 5)
}

func TestNoChangePersistsFreshness(t *testing.T) {
	c, st, corr := newTestCoordinator([]model.Geofence{homeFence(true)}, nil)

	result, err := c.ProcessLocationUpdate(context.Background(), sample(inside))
	require.NoError(t, err)

	assert.Empty(t, result.AlertsTriggered)
	assert.Empty(t, corr.calls)
	require.Len(t, st.persists, 1)
	assert.NotNil(t, st.persists[0].LastLocationUpdate)
}

func TestMultipleZonesEvaluatedIndependently(t *testing.T) {
	work := homeFence(false)
	work.ID = "fence-2"
	work.Name = "Work"
	work.Latitude = outside.Lat
	work.Longitude = outside.Lon
	work.RadiusMeters = 50

	c, st, corr := newTestCoordinator([]model.Geofence{homeFence(true), work}, nil)

	// The fix sits outside Home and inside Work: one exit plus one enter.
	result, err := c.ProcessLocationUpdate(context.Background(), sample(outside))
	require.NoError(t, err)

	assert.Len(t, result.GeofenceStatuses, 2)
	assert.ElementsMatch(t, []geofence.Transition{geofence.Exited, geofence.Entered}, corr.calls)
	assert.Len(t, st.persists, 2)
}

func TestInvalidSampleRejected(t *testing.T) {
	c, _, _ := newTestCoordinator([]model.Geofence{homeFence(true)}, nil)

	_, err := c.ProcessLocationUpdate(context.Background(), model.LocationSample{
		UserID:   "user-1",
		Latitude: 123.4,
	})
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)

	_, err = c.ProcessLocationUpdate(context.Background(), model.LocationSample{Latitude: 1, Longitude: 1})
	assert.Error(t, err, "missing user id")
}

func TestPersistFailureIsFatal(t *testing.T) {
	c, st, _ := newTestCoordinator([]model.Geofence{homeFence(true)}, nil)
	st.persistErr = errors.New("disk full")

	_, err := c.ProcessLocationUpdate(context.Background(), sample(outside))
	assert.Error(t, err)
}

func TestCorrelationFailureIsNotFatal(t *testing.T) {
	c, st, corr := newTestCoordinator([]model.Geofence{homeFence(true)}, nil)
	corr.err = errors.New("notify backend down")

	result, err := c.ProcessLocationUpdate(context.Background(), sample(outside))
	require.NoError(t, err)
	assert.Empty(t, result.AlertsTriggered)
	// The transition is still persisted so it cannot re-fire.
	require.Len(t, st.persists, 1)
	assert.False(t, st.persists[0].CurrentlyInside)
}

// Scenario: concurrent fixes for one user interleave without losing the
// final state or firing duplicate transitions.
func TestConcurrentUpdatesSerialized(t *testing.T) {
	c, st, corr := newTestCoordinator([]model.Geofence{homeFence(true)}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ProcessLocationUpdate(context.Background(), sample(outside))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	corr.mu.Lock()
	defer corr.mu.Unlock()
	assert.Len(t, corr.calls, 1, "only the first sample crosses the boundary")

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Len(t, st.persists, 10)
	assert.False(t, st.fences["user-1"][0].CurrentlyInside)
}

func TestSampleTimestampUsedForBookkeeping(t *testing.T) {
	c, st, _ := newTestCoordinator([]model.Geofence{homeFence(true)}, nil)

	at := time.Date(2026, 8, 30, 9, 15, 0, 0, time.UTC)
	s := sample(outside)
	s.Timestamp = at

	result, err := c.ProcessLocationUpdate(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, at, result.Timestamp)

	require.Len(t, st.persists, 1)
	require.NotNil(t, st.persists[0].ExitedAt)
	assert.Equal(t, at, *st.persists[0].ExitedAt)
}
