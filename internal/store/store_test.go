package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itemreminder/go-server/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func seedGeofence(t *testing.T, s *Store, userID string) *model.Geofence {
	t.Helper()
	g := &model.Geofence{
		UserID:    userID,
		Name:      "Home",
		Latitude:  41.8781,
		Longitude: -87.6298,
	}
	require.NoError(t, s.CreateGeofence(context.Background(), g))
	return g
}

func seedItem(t *testing.T, s *Store, userID, deviceID string) *model.Item {
	t.Helper()
	item := &model.Item{
		UserID:   userID,
		DeviceID: deviceID,
		Name:     "Vitamins",
	}
	require.NoError(t, s.CreateItem(context.Background(), item))
	return item
}

func TestCreateItemDefaults(t *testing.T) {
	s := openTestStore(t)

	item := seedItem(t, s, "user-1", "scale-1")

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, model.CategoryOther, item.Category)
	assert.Equal(t, "grams", item.Unit)
	assert.Equal(t, model.ModeWeight, item.Mode)
	assert.Equal(t, 10.0, item.ThresholdWeight)
	assert.Equal(t, model.TriggerBoth, item.TriggerCondition)
	assert.True(t, item.Active)

	got, err := s.ItemByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Name, got.Name)
	assert.True(t, got.Status.IsZero())
	assert.Nil(t, got.GeofenceID)
}

func TestCreateItemValidation(t *testing.T) {
	s := openTestStore(t)

	err := s.CreateItem(context.Background(), &model.Item{UserID: "u", DeviceID: "d"})
	assert.Error(t, err, "empty name")

	err = s.CreateItem(context.Background(), &model.Item{UserID: "u", Name: "x"})
	assert.Error(t, err, "empty device id")
}

func TestItemByDeviceID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item := seedItem(t, s, "user-1", "scale-1")

	got, err := s.ItemByDeviceID(ctx, "scale-1")
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)

	_, err = s.ItemByDeviceID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deactivated items no longer resolve their device.
	require.NoError(t, s.DeactivateItem(ctx, item.ID, "user-1"))
	_, err = s.ItemByDeviceID(ctx, "scale-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// History stays queryable by id.
	got, err = s.ItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestUpdateItemState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item := seedItem(t, s, "user-1", "scale-1")

	item.CurrentWeight = 42
	item.Status = model.WeightState(model.WeightLow)
	item.LastReading = time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateItemState(ctx, item))

	got, err := s.ItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.CurrentWeight)
	assert.True(t, got.Status.Equal(model.WeightState(model.WeightLow)))
	assert.True(t, got.LastReading.Equal(item.LastReading))

	missing := *item
	missing.ID = "nope"
	assert.ErrorIs(t, s.UpdateItemState(ctx, &missing), ErrNotFound)
}

func TestActiveItemsForUserRequiresGeofence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g := seedGeofence(t, s, "user-1")

	bound := &model.Item{UserID: "user-1", DeviceID: "scale-1", Name: "Vitamins", GeofenceID: &g.ID}
	require.NoError(t, s.CreateItem(ctx, bound))
	seedItem(t, s, "user-1", "scale-2") // unbound

	items, err := s.ActiveItemsForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, bound.ID, items[0].ID)
	require.NotNil(t, items[0].GeofenceID)
	assert.Equal(t, g.ID, *items[0].GeofenceID)
}

func TestActiveItemsForGeofence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	home := seedGeofence(t, s, "user-1")
	office := seedGeofence(t, s, "user-1")

	atHome := &model.Item{UserID: "user-1", DeviceID: "scale-1", Name: "Vitamins", GeofenceID: &home.ID}
	require.NoError(t, s.CreateItem(ctx, atHome))
	atOffice := &model.Item{UserID: "user-1", DeviceID: "scale-2", Name: "Badge", GeofenceID: &office.ID}
	require.NoError(t, s.CreateItem(ctx, atOffice))

	inactive := &model.Item{UserID: "user-1", DeviceID: "scale-3", Name: "Keys", GeofenceID: &home.ID}
	require.NoError(t, s.CreateItem(ctx, inactive))
	require.NoError(t, s.DeactivateItem(ctx, inactive.ID, "user-1"))

	items, err := s.ActiveItemsForGeofence(ctx, "user-1", home.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, atHome.ID, items[0].ID)

	// Another user cannot list items through someone else's geofence.
	items, err = s.ActiveItemsForGeofence(ctx, "user-2", home.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGeofenceLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g := seedGeofence(t, s, "user-1")
	assert.Equal(t, 100.0, g.RadiusMeters, "default radius")

	g.Name = "Home Base"
	g.RadiusMeters = 250
	require.NoError(t, s.UpdateGeofence(ctx, g))

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	g.CurrentlyInside = true
	g.EnteredAt = &now
	g.LastLocationUpdate = &now
	require.NoError(t, s.UpdateGeofenceState(ctx, g))

	got, err := s.GeofenceByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Home Base", got.Name)
	assert.Equal(t, 250.0, got.RadiusMeters)
	assert.True(t, got.CurrentlyInside)
	require.NotNil(t, got.EnteredAt)
	assert.True(t, got.EnteredAt.Equal(now))
	assert.Nil(t, got.ExitedAt)

	require.NoError(t, s.DeactivateGeofence(ctx, g.ID, "user-1"))
	fences, err := s.ActiveGeofencesForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, fences)
}

func TestUpdateGeofenceScopedToOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g := seedGeofence(t, s, "user-1")
	g.UserID = "intruder"
	assert.ErrorIs(t, s.UpdateGeofence(ctx, g), ErrNotFound)
	assert.ErrorIs(t, s.DeactivateGeofence(ctx, g.ID, "intruder"), ErrNotFound)
}

func TestAlertsFilterAndFlags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	for i, a := range []model.Alert{
		{UserID: "user-1", ItemID: "item-1", Type: model.AlertLowWeight, Message: "low"},
		{UserID: "user-1", ItemID: "item-1", Type: model.AlertGeofenceExit, Message: "exit",
			Context: model.AlertContext{GeofenceName: "Home", TriggerType: "exit"}},
		{UserID: "user-1", ItemID: "item-2", Type: model.AlertOffline, Message: "offline"},
		{UserID: "user-2", ItemID: "item-9", Type: model.AlertLowWeight, Message: "other user"},
	} {
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.InsertAlert(ctx, &a))
	}

	alerts, err := s.AlertsForUser(ctx, "user-1", AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	// Newest first.
	assert.Equal(t, model.AlertOffline, alerts[0].Type)
	assert.Equal(t, "Home", alerts[1].Context.GeofenceName)

	alerts, err = s.AlertsForUser(ctx, "user-1", AlertFilter{ItemID: "item-1"})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	alerts, err = s.AlertsForUser(ctx, "user-1", AlertFilter{Type: model.AlertGeofenceExit})
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	exit := alerts[0]
	require.NoError(t, s.MarkAlertRead(ctx, exit.ID, "user-1"))
	require.NoError(t, s.MarkAlertNotificationSent(ctx, exit.ID))

	unread := false
	alerts, err = s.AlertsForUser(ctx, "user-1", AlertFilter{Read: &unread})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	read := true
	alerts, err = s.AlertsForUser(ctx, "user-1", AlertFilter{Read: &read})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].NotificationSent)

	assert.ErrorIs(t, s.MarkAlertRead(ctx, exit.ID, "user-2"), ErrNotFound)

	require.NoError(t, s.DeleteAlert(ctx, exit.ID, "user-1"))
	assert.ErrorIs(t, s.DeleteAlert(ctx, exit.ID, "user-1"), ErrNotFound)
}

func TestReadings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	rssi := -55
	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertReading(ctx, &model.Reading{
			ItemID:     "item-1",
			DeviceID:   "scale-1",
			Weight:     float64(500 - i*10),
			Threshold:  100,
			Status:     "OK",
			WiFiRSSI:   &rssi,
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	readings, err := s.RecentReadings(ctx, "item-1", 2)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, 480.0, readings[0].Weight, "newest first")
	require.NotNil(t, readings[0].WiFiRSSI)
	assert.Equal(t, -55, *readings[0].WiFiRSSI)
}

func TestUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := &model.User{
		ID:                 "user-1",
		Email:              "casey@example.com",
		Name:               "Casey",
		PushToken:          "tok-123",
		EmailNotifications: true,
		PushNotifications:  true,
	}
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.UserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "casey@example.com", got.Email)
	assert.True(t, got.PushNotifications)

	got.PushNotifications = false
	require.NoError(t, s.UpdateUser(ctx, got))

	require.NoError(t, s.ClearPushToken(ctx, "user-1"))

	got, err = s.UserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, got.PushNotifications)
	assert.Empty(t, got.PushToken)

	_, err = s.UserByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPurgeExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, s.InsertAlert(ctx, &model.Alert{
		UserID: "user-1", ItemID: "item-1", Type: model.AlertLowWeight, Message: "old", CreatedAt: old}))
	require.NoError(t, s.InsertAlert(ctx, &model.Alert{
		UserID: "user-1", ItemID: "item-1", Type: model.AlertLowWeight, Message: "fresh", CreatedAt: fresh}))
	require.NoError(t, s.InsertReading(ctx, &model.Reading{
		ItemID: "item-1", DeviceID: "scale-1", RecordedAt: old}))
	require.NoError(t, s.InsertReading(ctx, &model.Reading{
		ItemID: "item-1", DeviceID: "scale-1", RecordedAt: fresh}))

	alerts, readings, err := s.PurgeExpired(ctx, 24*time.Hour, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), alerts)
	assert.Equal(t, int64(1), readings)

	left, err := s.AlertsForUser(ctx, "user-1", AlertFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "fresh", left[0].Message)
}
