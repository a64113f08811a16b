package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itemreminder/go-server/internal/model"
	"itemreminder/go-server/internal/transport"
)

type fakeSubscriber struct {
	handlers map[string]transport.Handler
	err      error
}

func (f *fakeSubscriber) Subscribe(topic string, h transport.Handler) error {
	if f.err != nil {
		return f.err
	}
	f.handlers[topic] = h
	return nil
}

func (f *fakeSubscriber) publish(topic string, payload string) {
	f.handlers[topic](transport.Message{Topic: topic, Payload: []byte(payload)})
}

type fakeTracker struct {
	weights  []model.WeightSample
	statuses []model.StatusSample
	err      error
}

func (f *fakeTracker) HandleWeightSample(_ context.Context, s model.WeightSample) error {
	f.weights = append(f.weights, s)
	return f.err
}

func (f *fakeTracker) HandleStatusSample(_ context.Context, s model.StatusSample) error {
	f.statuses = append(f.statuses, s)
	return f.err
}

func newTestRouter(t *testing.T) (*fakeSubscriber, *fakeTracker) {
	t.Helper()

	sub := &fakeSubscriber{handlers: make(map[string]transport.Handler)}
	tracker := &fakeTracker{}
	r := New(Config{
		WeightTopic: "itemreminder/weight",
		StatusTopic: "itemreminder/status",
	}, tracker, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, r.Attach(sub))
	require.Len(t, sub.handlers, 2)
	return sub, tracker
}

func TestRouterDispatchesWeight(t *testing.T) {
	sub, tracker := newTestRouter(t)

	sub.publish("itemreminder/weight",
		`{"device_id":"scale-1","weight":42.5,"threshold":100,"wifi_rssi":-60}`)

	require.Len(t, tracker.weights, 1)
	got := tracker.weights[0]
	assert.Equal(t, "scale-1", got.DeviceID)
	require.NotNil(t, got.Weight)
	assert.Equal(t, 42.5, *got.Weight)
	require.NotNil(t, got.WiFiRSSI)
	assert.Equal(t, -60, *got.WiFiRSSI)
	assert.Nil(t, got.WearStatus)
}

func TestRouterDispatchesStatus(t *testing.T) {
	sub, tracker := newTestRouter(t)

	sub.publish("itemreminder/status", `{"device_id":"scale-1","status":"offline"}`)

	require.Len(t, tracker.statuses, 1)
	assert.Equal(t, "offline", tracker.statuses[0].Status)
	assert.Empty(t, tracker.weights)
}

func TestRouterDropsMalformedPayload(t *testing.T) {
	sub, tracker := newTestRouter(t)

	sub.publish("itemreminder/weight", `{not json`)
	sub.publish("itemreminder/weight", `"a string"`)
	sub.publish("itemreminder/status", `[]`)

	assert.Empty(t, tracker.weights)
	assert.Empty(t, tracker.statuses)
}

func TestRouterSurvivesTrackerErrors(t *testing.T) {
	sub, tracker := newTestRouter(t)
	tracker.err = errors.New("db down")

	sub.publish("itemreminder/weight", `{"device_id":"scale-1","weight":1}`)
	sub.publish("itemreminder/weight", `{"device_id":"scale-1","weight":2}`)

	// Errors are logged, not propagated; later samples still flow.
	assert.Len(t, tracker.weights, 2)
}

func TestRouterAttachFailure(t *testing.T) {
	sub := &fakeSubscriber{err: errors.New("broker gone")}
	r := New(Config{WeightTopic: "w", StatusTopic: "s"}, &fakeTracker{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Error(t, r.Attach(sub))
}
