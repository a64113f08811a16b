// Package tracker applies inbound sensor telemetry to item state.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"itemreminder/go-server/internal/model"
	"itemreminder/go-server/internal/store"
	"itemreminder/go-server/internal/syncutil"
)

// ErrInvalidTelemetry marks a sample missing required fields.
var ErrInvalidTelemetry = errors.New("invalid telemetry")

// A wearable reporting a weight below this is treated as removed even when
// the strap sensor still claims it is worn.
const wearableWeightEpsilon = 5.0

// ItemStore is the slice of the storage layer the tracker needs.
type ItemStore interface {
	ItemByDeviceID(ctx context.Context, deviceID string) (*model.Item, error)
	UpdateItemState(ctx context.Context, item *model.Item) error
	InsertReading(ctx context.Context, r *model.Reading) error
}

// Correlator requests alerts for telemetry status transitions.
type Correlator interface {
	EvaluateForTelemetry(ctx context.Context, item *model.Item, old model.Status) (*model.Alert, error)
}

// Broadcaster pushes item updates to connected dashboard sessions.
type Broadcaster interface {
	Broadcast(event string, data any)
}

// Tracker serializes telemetry per device, derives item status, and emits a
// status-change event only when the stored status actually changes.
type Tracker struct {
	store  ItemStore
	alerts Correlator
	live   Broadcaster
	logger *slog.Logger
	locks  *syncutil.KeyedMutex
}

// New constructs a tracker.
func New(st ItemStore, alerts Correlator, live Broadcaster, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  st,
		alerts: alerts,
		live:   live,
		logger: logger,
		locks:  syncutil.NewKeyedMutex(),
	}
}

// HandleWeightSample processes one weight-channel sample. Unknown devices,
// malformed samples, and stale timestamps are dropped and logged; only
// storage failures are returned.
func (t *Tracker) HandleWeightSample(ctx context.Context, sample model.WeightSample) error {
	if sample.DeviceID == "" || sample.Weight == nil {
		t.logger.Warn("dropping malformed weight sample",
			"device", sample.DeviceID, "error", ErrInvalidTelemetry)
		return nil
	}

	unlock := t.locks.Lock(sample.DeviceID)
	defer unlock()

	item, err := t.store.ItemByDeviceID(ctx, sample.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		// Devices are provisioned out-of-band; samples from unknown hardware
		// are expected noise, not a fault.
		t.logger.Warn("no item for device, dropping sample", "device", sample.DeviceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve device %s: %w", sample.DeviceID, err)
	}

	sampleTime := time.Now().UTC()
	if sample.Timestamp != nil {
		sampleTime = sample.Timestamp.UTC()
		// Last-writer-wins by sample time: once a newer sample has been
		// applied, an out-of-order older one must not regress the state.
		if sampleTime.Before(item.LastReading) {
			t.logger.Warn("dropping stale weight sample",
				"device", sample.DeviceID, "sample_time", sampleTime, "last_reading", item.LastReading)
			return nil
		}
	}

	oldStatus := item.Status

	item.CurrentWeight = *sample.Weight
	if sample.Threshold != nil {
		item.ThresholdWeight = *sample.Threshold
	}

	if sample.WearStatus != nil {
		// The wearable sample shape is the explicit signal that this device
		// is a strap sensor; the stored mode follows it.
		item.Mode = model.ModeWearable
		item.Status = deriveWearStatus(*sample.WearStatus, *sample.Weight)
	} else {
		if item.Mode == "" {
			item.Mode = model.ModeWeight
		}
		if item.Mode == model.ModeWearable {
			// A bare weight sample from a wearable device does not flip the
			// stored mode; only the removal heuristic applies.
			if *sample.Weight < wearableWeightEpsilon {
				item.Status = model.WearState(model.WearOff)
			}
		} else {
			item.Status = deriveWeightStatus(sample.StatusHint, *sample.Weight, item.ThresholdWeight)
		}
	}

	item.LastReading = sampleTime

	if err := t.store.UpdateItemState(ctx, item); err != nil {
		return fmt.Errorf("persist item state: %w", err)
	}

	t.appendReading(ctx, item, sample, sampleTime)

	t.live.Broadcast("weight_update", map[string]any{
		"item_id":   item.ID,
		"device_id": item.DeviceID,
		"weight":    item.CurrentWeight,
		"status":    item.Status.Code(),
		"mode":      item.Mode,
		"timestamp": sampleTime,
	})

	if !item.Status.Equal(oldStatus) {
		t.logger.Info("item status changed",
			"item", item.Name, "from", oldStatus.Code(), "to", item.Status.Code())
		if _, err := t.alerts.EvaluateForTelemetry(ctx, item, oldStatus); err != nil {
			t.logger.Error("telemetry alert evaluation failed", "item", item.ID, "error", err)
		}
	}

	return nil
}

// HandleStatusSample processes one status-channel sample. Only the explicit
// "offline" signal has an effect today.
func (t *Tracker) HandleStatusSample(ctx context.Context, sample model.StatusSample) error {
	if sample.DeviceID == "" || sample.Status == "" {
		t.logger.Warn("dropping malformed status sample",
			"device", sample.DeviceID, "error", ErrInvalidTelemetry)
		return nil
	}

	unlock := t.locks.Lock(sample.DeviceID)
	defer unlock()

	item, err := t.store.ItemByDeviceID(ctx, sample.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		t.logger.Warn("no item for device, dropping status", "device", sample.DeviceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve device %s: %w", sample.DeviceID, err)
	}

	if sample.Status != "offline" {
		t.logger.Debug("ignoring status sample", "device", sample.DeviceID, "status", sample.Status)
		return nil
	}

	oldStatus := item.Status
	if item.Mode == model.ModeWearable {
		item.Status = model.WearState(model.WearOff)
	} else {
		item.Status = model.WeightState(model.WeightOffline)
	}
	item.LastReading = time.Now().UTC()

	if err := t.store.UpdateItemState(ctx, item); err != nil {
		return fmt.Errorf("persist offline state: %w", err)
	}

	t.live.Broadcast("status_update", map[string]any{
		"item_id":   item.ID,
		"device_id": item.DeviceID,
		"status":    item.Status.Code(),
		"timestamp": item.LastReading,
	})

	if !item.Status.Equal(oldStatus) {
		if _, err := t.alerts.EvaluateForTelemetry(ctx, item, oldStatus); err != nil {
			t.logger.Error("offline alert evaluation failed", "item", item.ID, "error", err)
		}
	}

	return nil
}

// appendReading writes the audit-trail record; failures are logged and never
// fail the sample.
func (t *Tracker) appendReading(ctx context.Context, item *model.Item, sample model.WeightSample, at time.Time) {
	reading := &model.Reading{
		ItemID:     item.ID,
		DeviceID:   item.DeviceID,
		Weight:     item.CurrentWeight,
		Threshold:  item.ThresholdWeight,
		Status:     item.Status.Code(),
		WiFiRSSI:   sample.WiFiRSSI,
		RecordedAt: at,
	}
	if err := t.store.InsertReading(ctx, reading); err != nil {
		t.logger.Error("failed to append reading", "item", item.ID, "error", err)
	}
}

func deriveWearStatus(reported string, weight float64) model.Status {
	if weight < wearableWeightEpsilon {
		return model.WearState(model.WearOff)
	}
	// Firmware reports lowercase "on"/"off".
	if strings.EqualFold(reported, string(model.WearOn)) {
		return model.WearState(model.WearOn)
	}
	return model.WearState(model.WearOff)
}

func deriveWeightStatus(hint string, weight, threshold float64) model.Status {
	if hint != "" {
		if parsed, err := model.ParseStatus(hint); err == nil {
			if _, ok := parsed.Weight(); ok {
				return parsed
			}
		}
	}
	switch {
	case weight <= 0:
		return model.WeightState(model.WeightEmpty)
	case weight < threshold:
		return model.WeightState(model.WeightLow)
	default:
		return model.WeightState(model.WeightOK)
	}
}
