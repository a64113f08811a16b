// Package alerting decides whether a geofence transition or a telemetry
// status change warrants an alert, persists the alert, and hands it to the
// notification pipeline.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"itemreminder/go-server/internal/geo"
	"itemreminder/go-server/internal/geofence"
	"itemreminder/go-server/internal/model"
)

// AlertStore is the slice of the storage layer the engine writes to.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *model.Alert) error
}

// Dispatcher delivers alerts out-of-band. Implementations must return
// immediately; delivery happens in the background and never blocks or fails
// alert creation.
type Dispatcher interface {
	Dispatch(alert model.Alert)
}

// TriggeredAlert is the live-session view of one fired alert.
type TriggeredAlert struct {
	GeofenceName string      `json:"geofence_name"`
	ItemName     string      `json:"item_name"`
	Status       string      `json:"status"`
	Mode         model.Mode  `json:"mode"`
	TriggerType  string      `json:"trigger_type"`
	Alert        model.Alert `json:"alert"`
}

// Engine correlates transitions and telemetry state changes into alerts.
type Engine struct {
	store    AlertStore
	notifier Dispatcher
	logger   *slog.Logger
}

// New constructs an engine.
func New(store AlertStore, notifier Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{store: store, notifier: notifier, logger: logger}
}

// EvaluateForTransition fires at most one alert per item for a single
// detected transition. Callers invoke it exactly once per state change, so
// repeated location samples that do not change containment never re-fire.
func (e *Engine) EvaluateForTransition(ctx context.Context, fence *model.Geofence, tr geofence.Transition, items []model.Item, loc geo.Point) ([]TriggeredAlert, error) {
	direction := tr.Direction()
	if direction == "" {
		return nil, nil
	}

	var triggered []TriggeredAlert
	var errs []error

	for i := range items {
		item := &items[i]
		if !item.Active || item.GeofenceID == nil || *item.GeofenceID != fence.ID {
			continue
		}
		if !triggerMatches(item.TriggerCondition, direction) {
			continue
		}

		severity, ok := alertableSeverity(item.Status)
		if !ok {
			continue
		}

		alert := &model.Alert{
			UserID:   fence.UserID,
			ItemID:   item.ID,
			Type:     transitionAlertType(tr),
			Severity: severity,
			Message:  transitionMessage(item, fence),
			Context: model.AlertContext{
				GeofenceName: fence.Name,
				ItemStatus:   item.Status.Code(),
				Mode:         item.Mode,
				Weight:       item.CurrentWeight,
				Threshold:    item.ThresholdWeight,
				TriggerType:  direction,
				Latitude:     &loc.Lat,
				Longitude:    &loc.Lon,
				DeviceID:     item.DeviceID,
			},
		}

		if err := e.store.InsertAlert(ctx, alert); err != nil {
			e.logger.Error("failed to persist geofence alert", "item", item.ID, "geofence", fence.ID, "error", err)
			errs = append(errs, fmt.Errorf("item %s: %w", item.ID, err))
			continue
		}

		e.notifier.Dispatch(*alert)

		triggered = append(triggered, TriggeredAlert{
			GeofenceName: fence.Name,
			ItemName:     item.Name,
			Status:       item.Status.Code(),
			Mode:         item.Mode,
			TriggerType:  direction,
			Alert:        *alert,
		})

		e.logger.Info("geofence alert triggered",
			"item", item.Name, "geofence", fence.Name, "direction", direction, "severity", severity)
	}

	return triggered, errors.Join(errs...)
}

// EvaluateForTelemetry fires the location-independent alert for a status
// transition into an alertable state. The tracker only calls it when the
// stored status actually changed, so identical repeated samples stay silent.
func (e *Engine) EvaluateForTelemetry(ctx context.Context, item *model.Item, old model.Status) (*model.Alert, error) {
	alertType, severity, message, ok := telemetryAlert(item)
	if !ok {
		return nil, nil
	}

	alert := &model.Alert{
		UserID:   item.UserID,
		ItemID:   item.ID,
		Type:     alertType,
		Severity: severity,
		Message:  message,
		Context: model.AlertContext{
			ItemStatus: item.Status.Code(),
			Mode:       item.Mode,
			Weight:     item.CurrentWeight,
			Threshold:  item.ThresholdWeight,
			DeviceID:   item.DeviceID,
		},
	}

	if err := e.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("persist telemetry alert: %w", err)
	}

	e.notifier.Dispatch(*alert)

	e.logger.Info("telemetry alert triggered",
		"item", item.Name, "type", alertType, "from", old.Code(), "to", item.Status.Code())

	return alert, nil
}

func triggerMatches(cond model.TriggerCondition, direction string) bool {
	return cond == model.TriggerBoth || string(cond) == direction
}

func transitionAlertType(tr geofence.Transition) string {
	if tr == geofence.Entered {
		return model.AlertGeofenceEnter
	}
	return model.AlertGeofenceExit
}

// alertableSeverity implements the alert predicate: weight-mode items alert
// when LOW or EMPTY, wearable items when not worn.
func alertableSeverity(status model.Status) (string, bool) {
	if ws, ok := status.Weight(); ok {
		switch ws {
		case model.WeightEmpty:
			return model.SeverityCritical, true
		case model.WeightLow:
			return model.SeverityWarning, true
		}
		return "", false
	}
	if wear, ok := status.Wear(); ok && wear == model.WearOff {
		return model.SeverityWarning, true
	}
	return "", false
}

func transitionMessage(item *model.Item, fence *model.Geofence) string {
	if item.CustomAlertMessage != "" {
		return item.CustomAlertMessage
	}
	if _, ok := item.Status.Wear(); ok {
		return fmt.Sprintf("Don't forget your %s! It's not being worn.", item.Name)
	}
	return fmt.Sprintf("%s is %s!", item.Name, strings.ToLower(item.Status.Code()))
}

func telemetryAlert(item *model.Item) (alertType, severity, message string, ok bool) {
	if ws, found := item.Status.Weight(); found {
		switch ws {
		case model.WeightLow:
			return model.AlertLowWeight, model.SeverityWarning,
				fmt.Sprintf("%s is running low (%.0f%s)", item.Name, item.CurrentWeight, unitSuffix(item.Unit)), true
		case model.WeightEmpty:
			return model.AlertLowWeight, model.SeverityCritical,
				fmt.Sprintf("%s is empty", item.Name), true
		case model.WeightOffline:
			return model.AlertOffline, model.SeverityCritical,
				fmt.Sprintf("%s is offline", item.Name), true
		}
		return "", "", "", false
	}
	if wear, found := item.Status.Wear(); found && wear == model.WearOff {
		return model.AlertLowWeight, model.SeverityWarning,
			fmt.Sprintf("%s is not being worn", item.Name), true
	}
	return "", "", "", false
}

func unitSuffix(unit string) string {
	switch unit {
	case "grams", "":
		return "g"
	default:
		return unit
	}
}
