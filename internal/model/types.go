package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TriggerCondition selects which geofence transitions an item alerts on.
type TriggerCondition string

const (
	TriggerEnter TriggerCondition = "enter"
	TriggerExit  TriggerCondition = "exit"
	TriggerBoth  TriggerCondition = "both"
)

// Item categories and units mirror the values accepted by the mobile client.
const (
	CategoryMedication = "medication"
	CategoryGrocery    = "grocery"
	CategorySupply     = "supply"
	CategoryOther      = "other"
)

// Item is a monitored physical object bound to one sensor device. Items are
// never deleted, only deactivated.
type Item struct {
	ID                 string           `db:"id" json:"id"`
	UserID             string           `db:"user_id" json:"user_id"`
	DeviceID           string           `db:"device_id" json:"device_id"`
	Name               string           `db:"name" json:"name"`
	Description        string           `db:"description" json:"description,omitempty"`
	Category           string           `db:"category" json:"category"`
	Unit               string           `db:"unit" json:"unit"`
	Mode               Mode             `db:"mode" json:"mode"`
	CurrentWeight      float64          `db:"current_weight" json:"current_weight"`
	ThresholdWeight    float64          `db:"threshold_weight" json:"threshold_weight"`
	Status             Status           `db:"status" json:"status"`
	CustomAlertMessage string           `db:"custom_alert_message" json:"custom_alert_message,omitempty"`
	GeofenceID         *string          `db:"geofence_id" json:"geofence_id,omitempty"`
	TriggerCondition   TriggerCondition `db:"trigger_condition" json:"trigger_condition"`
	Active             bool             `db:"active" json:"active"`
	LastReading        time.Time        `db:"last_reading" json:"last_reading"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// Geofence is a circular zone owned by one user. The containment fields
// reflect only the most recently processed location sample for that user.
type Geofence struct {
	ID                 string     `db:"id" json:"id"`
	UserID             string     `db:"user_id" json:"user_id"`
	Name               string     `db:"name" json:"name"`
	Latitude           float64    `db:"latitude" json:"latitude"`
	Longitude          float64    `db:"longitude" json:"longitude"`
	RadiusMeters       float64    `db:"radius_meters" json:"radius_meters"`
	Active             bool       `db:"active" json:"active"`
	CurrentlyInside    bool       `db:"currently_inside" json:"currently_inside"`
	EnteredAt          *time.Time `db:"entered_at" json:"entered_at,omitempty"`
	ExitedAt           *time.Time `db:"exited_at" json:"exited_at,omitempty"`
	LastLocationUpdate *time.Time `db:"last_location_update" json:"last_location_update,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// Alert types.
const (
	AlertLowWeight     = "low_weight"
	AlertOffline       = "offline"
	AlertGeofenceEnter = "geofence_enter"
	AlertGeofenceExit  = "geofence_exit"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AlertContext carries the structured payload attached to an alert.
type AlertContext struct {
	GeofenceName string   `json:"geofence_name,omitempty"`
	ItemStatus   string   `json:"item_status,omitempty"`
	Mode         Mode     `json:"mode,omitempty"`
	Weight       float64  `json:"weight,omitempty"`
	Threshold    float64  `json:"threshold,omitempty"`
	TriggerType  string   `json:"trigger_type,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	DeviceID     string   `json:"device_id,omitempty"`
}

// Value stores the context as a JSON blob.
func (c AlertContext) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode alert context: %w", err)
	}
	return string(b), nil
}

// Scan decodes the context from its JSON blob.
func (c *AlertContext) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = AlertContext{}
		return nil
	case string:
		return json.Unmarshal([]byte(v), c)
	case []byte:
		return json.Unmarshal(v, c)
	default:
		return fmt.Errorf("cannot scan %T into AlertContext", src)
	}
}

// Alert records that an alertable condition occurred. Immutable after
// creation apart from the read and notification-sent flags.
type Alert struct {
	ID               string       `db:"id" json:"id"`
	UserID           string       `db:"user_id" json:"user_id"`
	ItemID           string       `db:"item_id" json:"item_id"`
	Type             string       `db:"type" json:"type"`
	Severity         string       `db:"severity" json:"severity"`
	Message          string       `db:"message" json:"message"`
	Context          AlertContext `db:"context" json:"context"`
	Read             bool         `db:"read" json:"read"`
	NotificationSent bool         `db:"notification_sent" json:"notification_sent"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
}

// Reading is one appended telemetry sample, kept as an audit trail.
type Reading struct {
	ID         string    `db:"id" json:"id"`
	ItemID     string    `db:"item_id" json:"item_id"`
	DeviceID   string    `db:"device_id" json:"device_id"`
	Weight     float64   `db:"weight" json:"weight"`
	Threshold  float64   `db:"threshold" json:"threshold"`
	Status     string    `db:"status" json:"status"`
	WiFiRSSI   *int      `db:"wifi_rssi" json:"wifi_rssi,omitempty"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// User holds the delivery endpoints and preferences the notifier needs.
// Authentication happens upstream; the server trusts the caller-supplied
// user identity.
type User struct {
	ID                 string    `db:"id" json:"id"`
	Email              string    `db:"email" json:"email"`
	Name               string    `db:"name" json:"name"`
	PushToken          string    `db:"push_token" json:"push_token,omitempty"`
	EmailNotifications bool      `db:"email_notifications" json:"email_notifications"`
	PushNotifications  bool      `db:"push_notifications" json:"push_notifications"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// LocationSample is one GPS fix reported by a user's client.
type LocationSample struct {
	UserID    string    `json:"user_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
