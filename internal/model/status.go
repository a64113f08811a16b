package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Mode selects how an item's sensor readings are interpreted.
type Mode string

const (
	// ModeWeight tracks remaining quantity on a scale sensor.
	ModeWeight Mode = "weight"
	// ModeWearable tracks whether the item is currently being worn.
	ModeWearable Mode = "wearable"
)

// WeightStatus is the derived state of a weight-mode item.
type WeightStatus string

const (
	WeightOK      WeightStatus = "OK"
	WeightLow     WeightStatus = "LOW"
	WeightEmpty   WeightStatus = "EMPTY"
	WeightOffline WeightStatus = "OFFLINE"
)

// WearStatus is the derived state of a wearable-mode item.
type WearStatus string

const (
	WearOn  WearStatus = "ON"
	WearOff WearStatus = "OFF"
)

// Status is a tagged union over the two monitoring modes: a weight-mode item
// only ever carries a WeightStatus and a wearable-mode item only ever carries
// a WearStatus. The zero Status means "no reading processed yet".
type Status struct {
	mode   Mode
	weight WeightStatus
	wear   WearStatus
}

// WeightState wraps a weight-mode status value.
func WeightState(s WeightStatus) Status {
	return Status{mode: ModeWeight, weight: s}
}

// WearState wraps a wearable-mode status value.
func WearState(s WearStatus) Status {
	return Status{mode: ModeWearable, wear: s}
}

// Mode reports which arm of the union is populated.
func (s Status) Mode() Mode { return s.mode }

// Weight returns the weight-mode value; ok is false for wearable or zero statuses.
func (s Status) Weight() (WeightStatus, bool) {
	if s.mode != ModeWeight {
		return "", false
	}
	return s.weight, true
}

// Wear returns the wearable-mode value; ok is false for weight or zero statuses.
func (s Status) Wear() (WearStatus, bool) {
	if s.mode != ModeWearable {
		return "", false
	}
	return s.wear, true
}

// IsZero reports whether no status has been assigned yet.
func (s Status) IsZero() bool { return s.mode == "" }

// Equal compares both the mode tag and the status value.
func (s Status) Equal(other Status) bool { return s == other }

// Code renders the wire/database representation ("OK", "LOW", "EMPTY",
// "OFFLINE", "ON", "OFF"), or "" for the zero Status.
func (s Status) Code() string {
	switch s.mode {
	case ModeWeight:
		return string(s.weight)
	case ModeWearable:
		return string(s.wear)
	default:
		return ""
	}
}

func (s Status) String() string { return s.Code() }

// ParseStatus decodes a status code. The weight and wearable value sets are
// disjoint, so the mode tag is recoverable from the code alone.
func ParseStatus(code string) (Status, error) {
	switch code {
	case "":
		return Status{}, nil
	case string(WeightOK), string(WeightLow), string(WeightEmpty), string(WeightOffline):
		return WeightState(WeightStatus(code)), nil
	case string(WearOn), string(WearOff):
		return WearState(WearStatus(code)), nil
	default:
		return Status{}, fmt.Errorf("unknown status code %q", code)
	}
}

// MarshalJSON encodes the status as its string code.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Code())
}

// UnmarshalJSON decodes a status from its string code.
func (s *Status) UnmarshalJSON(data []byte) error {
	var code string
	if err := json.Unmarshal(data, &code); err != nil {
		return err
	}
	parsed, err := ParseStatus(code)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer so a Status column stores the string code.
func (s Status) Value() (driver.Value, error) {
	return s.Code(), nil
}

// Scan implements sql.Scanner for status codes read back from the database.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = Status{}
		return nil
	case string:
		parsed, err := ParseStatus(v)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	case []byte:
		parsed, err := ParseStatus(string(v))
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Status", src)
	}
}
