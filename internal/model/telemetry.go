package model

import "time"

// WeightSample is the payload published by a sensor on the weight channel.
// Weight and Threshold are pointers so that a missing field is
// distinguishable from a legitimate zero value.
type WeightSample struct {
	DeviceID   string     `json:"device_id"`
	ItemName   string     `json:"item_name,omitempty"`
	Weight     *float64   `json:"weight"`
	Threshold  *float64   `json:"threshold,omitempty"`
	StatusHint string     `json:"status,omitempty"`
	WiFiRSSI   *int       `json:"wifi_rssi,omitempty"`
	WearStatus *string    `json:"wear_status,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// StatusSample is the payload published by a sensor on the status channel.
type StatusSample struct {
	DeviceID  string     `json:"device_id"`
	Status    string     `json:"status"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}
