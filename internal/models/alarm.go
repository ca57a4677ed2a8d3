package models

import "time"

// TriggerSource names what asked for the alarm.
type TriggerSource string

const (
	SourceEOGDrowsy   TriggerSource = "eog_drowsy"
	SourceEOGHeadDown TriggerSource = "eog_head_down"
	SourceVision      TriggerSource = "vision"
	SourceManual      TriggerSource = "manual"
)

// AlarmTrigger is one accepted trigger, handed to recorders after the
// alarm was actuated.
type AlarmTrigger struct {
	Source      TriggerSource `json:"source"`
	TriggeredAt time.Time     `json:"triggered_at"`
	RestStop    bool          `json:"rest_stop"`
	RecentCount int           `json:"recent_count"`
}

// AlarmEvent is a persisted alarm (alarm_events table).
type AlarmEvent struct {
	EventID     string    `json:"event_id" db:"event_id"`
	VehicleID   string    `json:"vehicle_id" db:"vehicle_id"`
	TripID      *string   `json:"trip_id,omitempty" db:"trip_id"`
	Source      string    `json:"source" db:"source"`
	AlarmLevel  string    `json:"alarm_level" db:"alarm_level"` // WARNING, ALERT
	TriggeredAt time.Time `json:"triggered_at" db:"triggered_at"`
	TriggerData string    `json:"trigger_data" db:"trigger_data"` // JSONB
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TriggerData is the JSONB snapshot stored with an alarm event.
type TriggerData struct {
	Source      string   `json:"source"`
	RestStop    bool     `json:"rest_stop"`
	RecentCount int      `json:"recent_count"`
	SpeedKmh    *float64 `json:"speed_kmh,omitempty"`
	Driving     *bool    `json:"driving,omitempty"`
}
