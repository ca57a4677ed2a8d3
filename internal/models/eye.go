package models

import "time"

// SafetyMode selects the vision trigger profile.
type SafetyMode string

const (
	ModeDriving SafetyMode = "driving"
	ModeStudy   SafetyMode = "study"
	ModeCustom  SafetyMode = "custom"
)

// Valid reports whether m is a known mode.
func (m SafetyMode) Valid() bool {
	switch m {
	case ModeDriving, ModeStudy, ModeCustom:
		return true
	}
	return false
}

// TriggerProfile is the effective closed-eye trigger configuration.
type TriggerProfile struct {
	RequireDriving bool          `json:"require_driving"`
	AlarmAfter     time.Duration `json:"alarm_after"`
	Threshold      float64       `json:"threshold"`
}

// EyeState is what the detector publishes after each frame.
type EyeState struct {
	FaceDetected   bool          `json:"face_detected"`
	Left           float64       `json:"left"`
	Right          float64       `json:"right"`
	Closed         bool          `json:"closed"`
	ClosedSince    *time.Time    `json:"closed_since,omitempty"`
	ClosedDuration time.Duration `json:"closed_duration"`
}
