package models

import "time"

// Phase is the EOG session calibration/run phase.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseCalibrating     Phase = "calibrating"
	PhaseReadyToBlink    Phase = "ready_blink"
	PhaseBaselineCapture Phase = "baseline"
	PhaseReadyToStart    Phase = "ready_start"
	PhaseRunning         Phase = "running"
	PhaseDone            Phase = "done"
	PhaseError           Phase = "error"
)

// ButtonLabel is the label of the single main action in this phase.
func (p Phase) ButtonLabel() string {
	switch p {
	case PhaseCalibrating, PhaseBaselineCapture, PhaseRunning:
		return "Abort"
	case PhaseReadyToBlink:
		return "Blink"
	case PhaseReadyToStart, PhaseDone:
		return "Start"
	default:
		return "Calibrate"
	}
}

// AllowsCountdown reports whether a countdown may be shown in this phase.
func (p Phase) AllowsCountdown() bool {
	return p == PhaseCalibrating || p == PhaseBaselineCapture
}

// TelemetryRecord is the latest real-time sample from the wearable.
type TelemetryRecord struct {
	T     float64 `json:"t"`
	EOG   float64 `json:"eog"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
}

// MinuteFlag is the device's per-minute drowsiness verdict.
type MinuteFlag string

const (
	FlagNormal MinuteFlag = "NS-"
	FlagDrowsy MinuteFlag = "S-"
)

// Drowsy reports whether the flag signals sleepiness.
func (f MinuteFlag) Drowsy() bool { return f == FlagDrowsy }

// MinuteSummary is one device-reported minute of blink counts.
type MinuteSummary struct {
	Minute       int        `json:"minute"`
	NormalBlinks int        `json:"normal"`
	SlowBlinks   int        `json:"slow"`
	Flag         MinuteFlag `json:"flag"`
	ReceivedAt   time.Time  `json:"received_at"`
}
