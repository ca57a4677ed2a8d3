// Package vision turns per-frame eye-open probabilities into a debounced
// closed/open signal and requests alarms on sustained closure.
package vision

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/clock"
	"github.com/Richardsss22/NoZZZ/internal/models"

	"go.uber.org/zap"
)

const (
	FaceTimeout       = 1500 * time.Millisecond
	DefaultAlarmAfter = 2500 * time.Millisecond
	DefaultThreshold  = 0.38

	smoothAlpha  = 0.35
	reopenOffset = 0.10

	calibrationTicks      = 10
	calibrationTick       = 300 * time.Millisecond
	minCalibrationSamples = 6
	minThreshold          = 0.15
	maxThreshold          = 0.8
)

// Alarm is the part of the alarm controller the detector talks to.
type Alarm interface {
	RequestTrigger(ctx context.Context, source models.TriggerSource)
	StopAlarm(ctx context.Context)
	Active() bool
}

// Settings persists the personalised threshold and the mode.
type Settings interface {
	Threshold(ctx context.Context) (float64, error)
	SetThreshold(ctx context.Context, v float64) error
	SafetyMode(ctx context.Context) (models.SafetyMode, error)
	SetSafetyMode(ctx context.Context, m models.SafetyMode) error
}

// DrivingState reports whether the vehicle is moving.
type DrivingState interface {
	IsDriving() bool
}

// CustomPatch updates the custom profile; nil fields are left unchanged.
type CustomPatch struct {
	RequireDriving *bool          `json:"require_driving,omitempty"`
	AlarmAfter     *time.Duration `json:"alarm_after,omitempty"`
	Threshold      *float64       `json:"threshold,omitempty"`
}

// Snapshot is the detector state presented to the UI.
type Snapshot struct {
	CameraActive        bool                  `json:"camera_active"`
	Eye                 models.EyeState       `json:"eye"`
	Mode                models.SafetyMode     `json:"mode"`
	Profile             models.TriggerProfile `json:"profile"`
	Driving             bool                  `json:"driving"`
	Calibrating         bool                  `json:"calibrating"`
	CalibrationProgress int                   `json:"calibration_progress"`
	NightRun            bool                  `json:"night_run"`
}

// Detector is the eye-closure detector.
type Detector struct {
	clock    clock.Clock
	alarm    Alarm
	settings Settings
	driving  DrivingState
	logger   *zap.Logger

	mu        sync.Mutex
	active    bool
	nightRun  bool
	mode      models.SafetyMode
	custom    models.TriggerProfile
	threshold float64

	faceDetected bool
	left, right  float64
	closed       bool
	closedSince  *time.Time
	lastFaceSeen *time.Time

	calibrating bool
	progress    int
	samples     []float64
	calSlot     clock.Slot
}

// NewDetector creates a stopped detector in driving mode. alarm, settings
// and driving may be nil; without an alarm closures are tracked but never
// raised.
func NewDetector(clk clock.Clock, alarm Alarm, settings Settings, driving DrivingState, logger *zap.Logger) *Detector {
	return &Detector{
		clock:    clk,
		alarm:    alarm,
		settings: settings,
		driving:  driving,
		logger:   logger,
		mode:     models.ModeDriving,
		custom: models.TriggerProfile{
			RequireDriving: true,
			AlarmAfter:     DefaultAlarmAfter,
		},
		threshold: DefaultThreshold,
		left:      1,
		right:     1,
	}
}

// LoadSettings restores the persisted threshold and mode. Missing values
// keep the defaults.
func (d *Detector) LoadSettings(ctx context.Context) {
	if d.settings == nil {
		return
	}
	if v, err := d.settings.Threshold(ctx); err == nil && v > 0 && v <= 1 {
		d.mu.Lock()
		d.threshold = v
		d.mu.Unlock()
	} else if err != nil {
		d.logger.Debug("No persisted eye threshold", zap.Error(err))
	}
	if m, err := d.settings.SafetyMode(ctx); err == nil && m.Valid() {
		d.mu.Lock()
		d.mode = m
		d.mu.Unlock()
	}
}

// StartCamera resets tracking and starts accepting frames. Night run is
// switched on between 20:00 and 07:00.
func (d *Detector) StartCamera() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetTrackingLocked()
	d.active = true
	hour := d.clock.Now().Hour()
	d.nightRun = hour >= 20 || hour < 7
	d.logger.Info("Camera started", zap.Bool("night_run", d.nightRun))
}

// PauseCamera stops accepting frames without touching the alarm.
func (d *Detector) PauseCamera() {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
	d.logger.Info("Camera paused")
}

// StopCamera stops accepting frames, resets all tracking and silences the
// alarm.
func (d *Detector) StopCamera(ctx context.Context) {
	d.mu.Lock()
	d.active = false
	d.resetTrackingLocked()
	d.stopCalibrationLocked()
	d.mu.Unlock()

	if d.alarm != nil {
		d.alarm.StopAlarm(ctx)
	}
	d.logger.Info("Camera stopped")
}

// SetNightRun overrides the automatic night-run flag.
func (d *Detector) SetNightRun(on bool) {
	d.mu.Lock()
	d.nightRun = on
	d.mu.Unlock()
}

// UpdateFaceData processes one camera frame. Only the first face is used.
// frontFacing swaps left and right so that left is the driver's own left
// eye.
func (d *Detector) UpdateFaceData(ctx context.Context, faces []Face, frontFacing bool) {
	alarmActive := d.alarm != nil && d.alarm.Active()

	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	now := d.clock.Now()

	if d.calibrating {
		if len(faces) > 0 {
			l, r := readEyes(faces[0])
			d.samples = append(d.samples, (l+r)/2)
		}
		d.mu.Unlock()
		return
	}

	if len(faces) == 0 {
		if d.lastFaceSeen != nil && now.Sub(*d.lastFaceSeen) > FaceTimeout {
			d.resetEyesLocked()
		}
		d.mu.Unlock()
		return
	}

	t := now
	d.lastFaceSeen = &t
	d.faceDetected = true

	l, r := readEyes(faces[0])
	if frontFacing {
		l, r = r, l
	}
	d.left = d.left*(1-smoothAlpha) + l*smoothAlpha
	d.right = d.right*(1-smoothAlpha) + r*smoothAlpha

	profile := d.profileLocked()
	closeBelow := profile.Threshold
	openAbove := math.Min(1, closeBelow+reopenOffset)

	switch {
	case d.left > openAbove && d.right > openAbove:
		d.closed = false
		d.closedSince = nil
	case d.left < closeBelow || d.right < closeBelow:
		if !d.closed {
			d.closed = true
			d.closedSince = &t
		}
	}

	fire := false
	if d.alarm != nil && d.closed && !alarmActive && d.closedSince != nil {
		fire = now.Sub(*d.closedSince) >= profile.AlarmAfter
	}
	d.mu.Unlock()

	if fire {
		d.logger.Warn("Eyes closed past alarm delay", zap.Duration("alarm_after", profile.AlarmAfter))
		d.alarm.RequestTrigger(ctx, models.SourceVision)
	}
}

// StartCalibration collects frame averages for about three seconds and then
// derives a personalised threshold from them.
func (d *Detector) StartCalibration() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.active = true
	d.calibrating = true
	d.progress = 0
	d.samples = nil

	tok := d.calSlot.Arm()
	d.calSlot.Hold(d.clock.Every(calibrationTick, func() {
		d.mu.Lock()
		if !d.calSlot.Live(tok) {
			d.mu.Unlock()
			return
		}
		d.progress += 100 / calibrationTicks
		if d.progress < 100 {
			d.mu.Unlock()
			return
		}
		d.progress = 100
		newThreshold, ok := derivedThreshold(d.samples)
		if ok {
			d.threshold = newThreshold
		}
		n := len(d.samples)
		d.stopCalibrationLocked()
		d.mu.Unlock()

		if !ok {
			d.logger.Info("Eye calibration collected too few samples", zap.Int("samples", n))
			return
		}
		d.logger.Info("Eye calibration done",
			zap.Int("samples", n),
			zap.Float64("threshold", newThreshold),
		)
		d.persistThreshold(context.Background(), newThreshold)
	}))
}

// CancelCalibration discards the samples collected so far.
func (d *Detector) CancelCalibration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopCalibrationLocked()
	d.progress = 0
}

// SetThreshold sets and persists the closed-eye threshold.
func (d *Detector) SetThreshold(ctx context.Context, v float64) error {
	if v <= 0 || v >= 1 {
		return fmt.Errorf("vision: threshold %v out of range (0,1)", v)
	}
	d.mu.Lock()
	d.threshold = v
	d.mu.Unlock()
	return d.persistThreshold(ctx, v)
}

// SetMode selects the trigger profile and persists it.
func (d *Detector) SetMode(ctx context.Context, m models.SafetyMode) error {
	if !m.Valid() {
		return fmt.Errorf("vision: unknown mode %q", m)
	}
	d.mu.Lock()
	d.mode = m
	d.mu.Unlock()

	if d.settings != nil {
		if err := d.settings.SetSafetyMode(ctx, m); err != nil {
			return fmt.Errorf("persist mode: %w", err)
		}
	}
	return nil
}

// SetCustom updates the custom profile.
func (d *Detector) SetCustom(p CustomPatch) error {
	if p.AlarmAfter != nil && *p.AlarmAfter <= 0 {
		return fmt.Errorf("vision: alarm delay must be positive")
	}
	if p.Threshold != nil && (*p.Threshold < 0 || *p.Threshold >= 1) {
		return fmt.Errorf("vision: threshold %v out of range [0,1)", *p.Threshold)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.RequireDriving != nil {
		d.custom.RequireDriving = *p.RequireDriving
	}
	if p.AlarmAfter != nil {
		d.custom.AlarmAfter = *p.AlarmAfter
	}
	if p.Threshold != nil {
		d.custom.Threshold = *p.Threshold
	}
	return nil
}

// Snapshot returns a copy of the presented state.
func (d *Detector) Snapshot() Snapshot {
	driving := d.driving != nil && d.driving.IsDriving()

	d.mu.Lock()
	defer d.mu.Unlock()

	eye := models.EyeState{
		FaceDetected: d.faceDetected,
		Left:         1,
		Right:        1,
		Closed:       d.closed,
	}
	if d.faceDetected {
		eye.Left, eye.Right = d.left, d.right
	}
	if d.closedSince != nil {
		since := *d.closedSince
		eye.ClosedSince = &since
		eye.ClosedDuration = d.clock.Now().Sub(since)
	}
	return Snapshot{
		CameraActive:        d.active,
		Eye:                 eye,
		Mode:                d.mode,
		Profile:             d.profileLocked(),
		Driving:             driving,
		Calibrating:         d.calibrating,
		CalibrationProgress: d.progress,
		NightRun:            d.nightRun,
	}
}

// profileLocked is the effective trigger profile for the current mode.
// The driving precondition is reported, not enforced here.
func (d *Detector) profileLocked() models.TriggerProfile {
	switch d.mode {
	case models.ModeStudy:
		return models.TriggerProfile{AlarmAfter: DefaultAlarmAfter, Threshold: d.threshold}
	case models.ModeCustom:
		p := d.custom
		if p.Threshold <= 0 {
			p.Threshold = d.threshold
		}
		return p
	default:
		return models.TriggerProfile{RequireDriving: true, AlarmAfter: DefaultAlarmAfter, Threshold: d.threshold}
	}
}

func (d *Detector) persistThreshold(ctx context.Context, v float64) error {
	if d.settings == nil {
		return nil
	}
	if err := d.settings.SetThreshold(ctx, v); err != nil {
		d.logger.Error("Failed to persist eye threshold", zap.Error(err))
		return fmt.Errorf("persist threshold: %w", err)
	}
	return nil
}

func (d *Detector) stopCalibrationLocked() {
	d.calSlot.Stop()
	d.calibrating = false
	d.samples = nil
}

// resetEyesLocked returns to the open baseline after the face was lost.
func (d *Detector) resetEyesLocked() {
	d.faceDetected = false
	d.left, d.right = 1, 1
	d.closed = false
	d.closedSince = nil
}

func (d *Detector) resetTrackingLocked() {
	d.resetEyesLocked()
	d.lastFaceSeen = nil
}

func readEyes(f Face) (float64, float64) {
	return openness(f.LeftEyeOpen()), openness(f.RightEyeOpen())
}

// derivedThreshold is half the mean sample, clamped. It needs at least
// minCalibrationSamples samples.
func derivedThreshold(samples []float64) (float64, bool) {
	if len(samples) < minCalibrationSamples {
		return 0, false
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	avg := sum / float64(len(samples))
	return math.Max(minThreshold, math.Min(maxThreshold, avg*0.5)), true
}
