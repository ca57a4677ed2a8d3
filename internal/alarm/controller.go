// Package alarm is the single arbiter of whether the alarm is sounding. It
// runs the emergency-call countdown and the rest-stop advisory.
package alarm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/clock"
	"github.com/Richardsss22/NoZZZ/internal/models"

	"go.uber.org/zap"
)

const (
	DefaultEmergencyNumber = "112"
	SettleDelay            = 500 * time.Millisecond
	CallCountdownSec       = 10
	RestStopWindow         = 15 * time.Minute
	restStopTriggers       = 2
)

// Actuator drives the phone's audio, flashlight and dialer.
type Actuator interface {
	SetMaxVolume(ctx context.Context) error
	PlayAlarm(ctx context.Context) error
	StopAlarm(ctx context.Context) error
	Strobe(ctx context.Context) error
	StopStrobe(ctx context.Context) error
	CallPhone(ctx context.Context, number string) error
	OpenDialer(ctx context.Context, number string) error
}

// Settings are the persisted alarm preferences.
type Settings interface {
	StrobeEnabled(ctx context.Context) bool
	EmergencyContact(ctx context.Context) string
}

// Recorder is told about every actuated alarm.
type Recorder interface {
	RecordAlarm(ctx context.Context, t models.AlarmTrigger)
}

// State is the alarm state presented to the UI.
type State struct {
	Active            bool                 `json:"active"`
	Triggering        bool                 `json:"triggering"`
	Source            models.TriggerSource `json:"source,omitempty"`
	TriggerHistory    []time.Time          `json:"trigger_history"`
	CallCountdown     int                  `json:"call_countdown"`
	RestStopSuggested bool                 `json:"rest_stop_suggested"`
	AlertCount        int                  `json:"alert_count"`
}

// Controller is the alarm/escalation controller.
type Controller struct {
	clock     clock.Clock
	actuator  Actuator
	settings  Settings
	recorders []Recorder
	logger    *zap.Logger

	mu         sync.Mutex
	active     bool
	triggering bool
	actuating  bool
	source     models.TriggerSource
	history    []time.Time
	countdown  int
	restStop   bool
	alerts     int

	settleSlot    clock.Slot
	countdownSlot clock.Slot
}

// NewController creates an idle controller. settings may be nil: the strobe
// is then enabled and the default emergency number is used.
func NewController(clk clock.Clock, actuator Actuator, settings Settings, logger *zap.Logger, recorders ...Recorder) *Controller {
	return &Controller{
		clock:     clk,
		actuator:  actuator,
		settings:  settings,
		recorders: recorders,
		logger:    logger,
		countdown: CallCountdownSec,
	}
}

// AddRecorder registers another recorder. It must be called before the
// first trigger.
func (c *Controller) AddRecorder(r Recorder) {
	c.mu.Lock()
	c.recorders = append(c.recorders, r)
	c.mu.Unlock()
}

// RequestTrigger sounds the alarm unless it is already active or a trigger
// is in flight. Actuation happens after a short settle delay; the call
// countdown starts once the alarm is playing.
func (c *Controller) RequestTrigger(ctx context.Context, source models.TriggerSource) {
	c.mu.Lock()
	if c.active || c.triggering {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	c.active = true
	c.triggering = true
	c.source = source
	c.countdown = CallCountdownSec

	// 1. Sliding window of recent triggers
	c.history = prune(append(c.history, now), now)
	if len(c.history) >= restStopTriggers {
		c.restStop = true
	}
	trig := models.AlarmTrigger{
		Source:      source,
		TriggeredAt: now,
		RestStop:    c.restStop,
		RecentCount: len(c.history),
	}

	// 2. Actuate after the audio path has settled
	tok := c.settleSlot.Arm()
	c.settleSlot.Hold(c.clock.AfterFunc(SettleDelay, func() {
		c.actuate(tok, trig)
	}))
	c.mu.Unlock()

	c.logger.Warn("Alarm triggered",
		zap.String("source", string(source)),
		zap.Int("recent_triggers", trig.RecentCount),
		zap.Bool("rest_stop_suggested", trig.RestStop),
	)
}

func (c *Controller) actuate(tok uint64, trig models.AlarmTrigger) {
	c.mu.Lock()
	if !c.settleSlot.Live(tok) {
		c.mu.Unlock()
		return
	}
	c.settleSlot.Stop()
	c.actuating = true
	c.mu.Unlock()

	ctx := context.Background()
	if err := c.actuator.SetMaxVolume(ctx); err != nil {
		c.logger.Error("Failed to set max volume", zap.Error(err))
	}
	if err := c.actuator.PlayAlarm(ctx); err != nil {
		c.logger.Error("Failed to play alarm", zap.Error(err))
	}
	if c.strobeEnabled(ctx) {
		if err := c.actuator.Strobe(ctx); err != nil {
			c.logger.Error("Failed to start strobe", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.actuating = false
	c.triggering = false
	c.alerts++
	stopped := !c.active
	if !stopped {
		c.startCountdownLocked()
	}
	recorders := append([]Recorder(nil), c.recorders...)
	c.mu.Unlock()

	if stopped {
		// Silenced while the actuator was starting up.
		c.silence(ctx)
	}
	for _, r := range recorders {
		r.RecordAlarm(ctx, trig)
	}
}

func (c *Controller) startCountdownLocked() {
	tok := c.countdownSlot.Arm()
	c.countdown = CallCountdownSec
	c.countdownSlot.Hold(c.clock.Every(time.Second, func() {
		c.mu.Lock()
		if !c.countdownSlot.Live(tok) {
			c.mu.Unlock()
			return
		}
		if !c.active {
			c.countdownSlot.Stop()
			c.countdown = CallCountdownSec
			c.mu.Unlock()
			return
		}
		c.countdown--
		if c.countdown > 0 {
			c.mu.Unlock()
			return
		}
		c.countdown = 0
		c.countdownSlot.Stop()
		c.mu.Unlock()

		c.placeEmergencyCall(context.Background())
	}))
}

func (c *Controller) placeEmergencyCall(ctx context.Context) {
	number := DefaultEmergencyNumber
	if c.settings != nil {
		if contact := strings.TrimSpace(c.settings.EmergencyContact(ctx)); contact != "" {
			number = contact
		}
	}
	c.logger.Warn("Call countdown elapsed, calling emergency contact", zap.String("number", number))

	err := c.actuator.CallPhone(ctx, number)
	if err == nil {
		return
	}
	c.logger.Error("Failed to place emergency call, opening dialer",
		zap.String("number", number),
		zap.Error(err),
	)
	if err := c.actuator.OpenDialer(ctx, number); err != nil {
		c.logger.Error("Failed to open dialer", zap.Error(err))
	}
}

// StopAlarm silences an active alarm and resets the call countdown.
func (c *Controller) StopAlarm(ctx context.Context) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.countdown = CallCountdownSec
	c.countdownSlot.Stop()
	if c.settleSlot.Active() {
		// Not actuated yet; nothing is in flight any more.
		c.settleSlot.Stop()
		c.triggering = false
	}
	c.mu.Unlock()

	c.silence(ctx)
	c.logger.Info("Alarm stopped")
}

func (c *Controller) silence(ctx context.Context) {
	if err := c.actuator.StopAlarm(ctx); err != nil {
		c.logger.Error("Failed to stop alarm", zap.Error(err))
	}
	if err := c.actuator.StopStrobe(ctx); err != nil {
		c.logger.Error("Failed to stop strobe", zap.Error(err))
	}
}

// DismissRestStopAdvisory clears the rest-stop advisory.
func (c *Controller) DismissRestStopAdvisory() {
	c.mu.Lock()
	c.restStop = false
	c.mu.Unlock()
}

// Active reports whether the alarm is sounding or about to.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Snapshot returns a copy of the alarm state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Active:            c.active,
		Triggering:        c.triggering,
		Source:            c.source,
		TriggerHistory:    append([]time.Time(nil), c.history...),
		CallCountdown:     c.countdown,
		RestStopSuggested: c.restStop,
		AlertCount:        c.alerts,
	}
}

func (c *Controller) strobeEnabled(ctx context.Context) bool {
	if c.settings == nil {
		return true
	}
	return c.settings.StrobeEnabled(ctx)
}

// prune keeps the timestamps younger than RestStopWindow.
func prune(history []time.Time, now time.Time) []time.Time {
	kept := history[:0]
	for _, t := range history {
		if now.Sub(t) < RestStopWindow {
			kept = append(kept, t)
		}
	}
	return kept
}
