// Package eog drives the wearable EOG sensor: calibration sequencing,
// single-character commands and telemetry parsing.
package eog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/clock"
	"github.com/Richardsss22/NoZZZ/internal/framer"
	"github.com/Richardsss22/NoZZZ/internal/models"

	"go.uber.org/zap"
)

// Device commands.
const (
	CmdCalibrate = "C"
	CmdBlink     = "P"
	CmdStart     = "S"
	CmdAbort     = "X"
)

const (
	calibrationStepSec = 10
	baselineSec        = 30
	blinkHold          = 150 * time.Millisecond
	blinkAmplitude     = 150.0
)

// Status texts shown next to the main button.
const (
	StatusHoldStill         = "Hold still, don't blink"
	StatusBlinkNormally     = "Blink normally"
	StatusProcessing        = "Processing…"
	StatusCalibrationDone   = "Calibration completed"
	StatusCalibrationFailed = "Calibration poorly done"
	StatusConnectFailed     = "Sensor connection failed."
)

// Snapshot is the session state presented to the UI.
type Snapshot struct {
	DeviceID    string                  `json:"device_id,omitempty"`
	Attached    bool                    `json:"attached"`
	Phase       models.Phase            `json:"phase"`
	ButtonLabel string                  `json:"button_label"`
	Countdown   *int                    `json:"countdown"`
	Status      string                  `json:"status"`
	Telemetry   *models.TelemetryRecord `json:"telemetry,omitempty"`
	Blinking    bool                    `json:"blinking"`
	LastMinute  *models.MinuteSummary   `json:"last_minute,omitempty"`
	History     []models.MinuteSummary  `json:"history"`
}

// Session is the EOG session state machine for one attached device at a
// time.
type Session struct {
	clock   clock.Clock
	trigger Trigger
	sinks   []SummarySink
	logger  *zap.Logger

	mu        sync.Mutex
	attachGen uint64
	deviceID  string
	sub       Subscription
	writer    Writer
	codec     framer.Codec
	framer    *framer.Framer

	phase     models.Phase
	status    string
	countdown *int
	seq       uint64 // bumped on every phase transition

	countdownSlot clock.Slot
	blinkSlot     clock.Slot
	blinking      bool

	telemetry  *models.TelemetryRecord
	lastMinute *models.MinuteSummary
	minutes    []models.MinuteSummary
}

// NewSession creates a detached session.
func NewSession(clk clock.Clock, trigger Trigger, logger *zap.Logger, sinks ...SummarySink) *Session {
	return &Session{
		clock:   clk,
		trigger: trigger,
		sinks:   sinks,
		logger:  logger,
		phase:   models.PhaseIdle,
	}
}

// Attach binds the session to dev and resets it to Idle. Attaching the
// device that is already bound does nothing. When the device cannot be
// opened the session enters Error; when it lacks a notification or write
// endpoint the session stays detached.
func (s *Session) Attach(ctx context.Context, dev Device) error {
	if dev == nil {
		return errors.New("eog: nil device")
	}
	id := dev.ID()

	s.mu.Lock()
	bound := s.sub != nil && s.deviceID == id
	s.mu.Unlock()
	if bound {
		return nil
	}

	s.Detach()

	ch, err := dev.Open(ctx)
	if err != nil {
		s.logger.Error("Failed to open EOG device",
			zap.String("device_id", id),
			zap.Error(err),
		)
		s.mu.Lock()
		s.phase = models.PhaseError
		s.status = StatusConnectFailed
		s.seq++
		s.mu.Unlock()
		return fmt.Errorf("open device %s: %w", id, err)
	}
	if ch.Notifier == nil || ch.Writer == nil {
		s.logger.Warn("EOG device is missing an endpoint, staying detached",
			zap.String("device_id", id),
			zap.Bool("notify", ch.Notifier != nil),
			zap.Bool("write", ch.Writer != nil),
		)
		return ErrEndpointsMissing
	}

	s.mu.Lock()
	s.attachGen++
	gen := s.attachGen
	s.resetLocked()
	s.deviceID = id
	s.writer = ch.Writer
	s.codec = ch.Codec
	if s.codec == nil {
		s.codec = framer.Raw
	}
	s.framer = framer.New(s.codec)
	s.mu.Unlock()

	sub, err := ch.Notifier.Subscribe(func(chunk []byte, err error) {
		s.deliver(gen, chunk, err)
	})
	if err != nil {
		s.logger.Error("Failed to subscribe to EOG notifications",
			zap.String("device_id", id),
			zap.Error(err),
		)
		s.mu.Lock()
		if gen == s.attachGen {
			s.clearBindingLocked()
			s.phase = models.PhaseError
			s.status = StatusConnectFailed
			s.seq++
		}
		s.mu.Unlock()
		return fmt.Errorf("subscribe device %s: %w", id, err)
	}

	s.mu.Lock()
	if gen != s.attachGen {
		// Detached or re-attached while subscribing.
		s.mu.Unlock()
		sub.Remove()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info("EOG session attached", zap.String("device_id", id))
	return nil
}

// Detach cancels all timers, releases the subscription and resets the
// session, clearing history. It is idempotent.
func (s *Session) Detach() {
	s.mu.Lock()
	s.attachGen++
	sub := s.sub
	s.sub = nil
	s.countdownSlot.Stop()
	s.blinkSlot.Stop()
	s.mu.Unlock()

	if sub != nil {
		sub.Remove()
	}

	s.mu.Lock()
	wasBound := s.deviceID != ""
	s.resetLocked()
	s.clearBindingLocked()
	s.mu.Unlock()

	if wasBound {
		s.logger.Info("EOG session detached")
	}
}

// PressMainButton performs the action the current phase offers. It does
// nothing without a write endpoint.
func (s *Session) PressMainButton(ctx context.Context) {
	s.mu.Lock()
	if s.writer == nil {
		s.mu.Unlock()
		return
	}

	prev := s.phase
	var cmd string
	switch prev {
	case models.PhaseIdle:
		cmd = CmdCalibrate
		s.startCalibrationLocked()
	case models.PhaseReadyToBlink:
		cmd = CmdBlink
		s.startBaselineLocked()
	case models.PhaseReadyToStart, models.PhaseDone:
		cmd = CmdStart
		s.setPhaseLocked(models.PhaseRunning, "")
	case models.PhaseCalibrating, models.PhaseBaselineCapture, models.PhaseRunning:
		s.mu.Unlock()
		s.Abort(ctx)
		return
	default:
		s.mu.Unlock()
		return
	}
	seq := s.seq
	writer, codec := s.writer, s.codec
	s.mu.Unlock()

	if err := send(ctx, writer, codec, cmd); err != nil {
		s.logger.Warn("Failed to send EOG command",
			zap.String("command", cmd),
			zap.Error(err),
		)
		s.mu.Lock()
		if s.seq == seq {
			s.setPhaseLocked(prev, fmt.Sprintf("Failed to send %s.", cmd))
		}
		s.mu.Unlock()
	}
}

// Abort cancels timers and sends the abort command when a write endpoint
// is bound. A running session returns to ReadyToStart keeping its history;
// any other phase returns to Idle and clears it.
func (s *Session) Abort(ctx context.Context) {
	s.mu.Lock()
	writer, codec := s.writer, s.codec
	s.blinkSlot.Stop()
	s.blinking = false
	if s.phase == models.PhaseRunning {
		s.setPhaseLocked(models.PhaseReadyToStart, "")
	} else {
		s.setPhaseLocked(models.PhaseIdle, "")
		s.clearDataLocked()
	}
	s.mu.Unlock()

	if writer == nil {
		return
	}
	if err := send(ctx, writer, codec, CmdAbort); err != nil {
		s.logger.Warn("Failed to send EOG abort", zap.Error(err))
	}
}

// Finish ends a running session: the device stops recording and the
// session moves to Done with its history intact.
func (s *Session) Finish(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != models.PhaseRunning {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("eog: cannot finish from phase %s", phase)
	}
	writer, codec := s.writer, s.codec
	s.setPhaseLocked(models.PhaseDone, "")
	s.mu.Unlock()

	if err := send(ctx, writer, codec, CmdAbort); err != nil {
		s.logger.Warn("Failed to send EOG abort on finish", zap.Error(err))
	}
	return nil
}

// SetAmplitudeThreshold sends a manual blink amplitude threshold (TH=n).
func (s *Session) SetAmplitudeThreshold(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("eog: invalid amplitude threshold %d", n)
	}
	s.mu.Lock()
	writer, codec := s.writer, s.codec
	s.mu.Unlock()

	return send(ctx, writer, codec, fmt.Sprintf("TH=%d", n))
}

// Snapshot returns a copy of the presented state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		DeviceID:    s.deviceID,
		Attached:    s.sub != nil,
		Phase:       s.phase,
		ButtonLabel: s.phase.ButtonLabel(),
		Status:      s.status,
		Blinking:    s.blinking,
		History:     append([]models.MinuteSummary(nil), s.minutes...),
	}
	if s.countdown != nil {
		c := *s.countdown
		snap.Countdown = &c
	}
	if s.telemetry != nil {
		t := *s.telemetry
		snap.Telemetry = &t
	}
	if s.lastMinute != nil {
		m := *s.lastMinute
		snap.LastMinute = &m
	}
	return snap
}

// History returns the minute summaries received so far, in arrival order.
func (s *Session) History() []models.MinuteSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MinuteSummary(nil), s.minutes...)
}

// deliver handles one notification chunk for attach generation gen.
// Collaborators are called after the lock is released, in line order.
func (s *Session) deliver(gen uint64, chunk []byte, err error) {
	if err != nil {
		s.logger.Debug("EOG notification error", zap.Error(err))
		return
	}

	s.mu.Lock()
	if gen != s.attachGen || s.framer == nil {
		s.mu.Unlock()
		return
	}
	var effects []func(context.Context)
	for _, line := range s.framer.Feed(chunk) {
		effects = s.onLineLocked(line, effects)
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, fn := range effects {
		fn(ctx)
	}
}

func (s *Session) onLineLocked(line string, effects []func(context.Context)) []func(context.Context) {
	p := classifyLine(line)
	switch p.kind {
	case lineHeadDown:
		s.logger.Warn("Head down reported by EOG device")
		effects = append(effects, s.requestTrigger(models.SourceEOGHeadDown))

	case lineCalibrationFailed:
		if s.phase != models.PhaseCalibrating {
			return effects
		}
		s.setPhaseLocked(models.PhaseIdle, StatusCalibrationFailed)
		s.clearDataLocked()

	case lineCalibrationDone:
		// The firmware also prints "concluído" when baseline capture ends;
		// only a calibration in progress can complete.
		if s.phase != models.PhaseCalibrating {
			return effects
		}
		s.setPhaseLocked(models.PhaseReadyToBlink, StatusCalibrationDone)

	case lineRealtime:
		rec := p.telemetry
		s.telemetry = &rec
		if math.Abs(rec.EOG) > blinkAmplitude && !s.blinking {
			s.blinking = true
			tok := s.blinkSlot.Arm()
			s.blinkSlot.Hold(s.clock.AfterFunc(blinkHold, func() {
				s.mu.Lock()
				defer s.mu.Unlock()
				if !s.blinkSlot.Live(tok) {
					return
				}
				s.blinking = false
				s.blinkSlot.Stop()
			}))
		}

	case lineMinute:
		m := p.minute
		m.ReceivedAt = s.clock.Now()
		s.minutes = append(s.minutes, m)
		s.lastMinute = &m
		for _, sink := range s.sinks {
			sink := sink
			effects = append(effects, func(ctx context.Context) { sink.OnMinuteSummary(ctx, m) })
		}
		if m.Flag.Drowsy() {
			s.logger.Warn("Drowsy minute reported by EOG device", zap.Int("minute", m.Minute))
			effects = append(effects, s.requestTrigger(models.SourceEOGDrowsy))
		}
	}
	return effects
}

func (s *Session) requestTrigger(src models.TriggerSource) func(context.Context) {
	return func(ctx context.Context) {
		if s.trigger != nil {
			s.trigger.RequestTrigger(ctx, src)
		}
	}
}

func (s *Session) startCalibrationLocked() {
	s.setPhaseLocked(models.PhaseCalibrating, StatusHoldStill)
	s.startCountdownLocked(calibrationStepSec, func() {
		s.status = StatusBlinkNormally
		s.startCountdownLocked(calibrationStepSec, func() {
			s.countdown = nil
			s.status = StatusProcessing
		})
	})
}

func (s *Session) startBaselineLocked() {
	s.setPhaseLocked(models.PhaseBaselineCapture, StatusBlinkNormally)
	s.startCountdownLocked(baselineSec, func() {
		s.setPhaseLocked(models.PhaseReadyToStart, "")
	})
}

// startCountdownLocked replaces any running countdown with one of sec
// seconds. onZero runs under the lock once it reaches zero.
func (s *Session) startCountdownLocked(sec int, onZero func()) {
	tok := s.countdownSlot.Arm()
	n := sec
	s.countdown = &n
	s.countdownSlot.Hold(s.clock.Every(time.Second, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.countdownSlot.Live(tok) || s.countdown == nil {
			return
		}
		left := *s.countdown - 1
		if left > 0 {
			s.countdown = &left
			return
		}
		s.countdownSlot.Stop()
		s.countdown = nil
		onZero()
	}))
}

// setPhaseLocked moves to phase, stopping any countdown.
func (s *Session) setPhaseLocked(phase models.Phase, status string) {
	s.countdownSlot.Stop()
	s.countdown = nil
	s.phase = phase
	s.status = status
	s.seq++
}

func (s *Session) clearDataLocked() {
	s.minutes = nil
	s.lastMinute = nil
	s.telemetry = nil
}

func (s *Session) resetLocked() {
	s.setPhaseLocked(models.PhaseIdle, "")
	s.blinkSlot.Stop()
	s.blinking = false
	s.clearDataLocked()
}

func (s *Session) clearBindingLocked() {
	s.deviceID = ""
	s.writer = nil
	s.codec = nil
	s.framer = nil
}

// send writes cmd newline-terminated, falling back to an acknowledged
// write when the unacknowledged one fails.
func send(ctx context.Context, w Writer, codec framer.Codec, cmd string) error {
	if w == nil {
		return ErrNoWriter
	}
	if codec == nil {
		codec = framer.Raw
	}
	payload := codec.Encode([]byte(cmd + "\n"))
	if err := w.WriteWithoutResponse(ctx, payload); err == nil {
		return nil
	}
	if err := w.WriteWithResponse(ctx, payload); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	return nil
}
