package alarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/clock"
	"github.com/Richardsss22/NoZZZ/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingActuator struct {
	mu       sync.Mutex
	calls    []string
	failPlay error
	onPlay   func()
}

func (a *recordingActuator) record(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, name)
}

func (a *recordingActuator) SetMaxVolume(ctx context.Context) error {
	a.record("volume")
	return nil
}

func (a *recordingActuator) PlayAlarm(ctx context.Context) error {
	a.record("play")
	if a.onPlay != nil {
		a.onPlay()
	}
	return a.failPlay
}

func (a *recordingActuator) StopAlarm(ctx context.Context) error {
	a.record("stop")
	return nil
}

func (a *recordingActuator) Strobe(ctx context.Context) error {
	a.record("strobe")
	return nil
}

func (a *recordingActuator) StopStrobe(ctx context.Context) error {
	a.record("stop_strobe")
	return nil
}

func (a *recordingActuator) CallPhone(ctx context.Context, number string) error {
	a.record("call:" + number)
	return nil
}

func (a *recordingActuator) OpenDialer(ctx context.Context, number string) error {
	a.record("dialer:" + number)
	return nil
}

func (a *recordingActuator) count(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c == name {
			n++
		}
	}
	return n
}

// MockActuator is a testify mock of Actuator.
type MockActuator struct {
	mock.Mock
}

func (m *MockActuator) SetMaxVolume(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockActuator) PlayAlarm(ctx context.Context) error    { return m.Called(ctx).Error(0) }
func (m *MockActuator) StopAlarm(ctx context.Context) error    { return m.Called(ctx).Error(0) }
func (m *MockActuator) Strobe(ctx context.Context) error       { return m.Called(ctx).Error(0) }
func (m *MockActuator) StopStrobe(ctx context.Context) error   { return m.Called(ctx).Error(0) }
func (m *MockActuator) CallPhone(ctx context.Context, number string) error {
	return m.Called(ctx, number).Error(0)
}
func (m *MockActuator) OpenDialer(ctx context.Context, number string) error {
	return m.Called(ctx, number).Error(0)
}

type staticSettings struct {
	strobe  bool
	contact string
}

func (s staticSettings) StrobeEnabled(ctx context.Context) bool        { return s.strobe }
func (s staticSettings) EmergencyContact(ctx context.Context) string { return s.contact }

type triggerLog struct {
	mu  sync.Mutex
	got []models.AlarmTrigger
}

func (l *triggerLog) RecordAlarm(ctx context.Context, t models.AlarmTrigger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, t)
}

var start = time.Date(2026, 6, 1, 23, 0, 0, 0, time.UTC)

func newTestController(settings Settings) (*Controller, *clock.Fake, *recordingActuator, *triggerLog) {
	clk := clock.NewFake(start)
	act := &recordingActuator{}
	log := &triggerLog{}
	return NewController(clk, act, settings, zap.NewNop(), log), clk, act, log
}

func TestRequestTrigger_ActuatesAfterSettle(t *testing.T) {
	c, clk, act, log := newTestController(staticSettings{strobe: true})
	ctx := context.Background()

	c.RequestTrigger(ctx, models.SourceVision)
	snap := c.Snapshot()
	assert.True(t, snap.Active)
	assert.True(t, snap.Triggering)
	assert.Empty(t, act.calls)

	clk.Advance(SettleDelay - time.Millisecond)
	assert.Empty(t, act.calls)

	clk.Advance(time.Millisecond)
	assert.Equal(t, []string{"volume", "play", "strobe"}, act.calls)
	snap = c.Snapshot()
	assert.False(t, snap.Triggering)
	assert.Equal(t, CallCountdownSec, snap.CallCountdown)
	assert.Equal(t, 1, snap.AlertCount)
	require.Len(t, log.got, 1)
	assert.Equal(t, models.SourceVision, log.got[0].Source)
}

func TestRequestTrigger_StrobeToggle(t *testing.T) {
	c, clk, act, _ := newTestController(staticSettings{strobe: false})
	c.RequestTrigger(context.Background(), models.SourceManual)
	clk.Advance(SettleDelay)

	assert.Equal(t, 0, act.count("strobe"))
	assert.Equal(t, 1, act.count("play"))
}

func TestRequestTrigger_Reentrancy(t *testing.T) {
	c, clk, act, log := newTestController(nil)
	ctx := context.Background()
	act.onPlay = func() { c.RequestTrigger(ctx, models.SourceVision) }

	c.RequestTrigger(ctx, models.SourceEOGDrowsy)
	c.RequestTrigger(ctx, models.SourceVision)
	clk.Advance(SettleDelay)
	c.RequestTrigger(ctx, models.SourceEOGHeadDown)
	clk.Advance(SettleDelay)

	snap := c.Snapshot()
	assert.Len(t, snap.TriggerHistory, 1)
	assert.Equal(t, models.SourceEOGDrowsy, snap.Source)
	assert.Equal(t, 1, act.count("play"))
	assert.Len(t, log.got, 1)
}

func TestRestStopAdvisory(t *testing.T) {
	c, clk, _, _ := newTestController(nil)
	ctx := context.Background()

	c.RequestTrigger(ctx, models.SourceVision)
	clk.Advance(SettleDelay)
	assert.False(t, c.Snapshot().RestStopSuggested)
	c.StopAlarm(ctx)

	clk.Advance(time.Minute)
	c.RequestTrigger(ctx, models.SourceVision)
	clk.Advance(SettleDelay)
	snap := c.Snapshot()
	assert.True(t, snap.RestStopSuggested)
	assert.Len(t, snap.TriggerHistory, 2)

	c.StopAlarm(ctx)
	assert.True(t, c.Snapshot().RestStopSuggested, "advisory is sticky")

	c.DismissRestStopAdvisory()
	assert.False(t, c.Snapshot().RestStopSuggested)
}

func TestRestStopWindowPrunesExpiredTriggers(t *testing.T) {
	c, clk, _, log := newTestController(nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		c.RequestTrigger(ctx, models.SourceVision)
		clk.Advance(SettleDelay)
		c.StopAlarm(ctx)
		clk.Advance(time.Minute)
	}
	c.DismissRestStopAdvisory()

	clk.Advance(20 * time.Minute)
	c.RequestTrigger(ctx, models.SourceVision)
	clk.Advance(SettleDelay)

	snap := c.Snapshot()
	assert.Len(t, snap.TriggerHistory, 1)
	assert.False(t, snap.RestStopSuggested)
	require.Len(t, log.got, 3)
	assert.True(t, log.got[1].RestStop)
	assert.Equal(t, 1, log.got[2].RecentCount)
}

func TestPrune(t *testing.T) {
	now := start
	history := []time.Time{
		now.Add(-RestStopWindow - time.Second),
		now.Add(-RestStopWindow),
		now.Add(-RestStopWindow + time.Second),
		now,
	}
	assert.Equal(t, history[2:], prune(history, now))
}

func TestCallCountdown_CallsContact(t *testing.T) {
	c, clk, act, _ := newTestController(staticSettings{strobe: true, contact: "  +351912000000 "})
	c.RequestTrigger(context.Background(), models.SourceVision)
	clk.Advance(SettleDelay)

	clk.Advance(9 * time.Second)
	assert.Equal(t, 1, c.Snapshot().CallCountdown)
	assert.Equal(t, 0, act.count("call:+351912000000"))

	clk.Advance(time.Second)
	assert.Equal(t, 0, c.Snapshot().CallCountdown)
	assert.Equal(t, 1, act.count("call:+351912000000"))
	assert.True(t, c.Active())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, act.count("call:+351912000000"))
	assert.Equal(t, 0, clk.Live())
}

func TestCallCountdown_DefaultNumberAndDialerFallback(t *testing.T) {
	clk := clock.NewFake(start)
	act := &MockActuator{}
	act.On("SetMaxVolume", mock.Anything).Return(nil)
	act.On("PlayAlarm", mock.Anything).Return(nil)
	act.On("Strobe", mock.Anything).Return(errors.New("no torch"))
	act.On("CallPhone", mock.Anything, DefaultEmergencyNumber).Return(errors.New("permission denied")).Once()
	act.On("OpenDialer", mock.Anything, DefaultEmergencyNumber).Return(nil).Once()

	c := NewController(clk, act, staticSettings{strobe: true}, zap.NewNop())
	c.RequestTrigger(context.Background(), models.SourceEOGHeadDown)
	clk.Advance(SettleDelay + CallCountdownSec*time.Second)

	act.AssertExpectations(t)
}

func TestActuationFailureKeepsEscalating(t *testing.T) {
	c, clk, act, _ := newTestController(nil)
	act.failPlay = errors.New("audio focus lost")

	c.RequestTrigger(context.Background(), models.SourceVision)
	clk.Advance(SettleDelay + CallCountdownSec*time.Second)

	assert.True(t, c.Active())
	assert.Equal(t, 1, act.count("call:"+DefaultEmergencyNumber))
}

func TestStopAlarm_HaltsCountdown(t *testing.T) {
	c, clk, act, _ := newTestController(nil)
	ctx := context.Background()
	c.RequestTrigger(ctx, models.SourceVision)
	clk.Advance(SettleDelay + 4*time.Second)
	require.Equal(t, 6, c.Snapshot().CallCountdown)

	c.StopAlarm(ctx)
	snap := c.Snapshot()
	assert.False(t, snap.Active)
	assert.Equal(t, CallCountdownSec, snap.CallCountdown)
	assert.Equal(t, 1, act.count("stop"))
	assert.Equal(t, 1, act.count("stop_strobe"))

	clk.Advance(time.Minute)
	assert.Equal(t, 0, act.count("call:"+DefaultEmergencyNumber))
	assert.Equal(t, 0, clk.Live())

	c.RequestTrigger(ctx, models.SourceVision)
	clk.Advance(SettleDelay + time.Second)
	assert.Equal(t, CallCountdownSec-1, c.Snapshot().CallCountdown)
}

func TestStopAlarm_InactiveIsNoop(t *testing.T) {
	c, _, act, _ := newTestController(nil)
	c.StopAlarm(context.Background())
	assert.Empty(t, act.calls)
}

func TestStopAlarm_DuringSettle(t *testing.T) {
	c, clk, act, log := newTestController(nil)
	ctx := context.Background()

	c.RequestTrigger(ctx, models.SourceVision)
	c.StopAlarm(ctx)
	clk.Advance(time.Second)

	assert.Equal(t, 0, act.count("play"))
	assert.False(t, c.Snapshot().Triggering)
	assert.Empty(t, log.got)

	c.RequestTrigger(ctx, models.SourceVision)
	clk.Advance(SettleDelay)
	assert.Equal(t, 1, act.count("play"))
	assert.Len(t, c.Snapshot().TriggerHistory, 2)
}

func TestStopAlarm_DuringActuationSilencesAgain(t *testing.T) {
	c, clk, act, _ := newTestController(nil)
	ctx := context.Background()
	act.onPlay = func() {
		c.StopAlarm(ctx)
		// Still in flight: a new request must not start a second actuation.
		c.RequestTrigger(ctx, models.SourceVision)
	}

	c.RequestTrigger(ctx, models.SourceVision)
	clk.Advance(SettleDelay)

	assert.False(t, c.Active())
	assert.Equal(t, 2, act.count("stop"))
	assert.Equal(t, 1, act.count("play"))
	assert.Len(t, c.Snapshot().TriggerHistory, 1)
	assert.Equal(t, 0, clk.Live())
}
