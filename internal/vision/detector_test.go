package vision

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/clock"
	"github.com/Richardsss22/NoZZZ/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAlarm struct {
	mu       sync.Mutex
	active   bool
	triggers []models.TriggerSource
	stops    int
}

func (a *fakeAlarm) RequestTrigger(ctx context.Context, source models.TriggerSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return
	}
	a.active = true
	a.triggers = append(a.triggers, source)
}

func (a *fakeAlarm) StopAlarm(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.stops++
}

func (a *fakeAlarm) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *fakeAlarm) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.triggers)
}

type fakeSettings struct {
	mu        sync.Mutex
	threshold *float64
	mode      models.SafetyMode
	writes    int
}

var errMissing = errors.New("missing")

func (s *fakeSettings) Threshold(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threshold == nil {
		return 0, errMissing
	}
	return *s.threshold, nil
}

func (s *fakeSettings) SetThreshold(ctx context.Context, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = &v
	s.writes++
	return nil
}

func (s *fakeSettings) SafetyMode(ctx context.Context) (models.SafetyMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == "" {
		return "", errMissing
	}
	return s.mode, nil
}

func (s *fakeSettings) SetSafetyMode(ctx context.Context, m models.SafetyMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	return nil
}

func eyes(l, r float64) []Face {
	return []Face{Probabilities{Left: &l, Right: &r}}
}

func newTestDetector(t *testing.T, start time.Time) (*Detector, *clock.Fake, *fakeAlarm, *fakeSettings) {
	t.Helper()
	clk := clock.NewFake(start)
	alarm := &fakeAlarm{}
	settings := &fakeSettings{}
	d := NewDetector(clk, alarm, settings, nil, zap.NewNop())
	d.StartCamera()
	return d, clk, alarm, settings
}

var noon = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func TestHysteresis_OscillationInsideBandNeverReportsOpen(t *testing.T) {
	d, clk, alarm, _ := newTestDetector(t, noon)
	alarm.active = true
	ctx := context.Background()

	for !d.Snapshot().Eye.Closed {
		d.UpdateFaceData(ctx, eyes(0, 0), false)
		clk.Advance(100 * time.Millisecond)
	}

	// Drive the smoothed value to chosen targets by inverting the filter.
	steer := func(target float64) {
		prev := d.Snapshot().Eye.Left
		raw := (target - prev*(1-smoothAlpha)) / smoothAlpha
		require.True(t, raw >= 0 && raw <= 1, "raw %v", raw)
		d.UpdateFaceData(ctx, eyes(raw, raw), false)
		clk.Advance(100 * time.Millisecond)
	}

	low, high := DefaultThreshold-0.01, DefaultThreshold+0.05
	steer(low)
	for i := 0; i < 50; i++ {
		target := high
		if i%2 == 1 {
			target = low
		}
		steer(target)
		snap := d.Snapshot()
		assert.InDelta(t, target, snap.Eye.Left, 1e-9)
		assert.True(t, snap.Eye.Closed, "frame %d at %.2f", i, target)
		assert.NotNil(t, snap.Eye.ClosedSince)
	}

	steer(0.55)
	snap := d.Snapshot()
	assert.False(t, snap.Eye.Closed)
	assert.Nil(t, snap.Eye.ClosedSince)
	assert.Zero(t, snap.Eye.ClosedDuration)
}

func TestScenario_TriggersOncePastDelay(t *testing.T) {
	d, clk, alarm, _ := newTestDetector(t, noon)
	ctx := context.Background()

	seq := []float64{0.9, 0.9}
	for len(seq) < 30 {
		seq = append(seq, 0.2)
	}

	closedAt := -1
	for i, v := range seq {
		d.UpdateFaceData(ctx, eyes(v, v), false)
		snap := d.Snapshot()
		if closedAt < 0 && snap.Eye.Closed {
			closedAt = i
		}

		switch {
		case closedAt < 0 || time.Duration(i-closedAt)*300*time.Millisecond < DefaultAlarmAfter:
			require.Equal(t, 0, alarm.count(), "frame %d", i)
		default:
			require.Equal(t, 1, alarm.count(), "frame %d", i)
		}
		clk.Advance(300 * time.Millisecond)
	}

	require.GreaterOrEqual(t, closedAt, 2)
	assert.Equal(t, []models.TriggerSource{models.SourceVision}, alarm.triggers)
}

func TestWithoutAlarmTracksClosureOnly(t *testing.T) {
	clk := clock.NewFake(noon)
	d := NewDetector(clk, nil, nil, nil, zap.NewNop())
	d.StartCamera()
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		d.UpdateFaceData(ctx, eyes(0.1, 0.1), false)
		clk.Advance(300 * time.Millisecond)
	}

	snap := d.Snapshot()
	assert.True(t, snap.Eye.Closed)
	assert.Greater(t, snap.Eye.ClosedDuration, DefaultAlarmAfter)
}

func TestActiveAlarmSuspendsTriggersButKeepsPublishing(t *testing.T) {
	d, clk, alarm, _ := newTestDetector(t, noon)
	alarm.active = true
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		d.UpdateFaceData(ctx, eyes(0, 0), false)
		clk.Advance(300 * time.Millisecond)
	}

	snap := d.Snapshot()
	assert.True(t, snap.Eye.Closed)
	assert.Less(t, snap.Eye.Left, 0.01)
	assert.Equal(t, 0, alarm.count())
}

func TestFaceLossResetsAfterTimeout(t *testing.T) {
	d, clk, alarm, _ := newTestDetector(t, noon)
	alarm.active = true
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d.UpdateFaceData(ctx, eyes(0, 0), false)
		clk.Advance(100 * time.Millisecond)
	}
	require.True(t, d.Snapshot().Eye.Closed)

	// Exactly the timeout since the last face.
	clk.Advance(1400 * time.Millisecond)
	d.UpdateFaceData(ctx, nil, false)
	assert.True(t, d.Snapshot().Eye.Closed, "momentary loss must not flap")

	clk.Advance(200 * time.Millisecond)
	d.UpdateFaceData(ctx, nil, false)
	snap := d.Snapshot()
	assert.False(t, snap.Eye.FaceDetected)
	assert.False(t, snap.Eye.Closed)
	assert.Equal(t, 1.0, snap.Eye.Left)
	assert.Nil(t, snap.Eye.ClosedSince)
}

func TestFrontCameraSwapsEyes(t *testing.T) {
	d, _, _, _ := newTestDetector(t, noon)
	d.UpdateFaceData(context.Background(), eyes(0, 1), true)

	snap := d.Snapshot()
	assert.InDelta(t, 1.0, snap.Eye.Left, 1e-9)
	assert.InDelta(t, 0.65, snap.Eye.Right, 1e-9)

	d2, _, _, _ := newTestDetector(t, noon)
	d2.UpdateFaceData(context.Background(), eyes(0, 1), false)
	assert.InDelta(t, 0.65, d2.Snapshot().Eye.Left, 1e-9)
}

func TestOpenness(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		ok   bool
		want float64
	}{
		{"missing", 0, false, 1},
		{"probability", 0.42, true, 0.42},
		{"percentage", 85, true, 0.85},
		{"negative", -0.3, true, 0},
		{"huge percentage", 250, true, 1},
		{"nan", math.NaN(), true, 1},
		{"inf", math.Inf(1), true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, openness(tt.v, tt.ok), 1e-9)
		})
	}
}

func TestFaceFieldsProbesKnownNames(t *testing.T) {
	var f FaceFields
	require.NoError(t, json.Unmarshal([]byte(`{"leftEyeOpenProb":0.3,"probabilityRightEyeOpen":70}`), &f))

	l, r := readEyes(f)
	assert.InDelta(t, 0.3, l, 1e-9)
	assert.InDelta(t, 0.7, r, 1e-9)

	l, r = readEyes(FaceFields{"smiling": 0.9, "rightEyeOpenProbability": "0.1"})
	assert.Equal(t, 1.0, l)
	assert.Equal(t, 1.0, r)
}

func TestCalibrationDerivesThreshold(t *testing.T) {
	d, clk, _, settings := newTestDetector(t, noon)
	ctx := context.Background()

	d.StartCalibration()
	for i := 0; i < calibrationTicks; i++ {
		d.UpdateFaceData(ctx, eyes(0.8, 0.6), false)
		assert.Equal(t, i*10, d.Snapshot().CalibrationProgress)
		clk.Advance(calibrationTick)
	}

	snap := d.Snapshot()
	assert.False(t, snap.Calibrating)
	assert.Equal(t, 100, snap.CalibrationProgress)
	assert.InDelta(t, 0.35, snap.Profile.Threshold, 1e-9)
	require.NotNil(t, settings.threshold)
	assert.InDelta(t, 0.35, *settings.threshold, 1e-9)
	assert.Equal(t, 0, clk.Live())

	// Calibration frames never run closure logic.
	assert.False(t, snap.Eye.Closed)
}

func TestCalibrationClampsThreshold(t *testing.T) {
	d, clk, _, _ := newTestDetector(t, noon)
	d.StartCalibration()
	for i := 0; i < calibrationTicks; i++ {
		d.UpdateFaceData(context.Background(), eyes(0.1, 0.1), false)
		clk.Advance(calibrationTick)
	}
	assert.InDelta(t, minThreshold, d.Snapshot().Profile.Threshold, 1e-9)

	th, ok := derivedThreshold([]float64{1, 1, 1, 1, 1, 1, 1})
	assert.True(t, ok)
	assert.InDelta(t, 0.5, th, 1e-9)
}

func TestCalibrationNeedsSixSamples(t *testing.T) {
	d, clk, _, settings := newTestDetector(t, noon)
	d.StartCalibration()
	for i := 0; i < 5; i++ {
		d.UpdateFaceData(context.Background(), eyes(0.5, 0.5), false)
	}
	clk.Advance(3 * time.Second)

	assert.InDelta(t, DefaultThreshold, d.Snapshot().Profile.Threshold, 1e-9)
	assert.Equal(t, 0, settings.writes)
}

func TestCancelCalibration(t *testing.T) {
	d, clk, _, settings := newTestDetector(t, noon)
	d.StartCalibration()
	for i := 0; i < 8; i++ {
		d.UpdateFaceData(context.Background(), eyes(0.5, 0.5), false)
	}
	d.CancelCalibration()
	clk.Advance(3 * time.Second)

	snap := d.Snapshot()
	assert.False(t, snap.Calibrating)
	assert.Equal(t, 0, snap.CalibrationProgress)
	assert.InDelta(t, DefaultThreshold, snap.Profile.Threshold, 1e-9)
	assert.Equal(t, 0, settings.writes)
	assert.Equal(t, 0, clk.Live())
}

func TestStopCameraSilencesAlarmAndIgnoresFrames(t *testing.T) {
	d, _, alarm, _ := newTestDetector(t, noon)
	alarm.active = true
	d.UpdateFaceData(context.Background(), eyes(0, 0), false)

	d.StopCamera(context.Background())
	d.UpdateFaceData(context.Background(), eyes(0, 0), false)

	snap := d.Snapshot()
	assert.False(t, snap.CameraActive)
	assert.False(t, snap.Eye.FaceDetected)
	assert.Equal(t, 1, alarm.stops)
	assert.False(t, alarm.Active())
}

func TestPauseCameraKeepsAlarm(t *testing.T) {
	d, _, alarm, _ := newTestDetector(t, noon)
	alarm.active = true

	d.PauseCamera()
	d.UpdateFaceData(context.Background(), eyes(0, 0), false)

	assert.False(t, d.Snapshot().CameraActive)
	assert.False(t, d.Snapshot().Eye.FaceDetected)
	assert.Equal(t, 0, alarm.stops)
	assert.True(t, alarm.Active())
}

func TestModes(t *testing.T) {
	d, _, _, settings := newTestDetector(t, noon)
	ctx := context.Background()

	assert.True(t, d.Snapshot().Profile.RequireDriving)

	require.NoError(t, d.SetMode(ctx, models.ModeStudy))
	assert.Equal(t, models.TriggerProfile{AlarmAfter: DefaultAlarmAfter, Threshold: DefaultThreshold}, d.Snapshot().Profile)
	assert.Equal(t, models.ModeStudy, settings.mode)

	require.NoError(t, d.SetMode(ctx, models.ModeCustom))
	assert.InDelta(t, DefaultThreshold, d.Snapshot().Profile.Threshold, 1e-9)

	off, delay, th := false, 4*time.Second, 0.5
	require.NoError(t, d.SetCustom(CustomPatch{RequireDriving: &off, AlarmAfter: &delay, Threshold: &th}))
	assert.Equal(t, models.TriggerProfile{AlarmAfter: delay, Threshold: th}, d.Snapshot().Profile)

	bad := time.Duration(0)
	assert.Error(t, d.SetCustom(CustomPatch{AlarmAfter: &bad}))
	assert.Error(t, d.SetMode(ctx, "sleeping"))
	assert.Error(t, d.SetThreshold(ctx, 1.2))
}

func TestLoadSettings(t *testing.T) {
	d, _, _, settings := newTestDetector(t, noon)
	v := 0.3
	settings.threshold = &v
	settings.mode = models.ModeStudy

	d.LoadSettings(context.Background())

	snap := d.Snapshot()
	assert.Equal(t, models.ModeStudy, snap.Mode)
	assert.InDelta(t, 0.3, snap.Profile.Threshold, 1e-9)
}

func TestNightRunFollowsClock(t *testing.T) {
	d, _, _, _ := newTestDetector(t, time.Date(2026, 5, 4, 21, 30, 0, 0, time.UTC))
	assert.True(t, d.Snapshot().NightRun)

	d2, _, _, _ := newTestDetector(t, noon)
	assert.False(t, d2.Snapshot().NightRun)
}
