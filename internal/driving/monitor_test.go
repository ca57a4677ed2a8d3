package driving

import (
	"context"
	"math"
	"testing"

	"github.com/Richardsss22/NoZZZ/internal/common/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type update struct {
	speed    float64
	driving  bool
	distance float64
}

type sinkRecorder struct {
	updates []update
}

func (s *sinkRecorder) UpdateDriving(_ context.Context, speed float64, driving bool, distance float64) {
	s.updates = append(s.updates, update{speed, driving, distance})
}

type fakeSubscriber struct {
	topic   string
	handler mqtt.MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	f.topic = topic
	f.handler = h
	return nil
}

func (f *fakeSubscriber) Unsubscribe(...string) error { return nil }

func ptr(v float64) *float64 { return &v }

func TestMonitorDrivingRule(t *testing.T) {
	m := NewMonitor(nil, zap.NewNop())
	ctx := context.Background()

	assert.False(t, m.IsDriving())

	m.Update(ctx, Fix{SpeedKmh: 20})
	assert.True(t, m.IsDriving())
	assert.Equal(t, 20.0, m.CurrentSpeed())

	m.Update(ctx, Fix{SpeedKmh: 5, Driving: true})
	assert.True(t, m.IsDriving())

	m.Update(ctx, Fix{SpeedKmh: 5})
	assert.False(t, m.IsDriving())

	m.Update(ctx, Fix{SpeedKmh: math.NaN()})
	assert.Equal(t, 0.0, m.CurrentSpeed())
}

func TestMonitorDistance(t *testing.T) {
	rec := &sinkRecorder{}
	m := NewMonitor(rec, zap.NewNop())
	ctx := context.Background()

	m.Update(ctx, Fix{Lat: ptr(38.7223), Lon: ptr(-9.1393), SpeedKmh: 50})
	// ~0.111 km north
	m.Update(ctx, Fix{Lat: ptr(38.7233), Lon: ptr(-9.1393), SpeedKmh: 52})
	// glitch: ~111 km away
	m.Update(ctx, Fix{Lat: ptr(39.7233), Lon: ptr(-9.1393), SpeedKmh: 52})
	m.Update(ctx, Fix{SpeedKmh: 40, DistanceKm: ptr(0.25)})

	require.Len(t, rec.updates, 4)
	assert.Equal(t, 0.0, rec.updates[0].distance)
	assert.InDelta(t, 0.111, rec.updates[1].distance, 0.001)
	assert.Equal(t, 0.0, rec.updates[2].distance)
	assert.Equal(t, 0.25, rec.updates[3].distance)
	assert.Equal(t, 40.0, rec.updates[3].speed)
}

func TestMonitorHandleMessage(t *testing.T) {
	rec := &sinkRecorder{}
	m := NewMonitor(rec, zap.NewNop())
	sub := &fakeSubscriber{}
	require.NoError(t, m.Start(sub, "vehicle/gps"))
	assert.Equal(t, "vehicle/gps", sub.topic)

	require.NoError(t, sub.handler("vehicle/gps", []byte(`{"speed_kmh":72.5,"driving":true}`)))
	assert.Error(t, sub.handler("vehicle/gps", []byte(`not json`)))

	require.Len(t, rec.updates, 1)
	assert.Equal(t, update{72.5, true, 0}, rec.updates[0])
	assert.True(t, m.IsDriving())
}
