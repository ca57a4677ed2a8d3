package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/alarm"
	rediscommon "github.com/Richardsss22/NoZZZ/internal/common/redis"
	"github.com/Richardsss22/NoZZZ/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testStreams = Streams{Minutes: "nozzz:minutes", Alarms: "nozzz:alarms"}

type eventRecorder struct {
	events []*models.AlarmEvent
	err    error
}

func (r *eventRecorder) CreateAlarmEvent(_ context.Context, e *models.AlarmEvent) error {
	r.events = append(r.events, e)
	return r.err
}

type fixedTrip struct{ id *string }

func (f fixedTrip) CurrentTripID() *string { return f.id }

type fixedDriving struct {
	driving bool
	speed   float64
}

func (f fixedDriving) IsDriving() bool       { return f.driving }
func (f fixedDriving) CurrentSpeed() float64 { return f.speed }

func setupRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func readData(t *testing.T, client *redis.Client, stream string, out interface{}) int {
	msgs, err := rediscommon.ReadRange(context.Background(), client, stream, 10)
	require.NoError(t, err)
	if len(msgs) == 0 {
		return 0
	}
	data, ok := msgs[len(msgs)-1].Values["data"].(string)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(data), out))
	return len(msgs)
}

func TestOnMinuteSummaryPublishes(t *testing.T) {
	client := setupRedis(t)
	tripID := "trip-1"
	p := NewPublisher(client, testStreams, alarm.NewEventBuilder("car-42"), nil, fixedTrip{&tripID}, nil, zap.NewNop())

	received := time.Date(2026, 7, 14, 9, 1, 0, 0, time.UTC)
	p.OnMinuteSummary(context.Background(), models.MinuteSummary{
		Minute: 2, NormalBlinks: 9, SlowBlinks: 6, Flag: models.FlagDrowsy, ReceivedAt: received,
	})

	var msg MinuteMessage
	require.Equal(t, 1, readData(t, client, testStreams.Minutes, &msg))
	assert.Equal(t, MinuteMessage{
		VehicleID:    "car-42",
		TripID:       &tripID,
		Minute:       2,
		NormalBlinks: 9,
		SlowBlinks:   6,
		Flag:         models.FlagDrowsy,
		Drowsy:       true,
		ReceivedAt:   received,
	}, msg)
}

func TestRecordAlarmPersistsAndPublishes(t *testing.T) {
	client := setupRedis(t)
	events := &eventRecorder{}
	p := NewPublisher(client, testStreams, alarm.NewEventBuilder("car-42"), events, fixedTrip{}, fixedDriving{true, 96}, zap.NewNop())

	trig := models.AlarmTrigger{
		Source:      models.SourceVision,
		TriggeredAt: time.Date(2026, 7, 14, 9, 3, 0, 0, time.UTC),
		RestStop:    true,
		RecentCount: 2,
	}
	p.RecordAlarm(context.Background(), trig)

	require.Len(t, events.events, 1)
	saved := events.events[0]
	assert.Equal(t, "car-42", saved.VehicleID)
	assert.Nil(t, saved.TripID)
	assert.Equal(t, alarm.LevelAlert, saved.AlarmLevel)

	var data models.TriggerData
	require.NoError(t, json.Unmarshal([]byte(saved.TriggerData), &data))
	require.NotNil(t, data.SpeedKmh)
	assert.Equal(t, 96.0, *data.SpeedKmh)
	require.NotNil(t, data.Driving)
	assert.True(t, *data.Driving)

	var published models.AlarmEvent
	require.Equal(t, 1, readData(t, client, testStreams.Alarms, &published))
	assert.Equal(t, saved.EventID, published.EventID)
	assert.Equal(t, "vision", published.Source)
}

func TestRecordAlarmPublishesWhenStoreFails(t *testing.T) {
	client := setupRedis(t)
	events := &eventRecorder{err: errors.New("db down")}
	p := NewPublisher(client, testStreams, alarm.NewEventBuilder("car-42"), events, nil, nil, zap.NewNop())

	p.RecordAlarm(context.Background(), models.AlarmTrigger{Source: models.SourceEOGHeadDown, TriggeredAt: time.Now()})

	var published models.AlarmEvent
	require.Equal(t, 1, readData(t, client, testStreams.Alarms, &published))
	assert.Equal(t, alarm.LevelWarning, published.AlarmLevel)
}
