// Package publisher fans minute summaries and actuated alarms out to Redis
// streams and the alarm_events table.
package publisher

import (
	"context"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/alarm"
	rediscommon "github.com/Richardsss22/NoZZZ/internal/common/redis"
	"github.com/Richardsss22/NoZZZ/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Streams names the output streams.
type Streams struct {
	Minutes string
	Alarms  string
}

// EventStore persists alarm events.
type EventStore interface {
	CreateAlarmEvent(ctx context.Context, event *models.AlarmEvent) error
}

// TripContext supplies the open trip, if any.
type TripContext interface {
	CurrentTripID() *string
}

// DrivingContext supplies the vehicle state at trigger time.
type DrivingContext interface {
	IsDriving() bool
	CurrentSpeed() float64
}

// MinuteMessage is the payload published per device minute.
type MinuteMessage struct {
	VehicleID    string            `json:"vehicle_id"`
	TripID       *string           `json:"trip_id,omitempty"`
	Minute       int               `json:"minute"`
	NormalBlinks int               `json:"normal"`
	SlowBlinks   int               `json:"slow"`
	Flag         models.MinuteFlag `json:"flag"`
	Drowsy       bool              `json:"drowsy"`
	ReceivedAt   time.Time         `json:"received_at"`
}

// Publisher implements eog.SummarySink and alarm.Recorder.
type Publisher struct {
	client  *redis.Client
	streams Streams
	builder *alarm.EventBuilder
	events  EventStore
	trips   TripContext
	driving DrivingContext
	logger  *zap.Logger
}

// NewPublisher creates a publisher. events, trips and driving may be nil.
func NewPublisher(
	client *redis.Client,
	streams Streams,
	builder *alarm.EventBuilder,
	events EventStore,
	trips TripContext,
	driving DrivingContext,
	logger *zap.Logger,
) *Publisher {
	return &Publisher{
		client:  client,
		streams: streams,
		builder: builder,
		events:  events,
		trips:   trips,
		driving: driving,
		logger:  logger,
	}
}

// OnMinuteSummary publishes m to the minutes stream. Failures are logged.
func (p *Publisher) OnMinuteSummary(ctx context.Context, m models.MinuteSummary) {
	msg := MinuteMessage{
		VehicleID:    p.builder.VehicleID(),
		TripID:       p.tripID(),
		Minute:       m.Minute,
		NormalBlinks: m.NormalBlinks,
		SlowBlinks:   m.SlowBlinks,
		Flag:         m.Flag,
		Drowsy:       m.Flag.Drowsy(),
		ReceivedAt:   m.ReceivedAt,
	}
	streamID, err := rediscommon.PublishJSONToStream(ctx, p.client, p.streams.Minutes, msg)
	if err != nil {
		p.logger.Error("Failed to publish minute summary",
			zap.Int("minute", m.Minute),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("Published minute summary",
		zap.String("stream", p.streams.Minutes),
		zap.String("stream_id", streamID),
	)
}

// RecordAlarm persists trig as an alarm event and publishes it.
func (p *Publisher) RecordAlarm(ctx context.Context, trig models.AlarmTrigger) {
	var speed *float64
	var driving *bool
	if p.driving != nil {
		s, d := p.driving.CurrentSpeed(), p.driving.IsDriving()
		speed, driving = &s, &d
	}

	event, err := p.builder.BuildAlarmEvent(trig, p.tripID(), speed, driving)
	if err != nil {
		p.logger.Error("Failed to build alarm event", zap.Error(err))
		return
	}

	if p.events != nil {
		if err := p.events.CreateAlarmEvent(ctx, event); err != nil {
			p.logger.Error("Failed to save alarm event",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}

	streamID, err := rediscommon.PublishJSONToStream(ctx, p.client, p.streams.Alarms, event)
	if err != nil {
		p.logger.Error("Failed to publish alarm event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}
	p.logger.Info("Published alarm event",
		zap.String("event_id", event.EventID),
		zap.String("source", event.Source),
		zap.String("alarm_level", event.AlarmLevel),
		zap.String("stream_id", streamID),
	)
}

func (p *Publisher) tripID() *string {
	if p.trips == nil {
		return nil
	}
	return p.trips.CurrentTripID()
}
