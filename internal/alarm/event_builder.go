package alarm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/models"

	"github.com/google/uuid"
)

// Alarm levels stored with events.
const (
	LevelWarning = "WARNING"
	LevelAlert   = "ALERT"
)

// EventBuilder turns accepted triggers into persistable alarm events.
type EventBuilder struct {
	vehicleID string
}

// NewEventBuilder creates an event builder for one vehicle.
func NewEventBuilder(vehicleID string) *EventBuilder {
	return &EventBuilder{vehicleID: vehicleID}
}

// VehicleID returns the vehicle the builder stamps on events.
func (b *EventBuilder) VehicleID() string { return b.vehicleID }

// BuildAlarmEvent builds the alarm_events row for trig. A trigger that
// raised the rest-stop advisory is an ALERT, any other a WARNING.
func (b *EventBuilder) BuildAlarmEvent(trig models.AlarmTrigger, tripID *string, speedKmh *float64, driving *bool) (*models.AlarmEvent, error) {
	triggerData := BuildTriggerData(trig, speedKmh, driving)
	triggerDataJSON, err := json.Marshal(triggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	level := LevelWarning
	if trig.RestStop {
		level = LevelAlert
	}

	return &models.AlarmEvent{
		EventID:     uuid.New().String(),
		VehicleID:   b.vehicleID,
		TripID:      tripID,
		Source:      string(trig.Source),
		AlarmLevel:  level,
		TriggeredAt: trig.TriggeredAt,
		TriggerData: string(triggerDataJSON),
		CreatedAt:   time.Now(),
	}, nil
}

// BuildTriggerData builds the trigger snapshot.
func BuildTriggerData(trig models.AlarmTrigger, speedKmh *float64, driving *bool) *models.TriggerData {
	return &models.TriggerData{
		Source:      string(trig.Source),
		RestStop:    trig.RestStop,
		RecentCount: trig.RecentCount,
		SpeedKmh:    speedKmh,
		Driving:     driving,
	}
}
