package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/models"

	"go.uber.org/zap"
)

// AlarmEventsRepository stores alarm events.
type AlarmEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmEventsRepository creates an alarm events repository.
func NewAlarmEventsRepository(db *sql.DB, logger *zap.Logger) *AlarmEventsRepository {
	return &AlarmEventsRepository{
		db:     db,
		logger: logger,
	}
}

// AlarmEventFilters narrows ListAlarmEvents.
type AlarmEventFilters struct {
	StartTime *time.Time // triggered_at >= StartTime
	EndTime   *time.Time // triggered_at <= EndTime
	TripID    *string
	Source    *string
	Limit     int
}

// CreateAlarmEvent inserts event.
func (r *AlarmEventsRepository) CreateAlarmEvent(ctx context.Context, event *models.AlarmEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.EventID == "" || event.VehicleID == "" {
		return fmt.Errorf("event_id and vehicle_id are required")
	}
	triggerData := event.TriggerData
	if triggerData == "" {
		triggerData = "{}"
	}

	query := `
		INSERT INTO alarm_events (
			event_id, vehicle_id, trip_id, source,
			alarm_level, triggered_at, trigger_data, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.VehicleID,
		event.TripID,
		event.Source,
		event.AlarmLevel,
		event.TriggeredAt,
		triggerData,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alarm event: %w", err)
	}
	return nil
}

// ListAlarmEvents returns the vehicle's events matching filters, newest
// first.
func (r *AlarmEventsRepository) ListAlarmEvents(ctx context.Context, vehicleID string, filters AlarmEventFilters) ([]models.AlarmEvent, error) {
	if vehicleID == "" {
		return nil, fmt.Errorf("vehicle_id is required")
	}

	where := []string{"vehicle_id = $1"}
	args := []interface{}{vehicleID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filters.StartTime != nil {
		add("triggered_at >= $%d", *filters.StartTime)
	}
	if filters.EndTime != nil {
		add("triggered_at <= $%d", *filters.EndTime)
	}
	if filters.TripID != nil {
		add("trip_id = $%d", *filters.TripID)
	}
	if filters.Source != nil {
		add("source = $%d", *filters.Source)
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT event_id, vehicle_id, trip_id, source, alarm_level,
		       triggered_at, trigger_data, created_at
		FROM alarm_events
		WHERE %s
		ORDER BY triggered_at DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alarm events: %w", err)
	}
	defer rows.Close()

	var events []models.AlarmEvent
	for rows.Next() {
		var e models.AlarmEvent
		var tripID sql.NullString
		var triggerData []byte
		if err := rows.Scan(
			&e.EventID,
			&e.VehicleID,
			&tripID,
			&e.Source,
			&e.AlarmLevel,
			&e.TriggeredAt,
			&triggerData,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alarm event: %w", err)
		}
		if tripID.Valid {
			e.TripID = &tripID.String
		}
		e.TriggerData = "{}"
		if len(triggerData) > 0 {
			e.TriggerData = string(triggerData)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alarm events: %w", err)
	}
	return events, nil
}
