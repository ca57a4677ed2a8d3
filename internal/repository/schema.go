package repository

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS trips (
		trip_id        UUID PRIMARY KEY,
		vehicle_id     TEXT NOT NULL,
		start_time     TIMESTAMPTZ NOT NULL,
		end_time       TIMESTAMPTZ,
		distance_km    DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_speed_kmh  DOUBLE PRECISION NOT NULL DEFAULT 0,
		alarm_count    INTEGER NOT NULL DEFAULT 0,
		normal_blinks  INTEGER NOT NULL DEFAULT 0,
		slow_blinks    INTEGER NOT NULL DEFAULT 0,
		drowsy_minutes INTEGER NOT NULL DEFAULT 0,
		minutes        JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trips_vehicle_start ON trips (vehicle_id, start_time DESC)`,
	`CREATE TABLE IF NOT EXISTS alarm_events (
		event_id     UUID PRIMARY KEY,
		vehicle_id   TEXT NOT NULL,
		trip_id      UUID,
		source       TEXT NOT NULL,
		alarm_level  TEXT NOT NULL,
		triggered_at TIMESTAMPTZ NOT NULL,
		trigger_data JSONB NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alarm_events_vehicle_time ON alarm_events (vehicle_id, triggered_at DESC)`,
}

// EnsureSchema creates the tables this service writes to.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
