package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/models"

	"go.uber.org/zap"
)

// ErrTripNotFound is returned when no trip matches.
var ErrTripNotFound = errors.New("trip not found")

// TripRepository stores closed trips.
type TripRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTripRepository creates a trip repository.
func NewTripRepository(db *sql.DB, logger *zap.Logger) *TripRepository {
	return &TripRepository{
		db:     db,
		logger: logger,
	}
}

// SaveTrip inserts the trip or overwrites the stored one.
func (r *TripRepository) SaveTrip(ctx context.Context, trip *models.Trip) error {
	if trip == nil {
		return fmt.Errorf("trip is required")
	}
	if trip.TripID == "" || trip.VehicleID == "" {
		return fmt.Errorf("trip_id and vehicle_id are required")
	}

	minutes := trip.Minutes
	if minutes == nil {
		minutes = []models.MinuteSummary{}
	}
	minutesJSON, err := json.Marshal(minutes)
	if err != nil {
		return fmt.Errorf("failed to marshal minutes: %w", err)
	}

	query := `
		INSERT INTO trips (
			trip_id, vehicle_id, start_time, end_time,
			distance_km, max_speed_kmh, alarm_count,
			normal_blinks, slow_blinks, drowsy_minutes, minutes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (trip_id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			distance_km = EXCLUDED.distance_km,
			max_speed_kmh = EXCLUDED.max_speed_kmh,
			alarm_count = EXCLUDED.alarm_count,
			normal_blinks = EXCLUDED.normal_blinks,
			slow_blinks = EXCLUDED.slow_blinks,
			drowsy_minutes = EXCLUDED.drowsy_minutes,
			minutes = EXCLUDED.minutes
	`

	_, err = r.db.ExecContext(ctx, query,
		trip.TripID,
		trip.VehicleID,
		trip.StartTime,
		trip.EndTime,
		trip.DistanceKm,
		trip.MaxSpeedKmh,
		trip.AlarmCount,
		trip.NormalBlinks,
		trip.SlowBlinks,
		trip.DrowsyMinutes,
		minutesJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save trip: %w", err)
	}

	r.logger.Debug("Trip saved",
		zap.String("trip_id", trip.TripID),
		zap.Float64("distance_km", trip.DistanceKm),
	)
	return nil
}

const tripColumns = `
	trip_id, vehicle_id, start_time, end_time,
	distance_km, max_speed_kmh, alarm_count,
	normal_blinks, slow_blinks, drowsy_minutes, minutes`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var trip models.Trip
	var endTime sql.NullTime
	var minutes []byte

	if err := row.Scan(
		&trip.TripID,
		&trip.VehicleID,
		&trip.StartTime,
		&endTime,
		&trip.DistanceKm,
		&trip.MaxSpeedKmh,
		&trip.AlarmCount,
		&trip.NormalBlinks,
		&trip.SlowBlinks,
		&trip.DrowsyMinutes,
		&minutes,
	); err != nil {
		return nil, err
	}

	if endTime.Valid {
		trip.EndTime = &endTime.Time
	}
	trip.Minutes = []models.MinuteSummary{}
	if len(minutes) > 0 {
		if err := json.Unmarshal(minutes, &trip.Minutes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal minutes: %w", err)
		}
	}
	return &trip, nil
}

// GetTrip returns one trip of the vehicle.
func (r *TripRepository) GetTrip(ctx context.Context, vehicleID, tripID string) (*models.Trip, error) {
	if vehicleID == "" || tripID == "" {
		return nil, fmt.Errorf("vehicle_id and trip_id are required")
	}

	query := `SELECT ` + tripColumns + ` FROM trips WHERE trip_id = $1 AND vehicle_id = $2`
	trip, err := scanTrip(r.db.QueryRowContext(ctx, query, tripID, vehicleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTripNotFound
		}
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return trip, nil
}

// ListTrips returns the vehicle's trips started at or after since (all
// when nil), newest first.
func (r *TripRepository) ListTrips(ctx context.Context, vehicleID string, since *time.Time, limit int) ([]*models.Trip, error) {
	if vehicleID == "" {
		return nil, fmt.Errorf("vehicle_id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + tripColumns + ` FROM trips
		WHERE vehicle_id = $1
		  AND ($2::timestamptz IS NULL OR start_time >= $2)
		ORDER BY start_time DESC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, vehicleID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}
	defer rows.Close()

	var trips []*models.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, trip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trips: %w", err)
	}
	return trips, nil
}

// Totals sums the vehicle's closed trips started at or after since (all
// when nil).
func (r *TripRepository) Totals(ctx context.Context, vehicleID string, since *time.Time) (models.TripTotals, error) {
	var totals models.TripTotals
	if vehicleID == "" {
		return totals, fmt.Errorf("vehicle_id is required")
	}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(distance_km), 0),
			COALESCE(SUM(EXTRACT(EPOCH FROM (end_time - start_time))), 0),
			COALESCE(SUM(alarm_count), 0)
		FROM trips
		WHERE vehicle_id = $1
		  AND end_time IS NOT NULL
		  AND ($2::timestamptz IS NULL OR start_time >= $2)
	`

	var seconds float64
	err := r.db.QueryRowContext(ctx, query, vehicleID, since).Scan(
		&totals.Trips,
		&totals.DistanceKm,
		&seconds,
		&totals.Alarms,
	)
	if err != nil {
		return totals, fmt.Errorf("failed to sum trips: %w", err)
	}
	totals.DurationMin = int(seconds / 60)
	return totals, nil
}
