// Package history folds minute summaries, alarms and driving updates into
// trips, and renders session reports.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/clock"
	"github.com/Richardsss22/NoZZZ/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DrivingSpeedKmh is the speed above which the vehicle counts as driving
	// even when the platform does not say so.
	DrivingSpeedKmh = 15.0
	// TripEndAfter is how long the vehicle must stand still before the open
	// trip is closed.
	TripEndAfter = 3 * time.Minute
)

// TripStore persists closed trips.
type TripStore interface {
	SaveTrip(ctx context.Context, trip *models.Trip) error
	ListTrips(ctx context.Context, vehicleID string, since *time.Time, limit int) ([]*models.Trip, error)
	Totals(ctx context.Context, vehicleID string, since *time.Time) (models.TripTotals, error)
}

// DrivingStatus is the latest driving update seen by the tracker.
type DrivingStatus struct {
	Driving  bool    `json:"driving"`
	SpeedKmh float64 `json:"speed_kmh"`
}

// Summary is the trip overview shown on the history screen.
type Summary struct {
	Current *models.Trip      `json:"current,omitempty"`
	Month   models.TripTotals `json:"month"`
	AllTime models.TripTotals `json:"all_time"`
}

// Tracker owns the open trip of one vehicle.
type Tracker struct {
	clock     clock.Clock
	vehicleID string
	store     TripStore
	logger    *zap.Logger

	mu           sync.Mutex
	current      *models.Trip
	status       DrivingStatus
	stoppedSince *time.Time
}

// NewTracker creates a tracker with no open trip. store may be nil, closed
// trips are then only logged.
func NewTracker(clk clock.Clock, vehicleID string, store TripStore, logger *zap.Logger) *Tracker {
	return &Tracker{
		clock:     clk,
		vehicleID: vehicleID,
		store:     store,
		logger:    logger,
	}
}

// IsDriving applies the driving rule to a platform flag and a speed.
func IsDriving(driving bool, speedKmh float64) bool {
	return driving || speedKmh > DrivingSpeedKmh
}

// UpdateDriving folds one driving update into the open trip. A trip opens
// when driving starts and closes after the vehicle stood still for
// TripEndAfter. distanceKm is the distance covered since the last update.
func (t *Tracker) UpdateDriving(ctx context.Context, speedKmh float64, driving bool, distanceKm float64) {
	now := t.clock.Now()
	moving := IsDriving(driving, speedKmh)

	t.mu.Lock()
	t.status = DrivingStatus{Driving: moving, SpeedKmh: speedKmh}
	if moving && t.current == nil {
		t.current = &models.Trip{
			TripID:    uuid.New().String(),
			VehicleID: t.vehicleID,
			StartTime: now,
			Minutes:   []models.MinuteSummary{},
		}
		t.logger.Info("Trip started", zap.String("trip_id", t.current.TripID))
	}
	if t.current == nil {
		t.mu.Unlock()
		return
	}

	if distanceKm > 0 {
		t.current.DistanceKm += distanceKm
	}
	if speedKmh > t.current.MaxSpeedKmh {
		t.current.MaxSpeedKmh = speedKmh
	}

	if moving {
		t.stoppedSince = nil
		t.mu.Unlock()
		return
	}
	if t.stoppedSince == nil {
		t.stoppedSince = &now
	}
	var closed *models.Trip
	if now.Sub(*t.stoppedSince) >= TripEndAfter {
		closed = t.closeLocked(*t.stoppedSince)
	}
	t.mu.Unlock()

	if closed != nil {
		t.save(ctx, closed)
	}
}

// EndTrip closes the open trip now and persists it. It returns nil when no
// trip is open.
func (t *Tracker) EndTrip(ctx context.Context) (*models.Trip, error) {
	t.mu.Lock()
	if t.current == nil {
		t.mu.Unlock()
		return nil, nil
	}
	closed := t.closeLocked(t.clock.Now())
	t.mu.Unlock()

	if err := t.save(ctx, closed); err != nil {
		return closed, err
	}
	return closed, nil
}

func (t *Tracker) closeLocked(end time.Time) *models.Trip {
	trip := t.current
	trip.EndTime = &end
	t.current = nil
	t.stoppedSince = nil
	return trip
}

func (t *Tracker) save(ctx context.Context, trip *models.Trip) error {
	t.logger.Info("Trip ended",
		zap.String("trip_id", trip.TripID),
		zap.Float64("distance_km", trip.DistanceKm),
		zap.Int("alarm_count", trip.AlarmCount),
	)
	if t.store == nil {
		return nil
	}
	if err := t.store.SaveTrip(ctx, trip); err != nil {
		t.logger.Error("Failed to save trip",
			zap.String("trip_id", trip.TripID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save trip: %w", err)
	}
	return nil
}

// OnMinuteSummary adds a device minute to the open trip.
func (t *Tracker) OnMinuteSummary(_ context.Context, m models.MinuteSummary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	t.current.Minutes = append(t.current.Minutes, m)
	t.current.NormalBlinks += m.NormalBlinks
	t.current.SlowBlinks += m.SlowBlinks
	if m.Flag.Drowsy() {
		t.current.DrowsyMinutes++
	}
}

// RecordAlarm counts an actuated alarm against the open trip.
func (t *Tracker) RecordAlarm(_ context.Context, _ models.AlarmTrigger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		t.current.AlarmCount++
	}
}

// CurrentTripID returns the open trip's id, or nil.
func (t *Tracker) CurrentTripID() *string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	id := t.current.TripID
	return &id
}

// CurrentTrip returns a copy of the open trip, or nil.
func (t *Tracker) CurrentTrip() *models.Trip {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyTrip(t.current)
}

// Status returns the latest driving update.
func (t *Tracker) Status() DrivingStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Summary returns the open trip plus this month's and all-time totals of
// closed trips.
func (t *Tracker) Summary(ctx context.Context) (*Summary, error) {
	summary := &Summary{Current: t.CurrentTrip()}
	if t.store == nil {
		return summary, nil
	}

	now := t.clock.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	month, err := t.store.Totals(ctx, t.vehicleID, &monthStart)
	if err != nil {
		return nil, fmt.Errorf("failed to get monthly totals: %w", err)
	}
	allTime, err := t.store.Totals(ctx, t.vehicleID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get all-time totals: %w", err)
	}
	summary.Month = month
	summary.AllTime = allTime
	return summary, nil
}

// Trips lists the closed trips started at or after since.
func (t *Tracker) Trips(ctx context.Context, since *time.Time, limit int) ([]*models.Trip, error) {
	if t.store == nil {
		return []*models.Trip{}, nil
	}
	return t.store.ListTrips(ctx, t.vehicleID, since, limit)
}

func copyTrip(trip *models.Trip) *models.Trip {
	if trip == nil {
		return nil
	}
	c := *trip
	c.Minutes = append([]models.MinuteSummary(nil), trip.Minutes...)
	if trip.EndTime != nil {
		end := *trip.EndTime
		c.EndTime = &end
	}
	return &c
}
