package models

import "time"

// Trip aggregates one drive (trips table).
type Trip struct {
	TripID        string          `json:"trip_id" db:"trip_id"`
	VehicleID     string          `json:"vehicle_id" db:"vehicle_id"`
	StartTime     time.Time       `json:"start_time" db:"start_time"`
	EndTime       *time.Time      `json:"end_time,omitempty" db:"end_time"`
	DistanceKm    float64         `json:"distance_km" db:"distance_km"`
	MaxSpeedKmh   float64         `json:"max_speed_kmh" db:"max_speed_kmh"`
	AlarmCount    int             `json:"alarm_count" db:"alarm_count"`
	NormalBlinks  int             `json:"normal_blinks" db:"normal_blinks"`
	SlowBlinks    int             `json:"slow_blinks" db:"slow_blinks"`
	DrowsyMinutes int             `json:"drowsy_minutes" db:"drowsy_minutes"`
	Minutes       []MinuteSummary `json:"minutes" db:"minutes"` // JSONB
}

// Duration is the trip length; open trips measure up to now.
func (t *Trip) Duration(now time.Time) time.Duration {
	end := now
	if t.EndTime != nil {
		end = *t.EndTime
	}
	if end.Before(t.StartTime) {
		return 0
	}
	return end.Sub(t.StartTime)
}

// TripTotals sums a set of trips.
type TripTotals struct {
	Trips       int     `json:"trips"`
	DistanceKm  float64 `json:"distance_km"`
	DurationMin int     `json:"duration_min"`
	Alarms      int     `json:"alarms"`
}
