// Package driving derives the driving state from GPS fixes published by the
// head unit.
package driving

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/common/mqtt"
	"github.com/Richardsss22/NoZZZ/internal/history"

	"go.uber.org/zap"
)

const (
	earthRadiusKm = 6371.0
	// maxJumpKm rejects fixes that teleport the vehicle (GPS glitches).
	maxJumpKm = 1.0
)

// Fix is one GPS message.
type Fix struct {
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	SpeedKmh float64  `json:"speed_kmh"`
	Driving  bool     `json:"driving"`
	// DistanceKm, when set, overrides the distance computed from positions.
	DistanceKm *float64  `json:"distance_km,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Subscriber is the MQTT surface the monitor needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Sink is told about every accepted fix.
type Sink interface {
	UpdateDriving(ctx context.Context, speedKmh float64, driving bool, distanceKm float64)
}

// Monitor tracks the current speed and driving flag.
type Monitor struct {
	sink   Sink
	logger *zap.Logger

	mu       sync.RWMutex
	speed    float64
	driving  bool
	lat, lon *float64
}

// NewMonitor creates a monitor. sink may be nil.
func NewMonitor(sink Sink, logger *zap.Logger) *Monitor {
	return &Monitor{sink: sink, logger: logger}
}

// IsDriving reports whether the vehicle is driving or moving faster than
// walking pace.
func (m *Monitor) IsDriving() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return history.IsDriving(m.driving, m.speed)
}

// CurrentSpeed returns the last reported speed in km/h.
func (m *Monitor) CurrentSpeed() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.speed
}

// Start subscribes to the GPS topic.
func (m *Monitor) Start(sub Subscriber, topic string) error {
	if err := sub.Subscribe(topic, 0, m.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to gps: %w", err)
	}
	m.logger.Info("Driving monitor started", zap.String("topic", topic))
	return nil
}

// HandleMessage decodes and applies one fix.
func (m *Monitor) HandleMessage(_ string, payload []byte) error {
	var fix Fix
	if err := json.Unmarshal(payload, &fix); err != nil {
		return fmt.Errorf("failed to decode gps fix: %w", err)
	}
	m.Update(context.Background(), fix)
	return nil
}

// Update applies fix. Negative or non-finite speeds count as standing still.
func (m *Monitor) Update(ctx context.Context, fix Fix) {
	speed := fix.SpeedKmh
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed < 0 {
		speed = 0
	}

	m.mu.Lock()
	distance := 0.0
	switch {
	case fix.DistanceKm != nil && *fix.DistanceKm > 0:
		distance = *fix.DistanceKm
	case fix.Lat != nil && fix.Lon != nil && m.lat != nil && m.lon != nil:
		distance = haversineKm(*m.lat, *m.lon, *fix.Lat, *fix.Lon)
		if distance > maxJumpKm {
			m.logger.Debug("Discarding GPS jump", zap.Float64("distance_km", distance))
			distance = 0
		}
	}
	if fix.Lat != nil && fix.Lon != nil {
		lat, lon := *fix.Lat, *fix.Lon
		m.lat, m.lon = &lat, &lon
	}
	m.speed = speed
	m.driving = fix.Driving
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.UpdateDriving(ctx, speed, fix.Driving, distance)
	}
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
