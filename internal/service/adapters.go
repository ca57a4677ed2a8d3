package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Richardsss22/NoZZZ/internal/clock"
	"github.com/Richardsss22/NoZZZ/internal/config"
	"github.com/Richardsss22/NoZZZ/internal/eog"
	"github.com/Richardsss22/NoZZZ/internal/models"
	"github.com/Richardsss22/NoZZZ/internal/transport"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// newDevice builds the EOG link selected by cfg.Link.Kind.
func newDevice(cfg *config.Config, broker transport.Broker, clk clock.Clock, logger *zap.Logger) (eog.Device, error) {
	switch cfg.Link.Kind {
	case config.LinkMQTT:
		return transport.NewMQTTDevice("mqtt:"+cfg.VehicleID, broker, cfg.Link.RxTopic, cfg.Link.TxTopic, logger), nil
	case config.LinkSerial:
		return transport.NewSerialDevice(cfg.Link.SerialPort, cfg.Link.SerialBaud, logger), nil
	case config.LinkBLE:
		return transport.NewBLEDevice(bluetooth.DefaultAdapter, cfg.Link.BLEAddress, cfg.Link.BLEName, cfg.Link.BLEScanTimeout, logger), nil
	case config.LinkSim:
		return eog.NewSimulator(clk, logger), nil
	}
	return nil, fmt.Errorf("unsupported link kind: %s", cfg.Link.Kind)
}

// emergencySettings falls back to the configured number when no contact
// is stored.
type emergencySettings struct {
	store interface {
		StrobeEnabled(ctx context.Context) bool
		EmergencyContact(ctx context.Context) string
	}
	fallback string
}

func (e emergencySettings) StrobeEnabled(ctx context.Context) bool {
	return e.store.StrobeEnabled(ctx)
}

func (e emergencySettings) EmergencyContact(ctx context.Context) string {
	if number := strings.TrimSpace(e.store.EmergencyContact(ctx)); number != "" {
		return number
	}
	return e.fallback
}

type broadcaster interface {
	Broadcast(eventType string, data any)
}

// hubNotifier pushes alarms and minute summaries to websocket clients as
// they happen, between the periodic state snapshots.
type hubNotifier struct {
	hub broadcaster
}

func (n hubNotifier) RecordAlarm(_ context.Context, t models.AlarmTrigger) {
	n.hub.Broadcast("alarm", t)
}

func (n hubNotifier) OnMinuteSummary(_ context.Context, m models.MinuteSummary) {
	n.hub.Broadcast("minute", m)
}
