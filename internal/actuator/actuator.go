// Package actuator drives the head unit's audio, flashlight and phone over
// MQTT, with an optional HTTP relay for emergency calls.
package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Actions published to the head unit.
const (
	ActionMaxVolume  = "set_max_volume"
	ActionPlayAlarm  = "play_alarm"
	ActionStopAlarm  = "stop_alarm"
	ActionStrobe     = "strobe_on"
	ActionStopStrobe = "strobe_off"
	ActionCall       = "call"
	ActionOpenDialer = "open_dialer"
)

// Publisher is the MQTT surface the actuator needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Command is the message sent to the head unit.
type Command struct {
	Action    string `json:"action"`
	VehicleID string `json:"vehicle_id"`
	Number    string `json:"number,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// CallRequest is the body posted to the emergency call relay.
type CallRequest struct {
	VehicleID string `json:"vehicle_id"`
	Number    string `json:"number"`
	Reason    string `json:"reason"`
}

// Actuator publishes actuation commands. It implements alarm.Actuator.
type Actuator struct {
	pub       Publisher
	topic     string
	vehicleID string
	relay     *resty.Client
	logger    *zap.Logger
}

// NewActuator creates an actuator publishing on topic. When webhookURL is
// set, emergency calls are placed through that relay instead of the head
// unit.
func NewActuator(pub Publisher, topic, vehicleID, webhookURL string, logger *zap.Logger) *Actuator {
	a := &Actuator{
		pub:       pub,
		topic:     topic,
		vehicleID: vehicleID,
		logger:    logger,
	}
	if webhookURL != "" {
		a.relay = resty.New().
			SetBaseURL(webhookURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json")
	}
	return a
}

func (a *Actuator) SetMaxVolume(ctx context.Context) error { return a.send(ctx, ActionMaxVolume, "") }
func (a *Actuator) PlayAlarm(ctx context.Context) error    { return a.send(ctx, ActionPlayAlarm, "") }
func (a *Actuator) StopAlarm(ctx context.Context) error    { return a.send(ctx, ActionStopAlarm, "") }
func (a *Actuator) Strobe(ctx context.Context) error       { return a.send(ctx, ActionStrobe, "") }
func (a *Actuator) StopStrobe(ctx context.Context) error   { return a.send(ctx, ActionStopStrobe, "") }

// OpenDialer asks the head unit to show the dialer with number filled in.
func (a *Actuator) OpenDialer(ctx context.Context, number string) error {
	return a.send(ctx, ActionOpenDialer, number)
}

// CallPhone places the emergency call, through the relay when configured.
func (a *Actuator) CallPhone(ctx context.Context, number string) error {
	if a.relay == nil {
		return a.send(ctx, ActionCall, number)
	}

	resp, err := a.relay.R().
		SetContext(ctx).
		SetBody(CallRequest{
			VehicleID: a.vehicleID,
			Number:    number,
			Reason:    "drowsiness_alarm_unanswered",
		}).
		Post("")
	if err != nil {
		a.logger.Error("Emergency call relay failed", zap.Error(err))
		return fmt.Errorf("failed to call relay: %w", err)
	}
	if resp.IsError() {
		a.logger.Error("Emergency call relay returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return fmt.Errorf("relay returned status %d", resp.StatusCode())
	}

	a.logger.Info("Emergency call placed via relay", zap.String("number", number))
	return nil
}

func (a *Actuator) send(ctx context.Context, action, number string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(Command{
		Action:    action,
		VehicleID: a.vehicleID,
		Number:    number,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	// Actuation must arrive: QoS 1.
	if err := a.pub.Publish(a.topic, 1, false, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", action, err)
	}
	a.logger.Debug("Actuation command sent", zap.String("action", action))
	return nil
}
