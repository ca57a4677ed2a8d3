// Package transport connects the EOG session and the detector to the
// outside world: MQTT gateway, USB serial and BLE links for the wearable,
// and the camera frame feed.
package transport

import (
	"context"
	"sync"

	"github.com/Richardsss22/NoZZZ/internal/common/mqtt"
	"github.com/Richardsss22/NoZZZ/internal/eog"
	"github.com/Richardsss22/NoZZZ/internal/framer"

	"go.uber.org/zap"
)

// QoS levels used for link writes.
const (
	qosFireAndForget byte = 0
	qosAcknowledged  byte = 1
)

// Broker is the MQTT surface the links use. *mqtt.Client implements it.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTDevice is a wearable bridged by a gateway that relays its UART over
// two MQTT topics, base64-wrapped.
type MQTTDevice struct {
	id      string
	broker  Broker
	rxTopic string // device -> us
	txTopic string // us -> device
	logger  *zap.Logger
}

// NewMQTTDevice creates a gateway-bridged device.
func NewMQTTDevice(id string, broker Broker, rxTopic, txTopic string, logger *zap.Logger) *MQTTDevice {
	return &MQTTDevice{
		id:      id,
		broker:  broker,
		rxTopic: rxTopic,
		txTopic: txTopic,
		logger:  logger,
	}
}

// ID returns the device id.
func (d *MQTTDevice) ID() string { return d.id }

// Open exposes the topics as link endpoints. A device without a command
// topic has no write endpoint, and the session refuses to attach it.
func (d *MQTTDevice) Open(context.Context) (eog.Channels, error) {
	ch := eog.Channels{Codec: framer.Base64}
	if d.rxTopic != "" {
		ch.Notifier = d
	}
	if d.txTopic != "" {
		ch.Writer = d
	}
	return ch, nil
}

// Subscribe forwards every payload on the notification topic to h.
func (d *MQTTDevice) Subscribe(h eog.ChunkHandler) (eog.Subscription, error) {
	sub := &mqttSubscription{broker: d.broker, topic: d.rxTopic, logger: d.logger}
	err := d.broker.Subscribe(d.rxTopic, qosAcknowledged, func(_ string, payload []byte) error {
		if sub.removed() {
			return nil
		}
		h(payload, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("Subscribed to EOG link topic",
		zap.String("device_id", d.id),
		zap.String("topic", d.rxTopic),
	)
	return sub, nil
}

// WriteWithoutResponse publishes p at QoS 0.
func (d *MQTTDevice) WriteWithoutResponse(_ context.Context, p []byte) error {
	return d.broker.Publish(d.txTopic, qosFireAndForget, false, p)
}

// WriteWithResponse publishes p at QoS 1 and waits for the broker ack.
func (d *MQTTDevice) WriteWithResponse(_ context.Context, p []byte) error {
	return d.broker.Publish(d.txTopic, qosAcknowledged, false, p)
}

type mqttSubscription struct {
	broker Broker
	topic  string
	logger *zap.Logger

	mu   sync.Mutex
	done bool
}

func (s *mqttSubscription) removed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *mqttSubscription) Remove() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()

	if err := s.broker.Unsubscribe(s.topic); err != nil {
		s.logger.Warn("Failed to unsubscribe EOG link topic",
			zap.String("topic", s.topic),
			zap.Error(err),
		)
	}
}
