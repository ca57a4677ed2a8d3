package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Richardsss22/NoZZZ/internal/vision"

	"go.uber.org/zap"
)

// FrameSink consumes decoded camera frames.
type FrameSink interface {
	UpdateFaceData(ctx context.Context, faces []vision.Face, frontFacing bool)
}

// Frame is one camera pipeline message. Face records keep whatever field
// names the on-device detector emits.
type Frame struct {
	Faces       []vision.FaceFields `json:"faces"`
	FrontFacing bool                `json:"front_facing"`
}

// FrameFeed relays camera frames published on an MQTT topic into the
// detector.
type FrameFeed struct {
	broker Broker
	topic  string
	sink   FrameSink
	logger *zap.Logger
}

// NewFrameFeed creates a frame feed.
func NewFrameFeed(broker Broker, topic string, sink FrameSink, logger *zap.Logger) *FrameFeed {
	return &FrameFeed{
		broker: broker,
		topic:  topic,
		sink:   sink,
		logger: logger,
	}
}

// Start subscribes to the frame topic. Frames are QoS 0: a dropped frame
// is replaced by the next one.
func (f *FrameFeed) Start() error {
	if err := f.broker.Subscribe(f.topic, qosFireAndForget, f.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to camera frames: %w", err)
	}
	f.logger.Info("Camera frame feed started", zap.String("topic", f.topic))
	return nil
}

// Stop unsubscribes from the frame topic.
func (f *FrameFeed) Stop() {
	if err := f.broker.Unsubscribe(f.topic); err != nil {
		f.logger.Warn("Failed to unsubscribe camera frames", zap.Error(err))
	}
}

// HandleMessage decodes one frame and hands it to the sink. Malformed
// frames are rejected without touching the detector.
func (f *FrameFeed) HandleMessage(_ string, payload []byte) error {
	frame, err := DecodeFrame(payload)
	if err != nil {
		return err
	}
	faces := make([]vision.Face, 0, len(frame.Faces))
	for _, face := range frame.Faces {
		faces = append(faces, face)
	}
	f.sink.UpdateFaceData(context.Background(), faces, frame.FrontFacing)
	return nil
}

// DecodeFrame parses a frame, keeping numbers as json.Number.
func DecodeFrame(payload []byte) (*Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var frame Frame
	if err := dec.Decode(&frame); err != nil {
		return nil, fmt.Errorf("failed to decode camera frame: %w", err)
	}
	return &frame, nil
}
