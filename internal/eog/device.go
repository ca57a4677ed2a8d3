package eog

import (
	"context"
	"errors"

	"github.com/Richardsss22/NoZZZ/internal/framer"
	"github.com/Richardsss22/NoZZZ/internal/models"
)

var (
	// ErrEndpointsMissing is returned by Attach when the device lacks its
	// notification or write channel.
	ErrEndpointsMissing = errors.New("eog: device endpoints missing")
	// ErrNoWriter is returned when a command is sent without a write endpoint.
	ErrNoWriter = errors.New("eog: no write endpoint bound")
)

// ChunkHandler receives one raw notification delivery. A non-nil err reports
// a transport-level delivery failure; the chunk is then empty.
type ChunkHandler func(chunk []byte, err error)

// Subscription is a live notification subscription.
type Subscription interface {
	Remove()
}

// Notifier delivers raw notification chunks in arrival order.
type Notifier interface {
	Subscribe(h ChunkHandler) (Subscription, error)
}

// Writer sends command payloads to the device. Payloads are already encoded
// with the link codec.
type Writer interface {
	WriteWithoutResponse(ctx context.Context, p []byte) error
	WriteWithResponse(ctx context.Context, p []byte) error
}

// Channels are the endpoints a connected device exposes.
type Channels struct {
	Notifier Notifier
	Writer   Writer
	Codec    framer.Codec
}

// Device is a connected wearable, reachable over some link.
type Device interface {
	ID() string
	Open(ctx context.Context) (Channels, error)
}

// Trigger is the alarm entry point the session requests triggers on.
type Trigger interface {
	RequestTrigger(ctx context.Context, source models.TriggerSource)
}

// SummarySink consumes minute summaries in arrival order.
type SummarySink interface {
	OnMinuteSummary(ctx context.Context, m models.MinuteSummary)
}
