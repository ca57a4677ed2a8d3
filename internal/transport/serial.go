package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/eog"
	"github.com/Richardsss22/NoZZZ/internal/framer"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// AutoPort selects the first serial port the system reports.
const AutoPort = "auto"

const serialReadTimeout = 200 * time.Millisecond

// SerialDevice is a wearable plugged in over USB serial.
type SerialDevice struct {
	path   string
	baud   int
	logger *zap.Logger

	// swapped out in tests
	open      func(name string, mode *serial.Mode) (serial.Port, error)
	listPorts func() ([]string, error)
}

// NewSerialDevice creates a serial device on path ("auto" to pick the first
// port) at baud.
func NewSerialDevice(path string, baud int, logger *zap.Logger) *SerialDevice {
	return &SerialDevice{
		path:      path,
		baud:      baud,
		logger:    logger,
		open:      serial.Open,
		listPorts: serial.GetPortsList,
	}
}

// ID returns the configured port path.
func (d *SerialDevice) ID() string { return "serial:" + d.path }

// Open opens the port. The same port serves notifications and commands.
func (d *SerialDevice) Open(ctx context.Context) (eog.Channels, error) {
	if err := ctx.Err(); err != nil {
		return eog.Channels{}, err
	}
	path, err := d.resolvePath()
	if err != nil {
		return eog.Channels{}, err
	}

	port, err := d.open(path, &serial.Mode{
		BaudRate: d.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return eog.Channels{}, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return eog.Channels{}, fmt.Errorf("failed to set read timeout: %w", err)
	}

	d.logger.Info("Serial port opened",
		zap.String("port", path),
		zap.Int("baud", d.baud),
	)
	link := &serialLink{port: port, path: path, logger: d.logger}
	return eog.Channels{Notifier: link, Writer: link, Codec: framer.Raw}, nil
}

func (d *SerialDevice) resolvePath() (string, error) {
	if d.path != "" && d.path != AutoPort {
		return d.path, nil
	}
	ports, err := d.listPorts()
	if err != nil {
		return "", fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	return ports[0], nil
}

type serialLink struct {
	port   serial.Port
	path   string
	logger *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	reading bool
	stop    chan struct{}
	done    chan struct{}
}

// Subscribe starts the read loop. Only one subscription may be live.
func (l *serialLink) Subscribe(h eog.ChunkHandler) (eog.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reading {
		return nil, errors.New("serial link already subscribed")
	}
	l.reading = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.readLoop(h, l.stop, l.done)
	return serialSubscription{link: l}, nil
}

func (l *serialLink) readLoop(h eog.ChunkHandler, stop, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 256)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := l.port.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			h(nil, err)
			if isPortGone(err) {
				l.logger.Warn("Serial port lost", zap.String("port", l.path), zap.Error(err))
				return
			}
			continue
		}
		if n == 0 {
			// read timeout
			continue
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		h(chunk, nil)
	}
}

func isPortGone(err error) bool {
	var code serial.PortErrorCode
	var portErr serial.PortError
	var portErrPtr *serial.PortError
	switch {
	case errors.As(err, &portErrPtr):
		code = portErrPtr.Code()
	case errors.As(err, &portErr):
		code = portErr.Code()
	default:
		return true
	}
	switch code {
	case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
		return true
	}
	return false
}

func (l *serialLink) close() {
	l.mu.Lock()
	if !l.reading {
		l.mu.Unlock()
		return
	}
	l.reading = false
	stop, done := l.stop, l.done
	l.mu.Unlock()

	close(stop)
	if err := l.port.Close(); err != nil {
		l.logger.Warn("Failed to close serial port", zap.String("port", l.path), zap.Error(err))
	}
	<-done
}

// WriteWithoutResponse writes p to the port.
func (l *serialLink) WriteWithoutResponse(_ context.Context, p []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.port.Write(p); err != nil {
		return fmt.Errorf("failed to write to serial port: %w", err)
	}
	return nil
}

// WriteWithResponse writes p and waits for it to leave the output buffer.
func (l *serialLink) WriteWithResponse(ctx context.Context, p []byte) error {
	if err := l.WriteWithoutResponse(ctx, p); err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.port.Drain(); err != nil {
		return fmt.Errorf("failed to drain serial port: %w", err)
	}
	return nil
}

type serialSubscription struct {
	link *serialLink
}

func (s serialSubscription) Remove() { s.link.close() }
