package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/eog"
	"github.com/Richardsss22/NoZZZ/internal/framer"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// Nordic UART service the wearable firmware exposes.
var (
	nusServiceUUID = mustParseUUID("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	nusRXUUID      = mustParseUUID("6E400002-B5A3-F393-E0A9-E50E24DCCA9E") // write
	nusTXUUID      = mustParseUUID("6E400003-B5A3-F393-E0A9-E50E24DCCA9E") // notify
)

// errUARTServiceNotFound is returned when the wearable does not expose the
// UART service.
var errUARTServiceNotFound = errors.New("uart service not found")

// DefaultScanTimeout bounds the scan for the wearable.
const DefaultScanTimeout = 15 * time.Second

func mustParseUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// BLEDevice is the wearable reached directly over Bluetooth LE.
type BLEDevice struct {
	adapter     *bluetooth.Adapter
	address     string // matched case-insensitively, empty to match by name
	name        string
	scanTimeout time.Duration
	logger      *zap.Logger

	mu     sync.Mutex
	device *bluetooth.Device
}

// NewBLEDevice creates a BLE device matched by address or advertised name.
func NewBLEDevice(adapter *bluetooth.Adapter, address, name string, scanTimeout time.Duration, logger *zap.Logger) *BLEDevice {
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	return &BLEDevice{
		adapter:     adapter,
		address:     address,
		name:        name,
		scanTimeout: scanTimeout,
		logger:      logger,
	}
}

// ID returns the configured address, or the name when no address is set.
func (d *BLEDevice) ID() string {
	if d.address != "" {
		return "ble:" + strings.ToUpper(d.address)
	}
	return "ble:" + d.name
}

func (d *BLEDevice) matches(address, localName string) bool {
	if d.address != "" {
		return strings.EqualFold(address, d.address)
	}
	return d.name != "" && localName == d.name
}

// Open scans for the wearable, connects and discovers the UART
// characteristics. The connection is dropped when the service or either
// characteristic is missing.
func (d *BLEDevice) Open(ctx context.Context) (eog.Channels, error) {
	if err := d.adapter.Enable(); err != nil {
		return eog.Channels{}, fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}

	result, err := d.scan(ctx)
	if err != nil {
		return eog.Channels{}, err
	}

	device, err := d.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return eog.Channels{}, fmt.Errorf("failed to connect to %s: %w", result.Address.String(), err)
	}
	d.mu.Lock()
	d.device = &device
	d.mu.Unlock()
	d.logger.Info("BLE device connected",
		zap.String("address", result.Address.String()),
		zap.String("name", result.LocalName()),
	)

	service, err := uartService(device.DiscoverServices([]bluetooth.UUID{nusServiceUUID}))
	if err != nil {
		d.Disconnect()
		return eog.Channels{}, err
	}
	chars, err := service.DiscoverCharacteristics([]bluetooth.UUID{nusRXUUID, nusTXUUID})
	if err != nil {
		d.Disconnect()
		return eog.Channels{}, fmt.Errorf("failed to discover characteristics: %w", err)
	}

	ch := eog.Channels{Codec: framer.Raw}
	for i := range chars {
		char := chars[i]
		switch char.UUID() {
		case nusTXUUID:
			ch.Notifier = &bleNotifier{char: char}
		case nusRXUUID:
			ch.Writer = &bleWriter{char: char}
		}
	}
	if err := checkUARTChannels(ch); err != nil {
		d.Disconnect()
		return eog.Channels{}, err
	}
	return ch, nil
}

func uartService(services []bluetooth.DeviceService, err error) (bluetooth.DeviceService, error) {
	if err != nil {
		return bluetooth.DeviceService{}, fmt.Errorf("failed to discover uart service: %w", err)
	}
	if len(services) == 0 {
		return bluetooth.DeviceService{}, errUARTServiceNotFound
	}
	return services[0], nil
}

func checkUARTChannels(ch eog.Channels) error {
	var missing []string
	if ch.Notifier == nil {
		missing = append(missing, "tx notify")
	}
	if ch.Writer == nil {
		missing = append(missing, "rx write")
	}
	if len(missing) > 0 {
		return fmt.Errorf("uart characteristics missing (%s): %w", strings.Join(missing, ", "), eog.ErrEndpointsMissing)
	}
	return nil
}

func (d *BLEDevice) scan(ctx context.Context) (bluetooth.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.scanTimeout)
	defer cancel()

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		err := d.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !d.matches(r.Address.String(), r.LocalName()) {
				return
			}
			select {
			case found <- r:
			default:
			}
			a.StopScan()
		})
		scanErr <- err
	}()

	select {
	case r := <-found:
		return r, nil
	case err := <-scanErr:
		if err == nil {
			err = errors.New("scan stopped")
		}
		return bluetooth.ScanResult{}, fmt.Errorf("failed to scan: %w", err)
	case <-ctx.Done():
		d.adapter.StopScan()
		return bluetooth.ScanResult{}, fmt.Errorf("wearable %s not found: %w", d.ID(), ctx.Err())
	}
}

// Disconnect drops the BLE connection, if any.
func (d *BLEDevice) Disconnect() {
	d.mu.Lock()
	device := d.device
	d.device = nil
	d.mu.Unlock()
	if device == nil {
		return
	}
	if err := device.Disconnect(); err != nil {
		d.logger.Warn("Error while disconnecting BLE device", zap.Error(err))
	}
}

type bleNotifier struct {
	char bluetooth.DeviceCharacteristic
}

func (n *bleNotifier) Subscribe(h eog.ChunkHandler) (eog.Subscription, error) {
	sub := &bleSubscription{char: n.char}
	err := n.char.EnableNotifications(func(buf []byte) {
		if sub.removed() {
			return
		}
		chunk := make([]byte, len(buf))
		copy(chunk, buf)
		h(chunk, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enable notifications: %w", err)
	}
	return sub, nil
}

type bleSubscription struct {
	char bluetooth.DeviceCharacteristic

	mu   sync.Mutex
	done bool
}

func (s *bleSubscription) removed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *bleSubscription) Remove() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()
	// a nil callback turns notifications off
	_ = s.char.EnableNotifications(nil)
}

type bleWriter struct {
	char bluetooth.DeviceCharacteristic
}

func (w *bleWriter) WriteWithoutResponse(_ context.Context, p []byte) error {
	_, err := w.char.WriteWithoutResponse(p)
	return err
}

func (w *bleWriter) WriteWithResponse(_ context.Context, p []byte) error {
	_, err := w.char.Write(p)
	return err
}
