// Package discovery announces the UI API on the vehicle LAN over mDNS so
// the phone app can find the head unit without configuration.
package discovery

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	ServiceType   = "_nozzz._tcp"
	ServiceDomain = "local."
	Version       = "1.0"
)

type shutdowner interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (shutdowner, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (shutdowner, error) {
	server, err := zeroconf.Register(instance, service, domain, port, text, ifaces)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// Service registers and withdraws the mDNS record.
type Service struct {
	port      int
	vehicleID string
	instance  string
	logger    *zap.Logger
	register  registerFunc
	localIP   func() (string, error)

	mu      sync.Mutex
	server  shutdowner
	running bool
	ip      string
}

// NewService creates a discovery service for the API on port. The
// instance name is derived from the host name.
func NewService(port int, vehicleID string, logger *zap.Logger) *Service {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "nozzz"
	}
	return &Service{
		port:      port,
		vehicleID: vehicleID,
		instance:  fmt.Sprintf("%s-nozzz", hostname),
		logger:    logger,
		register:  zeroconfRegister,
		localIP:   localIPv4,
	}
}

// Start registers the record. Calling Start twice is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ip, err := s.localIP()
	if err != nil {
		return fmt.Errorf("failed to determine local IP: %w", err)
	}

	server, err := s.register(s.instance, ServiceType, ServiceDomain, s.port, s.txt(ip), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.server = server
	s.ip = ip
	s.running = true
	s.logger.Info("Discovery service started",
		zap.String("instance", s.instance),
		zap.String("type", ServiceType),
		zap.String("ip", ip),
		zap.Int("port", s.port),
	)
	return nil
}

// Stop withdraws the record.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
	}
	s.running = false
	s.logger.Info("Discovery service stopped")
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ServerIP returns the announced address, or "" before Start.
func (s *Service) ServerIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ip
}

func (s *Service) InstanceName() string { return s.instance }

func (s *Service) txt(ip string) []string {
	return []string{
		"version=" + Version,
		"ip=" + ip,
		"vehicle_id=" + s.vehicleID,
		"name=NoZZZ",
	}
}

func localIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address")
}
