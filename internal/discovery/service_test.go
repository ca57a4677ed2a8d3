package discovery

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeServer struct{ shutdowns int }

func (f *fakeServer) Shutdown() { f.shutdowns++ }

type registration struct {
	instance, service, domain string
	port                      int
	text                      []string
}

func newTestService(t *testing.T, regErr error) (*Service, *fakeServer, *[]registration) {
	t.Helper()
	srv := &fakeServer{}
	var regs []registration
	s := NewService(8088, "car-42", zap.NewNop())
	s.localIP = func() (string, error) { return "192.168.4.20", nil }
	s.register = func(instance, service, domain string, port int, text []string, _ []net.Interface) (shutdowner, error) {
		if regErr != nil {
			return nil, regErr
		}
		regs = append(regs, registration{instance, service, domain, port, text})
		return srv, nil
	}
	return s, srv, &regs
}

func TestStartRegistersOnce(t *testing.T) {
	s, _, regs := newTestService(t, nil)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())

	require.Len(t, *regs, 1)
	reg := (*regs)[0]
	assert.Equal(t, s.InstanceName(), reg.instance)
	assert.Equal(t, ServiceType, reg.service)
	assert.Equal(t, ServiceDomain, reg.domain)
	assert.Equal(t, 8088, reg.port)
	assert.Contains(t, reg.text, "ip=192.168.4.20")
	assert.Contains(t, reg.text, "vehicle_id=car-42")
	assert.True(t, s.IsRunning())
	assert.Equal(t, "192.168.4.20", s.ServerIP())
}

func TestStopShutsDown(t *testing.T) {
	s, srv, _ := newTestService(t, nil)
	require.NoError(t, s.Start())

	s.Stop()
	s.Stop()

	assert.Equal(t, 1, srv.shutdowns)
	assert.False(t, s.IsRunning())
}

func TestStartRegisterError(t *testing.T) {
	s, _, _ := newTestService(t, errors.New("multicast unavailable"))

	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multicast unavailable")
	assert.False(t, s.IsRunning())
}

func TestStartWithoutAddress(t *testing.T) {
	s, _, regs := newTestService(t, nil)
	s.localIP = func() (string, error) { return "", errors.New("no non-loopback IPv4 address") }

	require.Error(t, s.Start())
	assert.Empty(t, *regs)
}
