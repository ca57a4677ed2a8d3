package eog

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/clock"
	"github.com/Richardsss22/NoZZZ/internal/framer"

	"go.uber.org/zap"
)

const (
	simSampleEvery   = 100 * time.Millisecond
	simHeadDropAt    = 8 * time.Second
	simHeadDownAt    = 16 * time.Second
	simMinuteEvery   = time.Minute
	simCalibrateTook = 20 * time.Second
	simBaselineTook  = 30 * time.Second
)

// SimulatorID is the device id of the built-in sensor simulator.
const SimulatorID = "simulator"

// Simulator is a synthetic wearable. It streams RT samples, plays a head
// drop (normal movement for 8s, head down until 16s, then HEAD_DOWN_7S) and
// answers commands with the lines the firmware prints.
type Simulator struct {
	clock  clock.Clock
	logger *zap.Logger

	// emitMu is held for a whole line so replies and samples never
	// interleave their chunks.
	emitMu sync.Mutex

	mu       sync.Mutex
	handler  ChunkHandler
	ticker   clock.Timer
	replies  []clock.Timer
	started  time.Time
	headDown bool
	running  bool
	runSince time.Time
	minute   int
	samples  int
}

// NewSimulator creates a simulator device.
func NewSimulator(clk clock.Clock, logger *zap.Logger) *Simulator {
	return &Simulator{clock: clk, logger: logger}
}

// ID implements Device.
func (s *Simulator) ID() string { return SimulatorID }

// Open implements Device.
func (s *Simulator) Open(ctx context.Context) (Channels, error) {
	return Channels{Notifier: s, Writer: s, Codec: framer.Raw}, nil
}

// Subscribe starts the sample stream.
func (s *Simulator) Subscribe(h ChunkHandler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return nil, fmt.Errorf("simulator: already subscribed")
	}
	s.handler = h
	s.started = s.clock.Now()
	s.headDown = false
	s.running = false
	s.samples = 0
	s.ticker = s.clock.Every(simSampleEvery, s.tick)
	s.logger.Info("Sensor simulator started")
	return simSubscription{s}, nil
}

type simSubscription struct{ s *Simulator }

func (u simSubscription) Remove() { u.s.stop() }

func (s *Simulator) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	for _, t := range s.replies {
		t.Stop()
	}
	s.replies = nil
	s.handler = nil
	s.running = false
}

// WriteWithoutResponse implements Writer.
func (s *Simulator) WriteWithoutResponse(ctx context.Context, p []byte) error {
	return s.command(p)
}

// WriteWithResponse implements Writer.
func (s *Simulator) WriteWithResponse(ctx context.Context, p []byte) error {
	return s.command(p)
}

func (s *Simulator) command(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return fmt.Errorf("simulator: not subscribed")
	}
	for _, cmd := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		cmd = strings.TrimSpace(cmd)
		switch {
		case cmd == CmdCalibrate:
			s.replyLocked(simCalibrateTook, "Calibração concluída")
		case cmd == CmdBlink:
			s.replyLocked(simBaselineTook, "=== Baseline P concluído ===")
		case cmd == CmdStart:
			s.running = true
			s.runSince = s.clock.Now()
			s.minute = 0
		case cmd == CmdAbort:
			s.running = false
			for _, t := range s.replies {
				t.Stop()
			}
			s.replies = nil
		case strings.HasPrefix(cmd, "TH="):
			s.replyLocked(0, "Limiar manual: "+strings.TrimPrefix(cmd, "TH="))
		}
	}
	return nil
}

func (s *Simulator) replyLocked(after time.Duration, line string) {
	if after <= 0 {
		after = time.Millisecond
	}
	s.replies = append(s.replies, s.clock.AfterFunc(after, func() {
		s.emit(line)
	}))
}

func (s *Simulator) tick() {
	s.mu.Lock()
	if s.handler == nil {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	elapsed := now.Sub(s.started)
	s.samples++
	secs := elapsed.Seconds()

	var roll, pitch float64
	switch {
	case elapsed < simHeadDropAt:
		roll = math.Sin(secs*0.5) * 45
		pitch = math.Cos(secs*0.7) * 30
	case elapsed < simHeadDownAt:
		roll = 5
		pitch = -25 + math.Sin(secs*2)*2
	default:
		roll = 5
		pitch = -30
	}
	eog := 20 * math.Sin(secs*3)
	if s.samples%40 == 0 {
		eog = 220
	}

	lines := []string{fmt.Sprintf(`["RT",%d,%.1f,%.2f,%.2f]`, elapsed.Milliseconds(), eog, roll, pitch)}
	if elapsed >= simHeadDownAt && !s.headDown {
		s.headDown = true
		lines = append(lines, HeadDownToken)
	}
	if s.running && now.Sub(s.runSince) >= time.Duration(s.minute+1)*simMinuteEvery {
		s.minute++
		normal, slow := 14-s.minute%6, 2+s.minute%6
		flag := "NS-"
		if slow > normal {
			flag = "S-"
		}
		lines = append(lines, fmt.Sprintf(`["M%d",%d,%d,"%s"]`, s.minute, normal, slow, flag))
	}
	s.mu.Unlock()

	for _, l := range lines {
		s.emit(l)
	}
}

// emit delivers line split across two chunks, the way notifications
// fragment on a real link.
func (s *Simulator) emit(line string) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return
	}
	b := []byte(line + "\n")
	mid := len(b) / 2
	h(b[:mid], nil)
	h(b[mid:], nil)
}
