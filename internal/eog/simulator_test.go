package eog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/clock"
	"github.com/Richardsss22/NoZZZ/internal/framer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type lineCollector struct {
	mu    sync.Mutex
	fr    *framer.Framer
	lines []string
}

func (c *lineCollector) handle(chunk []byte, err error) {
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, c.fr.Feed(chunk)...)
}

func (c *lineCollector) matching(pred func(string) bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, l := range c.lines {
		if pred(l) {
			out = append(out, l)
		}
	}
	return out
}

func startSimulator(t *testing.T) (*Simulator, *clock.Fake, *lineCollector) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	sim := NewSimulator(clk, zap.NewNop())
	col := &lineCollector{fr: framer.New(framer.Raw)}
	sub, err := sim.Subscribe(col.handle)
	require.NoError(t, err)
	t.Cleanup(sub.Remove)
	return sim, clk, col
}

func TestSimulator_HeadDropScenario(t *testing.T) {
	_, clk, col := startSimulator(t)

	clk.Advance(15 * time.Second)
	assert.Empty(t, col.matching(func(l string) bool { return l == HeadDownToken }))
	assert.NotEmpty(t, col.matching(func(l string) bool { return strings.HasPrefix(l, `["RT",`) }))

	clk.Advance(2 * time.Second)
	assert.Len(t, col.matching(func(l string) bool { return l == HeadDownToken }), 1)

	clk.Advance(10 * time.Second)
	assert.Len(t, col.matching(func(l string) bool { return l == HeadDownToken }), 1)
}

func TestSimulator_EmitsParseableLines(t *testing.T) {
	_, clk, col := startSimulator(t)
	clk.Advance(5 * time.Second)

	for _, l := range col.matching(func(string) bool { return true }) {
		assert.Equal(t, lineRealtime, classifyLine(l).kind, l)
	}
}

func TestSimulator_CommandReplies(t *testing.T) {
	sim, clk, col := startSimulator(t)
	ctx := context.Background()

	require.NoError(t, sim.WriteWithoutResponse(ctx, []byte("C\n")))
	clk.Advance(simCalibrateTook)
	done := col.matching(func(l string) bool { return classifyLine(l).kind == lineCalibrationDone })
	assert.Len(t, done, 1)

	require.NoError(t, sim.WriteWithResponse(ctx, []byte("S\n")))
	clk.Advance(time.Minute)
	minutes := col.matching(func(l string) bool { return classifyLine(l).kind == lineMinute })
	require.Len(t, minutes, 1)
	assert.Equal(t, `["M1",13,3,"NS-"]`, minutes[0])

	require.NoError(t, sim.WriteWithoutResponse(ctx, []byte("X\n")))
	clk.Advance(2 * time.Minute)
	assert.Len(t, col.matching(func(l string) bool { return classifyLine(l).kind == lineMinute }), 1)
}

func TestSimulator_SingleSubscriber(t *testing.T) {
	sim, _, _ := startSimulator(t)

	_, err := sim.Subscribe(func([]byte, error) {})
	require.Error(t, err)
}

func TestSimulator_WriteAfterRemove(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	sim := NewSimulator(clk, zap.NewNop())
	sub, err := sim.Subscribe(func([]byte, error) {})
	require.NoError(t, err)
	sub.Remove()

	assert.Error(t, sim.WriteWithoutResponse(context.Background(), []byte("C\n")))
	assert.Equal(t, 0, clk.Live())
}

func TestSimulator_LinesStayWholeOnRealClock(t *testing.T) {
	sim := NewSimulator(clock.Real{}, zap.NewNop())
	col := &lineCollector{fr: framer.New(framer.Raw)}
	sub, err := sim.Subscribe(func(chunk []byte, err error) {
		time.Sleep(3 * time.Millisecond)
		col.handle(chunk, err)
	})
	require.NoError(t, err)

	ctx := context.Background()
	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, sim.WriteWithoutResponse(ctx, []byte("TH=42\n")))
		time.Sleep(25 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	sub.Remove()

	all := col.matching(func(string) bool { return true })
	replies := col.matching(func(l string) bool { return l == "Limiar manual: 42" })
	realtime := col.matching(func(l string) bool { return classifyLine(l).kind == lineRealtime })
	assert.NotEmpty(t, replies)
	assert.NotEmpty(t, realtime)
	assert.Len(t, all, len(replies)+len(realtime), "corrupted lines: %q", all)
}
