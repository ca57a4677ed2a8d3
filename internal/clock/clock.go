// Package clock provides the timer primitives the state machines schedule
// their countdowns on, plus a deterministic fake for tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels the timer. It returns false if the timer had already
	// fired (one-shot) or been stopped.
	Stop() bool
}

// Clock schedules callbacks. Callbacks run on a goroutine owned by the
// clock, never on the caller's.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f once after d.
	AfterFunc(d time.Duration, f func()) Timer
	// Every runs f every d until stopped.
	Every(d time.Duration, f func()) Timer
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Every starts a ticker goroutine calling f.
func (Real) Every(d time.Duration, f func()) Timer {
	t := &ticker{stop: make(chan struct{})}
	tk := time.NewTicker(d)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tk.C:
				f()
			}
		}
	}()
	return t
}

type ticker struct {
	once sync.Once
	stop chan struct{}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.stop)
		stopped = true
	})
	return stopped
}

// Slot holds at most one live timer and hands out tokens so callbacks can
// tell whether they are still current. Arming a slot always stops the
// previous timer first, so two countdowns never coexist.
//
// A Slot is not safe for concurrent use; its owner guards it with the same
// lock that guards the state the callbacks mutate.
type Slot struct {
	timer Timer
	gen   uint64
}

// Arm stops the held timer and returns the token for the next one.
func (s *Slot) Arm() uint64 {
	s.Stop()
	return s.gen
}

// Hold installs t as the live timer for the token returned by Arm.
func (s *Slot) Hold(t Timer) {
	s.timer = t
}

// Live reports whether tok identifies the currently armed timer.
func (s *Slot) Live(tok uint64) bool {
	return s.timer != nil && s.gen == tok
}

// Stop cancels the held timer and invalidates every outstanding token.
func (s *Slot) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

// Active reports whether a timer is held.
func (s *Slot) Active() bool {
	return s.timer != nil
}
