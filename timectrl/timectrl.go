package timectrl

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// SimClock is an interface for accessing simulation time. Routers and the
// engine depend on this abstraction rather than on the concrete controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// Seconds returns the simulated seconds elapsed since the start time.
	Seconds() float64
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances one tick per wall-clock tick.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

// TimeController drives simulation time and notifies registered listeners.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	// currentTime tracks the current simulation time.
	currentTime time.Time

	listeners []func(time.Time)
	wall      clock.Clock
}

// Option customises a TimeController.
type Option func(*TimeController)

// WithClock sets the wall clock used for RealTime pacing.
func WithClock(c clock.Clock) Option {
	return func(tc *TimeController) {
		tc.wall = c
	}
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode, opts ...Option) *TimeController {
	tc := &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
		wall:        clock.New(),
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Seconds returns elapsed simulated seconds. Implements SimClock.
func (tc *TimeController) Seconds() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime.Sub(tc.StartTime).Seconds()
}

// SetTime moves the simulation clock without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// Reset rewinds the clock to the start time.
func (tc *TimeController) Reset() {
	tc.SetTime(tc.StartTime)
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Step advances simulation time by one tick, notifies listeners and returns
// the new time.
func (tc *TimeController) Step() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	now := tc.currentTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Start runs the controller for the specified duration in a separate
// goroutine, continuing from the current simulation time. It returns a
// channel that is closed when the controller finishes or ctx is cancelled.
// In RealTime mode each step waits for a tick of the wall clock;
// Accelerated steps back to back. A non-positive duration runs until ctx
// is cancelled.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})

	var ticker *clock.Ticker
	if tc.Mode == RealTime {
		// Created before the goroutine starts so a mock clock advanced right
		// after Start returns is observed.
		ticker = tc.wall.Ticker(tc.Tick)
	}

	go func() {
		defer close(done)
		if ticker != nil {
			defer ticker.Stop()
		}

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if ticker != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			} else if ctx.Err() != nil {
				return
			}
			tc.Step()
			elapsed += tc.Tick
		}
	}()
	return done
}
