package node

import (
	"math/rand"
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer paces the sync routine. The timer only runs between resets, so
// the node never initiates two overlapping sync rounds from the same timer.
type ControlTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{}      //sends a signal to listening process
	resetCh      chan time.Duration //receives instruction to reset the timer
	shutdownCh   chan struct{}      //receives instruction to exit Run loop
	set          bool
}

// NewControlTimer is a factory method wrapping a timerFactory. tickCh holds
// one tick so the Run loop never blocks handing it over; the timer does not
// rearm until the next reset, so one slot is enough.
func NewControlTimer(timerFactory timerFactory) *ControlTimer {
	return &ControlTimer{
		timerFactory: timerFactory,
		tickCh:       make(chan struct{}, 1),
		resetCh:      make(chan time.Duration),
		shutdownCh:   make(chan struct{}),
	}
}

// NewRandomControlTimer spreads ticks over [min, 2*min) so that peers started
// together do not sync in lockstep.
func NewRandomControlTimer() *ControlTimer {
	randomTimeout := func(min time.Duration) <-chan time.Time {
		if min == 0 {
			return nil
		}
		extra := (time.Duration(rand.Int63()) % min)
		return time.After(min + extra)
	}
	return NewControlTimer(randomTimeout)
}

// Run runs the timer loop until Shutdown
func (c *ControlTimer) Run(init time.Duration) {
	setTimer := func(t time.Duration) <-chan time.Time {
		c.set = true
		return c.timerFactory(t)
	}

	timer := setTimer(init)
	for {
		select {
		case <-timer:
			c.tickCh <- struct{}{}
			c.set = false
		case t := <-c.resetCh:
			timer = setTimer(t)
		case <-c.shutdownCh:
			c.set = false
			return
		}
	}
}

// Shutdown exits the Run loop
func (c *ControlTimer) Shutdown() {
	close(c.shutdownCh)
}
