// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package signal drives an indicator light through the blink patterns
// that tell a pilot standing next to the FC what the sync is doing,
// without them needing to read a screen (§4.9).
package signal

import (
	"sync"
	"time"
)

// Event is one of the monotonic progress events the orchestrator
// emits. The current pattern may only be superseded by a later event.
type Event int

const (
	CopyStart Event = iota
	VerifyStart
	EraseStart
	Success
	Empty
	Error
)

// step is one on/off phase of a pattern, in milliseconds.
type step struct {
	onMS, offMS int
}

// pattern is a sequence of steps, optionally repeating forever.
type pattern struct {
	steps  []step
	repeat bool
}

var patterns = map[Event]pattern{
	CopyStart:   {steps: []step{{100, 100}}, repeat: true},
	VerifyStart: {steps: []step{{250, 250}}, repeat: true},
	EraseStart:  {steps: []step{{800, 200}}, repeat: true},
	Success: {
		steps:  []step{{80, 80}, {80, 80}, {80, 80}, {2000, 0}},
		repeat: false,
	},
	Empty: {
		steps:  []step{{400, 400}, {400, 400}},
		repeat: false,
	},
	Error: {
		steps: []step{
			{150, 150}, {150, 150}, {150, 150}, // S
			{400, 150}, {400, 150}, {400, 150}, // O
			{150, 150}, {150, 150}, {150, 150}, // S
			{700, 700},
		},
		repeat: true,
	},
}

// Backend is a single on/off output. Driver holds exactly one writer
// discipline per process (§5); implementations must tolerate rapid
// on/off toggling.
type Backend interface {
	Set(on bool) error
}

// Driver is the cooperative signal task: it consumes the single most
// recently emitted event and runs its pattern against a Backend until
// superseded.
type Driver struct {
	backend Backend

	mu      sync.Mutex
	current Event
	has     bool
	changed chan struct{}

	idleMu sync.Mutex
	idle   chan struct{}

	done chan struct{}
	stop chan struct{}
}

// NewDriver creates a driver that has not yet been started.
func NewDriver(backend Backend) *Driver {
	return &Driver{
		backend: backend,
		changed: make(chan struct{}, 1),
		idle:    make(chan struct{}),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Start launches the background task that runs patterns.
func (d *Driver) Start() {
	go d.run()
}

// Emit sets the event the driver should be signaling. Any newly emitted
// event, Error or not, supersedes the running pattern immediately, in
// the middle of its current on or off phase; non-Error events are not
// held back until the running pattern reaches a boundary.
func (d *Driver) Emit(e Event) {
	d.mu.Lock()
	d.current = e
	d.has = true
	d.mu.Unlock()

	d.idleMu.Lock()
	d.idle = make(chan struct{})
	d.idleMu.Unlock()

	select {
	case d.changed <- struct{}{}:
	default:
	}
}

// Stop ends the background task and turns the backend off.
func (d *Driver) Stop() {
	close(d.stop)
	<-d.done
	d.backend.Set(false)
}

// WaitIdle blocks until the current pattern reaches a resting point
// (a non-repeating pattern finishing, or OFF with nothing queued) or
// timeout elapses, whichever comes first. This replaces a blind fixed
// sleep before process exit with a bounded, observable wait.
func (d *Driver) WaitIdle(timeout time.Duration) {
	d.idleMu.Lock()
	ch := d.idle
	d.idleMu.Unlock()

	select {
	case <-ch:
	case <-time.After(timeout):
	}
}

func (d *Driver) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		event, has := d.current, d.has
		d.mu.Unlock()

		if !has {
			d.markIdle()
			select {
			case <-d.changed:
				continue
			case <-d.stop:
				return
			}
		}

		if d.runPattern(event) {
			return
		}
	}
}

// runPattern executes one pattern to completion (or until superseded
// or stopped). Returns true if Stop was asserted.
func (d *Driver) runPattern(event Event) bool {
	p := patterns[event]
	if len(p.steps) == 0 {
		d.backend.Set(false)
		d.markIdle()
		select {
		case <-d.changed:
			return false
		case <-d.stop:
			return true
		}
	}

	stopped := func() bool {
		select {
		case <-d.stop:
			return true
		default:
			return false
		}
	}

	for {
		for _, s := range p.steps {
			if d.supersededOrStopped(event) {
				return stopped()
			}
			d.backend.Set(true)
			if d.sleep(time.Duration(s.onMS)*time.Millisecond, event) {
				return stopped()
			}
			if s.offMS > 0 {
				d.backend.Set(false)
				if d.sleep(time.Duration(s.offMS)*time.Millisecond, event) {
					return stopped()
				}
			}
		}
		if !p.repeat {
			d.backend.Set(false)
			d.markIdle()
			select {
			case <-d.changed:
				return false
			case <-d.stop:
				return true
			}
		}
		if d.supersededOrStopped(event) {
			return stopped()
		}
	}
}

// sleep waits for dur, returning true if the driver was stopped or the
// current event changed during the wait (any newly emitted event ends
// the wait early; the caller reselects on return).
func (d *Driver) sleep(dur time.Duration, original Event) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return d.supersededOrStopped(original)
	case <-d.changed:
		return true
	case <-d.stop:
		return true
	}
}

func (d *Driver) supersededOrStopped(original Event) bool {
	select {
	case <-d.stop:
		return true
	default:
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != original
}

func (d *Driver) markIdle() {
	d.idleMu.Lock()
	defer d.idleMu.Unlock()
	select {
	case <-d.idle:
		// already closed
	default:
		close(d.idle)
	}
}
