/*
One-shot scheduled callbacks, cancellable
 */
package timer

import (
	"sync"
	"time"
)

// handle on a pending event. Cancelling a handle whose
// callback already fired is a no-op
type Event struct {
	timer *time.Timer
}

type Timer interface {
	// schedules the callback to run after the given duration
	AddEventAfter(d time.Duration, cb func()) *Event

	// cancels a pending event
	CancelEvent(e *Event)
}

// timer backed by the runtime clock
type SystemTimer struct{}

var _ = Timer(&SystemTimer{})

func NewSystemTimer() *SystemTimer {
	return &SystemTimer{}
}

func (t *SystemTimer) AddEventAfter(d time.Duration, cb func()) *Event {
	return &Event{timer: time.AfterFunc(d, cb)}
}

func (t *SystemTimer) CancelEvent(e *Event) {
	if e != nil {
		e.timer.Stop()
	}
}

// timer under manual control, used by tests. Events fire
// only when Advance walks the clock past their deadline
type ManualTimer struct {
	lock    sync.Mutex
	now     time.Duration
	pending map[*Event]*manualEvent
}

type manualEvent struct {
	at time.Duration
	cb func()
}

var _ = Timer(&ManualTimer{})

func NewManualTimer() *ManualTimer {
	return &ManualTimer{pending: make(map[*Event]*manualEvent)}
}

func (t *ManualTimer) AddEventAfter(d time.Duration, cb func()) *Event {
	t.lock.Lock()
	defer t.lock.Unlock()
	e := &Event{}
	t.pending[e] = &manualEvent{at: t.now + d, cb: cb}
	return e
}

func (t *ManualTimer) CancelEvent(e *Event) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.pending, e)
}

// returns the number of pending events
func (t *ManualTimer) NumPending() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.pending)
}

// advances the manual clock, firing expired events in deadline
// order. The clock steps to each event's deadline as it fires,
// so events armed by a callback fire within the same advance if
// their deadline is reached
func (t *ManualTimer) Advance(d time.Duration) {
	t.lock.Lock()
	target := t.now + d
	for {
		var next *Event
		for e, me := range t.pending {
			if me.at > target {
				continue
			}
			if next == nil || me.at < t.pending[next].at {
				next = e
			}
		}
		if next == nil {
			break
		}
		if t.pending[next].at > t.now {
			t.now = t.pending[next].at
		}
		cb := t.pending[next].cb
		delete(t.pending, next)
		t.lock.Unlock()
		cb()
		t.lock.Lock()
	}
	t.now = target
	t.lock.Unlock()
}
