package utils

import (
	"sync"
	"time"
)

// TimerSet owns at most one pending timer per named slot. Starting a slot
// cancels whatever was previously armed under that key, so a concern
// (reconnect backoff, billing tick, typing expiry) can never leak timers or
// fire twice.
type TimerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimerSet() *TimerSet {
	return &TimerSet{timers: make(map[string]*time.Timer)}
}

// Start arms fn to run after d under the named slot, replacing any pending
// timer for that slot.
func (ts *TimerSet) Start(key string, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[key]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		ts.mu.Lock()
		if ts.timers[key] == timer {
			delete(ts.timers, key)
		}
		ts.mu.Unlock()
		fn()
	})
	ts.timers[key] = timer
}

// Stop cancels the pending timer for key, if any. Reports whether a timer
// was actually cancelled before firing.
func (ts *TimerSet) Stop(key string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.timers[key]
	if !ok {
		return false
	}
	delete(ts.timers, key)
	return t.Stop()
}

// Active reports whether a timer is currently armed under key.
func (ts *TimerSet) Active(key string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.timers[key]
	return ok
}

// StopAll cancels every pending timer.
func (ts *TimerSet) StopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for key, t := range ts.timers {
		t.Stop()
		delete(ts.timers, key)
	}
}
