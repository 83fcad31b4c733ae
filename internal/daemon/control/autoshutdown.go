package control

import (
	"sync"
	"time"
)

// idleTimer implements spec §4.E's auto-shutdown: after timeout idle with
// zero local sessions and zero connected peers, fire once. Any meaningful
// event (Touch) resets the clock.
type idleTimer struct {
	timeout   time.Duration
	condition func() bool
	fire      func()

	mu    sync.Mutex
	timer *time.Timer
}

func newIdleTimer(timeout time.Duration, condition func() bool, fire func()) *idleTimer {
	return &idleTimer{timeout: timeout, condition: condition, fire: fire}
}

func (t *idleTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = time.AfterFunc(t.timeout, t.check)
}

func (t *idleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Touch resets the idle clock; call on every meaningful event (new session,
// peer connect/disconnect, inbound frame).
func (t *idleTimer) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Reset(t.timeout)
	}
}

func (t *idleTimer) check() {
	if t.condition() {
		t.fire()
		return
	}
	t.Touch()
}
