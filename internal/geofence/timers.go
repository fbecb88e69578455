package geofence

import (
	"time"

	"github.com/google/uuid"

	"github.com/geosentinel-data/geosentinel/internal/timeutil"
)

// TimerKind discriminates the two confirmation windows.
type TimerKind int

const (
	TimerDwell TimerKind = iota
	TimerExitDebounce
)

func (k TimerKind) String() string {
	if k == TimerExitDebounce {
		return "exit-debounce"
	}
	return "dwell"
}

// pendingTimer is one armed confirmation timer. Its identity (pointer value)
// is how a wake-up proves it has not been superseded: the firing goroutine
// must claim the exact entry it registered before committing anything.
type pendingTimer struct {
	kind   TimerKind
	timer  timeutil.Timer
	cancel chan struct{}
}

// timerRegistry owns the at-most-one-pending-timer-per-region invariant. It
// is not internally locked: it belongs to the Tracker's serialization domain
// and every method must be called with the Tracker's mutex held. The fire
// callback runs on its own goroutine and re-enters the Tracker, which claims
// the entry under the same mutex.
type timerRegistry struct {
	clock   timeutil.Clock
	pending map[uuid.UUID]*pendingTimer
}

func newTimerRegistry(clock timeutil.Clock) *timerRegistry {
	return &timerRegistry{
		clock:   clock,
		pending: make(map[uuid.UUID]*pendingTimer),
	}
}

// start arms a timer for the region, synchronously cancelling any prior
// timer of either kind before returning. onFire is invoked from a fresh
// goroutine when the timer elapses; it receives the entry so it can verify
// it still owns the slot.
func (r *timerRegistry) start(id uuid.UUID, kind TimerKind, d time.Duration, onFire func(*pendingTimer)) {
	r.cancel(id)

	pt := &pendingTimer{
		kind:   kind,
		timer:  r.clock.NewTimer(d),
		cancel: make(chan struct{}),
	}
	r.pending[id] = pt

	go func() {
		select {
		case <-pt.timer.C():
			onFire(pt)
		case <-pt.cancel:
			pt.timer.Stop()
		}
	}()
}

// cancel removes and cancels the region's pending timer, if any. Cancellation
// is cooperative: the timer goroutine simply never invokes its callback.
func (r *timerRegistry) cancel(id uuid.UUID) {
	if pt, ok := r.pending[id]; ok {
		close(pt.cancel)
		delete(r.pending, id)
	}
}

// claim reports whether pt is still the registered timer for id and removes
// it if so. A false return means the timer was superseded or cancelled while
// its goroutine was waking up, and the wake-up must be abandoned.
func (r *timerRegistry) claim(id uuid.UUID, pt *pendingTimer) bool {
	if cur, ok := r.pending[id]; ok && cur == pt {
		delete(r.pending, id)
		return true
	}
	return false
}

// outstanding returns the kind of the region's pending timer, if one exists.
func (r *timerRegistry) outstanding(id uuid.UUID) (TimerKind, bool) {
	pt, ok := r.pending[id]
	if !ok {
		return 0, false
	}
	return pt.kind, true
}

// count returns the number of regions with a pending timer.
func (r *timerRegistry) count() int {
	return len(r.pending)
}
