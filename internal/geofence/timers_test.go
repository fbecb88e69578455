package geofence

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/geosentinel-data/geosentinel/internal/timeutil"
)

// registryHarness emulates the Tracker's serialization domain: a mutex held
// around every registry call, including the claim on wake-up.
type registryHarness struct {
	mu    sync.Mutex
	clock *timeutil.MockClock
	reg   *timerRegistry
	fired chan TimerKind
}

func newRegistryHarness() *registryHarness {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return &registryHarness{
		clock: clock,
		reg:   newTimerRegistry(clock),
		fired: make(chan TimerKind, 8),
	}
}

func (h *registryHarness) start(id uuid.UUID, kind TimerKind, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reg.start(id, kind, d, func(pt *pendingTimer) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.reg.claim(id, pt) {
			h.fired <- pt.kind
		}
	})
}

func (h *registryHarness) expectFire(t *testing.T, want TimerKind) {
	t.Helper()
	select {
	case got := <-h.fired:
		require.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func (h *registryHarness) expectNoFire(t *testing.T) {
	t.Helper()
	select {
	case got := <-h.fired:
		t.Fatalf("unexpected %v fire", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerRegistry_FiresAfterDuration(t *testing.T) {
	h := newRegistryHarness()
	id := uuid.New()

	h.start(id, TimerDwell, 30*time.Second)

	h.clock.Advance(29 * time.Second)
	h.expectNoFire(t)

	h.clock.Advance(2 * time.Second)
	h.expectFire(t, TimerDwell)

	h.mu.Lock()
	require.Zero(t, h.reg.count(), "fired timer should leave the registry")
	h.mu.Unlock()
}

func TestTimerRegistry_AtMostOnePerRegion(t *testing.T) {
	h := newRegistryHarness()
	id := uuid.New()

	h.start(id, TimerDwell, 30*time.Second)
	h.start(id, TimerExitDebounce, 30*time.Second)

	h.mu.Lock()
	require.Equal(t, 1, h.reg.count())
	kind, ok := h.reg.outstanding(id)
	h.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, TimerExitDebounce, kind)

	// Only the replacement fires.
	h.clock.Advance(time.Minute)
	h.expectFire(t, TimerExitDebounce)
	h.expectNoFire(t)
}

func TestTimerRegistry_CancelPreventsFire(t *testing.T) {
	h := newRegistryHarness()
	id := uuid.New()

	h.start(id, TimerDwell, 10*time.Second)

	h.mu.Lock()
	h.reg.cancel(id)
	require.Zero(t, h.reg.count())
	h.mu.Unlock()

	h.clock.Advance(time.Minute)
	h.expectNoFire(t)
}

func TestTimerRegistry_IndependentRegions(t *testing.T) {
	h := newRegistryHarness()
	a, b := uuid.New(), uuid.New()

	h.start(a, TimerDwell, 10*time.Second)
	h.start(b, TimerExitDebounce, 20*time.Second)

	h.mu.Lock()
	require.Equal(t, 2, h.reg.count())
	h.mu.Unlock()

	h.clock.Advance(15 * time.Second)
	h.expectFire(t, TimerDwell)

	h.clock.Advance(10 * time.Second)
	h.expectFire(t, TimerExitDebounce)
}

func TestTimerRegistry_CancelUnknownRegionIsNoop(t *testing.T) {
	h := newRegistryHarness()
	h.mu.Lock()
	h.reg.cancel(uuid.New())
	h.mu.Unlock()
}
