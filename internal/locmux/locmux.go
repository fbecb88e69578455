// Package locmux abstracts the device's region-monitoring capability behind a
// Gateway interface with the ability for multiple clients to subscribe to raw
// location events from a single underlying sensor.
//
// Two implementations are provided: SerialGateway reads NMEA fixes from a GPS
// receiver on a serial port and synthesises enter/exit events against its
// active region set, and MockGateway is a scriptable in-memory gateway for
// tests and dev mode.
package locmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"sync"
)

// MaxMonitoredRegions is the hard cap on concurrently monitored regions the
// gateway enforces. External constraint; callers must not assume more slots.
const MaxMonitoredRegions = 20

// RegionState is the answer to a one-shot state query for a region.
type RegionState int

const (
	StateUnknown RegionState = iota
	StateInside
	StateOutside
)

func (s RegionState) String() string {
	switch s {
	case StateInside:
		return "inside"
	case StateOutside:
		return "outside"
	default:
		return "unknown"
	}
}

// AuthStatus mirrors the platform location-authorization state.
type AuthStatus int

const (
	AuthNotDetermined AuthStatus = iota
	AuthWhenInUse
	AuthAlways
	AuthDenied
	AuthRestricted
)

func (s AuthStatus) String() string {
	switch s {
	case AuthWhenInUse:
		return "when in use"
	case AuthAlways:
		return "always"
	case AuthDenied:
		return "denied"
	case AuthRestricted:
		return "restricted"
	default:
		return "not determined"
	}
}

// Authorized reports whether monitoring is permitted under this status.
func (s AuthStatus) Authorized() bool {
	return s == AuthWhenInUse || s == AuthAlways
}

// EventKind discriminates raw gateway events.
type EventKind int

const (
	KindRawEnter EventKind = iota
	KindRawExit
	KindVisit
	KindLocationUpdate
	KindAuthChanged
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindRawEnter:
		return "raw-enter"
	case KindRawExit:
		return "raw-exit"
	case KindVisit:
		return "visit"
	case KindLocationUpdate:
		return "location-update"
	case KindAuthChanged:
		return "auth-changed"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single raw gateway event. Only the fields relevant to Kind are
// populated. RegionID is the opaque identifier the region was registered
// under; the gateway makes no attempt to validate it.
type Event struct {
	Kind      EventKind
	RegionID  string
	Latitude  float64
	Longitude float64
	Status    AuthStatus
	Precise   bool
	Reason    string
}

// MonitoredRegion is a start-monitoring command payload: a circular region
// registered under an opaque identifier. The notify flags control which raw
// transitions the gateway reports.
type MonitoredRegion struct {
	ID            string
	Latitude      float64
	Longitude     float64
	RadiusM       float64
	NotifyOnEntry bool
	NotifyOnExit  bool
}

// Gateway is the region-monitoring sensor service the presence core consumes.
// Commands are synchronous; raw events arrive on subscriber channels fed by
// Monitor.
type Gateway interface {
	// StartMonitoring registers a region with the gateway. Registering an
	// identifier that is already active replaces the prior registration.
	StartMonitoring(MonitoredRegion) error
	// StopMonitoring removes one region from the active set.
	StopMonitoring(id string) error
	// StopAllMonitoring clears the active set.
	StopAllMonitoring() error
	// RequestState answers a one-shot authoritative presence snapshot for an
	// actively monitored region.
	RequestState(id string) (RegionState, error)
	// StartCoarseMode enables the low-power significant-change and visit
	// tracking modes.
	StartCoarseMode() error
	// StopCoarseMode disables the coarse modes.
	StopCoarseMode() error

	// Subscribe creates a channel receiving raw events. The returned ID
	// identifies the channel for Unsubscribe.
	Subscribe() (string, chan Event)
	// Unsubscribe removes and closes a subscriber channel.
	Unsubscribe(id string)

	// Monitor runs the gateway's event production loop until ctx is done.
	Monitor(ctx context.Context) error
	// Close releases the underlying sensor and closes all subscribers.
	Close() error
}

// subscriberBuffer is the per-subscriber channel depth. Raw geofence events
// are best-effort; a slow consumer drops events rather than stalling the
// sensor read loop.
const subscriberBuffer = 16

// fanout distributes events to subscribers. Both gateway implementations
// embed it.
type fanout struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	closed      bool
}

// randomID generates a random subscriber ID (8 random bytes, hex encoded).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (f *fanout) Subscribe() (string, chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribers == nil {
		f.subscribers = make(map[string]chan Event)
	}
	id := randomID()
	ch := make(chan Event, subscriberBuffer)
	f.subscribers[id] = ch
	return id, ch
}

func (f *fanout) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

// publish delivers ev to every subscriber without blocking. Events to a full
// subscriber channel are dropped; geofencing is best-effort and a lost raw
// event is recovered by the next one.
func (f *fanout) publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeAll closes every subscriber channel and marks the fanout closed.
func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}
