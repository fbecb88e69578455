package locmux

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/geosentinel-data/geosentinel/internal/monitoring"
)

// MockGateway implements Gateway entirely in memory. Tests drive it with the
// Inject methods and inspect the commands it received; dev mode replays a
// fixture script through it.
type MockGateway struct {
	fanout

	mu           sync.Mutex
	active       map[string]MonitoredRegion
	states       map[string]RegionState
	coarseActive bool

	started      []MonitoredRegion
	stopped      []string
	stopAllCalls int
	coarseStarts int
	coarseStops  int
}

// NewMockGateway creates an empty mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		active: make(map[string]MonitoredRegion),
		states: make(map[string]RegionState),
	}
}

func (g *MockGateway) StartMonitoring(r MonitoredRegion) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.active[r.ID]; !exists && len(g.active) >= MaxMonitoredRegions {
		return ErrTooManyRegions
	}
	g.active[r.ID] = r
	g.started = append(g.started, r)
	return nil
}

func (g *MockGateway) StopMonitoring(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, id)
	g.stopped = append(g.stopped, id)
	return nil
}

func (g *MockGateway) StopAllMonitoring() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = make(map[string]MonitoredRegion)
	g.stopAllCalls++
	return nil
}

func (g *MockGateway) RequestState(id string) (RegionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.states[id]; ok {
		return s, nil
	}
	return StateUnknown, nil
}

func (g *MockGateway) StartCoarseMode() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.coarseActive = true
	g.coarseStarts++
	return nil
}

func (g *MockGateway) StopCoarseMode() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.coarseActive = false
	g.coarseStops++
	return nil
}

// Monitor blocks until ctx is done; events are produced by the Inject
// methods, not by a read loop.
func (g *MockGateway) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (g *MockGateway) Close() error {
	g.closeAll()
	return nil
}

// SetState primes the one-shot state answer for a region.
func (g *MockGateway) SetState(id string, s RegionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[id] = s
}

// InjectEnter publishes a raw enter event for the given region identifier.
func (g *MockGateway) InjectEnter(id string) {
	g.publish(Event{Kind: KindRawEnter, RegionID: id})
}

// InjectExit publishes a raw exit event for the given region identifier.
func (g *MockGateway) InjectExit(id string) {
	g.publish(Event{Kind: KindRawExit, RegionID: id})
}

// InjectVisit publishes a coarse visit event.
func (g *MockGateway) InjectVisit() {
	g.publish(Event{Kind: KindVisit})
}

// InjectLocation publishes a device location update.
func (g *MockGateway) InjectLocation(lat, lon float64) {
	g.publish(Event{Kind: KindLocationUpdate, Latitude: lat, Longitude: lon})
}

// InjectAuthChange publishes an authorization status change.
func (g *MockGateway) InjectAuthChange(status AuthStatus, precise bool) {
	g.publish(Event{Kind: KindAuthChanged, Status: status, Precise: precise})
}

// InjectError publishes a gateway failure report.
func (g *MockGateway) InjectError(reason string) {
	g.publish(Event{Kind: KindError, Reason: reason})
}

// Active returns a copy of the currently monitored set.
func (g *MockGateway) Active() map[string]MonitoredRegion {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]MonitoredRegion, len(g.active))
	for id, r := range g.active {
		out[id] = r
	}
	return out
}

// Started returns every StartMonitoring payload in call order.
func (g *MockGateway) Started() []MonitoredRegion {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]MonitoredRegion, len(g.started))
	copy(out, g.started)
	return out
}

// StopAllCalls returns how many times StopAllMonitoring was invoked.
func (g *MockGateway) StopAllCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopAllCalls
}

// CoarseActive reports whether coarse mode is currently on.
func (g *MockGateway) CoarseActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.coarseActive
}

// CoarseStarts returns how many times coarse mode was enabled.
func (g *MockGateway) CoarseStarts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.coarseStarts
}

// CoarseStops returns how many times coarse mode was disabled.
func (g *MockGateway) CoarseStops() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.coarseStops
}

// ResetCounters clears the recorded command history, keeping the active set.
func (g *MockGateway) ResetCounters() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = nil
	g.stopped = nil
	g.stopAllCalls = 0
	g.coarseStarts = 0
	g.coarseStops = 0
}

// ReplayScript feeds a fixture script through the gateway for dev mode. One
// directive per line, # starts a comment:
//
//	sleep <duration>        pause playback (e.g. "sleep 500ms")
//	enter <region-id>       publish a raw enter
//	exit <region-id>        publish a raw exit
//	visit                   publish a visit event
//	loc <lat> <lon>         publish a location update
//	auth <status> [precise] publish an auth change (status per AuthStatus)
//	error <reason...>       publish a gateway error
//
// Unrecognised lines are logged and skipped.
func (g *MockGateway) ReplayScript(ctx context.Context, script string) error {
	scan := bufio.NewScanner(strings.NewReader(script))
	for scan.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := g.replayLine(ctx, line); err != nil {
			monitoring.Logf("locmux: script: %v", err)
		}
	}
	return scan.Err()
}

func (g *MockGateway) replayLine(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "sleep":
		if len(fields) != 2 {
			return fmt.Errorf("sleep wants a duration: %q", line)
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil {
			return fmt.Errorf("bad sleep duration %q: %w", fields[1], err)
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	case "enter":
		if len(fields) != 2 {
			return fmt.Errorf("enter wants a region id: %q", line)
		}
		g.InjectEnter(fields[1])
	case "exit":
		if len(fields) != 2 {
			return fmt.Errorf("exit wants a region id: %q", line)
		}
		g.InjectExit(fields[1])
	case "visit":
		g.InjectVisit()
	case "loc":
		if len(fields) != 3 {
			return fmt.Errorf("loc wants lat lon: %q", line)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("bad latitude %q: %w", fields[1], err)
		}
		lon, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return fmt.Errorf("bad longitude %q: %w", fields[2], err)
		}
		g.InjectLocation(lat, lon)
	case "auth":
		if len(fields) < 2 {
			return fmt.Errorf("auth wants a status: %q", line)
		}
		status, err := parseAuthStatus(fields[1])
		if err != nil {
			return err
		}
		precise := len(fields) > 2 && fields[2] == "precise"
		g.InjectAuthChange(status, precise)
	case "error":
		g.InjectError(strings.Join(fields[1:], " "))
	default:
		return fmt.Errorf("unknown directive %q", fields[0])
	}
	return nil
}

func parseAuthStatus(s string) (AuthStatus, error) {
	switch s {
	case "always":
		return AuthAlways, nil
	case "when-in-use":
		return AuthWhenInUse, nil
	case "denied":
		return AuthDenied, nil
	case "restricted":
		return AuthRestricted, nil
	case "not-determined":
		return AuthNotDetermined, nil
	default:
		return AuthNotDetermined, fmt.Errorf("unknown auth status %q", s)
	}
}
