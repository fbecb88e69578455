package locmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/geosentinel-data/geosentinel/internal/geo"
	"github.com/geosentinel-data/geosentinel/internal/monitoring"
)

// significantMoveM is the minimum movement between coarse location updates.
// Mirrors the granularity of platform significant-change services.
const significantMoveM = 500.0

// ErrTooManyRegions is returned by StartMonitoring when the active set is
// already at MaxMonitoredRegions.
var ErrTooManyRegions = errors.New("locmux: monitored region cap reached")

// trackedRegion is a monitored region plus the gateway's last containment
// verdict for it. inside is nil until the first valid fix is evaluated.
type trackedRegion struct {
	MonitoredRegion
	inside *bool
}

// SerialGateway implements Gateway on top of an NMEA 0183 GPS receiver
// attached to a serial port. It performs the containment tests itself: every
// valid fix is checked against the active region set and boundary crossings
// are published as raw enter/exit events.
type SerialGateway struct {
	fanout

	port io.ReadCloser

	mu            sync.Mutex
	active        map[string]*trackedRegion
	coarse        bool
	lastFix       *geo.Point
	lastPublished *geo.Point
}

// NewSerialGateway opens the GPS receiver at portName with the given baud
// rate (9600 is typical for NMEA output).
func NewSerialGateway(portName string, baud int) (*SerialGateway, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open GPS port %s: %w", portName, err)
	}
	return newSerialGateway(port), nil
}

// newSerialGateway wraps an already open line source. Tests feed NMEA
// sentences through a pipe here.
func newSerialGateway(port io.ReadCloser) *SerialGateway {
	return &SerialGateway{
		port:   port,
		active: make(map[string]*trackedRegion),
	}
}

// StartMonitoring registers a region. If a fix is already known, the region's
// containment baseline is seeded from it so the next fix only reports actual
// crossings, not the initial state (one-shot state queries cover that).
func (g *SerialGateway) StartMonitoring(r MonitoredRegion) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.active[r.ID]; !exists && len(g.active) >= MaxMonitoredRegions {
		return ErrTooManyRegions
	}
	tr := &trackedRegion{MonitoredRegion: r}
	if g.lastFix != nil {
		inside := g.containsLocked(r, *g.lastFix)
		tr.inside = &inside
	}
	g.active[r.ID] = tr
	return nil
}

func (g *SerialGateway) StopMonitoring(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, id)
	return nil
}

func (g *SerialGateway) StopAllMonitoring() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = make(map[string]*trackedRegion)
	return nil
}

// RequestState answers from the last fix. Unknown when the region is not
// actively monitored or no fix has been received yet.
func (g *SerialGateway) RequestState(id string) (RegionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tr, ok := g.active[id]
	if !ok || g.lastFix == nil {
		return StateUnknown, nil
	}
	if g.containsLocked(tr.MonitoredRegion, *g.lastFix) {
		return StateInside, nil
	}
	return StateOutside, nil
}

func (g *SerialGateway) StartCoarseMode() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.coarse = true
	return nil
}

func (g *SerialGateway) StopCoarseMode() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.coarse = false
	g.lastPublished = nil
	return nil
}

// Monitor reads NMEA sentences from the port until ctx is done. The blocking
// Read runs in its own goroutine so the outer loop can honour cancellation.
func (g *SerialGateway) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(g.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			g.publish(Event{Kind: KindError, Reason: err.Error()})
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scan.Err()
			}
			g.handleLine(line)
		}
	}
}

func (g *SerialGateway) handleLine(line string) {
	fix, err := ParseSentence(line)
	if err != nil {
		if !errors.Is(err, ErrNotPosition) {
			monitoring.Logf("locmux: dropping unparseable sentence: %v", err)
		}
		return
	}
	if !fix.Valid {
		return
	}
	g.handleFix(geo.Point{Latitude: fix.Latitude, Longitude: fix.Longitude})
}

// handleFix evaluates one position fix: containment flips become raw events,
// and sufficiently large movements become coarse location updates.
func (g *SerialGateway) handleFix(p geo.Point) {
	g.mu.Lock()
	g.lastFix = &p

	var events []Event
	for _, tr := range g.active {
		inside := g.containsLocked(tr.MonitoredRegion, p)
		if tr.inside == nil {
			tr.inside = &inside
			continue
		}
		if inside == *tr.inside {
			continue
		}
		*tr.inside = inside
		if inside && tr.NotifyOnEntry {
			events = append(events, Event{Kind: KindRawEnter, RegionID: tr.ID})
		}
		if !inside && tr.NotifyOnExit {
			events = append(events, Event{Kind: KindRawExit, RegionID: tr.ID})
		}
	}

	if g.coarse {
		if g.lastPublished == nil || geo.DistanceM(*g.lastPublished, p) >= significantMoveM {
			g.lastPublished = &p
			events = append(events, Event{
				Kind:      KindLocationUpdate,
				Latitude:  p.Latitude,
				Longitude: p.Longitude,
			})
		}
	}
	g.mu.Unlock()

	for _, ev := range events {
		g.publish(ev)
	}
}

func (g *SerialGateway) containsLocked(r MonitoredRegion, p geo.Point) bool {
	center := geo.Point{Latitude: r.Latitude, Longitude: r.Longitude}
	return geo.DistanceM(center, p) <= r.RadiusM
}

// Close closes the port and all subscriber channels.
func (g *SerialGateway) Close() error {
	g.closeAll()
	return g.port.Close()
}
