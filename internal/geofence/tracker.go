package geofence

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geosentinel-data/geosentinel/internal/geo"
	"github.com/geosentinel-data/geosentinel/internal/locmux"
	"github.com/geosentinel-data/geosentinel/internal/monitoring"
	"github.com/geosentinel-data/geosentinel/internal/notify"
	"github.com/geosentinel-data/geosentinel/internal/timeutil"
)

// ErrRegionNotFound is returned by operations referencing a region id that is
// not in the region list.
var ErrRegionNotFound = errors.New("geofence: region not found")

// Tracker owns every piece of mutable tracking state: the region list, the
// per-region runtime presence, the settings, the timer registry and the last
// known device location. One mutex serializes all of it; raw events, timer
// wake-ups, scheduler recomputations and API operations each take the lock,
// so the single-writer discipline is structural.
//
// Presence is set optimistically on a valid raw event and a confirmation
// timer later either commits the transition or, having been superseded,
// silently never fires. A timer that wakes must re-validate against the then
// current state before committing anything.
type Tracker struct {
	mu sync.Mutex

	store   Store
	gateway locmux.Gateway
	sink    notify.Sink
	clock   timeutil.Clock

	regions  []Region
	presence map[uuid.UUID]RuntimeState
	settings Settings
	timers   *timerRegistry

	lastLocation *geo.Point
	authStatus   locmux.AuthStatus
	precise      bool
	lastEvent    string
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithClock substitutes the clock, letting tests drive confirmation timers
// manually.
func WithClock(c timeutil.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// NewTracker wires the core against its collaborators. The gateway and sink
// are explicit dependencies so tests can substitute doubles.
func NewTracker(store Store, gateway locmux.Gateway, sink notify.Sink, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		gateway:  gateway,
		sink:     sink,
		clock:    timeutil.RealClock{},
		presence: make(map[uuid.UUID]RuntimeState),
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.timers = newTimerRegistry(t.clock)
	return t
}

// Bootstrap loads persisted state, synchronises the gateway's active set and
// seeds presence with one-shot state queries for every enabled region. Load
// failures degrade to defaults; nothing here is fatal.
func (t *Tracker) Bootstrap() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if regions, err := t.store.LoadRegions(); err != nil {
		monitoring.Logf("geofence: loading regions failed, starting empty: %v", err)
	} else {
		t.regions = regions
	}
	if settings, err := t.store.LoadSettings(); err != nil {
		monitoring.Logf("geofence: loading settings failed, using defaults: %v", err)
	} else {
		t.settings = settings
	}
	if states, err := t.store.LoadRuntimeStates(); err != nil {
		monitoring.Logf("geofence: loading runtime states failed, starting empty: %v", err)
	} else if states != nil {
		t.presence = states
	}

	t.recomputeLocked()
	t.requestInitialStatesLocked()

	t.logf("bootstrap complete: %d regions, %s mode", len(t.regions), t.settings.BatteryMode)
}

// requestInitialStatesLocked asks the gateway for a one-shot authoritative
// snapshot of every enabled region. The answer sets presence directly, with
// no dwell or debounce: it is a snapshot, not a streamed raw event.
func (t *Tracker) requestInitialStatesLocked() {
	for _, r := range t.regions {
		if !r.Enabled {
			continue
		}
		state, err := t.gateway.RequestState(r.ID.String())
		if err != nil {
			t.logf("initial state query for %s failed: %v", r.Name, err)
			continue
		}
		st := t.presence[r.ID]
		switch state {
		case locmux.StateInside:
			st.Presence = PresenceInside
		case locmux.StateOutside:
			st.Presence = PresenceOutside
		default:
			st.Presence = PresenceUnknown
		}
		t.presence[r.ID] = st
		t.persistStateLocked(r.ID, st)
		t.logf("initial state: %s for region %s", st.Presence, r.Name)
	}
}

// HandleEvent dispatches one raw gateway event. Intended to be called from a
// single consumer loop draining the gateway's subscription channel.
func (t *Tracker) HandleEvent(ev locmux.Event) {
	switch ev.Kind {
	case locmux.KindRawEnter:
		t.rawEnter(ev.RegionID)
	case locmux.KindRawExit:
		t.rawExit(ev.RegionID)
	case locmux.KindVisit:
		t.mu.Lock()
		t.logf("visit event received")
		t.mu.Unlock()
	case locmux.KindLocationUpdate:
		t.UpdateLocation(ev.Latitude, ev.Longitude)
	case locmux.KindAuthChanged:
		t.handleAuthChanged(ev.Status, ev.Precise)
	case locmux.KindError:
		t.mu.Lock()
		t.logf("sensor error: %s", ev.Reason)
		t.mu.Unlock()
	}
}

// parseRegionID applies the malformed-identifier drop rule: events whose
// region id does not parse are lost, logged, never retried.
func (t *Tracker) parseRegionID(raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		t.mu.Lock()
		t.logf("dropping event with malformed region id %q: %v", raw, err)
		t.mu.Unlock()
		return uuid.Nil, false
	}
	return id, true
}

func (t *Tracker) rawEnter(raw string) {
	id, ok := t.parseRegionID(raw)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r, exists := t.regionLocked(id)
	if !exists {
		t.logf("dropping raw enter for unknown region %s", id)
		return
	}

	now := t.clock.Now()
	st := t.presence[id]
	st.LastRawEnter = &now

	if st.Presence == PresenceInside {
		t.presence[id] = st
		t.logf("raw enter for %s ignored: already inside", r.Name)
		return
	}

	st.Presence = PresenceInside
	t.presence[id] = st
	t.persistStateLocked(id, st)

	t.logf("raw enter for %s; waiting %ds to confirm", r.Name, t.settings.DwellSeconds)
	t.timers.start(id, TimerDwell, t.settings.Dwell(), func(pt *pendingTimer) {
		t.onTimerFire(id, pt)
	})
}

func (t *Tracker) rawExit(raw string) {
	id, ok := t.parseRegionID(raw)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r, exists := t.regionLocked(id)
	if !exists {
		t.logf("dropping raw exit for unknown region %s", id)
		return
	}

	now := t.clock.Now()
	st := t.presence[id]
	st.LastRawExit = &now

	if st.Presence == PresenceOutside {
		t.presence[id] = st
		t.logf("raw exit for %s ignored: already outside", r.Name)
		return
	}

	st.Presence = PresenceOutside
	t.presence[id] = st
	t.persistStateLocked(id, st)

	t.logf("raw exit for %s; debouncing %ds", r.Name, t.settings.ExitDebounceSeconds)
	t.timers.start(id, TimerExitDebounce, t.settings.ExitDebounce(), func(pt *pendingTimer) {
		t.onTimerFire(id, pt)
	})
}

// onTimerFire is the confirmation wake-up. It must claim its registry slot
// first: losing the claim means a contradicting event superseded this timer
// while it was waking, and the confirmation is abandoned.
func (t *Tracker) onTimerFire(id uuid.UUID, pt *pendingTimer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.timers.claim(id, pt) {
		return
	}
	r, exists := t.regionLocked(id)
	if !exists {
		return
	}

	now := t.clock.Now()
	st := t.presence[id]

	switch pt.kind {
	case TimerDwell:
		if st.Presence != PresenceInside {
			t.logf("enter abandoned for %s: state changed during dwell", r.Name)
			return
		}
		st.LastConfirmedEnter = &now
		t.presence[id] = st
		t.persistStateLocked(id, st)
		t.recordTransitionLocked(Transition{RegionID: id, Kind: TransitionEnter, At: now})
		t.lastEvent = fmt.Sprintf("Entered region: %s", r.Name)
		t.logf("enter confirmed for %s", r.Name)
		t.deliverLocked(r, st, now, "Entered Region", fmt.Sprintf("You entered %s", r.Name))

	case TimerExitDebounce:
		if st.Presence != PresenceOutside {
			t.logf("exit abandoned for %s: device re-entered during debounce", r.Name)
			return
		}
		st.LastConfirmedExit = &now
		t.presence[id] = st
		t.persistStateLocked(id, st)
		t.recordTransitionLocked(Transition{RegionID: id, Kind: TransitionExit, At: now})
		t.lastEvent = fmt.Sprintf("Exited region: %s", r.Name)
		t.logf("exit confirmed for %s", r.Name)
		t.deliverLocked(r, st, now, "Exited Region", fmt.Sprintf("You left %s", r.Name))
	}

	// Confirmed presence can influence distance-based prioritization once
	// location updates arrive.
	t.recomputeLocked()
}

// deliverLocked posts a notification for a confirmed transition unless the
// suppression policy mutes it. Suppression never touches presence state.
func (t *Tracker) deliverLocked(r Region, st RuntimeState, now time.Time, title, body string) {
	if reason := t.settings.suppressed(st, now); reason != suppressNone {
		t.logf("notification for %s silenced (%s)", r.Name, reason)
		return
	}
	if err := t.sink.PostGeofenceNotification(title, body, r.ID); err != nil {
		t.logf("posting notification for %s failed: %v", r.Name, err)
	}
}

// UpdateLocation records the device's last known location and re-prioritizes
// the active set around it.
func (t *Tracker) UpdateLocation(lat, lon float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastLocation = &geo.Point{Latitude: lat, Longitude: lon}
	t.logf("location update for priority scheduler")
	t.recomputeLocked()
}

func (t *Tracker) handleAuthChanged(status locmux.AuthStatus, precise bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.authStatus = status
	t.precise = precise
	t.logf("authorization changed: %s (precise=%v)", status, precise)
	// Recomputing resumes monitoring automatically once permission returns.
	t.recomputeLocked()
}

// Snooze mutes notifications for the region until now+d. Zero or negative
// durations fall back to DefaultSnooze. Tracking continues; only alert
// delivery is suppressed.
func (t *Tracker) Snooze(id uuid.UUID, d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, exists := t.regionLocked(id)
	if !exists {
		return ErrRegionNotFound
	}
	if d <= 0 {
		d = DefaultSnooze
	}

	until := t.clock.Now().Add(d)
	st := t.presence[id]
	st.SnoozedUntil = &until
	t.presence[id] = st
	t.persistStateLocked(id, st)
	t.logf("region %s snoozed for %s", r.Name, d)
	return nil
}

// AddRegion appends a region, creating its runtime state. A nil id is
// replaced with a fresh one. Returns the stored region.
func (t *Tracker) AddRegion(r Region) Region {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	t.regions = append(t.regions, r)
	t.presence[r.ID] = RuntimeState{}
	t.persistRegionsLocked()
	t.persistStateLocked(r.ID, RuntimeState{})
	t.logf("added region %s (%.0fm)", r.Name, r.RadiusM)
	t.recomputeLocked()
	return r
}

// UpdateRegion replaces the region with the same id.
func (t *Tracker) UpdateRegion(r Region) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.regions {
		if t.regions[i].ID == r.ID {
			t.regions[i] = r
			t.persistRegionsLocked()
			t.logf("updated region %s", r.Name)
			t.recomputeLocked()
			return nil
		}
	}
	return ErrRegionNotFound
}

// DeleteRegion removes a region, its runtime state and any pending
// confirmation timer.
func (t *Tracker) DeleteRegion(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.regions {
		if t.regions[i].ID == id {
			name := t.regions[i].Name
			t.regions = append(t.regions[:i], t.regions[i+1:]...)
			t.timers.cancel(id)
			delete(t.presence, id)
			if err := t.store.DeleteRuntimeState(id); err != nil {
				monitoring.Logf("geofence: deleting runtime state for %s failed: %v", id, err)
			}
			t.persistRegionsLocked()
			t.logf("deleted region %s", name)
			t.recomputeLocked()
			return nil
		}
	}
	return ErrRegionNotFound
}

// ToggleEnabled flips a region's enabled flag and returns the new value.
func (t *Tracker) ToggleEnabled(id uuid.UUID) (Region, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.regions {
		if t.regions[i].ID == id {
			t.regions[i].Enabled = !t.regions[i].Enabled
			r := t.regions[i]
			t.persistRegionsLocked()
			state := "disabled"
			if r.Enabled {
				state = "enabled"
			}
			t.logf("toggled %s to %s", r.Name, state)
			t.recomputeLocked()
			return r, nil
		}
	}
	return Region{}, ErrRegionNotFound
}

// UpdateSettings replaces the tracking configuration. Out-of-range quiet
// hours and negative windows are clamped with a diagnostic, never rejected.
func (t *Tracker) UpdateSettings(s Settings) Settings {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.DwellSeconds < 0 {
		t.logf("negative dwell %ds clamped to 0", s.DwellSeconds)
		s.DwellSeconds = 0
	}
	if s.ExitDebounceSeconds < 0 {
		t.logf("negative exit debounce %ds clamped to 0", s.ExitDebounceSeconds)
		s.ExitDebounceSeconds = 0
	}
	s.QuietStart = clampHour(s.QuietStart)
	s.QuietEnd = clampHour(s.QuietEnd)

	t.settings = s
	t.persistSettingsLocked()
	t.logf("settings updated: dwell %ds, exit debounce %ds, quiet %d->%d, %s mode",
		s.DwellSeconds, s.ExitDebounceSeconds, s.QuietStart, s.QuietEnd, s.BatteryMode)
	t.recomputeLocked()
	return s
}

// ToggleBatteryMode flips between Saver and HighFidelity and returns the new
// mode.
func (t *Tracker) ToggleBatteryMode() BatteryMode {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.settings.BatteryMode == Saver {
		t.settings.BatteryMode = HighFidelity
	} else {
		t.settings.BatteryMode = Saver
	}
	t.persistSettingsLocked()
	t.logf("battery mode: %s", t.settings.BatteryMode)
	t.recomputeLocked()
	return t.settings.BatteryMode
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}

// Regions returns a copy of the region list in user order.
func (t *Tracker) Regions() []Region {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Region, len(t.regions))
	copy(out, t.regions)
	return out
}

// Region returns one region by id.
func (t *Tracker) Region(id uuid.UUID) (Region, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.regionLocked(id)
	if !ok {
		return Region{}, ErrRegionNotFound
	}
	return r, nil
}

// Presence returns a copy of the runtime presence map.
func (t *Tracker) Presence() map[uuid.UUID]RuntimeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uuid.UUID]RuntimeState, len(t.presence))
	for id, st := range t.presence {
		out[id] = st
	}
	return out
}

// PresenceFor returns one region's runtime state.
func (t *Tracker) PresenceFor(id uuid.UUID) RuntimeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.presence[id]
}

// Settings returns the current configuration.
func (t *Tracker) Settings() Settings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// LastEvent returns a one-line summary of the most recent confirmed
// transition, for status surfaces.
func (t *Tracker) LastEvent() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastEvent
}

// AuthStatus returns the last reported authorization status and precision.
func (t *Tracker) AuthStatus() (locmux.AuthStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authStatus, t.precise
}

// PendingTimer is an instrumentation hook exposing the region's outstanding
// confirmation timer, if any.
func (t *Tracker) PendingTimer(id uuid.UUID) (TimerKind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timers.outstanding(id)
}

// PendingTimerCount is an instrumentation hook for the at-most-one-per-region
// invariant.
func (t *Tracker) PendingTimerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timers.count()
}

func (t *Tracker) regionLocked(id uuid.UUID) (Region, bool) {
	for _, r := range t.regions {
		if r.ID == id {
			return r, true
		}
	}
	return Region{}, false
}

// Persistence helpers tolerate write failures: state is already applied in
// memory and a failed save only costs durability, never correctness.

func (t *Tracker) persistStateLocked(id uuid.UUID, st RuntimeState) {
	if err := t.store.SaveRuntimeState(id, st); err != nil {
		monitoring.Logf("geofence: persisting runtime state for %s failed: %v", id, err)
	}
}

func (t *Tracker) persistRegionsLocked() {
	if err := t.store.SaveRegions(t.regions); err != nil {
		monitoring.Logf("geofence: persisting regions failed: %v", err)
	}
}

func (t *Tracker) persistSettingsLocked() {
	if err := t.store.SaveSettings(t.settings); err != nil {
		monitoring.Logf("geofence: persisting settings failed: %v", err)
	}
}

func (t *Tracker) recordTransitionLocked(tr Transition) {
	if err := t.store.RecordTransition(tr); err != nil {
		monitoring.Logf("geofence: recording transition for %s failed: %v", tr.RegionID, err)
	}
}

// logf emits a diagnostic to the process log and the persisted trail.
func (t *Tracker) logf(format string, v ...interface{}) {
	monitoring.Logf("geofence: "+format, v...)
	if err := t.store.AppendLog(t.clock.Now(), fmt.Sprintf(format, v...)); err != nil {
		monitoring.Logf("geofence: appending to log trail failed: %v", err)
	}
}
