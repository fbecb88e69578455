// Package geofence implements the presence-tracking core: the per-region
// state machine that debounces raw sensor events into confirmed enter/exit
// transitions, the confirmation timer registry, the priority scheduler that
// keeps the gateway's capped active set synchronised with the region list,
// and the quiet-hours/snooze suppression policy.
package geofence

import (
	"time"

	"github.com/google/uuid"
)

// Radius bounds in metres. Values outside the range are clamped at the point
// of use, never rejected.
const (
	MinRadiusM = 50
	MaxRadiusM = 2000
)

// MaxMonitoredRegions is the gateway's hard cap on concurrently monitored
// regions.
const MaxMonitoredRegions = 20

// DefaultSnooze is applied when a snooze request carries no duration.
const DefaultSnooze = 15 * time.Minute

// Region is a user-defined circular geographic fence.
type Region struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	RadiusM       float64   `json:"radius_m"`
	Enabled       bool      `json:"enabled"`
	NotifyOnEntry bool      `json:"notify_on_entry"`
	NotifyOnExit  bool      `json:"notify_on_exit"`
}

// ClampRadius rewrites a radius to the nearest legal bound. The second return
// reports whether clamping happened so callers can emit a diagnostic.
func ClampRadius(radiusM float64) (float64, bool) {
	if radiusM < MinRadiusM {
		return MinRadiusM, true
	}
	if radiusM > MaxRadiusM {
		return MaxRadiusM, true
	}
	return radiusM, false
}

// Presence is the tracked containment state for one region.
type Presence int

const (
	PresenceUnknown Presence = iota
	PresenceInside
	PresenceOutside
)

func (p Presence) String() string {
	switch p {
	case PresenceInside:
		return "inside"
	case PresenceOutside:
		return "outside"
	default:
		return "unknown"
	}
}

// ParsePresence is the inverse of Presence.String. Unrecognised values map to
// PresenceUnknown.
func ParsePresence(s string) Presence {
	switch s {
	case "inside":
		return PresenceInside
	case "outside":
		return PresenceOutside
	default:
		return PresenceUnknown
	}
}

// RuntimeState is the per-region tracking state. Created lazily on the first
// raw event for a region, mutated only by the Tracker, persisted after every
// mutation, removed when its region is deleted.
type RuntimeState struct {
	Presence           Presence   `json:"presence"`
	LastRawEnter       *time.Time `json:"last_raw_enter,omitempty"`
	LastRawExit        *time.Time `json:"last_raw_exit,omitempty"`
	LastConfirmedEnter *time.Time `json:"last_confirmed_enter,omitempty"`
	LastConfirmedExit  *time.Time `json:"last_confirmed_exit,omitempty"`
	SnoozedUntil       *time.Time `json:"snoozed_until,omitempty"`
}

// Snoozed reports whether an active snooze window covers now.
func (s RuntimeState) Snoozed(now time.Time) bool {
	return s.SnoozedUntil != nil && s.SnoozedUntil.After(now)
}

// BatteryMode selects the monitoring fidelity/power trade-off.
type BatteryMode int

const (
	HighFidelity BatteryMode = iota
	Saver
)

func (m BatteryMode) String() string {
	if m == Saver {
		return "saver"
	}
	return "high-fidelity"
}

// ParseBatteryMode maps a stored string back to a mode. Unrecognised values
// fall back to HighFidelity, the default.
func ParseBatteryMode(s string) BatteryMode {
	if s == "saver" {
		return Saver
	}
	return HighFidelity
}

// Settings is the single process-wide tracking configuration.
type Settings struct {
	DwellSeconds        int         `json:"dwell_seconds"`
	ExitDebounceSeconds int         `json:"exit_debounce_seconds"`
	QuietStart          int         `json:"quiet_start"`
	QuietEnd            int         `json:"quiet_end"`
	BatteryMode         BatteryMode `json:"battery_mode"`
}

// DefaultSettings covers typical use: half-minute debounce windows and quiet
// hours over typical nighttime.
func DefaultSettings() Settings {
	return Settings{
		DwellSeconds:        30,
		ExitDebounceSeconds: 30,
		QuietStart:          22,
		QuietEnd:            7,
		BatteryMode:         HighFidelity,
	}
}

// Dwell returns the dwell window as a duration.
func (s Settings) Dwell() time.Duration {
	return time.Duration(s.DwellSeconds) * time.Second
}

// ExitDebounce returns the exit-debounce window as a duration.
func (s Settings) ExitDebounce() time.Duration {
	return time.Duration(s.ExitDebounceSeconds) * time.Second
}

// TransitionKind labels a confirmed transition.
type TransitionKind string

const (
	TransitionEnter TransitionKind = "enter"
	TransitionExit  TransitionKind = "exit"
)

// Transition is one confirmed, debounced enter or exit.
type Transition struct {
	RegionID uuid.UUID      `json:"region_id"`
	Kind     TransitionKind `json:"kind"`
	At       time.Time      `json:"at"`
}

// Store is the persistence collaborator. Each blob loads to a documented
// default when absent: empty region list, DefaultSettings, empty presence
// map. The Tracker tolerates any of these calls failing: state is already
// applied in memory and a failure only costs durability.
type Store interface {
	LoadRegions() ([]Region, error)
	SaveRegions([]Region) error

	LoadSettings() (Settings, error)
	SaveSettings(Settings) error

	LoadRuntimeStates() (map[uuid.UUID]RuntimeState, error)
	SaveRuntimeState(uuid.UUID, RuntimeState) error
	DeleteRuntimeState(uuid.UUID) error

	RecordTransition(Transition) error
	AppendLog(at time.Time, message string) error
}
