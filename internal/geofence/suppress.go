package geofence

import "time"

// QuietHoursActive reports whether now falls inside the configured quiet
// window. A window with QuietStart >= QuietEnd wraps midnight (22 -> 7 means
// 22:00 through 06:59).
func (s Settings) QuietHoursActive(now time.Time) bool {
	hour := now.Hour()
	if s.QuietStart < s.QuietEnd {
		return hour >= s.QuietStart && hour < s.QuietEnd
	}
	return hour >= s.QuietStart || hour < s.QuietEnd
}

// suppressionReason explains why a notification was muted. Empty means not
// suppressed.
type suppressionReason string

const (
	suppressNone       suppressionReason = ""
	suppressQuietHours suppressionReason = "quiet hours"
	suppressSnooze     suppressionReason = "snooze"
)

// suppressed evaluates the suppression policy for one region's state at a
// point in time. Suppression gates notification delivery only; presence and
// its persisted timestamps are never affected.
func (s Settings) suppressed(st RuntimeState, now time.Time) suppressionReason {
	if s.QuietHoursActive(now) {
		return suppressQuietHours
	}
	if st.Snoozed(now) {
		return suppressSnooze
	}
	return suppressNone
}
