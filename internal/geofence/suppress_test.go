package geofence

import (
	"testing"
	"time"
)

func at(hour int) time.Time {
	return time.Date(2025, 6, 1, hour, 30, 0, 0, time.UTC)
}

func TestQuietHoursActive_WrapAroundMidnight(t *testing.T) {
	s := Settings{QuietStart: 22, QuietEnd: 7}

	cases := []struct {
		hour int
		want bool
	}{
		{23, true},
		{3, true},
		{22, true},
		{6, true},
		{7, false},
		{12, false},
		{21, false},
	}
	for _, c := range cases {
		if got := s.QuietHoursActive(at(c.hour)); got != c.want {
			t.Errorf("22->7 window at hour %d: active = %v, want %v", c.hour, got, c.want)
		}
	}
}

func TestQuietHoursActive_DaytimeWindow(t *testing.T) {
	s := Settings{QuietStart: 9, QuietEnd: 17}

	cases := []struct {
		hour int
		want bool
	}{
		{12, true},
		{9, true},
		{16, true},
		{17, false},
		{20, false},
		{8, false},
	}
	for _, c := range cases {
		if got := s.QuietHoursActive(at(c.hour)); got != c.want {
			t.Errorf("9->17 window at hour %d: active = %v, want %v", c.hour, got, c.want)
		}
	}
}

func TestSnoozed(t *testing.T) {
	now := at(12)

	var st RuntimeState
	if st.Snoozed(now) {
		t.Error("state without snooze reported snoozed")
	}

	future := now.Add(10 * time.Minute)
	st.SnoozedUntil = &future
	if !st.Snoozed(now) {
		t.Error("active snooze window not reported")
	}

	past := now.Add(-time.Minute)
	st.SnoozedUntil = &past
	if st.Snoozed(now) {
		t.Error("expired snooze window still reported")
	}
}

func TestSuppressed_Precedence(t *testing.T) {
	s := Settings{QuietStart: 22, QuietEnd: 7}
	snoozeUntil := at(12).Add(time.Hour)

	// Quiet hours alone.
	if r := s.suppressed(RuntimeState{}, at(23)); r != suppressQuietHours {
		t.Errorf("reason = %q, want quiet hours", r)
	}
	// Snooze alone.
	if r := s.suppressed(RuntimeState{SnoozedUntil: &snoozeUntil}, at(12)); r != suppressSnooze {
		t.Errorf("reason = %q, want snooze", r)
	}
	// Neither.
	if r := s.suppressed(RuntimeState{}, at(12)); r != suppressNone {
		t.Errorf("reason = %q, want none", r)
	}
}
