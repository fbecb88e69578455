// Package notify defines the notification sink the presence core posts
// confirmed, non-suppressed transitions to, plus the in-process
// implementations used by the daemon and by tests.
package notify

import (
	"sync"

	"github.com/google/uuid"

	"github.com/geosentinel-data/geosentinel/internal/monitoring"
)

// Sink delivers user-visible geofence alerts. Implementations must be safe
// for calls from the tracker's event goroutines.
type Sink interface {
	PostGeofenceNotification(title, body string, regionID uuid.UUID) error
}

// LogSink writes notifications to the diagnostic log. It is the default sink
// for headless deployments where no platform notification service exists.
type LogSink struct{}

func (LogSink) PostGeofenceNotification(title, body string, regionID uuid.UUID) error {
	monitoring.Logf("notify: [%s] %s (region %s)", title, body, regionID)
	return nil
}

// Notification is one recorded alert.
type Notification struct {
	Title    string
	Body     string
	RegionID uuid.UUID
}

// MemorySink records notifications for inspection in tests.
type MemorySink struct {
	mu     sync.Mutex
	posted []Notification
}

func (s *MemorySink) PostGeofenceNotification(title, body string, regionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = append(s.posted, Notification{Title: title, Body: body, RegionID: regionID})
	return nil
}

// Posted returns a copy of every recorded notification in order.
func (s *MemorySink) Posted() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.posted))
	copy(out, s.posted)
	return out
}

// Reset clears the recorded notifications.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = nil
}
