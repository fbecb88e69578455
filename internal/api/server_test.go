package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/geosentinel-data/geosentinel/internal/db"
	"github.com/geosentinel-data/geosentinel/internal/geofence"
	"github.com/geosentinel-data/geosentinel/internal/locmux"
	"github.com/geosentinel-data/geosentinel/internal/notify"
	"github.com/geosentinel-data/geosentinel/internal/timeutil"
)

type apiHarness struct {
	srv     *httptest.Server
	tracker *geofence.Tracker
	gw      *locmux.MockGateway
	clock   *timeutil.MockClock
	db      *db.DB
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	h := &apiHarness{
		gw:    locmux.NewMockGateway(),
		clock: timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		db:    database,
	}
	h.tracker = geofence.NewTracker(database, h.gw, &notify.MemorySink{}, geofence.WithClock(h.clock))
	h.tracker.Bootstrap()

	h.srv = httptest.NewServer(NewServer(h.tracker, database).ServeMux())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *apiHarness) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRegionLifecycle(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodPost, "/api/regions", geofence.Region{
		Name:          "Home",
		Latitude:      40.7,
		Longitude:     -74.0,
		RadiusM:       120,
		Enabled:       true,
		NotifyOnEntry: true,
		NotifyOnExit:  true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[geofence.Region](t, resp)
	require.NotEqual(t, uuid.Nil, created.ID, "server assigns ids")

	resp = h.request(t, http.MethodGet, "/api/regions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	regions := decodeBody[[]geofence.Region](t, resp)
	require.Len(t, regions, 1)
	require.Equal(t, created, regions[0])

	// Creating a region activates monitoring.
	require.Contains(t, h.gw.Active(), created.ID.String())

	created.RadiusM = 400
	resp = h.request(t, http.MethodPut, "/api/regions/"+created.ID.String(), created)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.request(t, http.MethodGet, "/api/regions/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.InDelta(t, 400.0, decodeBody[geofence.Region](t, resp).RadiusM, 0.001)

	resp = h.request(t, http.MethodDelete, "/api/regions/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NotContains(t, h.gw.Active(), created.ID.String())

	resp = h.request(t, http.MethodGet, "/api/regions/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegionValidation(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodPost, "/api/regions", geofence.Region{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.request(t, http.MethodGet, "/api/regions/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.request(t, http.MethodPut, "/api/regions/"+uuid.NewString(), geofence.Region{Name: "x"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.request(t, http.MethodPatch, "/api/regions", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestToggleRegion(t *testing.T) {
	h := newAPIHarness(t)
	created := h.tracker.AddRegion(geofence.Region{Name: "Home", Latitude: 40.7, Longitude: -74, RadiusM: 100, Enabled: true})

	resp := h.request(t, http.MethodPost, "/api/regions/"+created.ID.String()+"/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, decodeBody[geofence.Region](t, resp).Enabled)
	require.NotContains(t, h.gw.Active(), created.ID.String())
}

func TestSnoozeRegion(t *testing.T) {
	h := newAPIHarness(t)
	created := h.tracker.AddRegion(geofence.Region{Name: "Home", Latitude: 40.7, Longitude: -74, RadiusM: 100, Enabled: true})

	resp := h.request(t, http.MethodPost, fmt.Sprintf("/api/regions/%s/snooze?minutes=30", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeBody[geofence.RuntimeState](t, resp)
	require.NotNil(t, state.SnoozedUntil)
	require.Equal(t, h.clock.Now().Add(30*time.Minute), state.SnoozedUntil.UTC())

	// Without minutes the default window applies.
	resp = h.request(t, http.MethodPost, fmt.Sprintf("/api/regions/%s/snooze", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state = decodeBody[geofence.RuntimeState](t, resp)
	require.Equal(t, h.clock.Now().Add(geofence.DefaultSnooze), state.SnoozedUntil.UTC())

	resp = h.request(t, http.MethodPost, "/api/regions/"+uuid.NewString()+"/snooze", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettingsRoundTrip(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, geofence.DefaultSettings(), decodeBody[geofence.Settings](t, resp))

	want := geofence.Settings{DwellSeconds: 10, ExitDebounceSeconds: 20, QuietStart: 21, QuietEnd: 8}
	resp = h.request(t, http.MethodPut, "/api/settings", want)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, want, decodeBody[geofence.Settings](t, resp))

	resp = h.request(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, want, decodeBody[geofence.Settings](t, resp))
}

func TestBatteryModeToggle(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodPost, "/api/settings/battery", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]string{"battery_mode": "saver"}, decodeBody[map[string]string](t, resp))
	require.True(t, h.gw.CoarseActive())

	resp = h.request(t, http.MethodPost, "/api/settings/battery", nil)
	require.Equal(t, map[string]string{"battery_mode": "high-fidelity"}, decodeBody[map[string]string](t, resp))
	require.False(t, h.gw.CoarseActive())
}

func TestPresenceAndStatus(t *testing.T) {
	h := newAPIHarness(t)
	created := h.tracker.AddRegion(geofence.Region{Name: "Home", Latitude: 40.7, Longitude: -74, RadiusM: 100, Enabled: true, NotifyOnEntry: true})

	h.tracker.HandleEvent(locmux.Event{Kind: locmux.KindRawEnter, RegionID: created.ID.String()})

	resp := h.request(t, http.MethodGet, "/api/presence", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	presence := decodeBody[[]regionPresence](t, resp)
	require.Len(t, presence, 1)
	require.Equal(t, geofence.PresenceInside, presence[0].State.Presence)

	resp = h.request(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[map[string]any](t, resp)
	require.Equal(t, float64(1), status["pending_timers"])
	require.Equal(t, float64(1), status["regions"])
}

func TestTransitionsAndLogs(t *testing.T) {
	h := newAPIHarness(t)
	created := h.tracker.AddRegion(geofence.Region{Name: "Home", Latitude: 40.7, Longitude: -74, RadiusM: 100, Enabled: true, NotifyOnEntry: true})

	h.tracker.HandleEvent(locmux.Event{Kind: locmux.KindRawEnter, RegionID: created.ID.String()})
	h.clock.Advance(31 * time.Second)
	require.Eventually(t, func() bool {
		return h.tracker.PendingTimerCount() == 0
	}, time.Second, 5*time.Millisecond)

	resp := h.request(t, http.MethodGet, "/api/transitions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	transitions := decodeBody[[]geofence.Transition](t, resp)
	require.Len(t, transitions, 1)
	require.Equal(t, geofence.TransitionEnter, transitions[0].Kind)
	require.Equal(t, created.ID, transitions[0].RegionID)

	// The flow above persists at least bootstrap, add, raw enter and confirm.
	resp = h.request(t, http.MethodGet, "/api/logs?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decodeBody[[]db.LogEntry](t, resp)
	require.Len(t, logs, 2)
	require.Contains(t, logs[0].Message, "confirmed")

	resp = h.request(t, http.MethodGet, "/api/logs?limit=bogus", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
