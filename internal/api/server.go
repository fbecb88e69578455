// Package api exposes the presence core over HTTP: region CRUD, snooze,
// settings, presence and the persisted transition/log history.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/geosentinel-data/geosentinel/internal/db"
	"github.com/geosentinel-data/geosentinel/internal/geofence"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	tracker *geofence.Tracker
	db      *db.DB
}

func NewServer(tracker *geofence.Tracker, database *db.DB) *Server {
	return &Server{
		tracker: tracker,
		db:      database,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/regions", s.handleRegions)
	mux.HandleFunc("/api/regions/", s.handleRegionByID)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/settings/battery", s.toggleBatteryMode)
	mux.HandleFunc("/api/presence", s.showPresence)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/transitions", s.listTransitions)
	mux.HandleFunc("/api/logs", s.listLogs)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		if err := json.NewEncoder(w).Encode(s.tracker.Regions()); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to write regions")
		}

	case http.MethodPost:
		var region geofence.Region
		if err := json.NewDecoder(r.Body).Decode(&region); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid region payload: %v", err))
			return
		}
		if region.Name == "" {
			s.writeJSONError(w, http.StatusBadRequest, "Region name is required")
			return
		}
		created := s.tracker.AddRegion(region)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(created)

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleRegionByID routes /api/regions/<id> and the snooze/toggle actions
// nested under it.
func (s *Server) handleRegionByID(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	rest := strings.TrimPrefix(r.URL.Path, "/api/regions/")
	idPart, action, _ := strings.Cut(rest, "/")
	id, err := uuid.Parse(idPart)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid region id %q", idPart))
		return
	}

	switch action {
	case "":
		s.regionCRUD(w, r, id)
	case "toggle":
		s.toggleRegion(w, r, id)
	case "snooze":
		s.snoozeRegion(w, r, id)
	default:
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Unknown action %q", action))
	}
}

func (s *Server) regionCRUD(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		region, err := s.tracker.Region(id)
		if err != nil {
			s.writeJSONError(w, http.StatusNotFound, "Region not found")
			return
		}
		json.NewEncoder(w).Encode(region)

	case http.MethodPut:
		var region geofence.Region
		if err := json.NewDecoder(r.Body).Decode(&region); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid region payload: %v", err))
			return
		}
		region.ID = id
		if err := s.tracker.UpdateRegion(region); err != nil {
			s.writeJSONError(w, http.StatusNotFound, "Region not found")
			return
		}
		json.NewEncoder(w).Encode(region)

	case http.MethodDelete:
		if err := s.tracker.DeleteRegion(id); err != nil {
			s.writeJSONError(w, http.StatusNotFound, "Region not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) toggleRegion(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	region, err := s.tracker.ToggleEnabled(id)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "Region not found")
		return
	}
	json.NewEncoder(w).Encode(region)
}

func (s *Server) snoozeRegion(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Absent or zero minutes falls back to the default snooze window.
	var minutes int
	if m := r.FormValue("minutes"); m != "" {
		parsed, err := strconv.Atoi(m)
		if err != nil || parsed < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'minutes' parameter")
			return
		}
		minutes = parsed
	}

	if err := s.tracker.Snooze(id, time.Duration(minutes)*time.Minute); err != nil {
		s.writeJSONError(w, http.StatusNotFound, "Region not found")
		return
	}
	json.NewEncoder(w).Encode(s.tracker.PresenceFor(id))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(s.tracker.Settings())

	case http.MethodPut:
		var settings geofence.Settings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid settings payload: %v", err))
			return
		}
		json.NewEncoder(w).Encode(s.tracker.UpdateSettings(settings))

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) toggleBatteryMode(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	mode := s.tracker.ToggleBatteryMode()
	json.NewEncoder(w).Encode(map[string]string{"battery_mode": mode.String()})
}

// regionPresence pairs a region with its live runtime state.
type regionPresence struct {
	Region geofence.Region       `json:"region"`
	State  geofence.RuntimeState `json:"state"`
}

func (s *Server) showPresence(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	states := s.tracker.Presence()
	regions := s.tracker.Regions()
	out := make([]regionPresence, len(regions))
	for i, region := range regions {
		out[i] = regionPresence{Region: region, State: states[region.ID]}
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write presence")
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	auth, precise := s.tracker.AuthStatus()
	status := map[string]interface{}{
		"last_event":     s.tracker.LastEvent(),
		"auth_status":    auth.String(),
		"precise":        precise,
		"pending_timers": s.tracker.PendingTimerCount(),
		"regions":        len(s.tracker.Regions()),
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
	}
}

func (s *Server) limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	limit, ok := s.limitParam(w, r)
	if !ok {
		return
	}

	transitions, err := s.db.Transitions(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve transitions: %v", err))
		return
	}
	if transitions == nil {
		transitions = []geofence.Transition{}
	}
	if err := json.NewEncoder(w).Encode(transitions); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write transitions")
	}
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	limit, ok := s.limitParam(w, r)
	if !ok {
		return
	}

	logs, err := s.db.RecentLogs(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve logs: %v", err))
		return
	}
	if logs == nil {
		logs = []db.LogEntry{}
	}
	if err := json.NewEncoder(w).Encode(logs); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write logs")
	}
}
