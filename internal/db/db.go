// Package db persists the presence core's state in sqlite: the region list,
// the tracking settings, per-region runtime state, the confirmed transition
// history and the diagnostic log trail. It implements geofence.Store.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/geosentinel-data/geosentinel/internal/geofence"
)

type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and applies
// any pending migrations.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqldb}
	if err := db.MigrateUp(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return db, nil
}

// OpenRaw opens the database without touching the schema. Used by the
// migrate subcommand, which manages versions explicitly.
func OpenRaw(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &DB{sqldb}, nil
}

const timeLayout = time.RFC3339Nano

func encodeTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func decodeTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadRegions returns the region list in user order. An empty database yields
// an empty list.
func (db *DB) LoadRegions() ([]geofence.Region, error) {
	rows, err := db.Query(`
		SELECT id, name, latitude, longitude, radius_m, enabled, notify_on_entry, notify_on_exit
		FROM regions ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []geofence.Region
	for rows.Next() {
		var r geofence.Region
		var id string
		if err := rows.Scan(&id, &r.Name, &r.Latitude, &r.Longitude, &r.RadiusM,
			&r.Enabled, &r.NotifyOnEntry, &r.NotifyOnExit); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("region row with bad id %q: %w", id, err)
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// SaveRegions replaces the stored region list, preserving order.
func (db *DB) SaveRegions(regions []geofence.Region) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM regions`); err != nil {
		return err
	}
	for i, r := range regions {
		_, err := tx.Exec(`
			INSERT INTO regions (id, name, latitude, longitude, radius_m, enabled, notify_on_entry, notify_on_exit, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID.String(), r.Name, r.Latitude, r.Longitude, r.RadiusM,
			r.Enabled, r.NotifyOnEntry, r.NotifyOnExit, i)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadSettings returns the stored configuration, or defaults when none has
// been saved yet.
func (db *DB) LoadSettings() (geofence.Settings, error) {
	var s geofence.Settings
	var mode string
	err := db.QueryRow(`
		SELECT dwell_seconds, exit_debounce_seconds, quiet_start, quiet_end, battery_mode
		FROM settings WHERE id = 1`).
		Scan(&s.DwellSeconds, &s.ExitDebounceSeconds, &s.QuietStart, &s.QuietEnd, &mode)
	if err == sql.ErrNoRows {
		return geofence.DefaultSettings(), nil
	}
	if err != nil {
		return geofence.Settings{}, err
	}
	s.BatteryMode = geofence.ParseBatteryMode(mode)
	return s, nil
}

// SaveSettings upserts the single settings row.
func (db *DB) SaveSettings(s geofence.Settings) error {
	_, err := db.Exec(`
		INSERT INTO settings (id, dwell_seconds, exit_debounce_seconds, quiet_start, quiet_end, battery_mode)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			dwell_seconds = excluded.dwell_seconds,
			exit_debounce_seconds = excluded.exit_debounce_seconds,
			quiet_start = excluded.quiet_start,
			quiet_end = excluded.quiet_end,
			battery_mode = excluded.battery_mode`,
		s.DwellSeconds, s.ExitDebounceSeconds, s.QuietStart, s.QuietEnd, s.BatteryMode.String())
	return err
}

// LoadRuntimeStates returns every persisted per-region runtime state.
func (db *DB) LoadRuntimeStates() (map[uuid.UUID]geofence.RuntimeState, error) {
	rows, err := db.Query(`
		SELECT region_id, presence, last_raw_enter, last_raw_exit,
		       last_confirmed_enter, last_confirmed_exit, snoozed_until
		FROM runtime_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[uuid.UUID]geofence.RuntimeState)
	for rows.Next() {
		var idStr, presence string
		var rawEnter, rawExit, confEnter, confExit, snoozed sql.NullString
		if err := rows.Scan(&idStr, &presence, &rawEnter, &rawExit, &confEnter, &confExit, &snoozed); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("runtime state row with bad region id %q: %w", idStr, err)
		}
		st := geofence.RuntimeState{Presence: geofence.ParsePresence(presence)}
		if st.LastRawEnter, err = decodeTime(rawEnter); err != nil {
			return nil, err
		}
		if st.LastRawExit, err = decodeTime(rawExit); err != nil {
			return nil, err
		}
		if st.LastConfirmedEnter, err = decodeTime(confEnter); err != nil {
			return nil, err
		}
		if st.LastConfirmedExit, err = decodeTime(confExit); err != nil {
			return nil, err
		}
		if st.SnoozedUntil, err = decodeTime(snoozed); err != nil {
			return nil, err
		}
		states[id] = st
	}
	return states, rows.Err()
}

// SaveRuntimeState upserts one region's runtime state.
func (db *DB) SaveRuntimeState(id uuid.UUID, st geofence.RuntimeState) error {
	_, err := db.Exec(`
		INSERT INTO runtime_state (region_id, presence, last_raw_enter, last_raw_exit,
			last_confirmed_enter, last_confirmed_exit, snoozed_until)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(region_id) DO UPDATE SET
			presence = excluded.presence,
			last_raw_enter = excluded.last_raw_enter,
			last_raw_exit = excluded.last_raw_exit,
			last_confirmed_enter = excluded.last_confirmed_enter,
			last_confirmed_exit = excluded.last_confirmed_exit,
			snoozed_until = excluded.snoozed_until`,
		id.String(), st.Presence.String(),
		encodeTime(st.LastRawEnter), encodeTime(st.LastRawExit),
		encodeTime(st.LastConfirmedEnter), encodeTime(st.LastConfirmedExit),
		encodeTime(st.SnoozedUntil))
	return err
}

// DeleteRuntimeState removes one region's runtime state.
func (db *DB) DeleteRuntimeState(id uuid.UUID) error {
	_, err := db.Exec(`DELETE FROM runtime_state WHERE region_id = ?`, id.String())
	return err
}

// RecordTransition appends one confirmed transition to the history.
func (db *DB) RecordTransition(tr geofence.Transition) error {
	_, err := db.Exec(`INSERT INTO transitions (region_id, kind, at) VALUES (?, ?, ?)`,
		tr.RegionID.String(), string(tr.Kind), tr.At.UTC().Format(timeLayout))
	return err
}

// Transitions returns the most recent confirmed transitions, newest first.
func (db *DB) Transitions(limit int) ([]geofence.Transition, error) {
	rows, err := db.Query(`
		SELECT region_id, kind, at FROM transitions
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []geofence.Transition
	for rows.Next() {
		var idStr, kind, at string
		if err := rows.Scan(&idStr, &kind, &at); err != nil {
			return nil, err
		}
		var tr geofence.Transition
		if tr.RegionID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("transition row with bad region id %q: %w", idStr, err)
		}
		tr.Kind = geofence.TransitionKind(kind)
		if tr.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// AppendLog appends one line to the persisted diagnostic trail.
func (db *DB) AppendLog(at time.Time, message string) error {
	_, err := db.Exec(`INSERT INTO log (at, message) VALUES (?, ?)`,
		at.UTC().Format(timeLayout), message)
	return err
}

// LogEntry is one line of the persisted diagnostic trail.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// RecentLogs returns the newest limit log lines, newest first.
func (db *DB) RecentLogs(limit int) ([]LogEntry, error) {
	rows, err := db.Query(`SELECT at, message FROM log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var at string
		var e LogEntry
		if err := rows.Scan(&at, &e.Message); err != nil {
			return nil, err
		}
		if e.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts the debug surface: live SQL access over the
// database and an on-demand gzipped backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://geosentinel.db", db.DB, &tailsql.DBOptions{
		Label: "GeoSentinel DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
