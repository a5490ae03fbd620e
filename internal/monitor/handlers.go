package monitor

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/haptic-data/touch.report/internal/db"
	"github.com/haptic-data/touch.report/internal/history"
	"github.com/haptic-data/touch.report/internal/httputil"
	"github.com/haptic-data/touch.report/internal/ingest"
	"github.com/haptic-data/touch.report/internal/monitoring"
	"github.com/haptic-data/touch.report/internal/security"
	"github.com/haptic-data/touch.report/internal/units"
)

// sensorReport is one row of the /api/sensors response.
type sensorReport struct {
	Name      string               `json:"name"`
	Taxels    int                  `json:"taxels"`
	Rows      int                  `json:"rows,omitempty"`
	Cols      int                  `json:"cols,omitempty"`
	State     string               `json:"state"`
	AgeMS     int64                `json:"age_ms"`
	Threshold float64              `json:"threshold"`
	Stats     []history.TaxelStats `json:"stats,omitempty"`
}

// handleSensors reports every sensor the merger has seen, with freshness,
// effective threshold, and per-taxel statistics over the buffered history.
func (ws *WebServer) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	now := ws.clock.Now()
	cfg := ws.merger.Config()
	samples := ws.merger.Samples()

	reports := make([]sensorReport, 0, len(samples))
	for _, s := range samples {
		age := now.Sub(s.Timestamp)
		rep := sensorReport{
			Name:      s.Name,
			Taxels:    len(s.Values),
			State:     string(ws.merger.StateOf(age)),
			AgeMS:     age.Milliseconds(),
			Threshold: cfg.ActivationThreshold,
		}
		if t, ok := cfg.SensorThresholds[s.Name]; ok {
			rep.Threshold = t
		}
		if ws.descriptor != nil {
			if sensor, ok := ws.descriptor.Sensor(s.Name); ok {
				rep.Rows, rep.Cols = sensor.Grid()
			}
		}
		if stats, ok := ws.ring.SensorStats(s.Name); ok {
			rep.Stats = stats
		}
		reports = append(reports, rep)
	}

	httputil.WriteJSONOK(w, map[string]any{
		"sensors": reports,
		"count":   len(reports),
	})
}

// handleContacts computes a contact snapshot on demand. The units query
// parameter converts reported values; conversion needs a value range, which
// comes from the buffered history per taxel.
func (ws *WebServer) handleContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	unit := r.URL.Query().Get("units")
	if unit == "" {
		unit = units.Raw
	}
	if !units.IsValid(unit) {
		httputil.BadRequest(w, fmt.Sprintf("invalid units %q, must be one of: %s", unit, units.GetValidUnitsString()))
		return
	}

	snap := ws.merger.ComputeContacts(ws.clock.Now())

	if unit != units.Raw {
		for i := range snap.Contacts {
			c := &snap.Contacts[i]
			stats, ok := ws.ring.SensorStats(c.Name)
			if !ok {
				continue
			}
			for j := range c.Values {
				if j >= len(stats) {
					break
				}
				c.Values[j] = units.Convert(c.Values[j], stats[j].Min, stats[j].Max, unit)
			}
		}
	}

	httputil.WriteJSONOK(w, map[string]any{
		"ts":              snap.TS,
		"units":           unit,
		"active_contacts": snap.ActiveContacts(),
		"contacts":        snap.Contacts,
	})
}

// handleEvents serves stored contact episodes from the database.
// Query params: sensor, run_id, since (RFC3339), limit.
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database attached")
		return
	}

	filter := db.ContactEventFilter{
		Sensor: r.URL.Query().Get("sensor"),
		RunID:  r.URL.Query().Get("run_id"),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.BadRequest(w, "invalid 'since' parameter, want RFC3339")
			return
		}
		filter.Since = ts
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		filter.Limit = limit
	}

	events, err := ws.db.RecentContactEvents(filter)
	if err != nil {
		httputil.InternalServerError(w, "query failed: "+err.Error())
		return
	}

	httputil.WriteJSONOK(w, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleCaptures lists the JSONL capture files in the captures directory.
func (ws *WebServer) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.capturesDir == "" {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "capture directory not configured")
		return
	}

	captures, err := ingest.ListCaptures(ws.fsys, ws.capturesDir)
	if err != nil {
		httputil.InternalServerError(w, "listing captures: "+err.Error())
		return
	}

	httputil.WriteJSONOK(w, map[string]any{
		"captures": captures,
		"count":    len(captures),
	})
}

// handleCaptureDownload streams one capture file. The client-supplied name is
// resolved through internal/security so it cannot escape the captures
// directory.
func (ws *WebServer) handleCaptureDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.capturesDir == "" {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "capture directory not configured")
		return
	}

	name := r.URL.Query().Get("name")
	path, err := security.CaptureFilePath(ws.capturesDir, name)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	f, err := ws.fsys.Open(path)
	if err != nil {
		httputil.NotFound(w, fmt.Sprintf("capture %q not found", name))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, f); err != nil {
		monitoring.Logf("capture download %s: %v", name, err)
	}
}
