package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haptic-data/touch.report/internal/fsutil"
	"github.com/haptic-data/touch.report/internal/history"
	"github.com/haptic-data/touch.report/internal/merge"
	"github.com/haptic-data/touch.report/internal/publish"
	"github.com/haptic-data/touch.report/internal/timeutil"
)

func newTestServer(t *testing.T) (*WebServer, *merge.Merger, *history.Ring, *timeutil.MockClock) {
	t.Helper()

	merger, err := merge.New(merge.DefaultConfig())
	if err != nil {
		t.Fatalf("merge.New: %v", err)
	}
	ring := history.New(64)
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	ws, err := NewWebServer(WebServerConfig{
		Address:     ":0",
		Merger:      merger,
		Ring:        ring,
		Broadcaster: publish.NewBroadcaster(),
		FileSystem:  fsutil.NewMemoryFileSystem(),
		CapturesDir: "/captures",
		Clock:       clock,
	})
	if err != nil {
		t.Fatalf("NewWebServer: %v", err)
	}
	return ws, merger, ring, clock
}

func TestNewWebServerRequiresMerger(t *testing.T) {
	_, err := NewWebServer(WebServerConfig{Ring: history.New(8)})
	if err == nil {
		t.Fatal("expected error without merger")
	}
}

func TestNewWebServerRequiresRing(t *testing.T) {
	merger, _ := merge.New(merge.DefaultConfig())
	_, err := NewWebServer(WebServerConfig{Merger: merger})
	if err == nil {
		t.Fatal("expected error without history ring")
	}
}

func TestHealthHandler(t *testing.T) {
	ws, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status": "ok"`) {
		t.Errorf("body = %q, want ok status", rec.Body.String())
	}
}

func TestStatusPage(t *testing.T) {
	ws, merger, _, clock := newTestServer(t)

	if err := merger.Update(clock.Now(), "palm", []float64{0.8, 0.1}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Tactile Daemon") {
		t.Error("status page missing title")
	}
	if !strings.Contains(body, "Active Contacts") {
		t.Error("status page missing contact metric")
	}
}

func TestStatusPageRejectsOtherPaths(t *testing.T) {
	ws, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSensorsHandler(t *testing.T) {
	ws, merger, ring, clock := newTestServer(t)

	now := clock.Now()
	if err := merger.Update(now, "palm", []float64{0.9, 0.2}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	ring.Add(merger.ComputeContacts(now))

	req := httptest.NewRequest(http.MethodGet, "/api/sensors", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Count   int `json:"count"`
		Sensors []struct {
			Name      string  `json:"name"`
			Taxels    int     `json:"taxels"`
			State     string  `json:"state"`
			Threshold float64 `json:"threshold"`
		} `json:"sensors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	s := resp.Sensors[0]
	if s.Name != "palm" || s.Taxels != 2 || s.State != "fresh" {
		t.Errorf("sensor = %+v", s)
	}
	if s.Threshold != 0.5 {
		t.Errorf("threshold = %v, want default 0.5", s.Threshold)
	}
}

func TestSensorsHandlerMethodNotAllowed(t *testing.T) {
	ws, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sensors", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestContactsHandler(t *testing.T) {
	ws, merger, _, clock := newTestServer(t)

	if err := merger.Update(clock.Now(), "palm", []float64{0.9, 0.2}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Units          string `json:"units"`
		ActiveContacts int    `json:"active_contacts"`
		Contacts       []struct {
			Name      string `json:"name"`
			InContact bool   `json:"in_contact"`
		} `json:"contacts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Units != "raw" {
		t.Errorf("units = %q, want raw", resp.Units)
	}
	if resp.ActiveContacts != 1 {
		t.Errorf("active_contacts = %d, want 1", resp.ActiveContacts)
	}
	if len(resp.Contacts) != 1 || !resp.Contacts[0].InContact {
		t.Errorf("contacts = %+v", resp.Contacts)
	}
}

func TestContactsHandlerRejectsUnknownUnits(t *testing.T) {
	ws, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/contacts?units=furlongs", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestContactsHandlerNormalizedUnits(t *testing.T) {
	ws, merger, ring, clock := newTestServer(t)

	// Build a history so the per-taxel range is known: values span 0..10.
	base := clock.Now()
	for i := 0; i <= 10; i++ {
		ts := base.Add(time.Duration(i) * 10 * time.Millisecond)
		if err := merger.Update(ts, "palm", []float64{float64(i)}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		ring.Add(merger.ComputeContacts(ts))
	}
	clock.Set(base.Add(100 * time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "/api/contacts?units=norm", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Contacts []struct {
			Values []float64 `json:"values"`
		} `json:"contacts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Contacts) != 1 || len(resp.Contacts[0].Values) != 1 {
		t.Fatalf("contacts = %+v", resp.Contacts)
	}
	// Latest value 10 against range [0,10] normalizes to 1.
	if got := resp.Contacts[0].Values[0]; got != 1 {
		t.Errorf("normalized value = %v, want 1", got)
	}
}

func TestEventsHandlerWithoutDB(t *testing.T) {
	ws, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestEventsHandlerRejectsBadSince(t *testing.T) {
	ws, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/events?since=yesterday", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	// Parameter validation runs after the DB presence check, so a server
	// without a DB still reports 503 for this path.
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestCapturesHandler(t *testing.T) {
	ws, _, _, _ := newTestServer(t)

	fsys := ws.fsys.(*fsutil.MemoryFileSystem)
	if err := fsys.MkdirAll("/captures", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := fsys.WriteFile("/captures/run-a.jsonl", []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/captures", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Count    int `json:"count"`
		Captures []struct {
			Name string `json:"name"`
		} `json:"captures"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.Captures[0].Name != "run-a.jsonl" {
		t.Errorf("captures = %+v", resp)
	}
}

func TestCaptureDownload(t *testing.T) {
	// CaptureFilePath resolves symlinks against the real filesystem, so this
	// test uses a temp dir rather than the in-memory filesystem.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "run-a.jsonl"), []byte("{\"ts\":1}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	merger, err := merge.New(merge.DefaultConfig())
	if err != nil {
		t.Fatalf("merge.New: %v", err)
	}
	ws, err := NewWebServer(WebServerConfig{
		Merger:      merger,
		Ring:        history.New(8),
		CapturesDir: dir,
	})
	if err != nil {
		t.Fatalf("NewWebServer: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/captures/download?name=run-a.jsonl", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "{\"ts\":1}\n" {
		t.Errorf("body = %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	for _, name := range []string{"", "../run-a.jsonl", "sub/run-a.jsonl"} {
		req := httptest.NewRequest(http.MethodGet, "/api/captures/download?name="+url.QueryEscape(name), nil)
		rec := httptest.NewRecorder()
		ws.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("name %q: status = %d, want 400", name, rec.Code)
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/api/captures/download?name=missing.jsonl", nil)
	rec = httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing capture: status = %d, want 404", rec.Code)
	}
}

func TestStatusCodeColor(t *testing.T) {
	if got := statusCodeColor(200); !strings.Contains(got, "200") {
		t.Errorf("statusCodeColor(200) = %q", got)
	}
	if got := statusCodeColor(404); !strings.Contains(got, colorBoldRed) {
		t.Errorf("statusCodeColor(404) = %q, want red", got)
	}
	if got := statusCodeColor(302); !strings.Contains(got, colorYellow) {
		t.Errorf("statusCodeColor(302) = %q, want yellow", got)
	}
	if got := statusCodeColor(100); got != "100" {
		t.Errorf("statusCodeColor(100) = %q, want plain", got)
	}
}
