package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestContactGridChartWithoutData(t *testing.T) {
	ws, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/charts/contact-grid", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestContactGridChart(t *testing.T) {
	ws, merger, _, clock := newTestServer(t)

	if err := merger.Update(clock.Now(), "palm", []float64{0.1, 0.9, 0.3, 0.6}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/charts/contact-grid", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "echarts") {
		t.Error("response does not look like an echarts page")
	}
	if !strings.Contains(body, "palm") {
		t.Error("chart missing sensor name")
	}
}

func TestContactGridChartUnknownSensorFilter(t *testing.T) {
	ws, merger, _, clock := newTestServer(t)

	if err := merger.Update(clock.Now(), "palm", []float64{0.1}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/charts/contact-grid?sensor=thumb", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestContactTimelineChart(t *testing.T) {
	ws, merger, ring, clock := newTestServer(t)

	base := clock.Now()
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * 10 * time.Millisecond)
		if err := merger.Update(ts, "palm", []float64{0.9}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		ring.Add(merger.ComputeContacts(ts))
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/charts/contact-timeline", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Active Contacts") {
		t.Error("timeline chart missing title")
	}
}

func TestContactTimelineChartEmptyHistory(t *testing.T) {
	ws, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/charts/contact-timeline", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTaxelTraceRequiresSensor(t *testing.T) {
	ws, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/plots/taxel-trace", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTaxelTraceUnknownSensor(t *testing.T) {
	ws, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/plots/taxel-trace?sensor=ghost", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTaxelTraceRendersPNG(t *testing.T) {
	ws, merger, ring, clock := newTestServer(t)

	base := clock.Now()
	for i := 0; i < 20; i++ {
		ts := base.Add(time.Duration(i) * 10 * time.Millisecond)
		if err := merger.Update(ts, "palm", []float64{float64(i) / 20, 0.2}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		ring.Add(merger.ComputeContacts(ts))
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/plots/taxel-trace?sensor=palm&taxel=0", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty PNG body")
	}
}

func TestContactStreamSendsBufferedSnapshot(t *testing.T) {
	ws, merger, ring, clock := newTestServer(t)

	now := clock.Now()
	if err := merger.Update(now, "palm", []float64{0.9}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	ring.Add(merger.ComputeContacts(now))

	// A pre-cancelled context makes the handler emit the buffered snapshot
	// and return instead of blocking on the broadcast channel.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/contacts/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") {
		t.Fatalf("body = %q, want SSE frame", body)
	}
	if !strings.Contains(body, `"palm"`) {
		t.Errorf("body = %q, want palm snapshot", body)
	}
}

func TestContactStreamWithoutBroadcaster(t *testing.T) {
	ws, _, _, _ := newTestServer(t)
	ws.broadcaster = nil

	req := httptest.NewRequest(http.MethodGet, "/api/contacts/stream", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
