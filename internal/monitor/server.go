// Package monitor serves the HTTP interface for a running tactile daemon:
// a status page, JSON APIs over the merger and snapshot history, a live SSE
// contact stream, debug charts, and the database admin console.
package monitor

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/haptic-data/touch.report/internal/db"
	"github.com/haptic-data/touch.report/internal/fsutil"
	"github.com/haptic-data/touch.report/internal/history"
	"github.com/haptic-data/touch.report/internal/ingest"
	"github.com/haptic-data/touch.report/internal/merge"
	"github.com/haptic-data/touch.report/internal/model"
	"github.com/haptic-data/touch.report/internal/publish"
	"github.com/haptic-data/touch.report/internal/timeutil"
	"github.com/haptic-data/touch.report/internal/version"
)

//go:embed status.html
var statusHTML embed.FS

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// WebServer handles the HTTP interface for monitoring the tactile daemon.
type WebServer struct {
	address     string
	merger      *merge.Merger
	ring        *history.Ring
	broadcaster *publish.Broadcaster
	driver      *publish.Driver
	sources     map[string]*ingest.Stats
	db          *db.DB
	descriptor  *model.Descriptor
	capturesDir string
	fsys        fsutil.FileSystem
	clock       timeutil.Clock
	startTime   time.Time
	server      *http.Server
}

// WebServerConfig contains configuration options for the web server.
// Merger and Ring are required; everything else degrades gracefully when
// absent (endpoints depending on a missing collaborator return an error).
type WebServerConfig struct {
	Address     string
	Merger      *merge.Merger
	Ring        *history.Ring
	Broadcaster *publish.Broadcaster
	Driver      *publish.Driver
	Sources     map[string]*ingest.Stats
	DB          *db.DB
	Descriptor  *model.Descriptor
	CapturesDir string
	FileSystem  fsutil.FileSystem
	Clock       timeutil.Clock
}

// NewWebServer creates a web server with the provided configuration.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	if config.Merger == nil {
		return nil, fmt.Errorf("web server requires a merger")
	}
	if config.Ring == nil {
		return nil, fmt.Errorf("web server requires a snapshot history")
	}
	if config.FileSystem == nil {
		config.FileSystem = fsutil.OSFileSystem{}
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}

	ws := &WebServer{
		address:     config.Address,
		merger:      config.Merger,
		ring:        config.Ring,
		broadcaster: config.Broadcaster,
		driver:      config.Driver,
		sources:     config.Sources,
		db:          config.DB,
		descriptor:  config.Descriptor,
		capturesDir: config.CapturesDir,
		fsys:        config.FileSystem,
		clock:       config.Clock,
		startTime:   config.Clock.Now(),
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: LoggingMiddleware(ws.setupRoutes()),
	}

	return ws, nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/sensors", ws.handleSensors)
	mux.HandleFunc("/api/contacts", ws.handleContacts)
	mux.HandleFunc("/api/contacts/stream", ws.handleContactStream)
	mux.HandleFunc("/api/events", ws.handleEvents)
	mux.HandleFunc("/api/captures", ws.handleCaptures)
	mux.HandleFunc("/api/captures/download", ws.handleCaptureDownload)
	mux.HandleFunc("/debug/charts/contact-grid", ws.handleContactGridChart)
	mux.HandleFunc("/debug/charts/contact-timeline", ws.handleContactTimelineChart)
	mux.HandleFunc("/debug/plots/taxel-trace", ws.handleTaxelTrace)

	if ws.db != nil {
		ws.db.AttachAdminRoutes(mux)
	}

	return mux
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
// when ctx is cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// Close shuts down the web server immediately.
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}

// Handler exposes the configured routes for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
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

// LoggingMiddleware logs method, path, status, and duration.
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

// handleHealth handles the health check endpoint.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "tactile", "timestamp": "%s"}`,
		time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	tmpl, err := template.ParseFS(statusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	now := ws.clock.Now()
	snap := ws.merger.ComputeContacts(now)

	type sourceRow struct {
		Name     string
		Events   string
		Readings string
		Rejects  string
	}
	var sourceRows []sourceRow
	for name, stats := range ws.sources {
		events, _, readings, rejects := stats.Totals()
		sourceRows = append(sourceRows, sourceRow{
			Name:     name,
			Events:   ingest.FormatWithCommas(events),
			Readings: ingest.FormatWithCommas(readings),
			Rejects:  ingest.FormatWithCommas(rejects),
		})
	}

	published := int64(0)
	if ws.driver != nil {
		published = ws.driver.Published()
	}

	data := struct {
		HTTPAddress    string
		Version        string
		Uptime         string
		Sensors        int
		ActiveContacts int
		Published      string
		Buffered       int
		Sources        []sourceRow
	}{
		HTTPAddress:    ws.address,
		Version:        version.Version,
		Uptime:         now.Sub(ws.startTime).Round(time.Second).String(),
		Sensors:        ws.merger.Len(),
		ActiveContacts: snap.ActiveContacts(),
		Published:      ingest.FormatWithCommas(published),
		Buffered:       ws.ring.Len(),
		Sources:        sourceRows,
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}
