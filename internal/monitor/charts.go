package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/haptic-data/touch.report/internal/colormap"
	"github.com/haptic-data/touch.report/internal/httputil"
	"github.com/haptic-data/touch.report/internal/model"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleContactGridChart renders the current pressure field of every sensor
// as a grid of colored scatter points. Debugging-only endpoint (no auth) for
// eyeballing taxel layout and thresholds without the full UI.
// Query params:
//   - sensor (optional; defaults to all sensors)
func (ws *WebServer) handleContactGridChart(w http.ResponseWriter, r *http.Request) {
	wantSensor := r.URL.Query().Get("sensor")

	snap := ws.merger.ComputeContacts(ws.clock.Now())
	if len(snap.Contacts) == 0 {
		httputil.NotFound(w, "no sensor data available")
		return
	}

	cmap := colormap.Absolute()
	lo, hi := cmap.Range()
	inRange := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		inRange = append(inRange, cmap.Hex(lo+(hi-lo)*float64(i)/9))
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.PageTitle = "Tactile Contact Grid"

	rendered := 0
	for _, c := range snap.Contacts {
		if wantSensor != "" && c.Name != wantSensor {
			continue
		}
		if len(c.Values) == 0 {
			continue
		}

		rows, cols := gridShape(ws.descriptor, c.Name, len(c.Values))

		data := make([]opts.ScatterData, 0, len(c.Values))
		for i, v := range c.Values {
			// row 0 at the top of the chart
			x := i % cols
			y := rows - 1 - i/cols
			data = append(data, opts.ScatterData{Value: []interface{}{x, y, v}})
		}

		state := "fresh"
		if !c.Fresh {
			state = "stale"
		}

		scatter := charts.NewScatter()
		scatter.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "600px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
			charts.WithTitleOpts(opts.Title{
				Title:    c.Name,
				Subtitle: fmt.Sprintf("%dx%d taxels, %s, age=%dms, in_contact=%v", rows, cols, state, c.AgeMS, c.InContact),
			}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Min: -1, Max: cols}),
			charts.WithYAxisOpts(opts.YAxis{Min: -1, Max: rows}),
			charts.WithVisualMapOpts(opts.VisualMap{
				Show:       opts.Bool(true),
				Calculable: opts.Bool(true),
				Min:        float32(lo),
				Max:        float32(hi),
				Dimension:  "2",
				InRange:    &opts.VisualMapInRange{Color: inRange},
			}),
		)
		scatter.AddSeries(c.Name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 24}))

		page.AddCharts(scatter)
		rendered++
	}

	if rendered == 0 {
		httputil.NotFound(w, fmt.Sprintf("no data for sensor %q", wantSensor))
		return
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleContactTimelineChart renders the active contact count over the
// buffered history as a line chart.
// Query params:
//   - points (optional; default 512) number of recent snapshots to plot
func (ws *WebServer) handleContactTimelineChart(w http.ResponseWriter, r *http.Request) {
	points := 512
	if p := r.URL.Query().Get("points"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 && v <= 10000 {
			points = v
		}
	}

	timeline := ws.ring.ContactTimeline(points)
	if len(timeline) == 0 {
		httputil.NotFound(w, "no snapshot history available")
		return
	}

	x := make([]string, 0, len(timeline))
	y := make([]opts.LineData, 0, len(timeline))
	for _, pt := range timeline {
		x = append(x, pt.TS.Format("15:04:05.000"))
		y = append(y, opts.LineData{Value: pt.Active})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Active Contacts",
			Subtitle: fmt.Sprintf("%d snapshots, latest %s", len(timeline), timeline[len(timeline)-1].TS.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).AddSeries("active contacts", y)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// gridShape resolves a sensor's taxel layout, preferring the model file and
// falling back to a near-square factoring of the taxel count.
func gridShape(desc *model.Descriptor, name string, taxels int) (rows, cols int) {
	if desc != nil {
		if s, ok := desc.Sensor(name); ok {
			return s.Grid()
		}
	}
	return model.GridFor(taxels)
}
