package monitor

import (
	"fmt"
	"image/color"
	"net/http"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/haptic-data/touch.report/internal/httputil"
)

// handleTaxelTrace renders one taxel's value history as a PNG line plot with
// the effective activation threshold drawn as a horizontal rule.
// Query params:
//   - sensor (required)
//   - taxel (optional; default 0)
//   - points (optional; default 512)
func (ws *WebServer) handleTaxelTrace(w http.ResponseWriter, r *http.Request) {
	sensor := r.URL.Query().Get("sensor")
	if sensor == "" {
		httputil.BadRequest(w, "missing 'sensor' parameter")
		return
	}

	taxel := 0
	if t := r.URL.Query().Get("taxel"); t != "" {
		v, err := strconv.Atoi(t)
		if err != nil || v < 0 {
			httputil.BadRequest(w, "invalid 'taxel' parameter")
			return
		}
		taxel = v
	}

	points := 512
	if p := r.URL.Query().Get("points"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 && v <= 10000 {
			points = v
		}
	}

	series := ws.ring.SensorSeries(sensor, points)
	if len(series.Times) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no history for sensor %q", sensor))
		return
	}

	pts := make(plotter.XYs, 0, len(series.Times))
	t0 := series.Times[0]
	for i, ts := range series.Times {
		if taxel >= len(series.Values[i]) {
			continue
		}
		pts = append(pts, plotter.XY{
			X: ts.Sub(t0).Seconds(),
			Y: series.Values[i][taxel],
		})
	}
	if len(pts) == 0 {
		httputil.NotFound(w, fmt.Sprintf("sensor %q has no taxel %d", sensor, taxel))
		return
	}

	cfg := ws.merger.Config()
	threshold := cfg.ActivationThreshold
	if t, ok := cfg.SensorThresholds[sensor]; ok {
		threshold = t
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s taxel %d", sensor, taxel)
	p.X.Label.Text = fmt.Sprintf("seconds since %s", t0.Format("15:04:05"))
	p.Y.Label.Text = "value"

	line, err := plotter.NewLine(pts)
	if err != nil {
		httputil.InternalServerError(w, "building trace: "+err.Error())
		return
	}
	line.Color = color.RGBA{G: 180, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("value", line)

	rule, err := plotter.NewLine(plotter.XYs{
		{X: pts[0].X, Y: threshold},
		{X: pts[len(pts)-1].X, Y: threshold},
	})
	if err != nil {
		httputil.InternalServerError(w, "building threshold rule: "+err.Error())
		return
	}
	rule.Color = color.RGBA{R: 220, A: 255}
	rule.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	p.Add(rule)
	p.Legend.Add("threshold", rule)

	p.Legend.Top = true
	p.Legend.Left = false

	writer, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, "rendering plot: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := writer.WriteTo(w); err != nil {
		// client went away mid-write, nothing to do
		return
	}
}
