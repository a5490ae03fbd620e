// Command gen-tactile emits synthetic tactile state events for exercising
// the daemon without hardware. Each sensor carries a pressure blob that
// wanders across its taxel grid, so contacts form, move, and release the way
// a fingertip would.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/haptic-data/touch.report/internal/fsutil"
	"github.com/haptic-data/touch.report/internal/model"
	"github.com/haptic-data/touch.report/internal/security"
	"github.com/haptic-data/touch.report/internal/tactile"
)

var (
	target    = flag.String("target", "udp", "output: udp, jsonl, or stdout")
	addr      = flag.String("addr", "localhost:7788", "UDP target address")
	out       = flag.String("o", "synthetic.jsonl", "output path for jsonl target")
	modelPath = flag.String("model", "", "sensor model descriptor JSON (overrides -sensors/-taxels)")
	sensors   = flag.String("sensors", "palm,thumb", "comma-separated sensor names")
	taxels    = flag.Int("taxels", 16, "taxels per sensor")
	rate      = flag.Float64("rate", 100, "events per sensor per second")
	duration  = flag.Duration("duration", 0, "how long to run (0 runs until interrupted)")
	seed      = flag.Int64("seed", 0, "random seed (0 seeds from time)")
	noise     = flag.Float64("noise", 0.02, "background noise amplitude")
	peak      = flag.Float64("peak", 1.0, "blob peak amplitude")
)

// blob is one wandering contact point on a sensor grid.
type blob struct {
	row, col  float64
	vr, vc    float64
	active    bool
	holdTicks int
}

type sensorSim struct {
	name       string
	rows, cols int
	blob       blob
	rng        *rand.Rand
}

func newSensorSim(name string, taxels int, rng *rand.Rand) *sensorSim {
	rows, cols := model.GridFor(taxels)
	return &sensorSim{
		name: name,
		rows: rows,
		cols: cols,
		rng:  rng,
		blob: blob{
			row: float64(rng.Intn(rows)),
			col: float64(rng.Intn(cols)),
		},
	}
}

// step advances the blob and renders the taxel values.
func (s *sensorSim) step() []float64 {
	b := &s.blob

	// Blobs appear, press for a while, and lift off.
	if b.holdTicks <= 0 {
		b.active = !b.active
		b.holdTicks = 20 + s.rng.Intn(200)
		if b.active {
			b.row = s.rng.Float64() * float64(s.rows-1)
			b.col = s.rng.Float64() * float64(s.cols-1)
			b.vr = (s.rng.Float64() - 0.5) * 0.2
			b.vc = (s.rng.Float64() - 0.5) * 0.2
		}
	}
	b.holdTicks--

	if b.active {
		b.row += b.vr
		b.col += b.vc
		if b.row < 0 || b.row > float64(s.rows-1) {
			b.vr = -b.vr
			b.row += 2 * b.vr
		}
		if b.col < 0 || b.col > float64(s.cols-1) {
			b.vc = -b.vc
			b.col += 2 * b.vc
		}
	}

	values := make([]float64, s.rows*s.cols)
	for i := range values {
		v := s.rng.Float64() * *noise
		if b.active {
			dr := float64(i/s.cols) - b.row
			dc := float64(i%s.cols) - b.col
			v += *peak * math.Exp(-(dr*dr+dc*dc)/2)
		}
		values[i] = v
	}
	return values
}

func main() {
	flag.Parse()

	seedVal := *seed
	if seedVal == 0 {
		seedVal = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seedVal))

	var sims []*sensorSim
	if *modelPath != "" {
		desc, err := model.Load(fsutil.OSFileSystem{}, *modelPath)
		if err != nil {
			log.Fatalf("load model: %v", err)
		}
		for _, name := range desc.Names() {
			s, _ := desc.Sensor(name)
			sims = append(sims, newSensorSim(name, s.Taxels, rng))
		}
	} else {
		for _, name := range strings.Split(*sensors, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			sims = append(sims, newSensorSim(name, *taxels, rng))
		}
	}
	if len(sims) == 0 {
		log.Fatal("no sensors configured")
	}

	emit, cleanup, err := makeEmitter()
	if err != nil {
		log.Fatalf("output setup: %v", err)
	}
	defer cleanup()

	interval := time.Duration(float64(time.Second) / *rate)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	log.Printf("generating %d sensor(s) at %.0f Hz (seed %d)", len(sims), *rate, seedVal)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var emitted int64
	for {
		select {
		case <-ctx.Done():
			log.Printf("done: %d events emitted", emitted)
			return
		case ts := <-ticker.C:
			for _, sim := range sims {
				ev := tactile.StateEvent{
					TS: ts,
					Readings: []tactile.SensorReading{
						{Name: sim.name, Values: sim.step()},
					},
				}
				data, err := tactile.EncodeStateEvent(ev)
				if err != nil {
					log.Fatalf("encode: %v", err)
				}
				if err := emit(data); err != nil {
					log.Fatalf("emit: %v", err)
				}
				emitted++
			}
		}
	}
}

// makeEmitter returns the per-event output function for the chosen target.
func makeEmitter() (func([]byte) error, func(), error) {
	switch *target {
	case "udp":
		conn, err := net.Dial("udp", *addr)
		if err != nil {
			return nil, nil, err
		}
		return func(data []byte) error {
				_, err := conn.Write(data)
				return err
			}, func() { conn.Close() }, nil

	case "jsonl":
		if err := security.ValidateExportPath(*out); err != nil {
			return nil, nil, err
		}
		f, err := os.Create(*out)
		if err != nil {
			return nil, nil, err
		}
		return func(data []byte) error {
				_, err := f.Write(append(data, '\n'))
				return err
			}, func() { f.Close(); log.Printf("wrote %s", *out) }, nil

	case "stdout":
		return func(data []byte) error {
			_, err := fmt.Println(string(data))
			return err
		}, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown target %q (want udp, jsonl, or stdout)", *target)
	}
}
