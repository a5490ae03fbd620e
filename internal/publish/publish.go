// Package publish drives the merger at a fixed rate and fans the resulting
// contact snapshots out to sinks: the Kafka contact topic, the SSE
// broadcaster, the in-memory history ring, and the transition log.
//
// The driver owns no transport details. Each Sink decides what a snapshot
// means for its medium, and a failing sink is logged and skipped so one slow
// consumer cannot stall the others.
package publish

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/haptic-data/touch.report/internal/monitoring"
	"github.com/haptic-data/touch.report/internal/tactile"
	"github.com/haptic-data/touch.report/internal/timeutil"
)

// DefaultInterval is the snapshot period used when none is configured,
// matching the 100 Hz default publish rate.
const DefaultInterval = 10 * time.Millisecond

// Snapshotter produces contact snapshots for a given evaluation time.
// *merge.Merger satisfies it.
type Snapshotter interface {
	ComputeContacts(now time.Time) tactile.ContactSnapshot
}

// Sink consumes contact snapshots. Implementations must tolerate being
// called at the full publish rate.
type Sink interface {
	Publish(ctx context.Context, snap tactile.ContactSnapshot) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, snap tactile.ContactSnapshot) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, snap tactile.ContactSnapshot) error {
	return f(ctx, snap)
}

// DriverConfig holds configuration for the publish driver.
type DriverConfig struct {
	// Interval is the snapshot period, DefaultInterval when zero.
	Interval time.Duration

	// Clock supplies ticks and evaluation times. Defaults to the real clock.
	Clock timeutil.Clock

	// LogInterval is how often the driver logs its publish rate.
	LogInterval time.Duration
}

// Driver computes a contact snapshot on every tick and hands it to each
// sink in order.
type Driver struct {
	config    DriverConfig
	source    Snapshotter
	sinks     []Sink
	published atomic.Int64
}

// NewDriver creates a driver, applying defaults for unset config fields.
func NewDriver(config DriverConfig, source Snapshotter, sinks ...Sink) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("driver requires a snapshot source")
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("driver requires at least one sink")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	if config.LogInterval <= 0 {
		config.LogInterval = time.Minute
	}
	return &Driver{
		config: config,
		source: source,
		sinks:  sinks,
	}, nil
}

// Published returns the number of snapshots produced so far.
func (d *Driver) Published() int64 {
	return d.published.Load()
}

// Run publishes on every tick until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ticker := d.config.Clock.NewTicker(d.config.Interval)
	defer ticker.Stop()

	monitoring.Logf("[Publish] driving %d sink(s) every %s", len(d.sinks), d.config.Interval)

	lastReport := d.config.Clock.Now()
	reported := int64(0)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C():
			d.publishOnce(ctx)

			if since := d.config.Clock.Since(lastReport); since >= d.config.LogInterval {
				count := d.published.Load()
				monitoring.Logf("[Publish] %.1f snapshots/sec to %d sink(s)",
					float64(count-reported)/since.Seconds(), len(d.sinks))
				reported = count
				lastReport = d.config.Clock.Now()
			}
		}
	}
}

// publishOnce computes one snapshot and delivers it to every sink. Sink
// errors are logged, not propagated: publishing continues for the rest.
func (d *Driver) publishOnce(ctx context.Context) {
	snap := d.source.ComputeContacts(d.config.Clock.Now())
	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, snap); err != nil {
			monitoring.Logf("[Publish] %T failed: %v", sink, err)
		}
	}
	d.published.Add(1)
}
