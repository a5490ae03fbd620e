// The contacts-backfill command replays recorded state events through a
// fresh merger under alternative tuning and writes the resulting contact
// episodes under a new run. Useful after a threshold change: the raw
// readings stay authoritative, the contact log is derived.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/haptic-data/touch.report/internal/config"
	"github.com/haptic-data/touch.report/internal/db"
	"github.com/haptic-data/touch.report/internal/merge"
)

func main() {
	var dbPath string
	var sourceRun string
	var label string
	var tuningPath string
	var threshold float64
	var staleTimeout time.Duration
	var granularity string

	flag.StringVar(&dbPath, "db", "touch_data.db", "path to sqlite db")
	flag.StringVar(&sourceRun, "run", "", "source run id to replay (empty replays all runs)")
	flag.StringVar(&label, "label", "backfill", "label for the new run")
	flag.StringVar(&tuningPath, "config", "", "tuning config JSON (empty uses built-in defaults)")
	flag.Float64Var(&threshold, "threshold", 0, "override activation threshold (0 keeps config value)")
	flag.DurationVar(&staleTimeout, "stale-timeout", 0, "override stale timeout (0 keeps config value)")
	flag.StringVar(&granularity, "granularity", "", "override granularity, taxel or sensor (empty keeps config value)")
	flag.Parse()

	var tuning *config.TuningConfig
	if tuningPath != "" {
		loaded, err := config.LoadTuningConfig(tuningPath)
		if err != nil {
			log.Fatalf("load tuning config: %v", err)
		}
		tuning = loaded
	} else {
		tuning = config.EmptyTuningConfig()
	}

	cfg := tuning.MergerConfig()
	if threshold != 0 {
		cfg.ActivationThreshold = threshold
	}
	if staleTimeout != 0 {
		cfg.StaleTimeout = staleTimeout
	}
	if granularity != "" {
		cfg.Granularity = merge.Granularity(granularity)
	}

	merger, err := merge.New(cfg)
	if err != nil {
		log.Fatalf("invalid merger configuration: %v", err)
	}

	dbConn, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	total, err := dbConn.CountStateEvents(sourceRun)
	if err != nil {
		log.Fatalf("count state events: %v", err)
	}
	if total == 0 {
		log.Fatal("no state events to replay")
	}

	newRun, err := dbConn.CreateRun(label)
	if err != nil {
		log.Fatalf("create run: %v", err)
	}
	fmt.Printf("replaying %d state events into run %s\n", total, newRun)
	fmt.Printf("policy: threshold=%v stale_timeout=%v granularity=%s\n",
		cfg.ActivationThreshold, cfg.StaleTimeout, cfg.Granularity)

	// Coarse periodic snapshots are skipped during backfill; only the
	// derived contact episodes are worth keeping.
	recorder := db.NewTransitionRecorder(dbConn, newRun, -1)

	ctx := context.Background()
	var replayed int64
	var rejected int64
	var last time.Time

	err = dbConn.ForEachStateEvent(ctx, sourceRun, func(ts time.Time, sensor string, values []float64) error {
		if err := merger.Update(ts, sensor, values); err != nil {
			rejected++
			return nil
		}
		replayed++
		last = ts

		// Classify at the recorded instant, not at wall-clock now.
		if err := recorder.Publish(ctx, merger.ComputeContacts(ts)); err != nil {
			return err
		}

		if replayed%100000 == 0 {
			fmt.Printf("  %d/%d events\n", replayed, total)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	if err := recorder.Flush(last); err != nil {
		log.Fatalf("flush open episodes: %v", err)
	}

	episodes, err := dbConn.CountContactEvents(newRun)
	if err != nil {
		log.Fatalf("count contact events: %v", err)
	}

	fmt.Printf("backfill complete: %d events replayed, %d rejected, %d contact episodes under run %s\n",
		replayed, rejected, episodes, newRun)
}
