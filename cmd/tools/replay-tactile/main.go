// Command replay-tactile streams a recorded capture back into a daemon over
// UDP at the recorded pacing. JSONL captures produced by the daemon's
// -record flag work out of the box; pcap captures need a binary built with
// -tags=pcap.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/haptic-data/touch.report/internal/ingest"
	"github.com/haptic-data/touch.report/internal/tactile"
)

var (
	input = flag.String("in", "", "capture to replay: .jsonl or .pcap (required)")
	addr  = flag.String("addr", "localhost:7788", "UDP target address")
	speed = flag.Float64("speed", 1.0, "playback speed multiplier")
	loop  = flag.Bool("loop", false, "loop playback when reaching end")
	port  = flag.Int("port", 7788, "UDP port filter for pcap captures")
)

func main() {
	flag.Parse()

	if *input == "" {
		log.Fatal("-in flag is required")
	}
	if *speed <= 0 {
		log.Fatal("-speed must be positive")
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("replaying %s to %s at %.2fx", *input, *addr, *speed)

	for {
		var err error
		if strings.HasSuffix(*input, ".pcap") {
			err = replayPCAP(ctx, conn, *input, *port, *speed)
		} else {
			err = replayJSONL(ctx, conn, *input, *speed)
		}
		if err != nil {
			if err == context.Canceled {
				return
			}
			log.Fatalf("replay failed: %v", err)
		}
		if !*loop {
			return
		}
		log.Print("looping")
	}
}

// replayJSONL plays back a JSONL capture, pacing each event by the recorded
// inter-event gap scaled by the speed multiplier.
func replayJSONL(ctx context.Context, conn net.Conn, path string, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var prev time.Time

	events, skipped, err := ingest.ScanEvents(f, func(ev tactile.StateEvent) error {
		if !prev.IsZero() {
			gap := ev.TS.Sub(prev)
			if gap > 0 {
				select {
				case <-ctx.Done():
					return context.Canceled
				case <-time.After(time.Duration(float64(gap) / speed)):
				}
			}
		}
		prev = ev.TS

		data, err := tactile.EncodeStateEvent(ev)
		if err != nil {
			return err
		}
		if _, err := conn.Write(data); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("replayed %d events (%d malformed lines skipped)", events, skipped)
	return nil
}
