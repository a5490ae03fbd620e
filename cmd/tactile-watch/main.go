// The tactile-watch command renders a live terminal view of a running
// daemon's contact state.
package main

import (
	"flag"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/haptic-data/touch.report/internal/watch"
)

var (
	baseURL  = flag.String("url", "http://localhost:8080", "base URL of the tactile daemon")
	interval = flag.Duration("interval", watch.DefaultPollInterval, "poll interval")
)

func main() {
	flag.Parse()

	if *interval < 50*time.Millisecond {
		log.Fatal("poll interval below 50ms would flood the daemon")
	}

	m := watch.New(watch.Config{
		BaseURL:      *baseURL,
		PollInterval: *interval,
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("watch error: %v", err)
	}
}
