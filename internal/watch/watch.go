// Package watch implements the live contact watcher TUI. It polls a running
// daemon's contact endpoint and renders per-sensor state with color-coded
// taxel intensity.
package watch

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/haptic-data/touch.report/internal/colormap"
	"github.com/haptic-data/touch.report/internal/httputil"
	"github.com/haptic-data/touch.report/internal/tactile"
)

// DefaultPollInterval matches the publish cadence closely enough for a
// terminal display without hammering the daemon.
const DefaultPollInterval = 250 * time.Millisecond

// Config describes the daemon connection the watcher polls.
type Config struct {
	// BaseURL is the daemon's HTTP address, e.g. "http://localhost:8080".
	BaseURL string
	// Client defaults to a standard HTTP client.
	Client httputil.HTTPClient
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
}

type tickMsg time.Time

type contactsMsg struct {
	resp contactsResponse
	time time.Time
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// contactsResponse mirrors the daemon's /api/contacts payload.
type contactsResponse struct {
	TS             time.Time              `json:"ts"`
	ActiveContacts int                    `json:"active_contacts"`
	Contacts       []tactile.ContactState `json:"contacts"`
}

// Model is the BubbleTea model for the contact watcher.
type Model struct {
	cfg       Config
	cmap      *colormap.Map
	resp      contactsResponse
	polled    bool
	err       error
	width     int
	height    int
	paused    bool
	lastPoll  time.Time
	startTime time.Time
}

// New creates the initial model for the contact watcher.
func New(cfg Config) Model {
	if cfg.Client == nil {
		cfg.Client = httputil.NewStandardClient(nil)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return Model{
		cfg:       cfg,
		cmap:      colormap.Absolute(),
		startTime: time.Now(),
	}
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) pollContacts() tea.Msg {
	var resp contactsResponse
	if err := httputil.GetJSON(m.cfg.Client, m.cfg.BaseURL+"/api/contacts", &resp); err != nil {
		return errMsg{err}
	}
	return contactsMsg{resp: resp, time: time.Now()}
}

// Init starts the poll loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.pollContacts, tickCmd(m.cfg.PollInterval))
}

// Update handles key presses, poll ticks, and poll results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "p":
			m.paused = !m.paused
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		if m.paused {
			return m, tickCmd(m.cfg.PollInterval)
		}
		return m, tea.Batch(m.pollContacts, tickCmd(m.cfg.PollInterval))

	case contactsMsg:
		m.resp = msg.resp
		m.lastPoll = msg.time
		m.polled = true
		m.err = nil

	case errMsg:
		m.err = msg.err
	}

	return m, nil
}

var (
	colorTitleFg = lipgloss.Color("51")
	colorDim     = lipgloss.Color("240")
	colorLabel   = lipgloss.Color("252")
	colorFresh   = lipgloss.Color("78")
	colorStale   = lipgloss.Color("208")
	colorContact = lipgloss.Color("196")
	colorErr     = lipgloss.Color("196")
	colorPaused  = lipgloss.Color("196")
)

// View renders the watcher screen.
func (m Model) View() string {
	if m.width == 0 {
		return "  Connecting..."
	}

	var sections []string
	sections = append(sections, m.renderTitleBar())

	if m.err != nil {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(colorErr).
			Bold(true).
			Render(fmt.Sprintf(" ERROR: %v", m.err)))
	}

	if !m.polled {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(colorDim).
			Padding(1, 0).
			Render("  Waiting for contact data..."))
	} else if len(m.resp.Contacts) == 0 {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(colorDim).
			Padding(1, 0).
			Render("  No sensors reporting."))
	} else {
		for _, c := range m.resp.Contacts {
			sections = append(sections, m.renderSensor(c))
		}
	}

	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTitleBar() string {
	logo := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorTitleFg).
		Render("TOUCH WATCH")

	parts := []string{
		lipgloss.NewStyle().Foreground(colorDim).Render(m.cfg.BaseURL),
		lipgloss.NewStyle().Foreground(colorDim).Render(fmt.Sprintf("up %s", time.Since(m.startTime).Round(time.Second))),
	}
	if m.polled {
		parts = append(parts, lipgloss.NewStyle().Foreground(colorLabel).
			Render(fmt.Sprintf("%d active", m.resp.ActiveContacts)))
	}
	if m.paused {
		parts = append(parts, lipgloss.NewStyle().Bold(true).Foreground(colorPaused).Render("PAUSED"))
	}

	return logo + "  " + strings.Join(parts, "  ")
}

func (m Model) renderSensor(c tactile.ContactState) string {
	stateStyle := lipgloss.NewStyle().Foreground(colorFresh)
	state := "fresh"
	if !c.Fresh {
		stateStyle = lipgloss.NewStyle().Foreground(colorStale)
		state = "stale"
	}

	badge := "      "
	if c.InContact {
		badge = lipgloss.NewStyle().Bold(true).Foreground(colorContact).Render("CONTACT")
	}

	name := lipgloss.NewStyle().Bold(true).Foreground(colorLabel).Width(14).Render(c.Name)
	meta := lipgloss.NewStyle().Foreground(colorDim).
		Render(fmt.Sprintf("%5dms", c.AgeMS))

	return fmt.Sprintf("  %s %s %s %s  %s",
		name, stateStyle.Render(state), meta, badge, m.renderTaxels(c))
}

// renderTaxels draws one block per taxel, colored by intensity. Taxels
// classified as in contact get a marker underneath the color.
func (m Model) renderTaxels(c tactile.ContactState) string {
	if len(c.Values) == 0 {
		return lipgloss.NewStyle().Foreground(colorDim).Render("no data")
	}

	var b strings.Builder
	for i, v := range c.Values {
		cell := "██"
		if i < len(c.Taxels) && c.Taxels[i] {
			cell = "▓▓"
		}
		b.WriteString(lipgloss.NewStyle().
			Foreground(lipgloss.Color(m.cmap.Hex(v))).
			Render(cell))
	}
	return b.String()
}

func (m Model) renderFooter() string {
	help := "q quit · p pause"
	if !m.lastPoll.IsZero() {
		help += " · polled " + m.lastPoll.Format("15:04:05.000")
	}
	return lipgloss.NewStyle().Foreground(colorDim).Render("  " + help)
}
