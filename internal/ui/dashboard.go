package ui

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/roomsync/internal/registry"
)

const maxEventLines = 8

// Dashboard is the live view behind `roomsync join --watch`.
type Dashboard struct {
	program    *tea.Program
	model      *dashboardModel
	updateChan chan dashboardUpdate
	eventChan  chan string
	done       chan struct{}
	wg         sync.WaitGroup
}

type dashboardUpdate struct {
	rows  []RoomRow
	stats registry.Stats
	state map[string]any
}

type eventLine string

type TickMsg time.Time

type dashboardModel struct {
	title      string
	rows       []RoomRow
	stats      registry.Stats
	state      map[string]any
	events     []string
	spinner    spinner.Model
	startTime  time.Time
	updateChan chan dashboardUpdate
	eventChan  chan string
	quitting   bool
}

// NewDashboard creates the live view. Nothing is drawn until Start.
func NewDashboard(title string) *Dashboard {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	updates := make(chan dashboardUpdate, 1)
	events := make(chan string, 32)
	return &Dashboard{
		model: &dashboardModel{
			title:      title,
			spinner:    s,
			startTime:  time.Now(),
			updateChan: updates,
			eventChan:  events,
			stats:      registry.Stats{AllRoomsInSync: true},
		},
		updateChan: updates,
		eventChan:  events,
		done:       make(chan struct{}),
	}
}

// Start runs the UI in a goroutine
func (d *Dashboard) Start() {
	d.program = tea.NewProgram(d.model)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(d.done)
		// Inline mode keeps previous terminal output visible.
		if _, err := d.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Done is closed when the dashboard exits, including when the user quits.
func (d *Dashboard) Done() <-chan struct{} { return d.done }

// Refresh replaces the displayed rooms, aggregates and state. Only the
// latest refresh matters, so an unread one is replaced.
func (d *Dashboard) Refresh(rows []RoomRow, stats registry.Stats, state map[string]any) {
	u := dashboardUpdate{rows: rows, stats: stats, state: state}
	for {
		select {
		case d.updateChan <- u:
			return
		default:
		}
		select {
		case <-d.updateChan:
		default:
		}
	}
}

// Log appends a line to the event log, dropping it if the UI is behind.
func (d *Dashboard) Log(format string, args ...any) {
	line := fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case d.eventChan <- line:
	default:
	}
}

// Stop stops the UI
func (d *Dashboard) Stop() {
	if d.program != nil {
		d.program.Quit()
	}
	d.wg.Wait()
}

func (m *dashboardModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenForUpdates(),
		m.listenForEvents(),
		tea.Tick(time.Second, func(t time.Time) tea.Msg {
			return TickMsg(t)
		}),
	)
}

func (m *dashboardModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updateChan
	}
}

func (m *dashboardModel) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		return eventLine(<-m.eventChan)
	}
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case TickMsg:
		if !m.quitting {
			cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg {
				return TickMsg(t)
			}))
		}

	case dashboardUpdate:
		m.rows = msg.rows
		m.stats = msg.stats
		m.state = msg.state
		cmds = append(cmds, m.listenForUpdates())

	case eventLine:
		m.events = append(m.events, string(msg))
		if len(m.events) > maxEventLines {
			m.events = m.events[len(m.events)-maxEventLines:]
		}
		cmds = append(cmds, m.listenForEvents())
	}

	return m, tea.Batch(cmds...)
}

func (m *dashboardModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s", IconSync, m.title)))
	b.WriteString("\n")

	status := SuccessStyle.Render("all rooms in sync")
	switch {
	case m.stats.IsAnyConnecting:
		status = fmt.Sprintf("%s connecting", m.spinner.View())
	case !m.stats.AllRoomsInSync:
		status = fmt.Sprintf("%s %s", m.spinner.View(), WarningStyle.Render("syncing"))
	}
	b.WriteString(fmt.Sprintf("%s  %s  %s %d participants  %s\n\n",
		status,
		StatusStyle.Render(fmt.Sprintf("%s %d/%d rooms", IconRoom, m.stats.ConnectedRooms, m.stats.Rooms)),
		IconPeer, m.stats.TotalParticipants,
		MutedStyle.Render("up "+FormatTimeDuration(time.Since(m.startTime))),
	))

	b.WriteString(RoomTableView(m.rows))
	b.WriteString("\n")

	if len(m.state) > 0 {
		keys := make([]string, 0, len(m.state))
		for k := range m.state {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n" + BoldStyle.Render("State") + "\n")
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("  %s %s\n", MutedStyle.Render(k+":"), truncateString(formatValue(m.state[k]), 60)))
		}
	}

	if len(m.events) > 0 {
		b.WriteString("\n" + BoldStyle.Render("Events") + "\n")
		for _, line := range m.events {
			b.WriteString("  " + MutedStyle.Render(line) + "\n")
		}
	}

	b.WriteString(FooterStyle.Render("Press q to quit"))

	return b.String()
}
