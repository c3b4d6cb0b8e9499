// Package tui implements the diwatch system watch console. It polls the ops
// API and renders the debounced status, watchdog deadline, recent dispatch
// cycles, and the event feed.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/skeops/diwatch/internal/events"
	"github.com/skeops/diwatch/internal/journal"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	statusLow    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000"))
	statusHigh   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF00"))
	statusUnseen = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

// --- Messages ---

type statusMsg struct {
	Status           string     `json:"status"`
	Since            *time.Time `json:"since"`
	Seen             bool       `json:"seen"`
	WatchdogDeadline time.Time  `json:"watchdog_deadline"`
}

type cyclesMsg struct {
	Cycles []journal.CycleSummary `json:"cycles"`
}

type eventsMsg struct {
	Events []events.Event `json:"events"`
}

type tickMsg time.Time

type errMsg error

// Model is the BubbleTea model for the watch console.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	status      statusMsg
	cycleTable  table.Model
	eventLog    []events.Event
	lastEventID int64

	connected bool
	lastError string
}

// New creates a watch console polling the ops API at apiURL.
func New(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Trigger", Width: 9},
			{Title: "Status", Width: 6},
			{Title: "Members", Width: 7},
			{Title: "OK", Width: 4},
			{Title: "Fail", Width: 4},
			{Title: "Result", Width: 20},
			{Title: "Started", Width: 9},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:     apiURL,
		apiKey:     apiKey,
		cycleTable: t,
		eventLog:   make([]events.Event, 0),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.poll(),
		tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.cycleTable, cmd = m.cycleTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(
			m.poll(),
			tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case statusMsg:
		m.status = msg
		m.connected = true
		m.lastError = ""

	case cyclesMsg:
		m.cycleTable.SetRows(cycleRows(msg.Cycles))

	case eventsMsg:
		for _, e := range msg.Events {
			m.eventLog = append([]events.Event{e}, m.eventLog...)
			if e.ID > m.lastEventID {
				m.lastEventID = e.ID
			}
		}
		if len(m.eventLog) > 50 {
			m.eventLog = m.eventLog[:50]
		}

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()
	}

	return m, nil
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Connecting to diwatch..."
	}

	innerWidth := m.width - 6

	header := m.renderStatus(innerWidth)
	cycles := borderStyle.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("DISPATCH CYCLES"),
		m.cycleTable.View(),
	))
	eventStream := m.renderEvents(innerWidth)

	var errBar string
	if m.lastError != "" {
		errBar = failStyle.Render(fmt.Sprintf(" ! %s", m.lastError))
	}

	help := dimStyle.Render(" [q] Quit")

	parts := []string{header, cycles, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m *Model) renderStatus(width int) string {
	var statusText string
	switch {
	case !m.status.Seen:
		statusText = statusUnseen.Render("no status seen yet")
	case m.status.Status == "L":
		statusText = statusLow.Render("L (LOW)")
	case m.status.Status == "H":
		statusText = statusHigh.Render("H (HIGH)")
	default:
		statusText = statusUnseen.Render(m.status.Status)
	}

	var since string
	if m.status.Since != nil {
		since = dimStyle.Render(fmt.Sprintf("  since %s", m.status.Since.Local().Format("15:04:05")))
	}

	var deadline string
	if !m.status.WatchdogDeadline.IsZero() {
		remaining := time.Until(m.status.WatchdogDeadline).Round(time.Second)
		style := dimStyle
		if remaining < 5*time.Second {
			style = warnStyle
		}
		deadline = style.Render(fmt.Sprintf("  watchdog fires in %s", remaining))
	}

	conn := statusHigh.Render("connected")
	if !m.connected {
		conn = failStyle.Render("disconnected")
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("SOURCE STATUS"),
		fmt.Sprintf("  %s%s%s", statusText, since, deadline),
		dimStyle.Render(fmt.Sprintf("  api: %s (%s)", m.apiURL, conn)),
	)
	return borderStyle.Width(width).Render(content)
}

func (m *Model) renderEvents(width int) string {
	if len(m.eventLog) == 0 {
		return borderStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("EVENTS"),
			dimStyle.Render("  Waiting for events..."),
		))
	}

	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e))
	}

	return borderStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("EVENTS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	))
}

func formatEvent(e events.Event) string {
	ts := dimStyle.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.CycleFinished:
		typeStyle = statusHigh
	case events.CycleSkipped, events.StatusDropped:
		typeStyle = failStyle
	case events.WatchdogExpired:
		typeStyle = warnStyle
	default:
		typeStyle = dimStyle
	}
	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))

	desc := ""
	data := make(map[string]any)
	if json.Unmarshal(e.Data, &data) == nil {
		var parts []string
		for _, k := range []string{"status", "cycle_id", "reason", "value"} {
			if v, ok := data[k].(string); ok && v != "" {
				if k == "cycle_id" && len(v) > 8 {
					v = v[:8]
				}
				parts = append(parts, v)
			}
		}
		desc = strings.Join(parts, " ")
	}

	return fmt.Sprintf("%s %s %s", ts, typeName, desc)
}

func cycleRows(cycles []journal.CycleSummary) []table.Row {
	rows := make([]table.Row, 0, len(cycles))
	for _, c := range cycles {
		result := "ok"
		switch {
		case c.Skipped:
			result = "skipped: " + c.Reason
		case c.Failed > 0:
			result = "partial failure"
		}
		rows = append(rows, table.Row{
			c.Trigger,
			c.Status,
			fmt.Sprintf("%d", c.Members),
			fmt.Sprintf("%d", c.Succeeded),
			fmt.Sprintf("%d", c.Failed),
			result,
			c.StartedAt.Local().Format("15:04:05"),
		})
	}
	return rows
}

// poll fetches status, cycles, and new events in one command.
func (m *Model) poll() tea.Cmd {
	apiURL, apiKey, since := m.apiURL, m.apiKey, m.lastEventID
	return func() tea.Msg {
		var status statusMsg
		if err := fetchJSON(apiURL+"/api/status", apiKey, &status); err != nil {
			return errMsg(err)
		}

		var cycles cyclesMsg
		if err := fetchJSON(apiURL+"/api/cycles?limit=20", apiKey, &cycles); err != nil {
			return errMsg(err)
		}

		var evs eventsMsg
		if err := fetchJSON(fmt.Sprintf("%s/api/events?since=%d", apiURL, since), apiKey, &evs); err != nil {
			return errMsg(err)
		}

		return tea.BatchMsg{
			func() tea.Msg { return status },
			func() tea.Msg { return cycles },
			func() tea.Msg { return evs },
		}
	}
}

func fetchJSON(url, apiKey string, out any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
