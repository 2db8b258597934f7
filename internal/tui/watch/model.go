package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/blasty8084/Nexus-247/internal/supervisor"
)

const eventLogLimit = 50

// heartbeat mirrors the heartbeat topic payload.
type heartbeat struct {
	RTTMillis float64 `json:"rtt_ms"`
	UptimeS   float64 `json:"uptime_s"`
	Position  struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	} `json:"position"`
}

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	status    supervisor.Status
	beat      heartbeat
	beatAt    time.Time
	plugins   table.Model
	eventLog  []streamEvent
	connected bool

	pulse Pulse
	theme Theme

	hubEvents chan streamEvent
	lastError string
}

// New creates a new watch TUI model.
func New(apiURL string) *Model {
	columns := []table.Column{
		{Title: "Plugin", Width: 20},
		{Title: "Enabled", Width: 8},
		{Title: "Loaded", Width: 7},
		{Title: "Error", Width: 36},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true)
	t.SetStyles(s)

	return &Model{
		apiURL:    apiURL,
		plugins:   t,
		eventLog:  make([]streamEvent, 0),
		hubEvents: make(chan streamEvent, 100),
		pulse:     NewPulse(),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchStatus(m.apiURL) },
		func() tea.Msg { return fetchPlugins(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.plugins, cmd = m.plugins.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.pulse.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := streamEvent(msg)
		m.pulse.OnEvent()
		m.connected = true
		m.lastError = ""

		switch e.Topic {
		case "botStatus":
			var st supervisor.Status
			if json.Unmarshal(e.Data, &st) == nil {
				m.status = st
			}
		case "heartbeat":
			var hb heartbeat
			if json.Unmarshal(e.Data, &hb) == nil {
				m.beat = hb
				m.beatAt = e.At
			}
		case "plugins:update":
			// Full refresh keeps the table in sync with the runtime.
			return m, tea.Batch(
				receiveNextEvent(m.hubEvents),
				func() tea.Msg { return fetchPlugins(m.apiURL) },
			)
		}

		m.eventLog = append([]streamEvent{e}, m.eventLog...)
		if len(m.eventLog) > eventLogLimit {
			m.eventLog = m.eventLog[:eventLogLimit]
		}
		return m, receiveNextEvent(m.hubEvents)

	case statusMsg:
		m.status = supervisor.Status(msg)
		m.connected = true
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchStatus(m.apiURL)
		})

	case pluginsMsg:
		rows := make([]table.Row, 0, len(msg))
		for _, d := range msg {
			rows = append(rows, table.Row{
				d.Name,
				fmt.Sprintf("%v", d.Enabled),
				fmt.Sprintf("%v", d.Loaded),
				d.LastError,
			})
		}
		m.plugins.SetRows(rows)

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchStatus(m.apiURL)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Starting watch..."
	}

	header := m.renderHeader()
	pluginPanel := m.theme.Border.Width(m.width - 4).Render(
		m.theme.Title.Render("Plugins") + "\n" + m.plugins.View(),
	)
	logPanel := m.renderEventLog()

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusDown.Render(" ! " + m.lastError)
	}

	help := m.theme.Dim.Render(" [q] Quit")

	parts := []string{header, pluginPanel, logPanel}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	innerWidth := m.width - 4

	stateStyle := m.theme.StatusDown
	switch m.status.State {
	case "connected":
		stateStyle = m.theme.StatusConnected
	case "connecting", "reconnecting":
		stateStyle = m.theme.StatusReconnecting
	}
	stateText := stateStyle.Render(strings.ToUpper(m.status.State))
	if m.status.State == "" {
		stateText = m.theme.Dim.Render("UNKNOWN")
	}

	clock := m.theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := " NEXUS WATCH"
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  session: %s  attempts: %d",
		stateText, valueOr(m.status.SessionID, "-"), m.status.Attempts)

	beatLine := " heartbeat: -"
	if !m.beatAt.IsZero() {
		beatLine = fmt.Sprintf(" rtt: %.1fms  pos: (%.0f, %.0f, %.0f)  up: %s",
			m.beat.RTTMillis,
			m.beat.Position.X, m.beat.Position.Y, m.beat.Position.Z,
			formatDuration(time.Duration(m.beat.UptimeS)*time.Second),
		)
	}
	activityLine := beatLine + "  " + m.pulse.Render(m.theme)

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return m.theme.Border.Width(innerWidth).Render(content)
}

func (m Model) renderEventLog() string {
	innerWidth := m.width - 4
	rows := len(m.eventLog)
	if rows > 8 {
		rows = 8
	}

	lines := []string{m.theme.Title.Render("Events")}
	for _, e := range m.eventLog[:rows] {
		stamp := m.theme.Dim.Render(e.At.Format("15:04:05"))
		topic := m.theme.Header.Render(e.Topic)
		data := string(e.Data)
		if len(data) > innerWidth-30 && innerWidth > 30 {
			data = data[:innerWidth-30] + "…"
		}
		lines = append(lines, fmt.Sprintf(" %s %s %s", stamp, topic, data))
	}
	if rows == 0 {
		lines = append(lines, m.theme.Dim.Render(" waiting for events..."))
	}

	return m.theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, lines...),
	)
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
