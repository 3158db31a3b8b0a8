package ui

import (
	"fmt"
	"os"
	"time"

	"garrison/pkg/sdk"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type serverRow struct {
	conn   sdk.Connection
	status *sdk.ProcessStatus
}

type model struct {
	table     table.Model
	rows      []serverRow
	err       error
	width     int
	height    int
	isLoading bool
	message   string
	selected  string
	quit      bool
	client    *sdk.Client
}

type serverDataMsg []serverRow

type actionMsg struct {
	text string
	err  error
}

type errMsg error

// RunDashboard shows every connection with its live status. It returns the
// connection chosen for the console, or "" when the user quit.
func RunDashboard(client *sdk.Client) (string, error) {
	columns := []table.Column{
		{Title: "Sts", Width: 3},
		{Title: "Name", Width: 20},
		{Title: "Type", Width: 7},
		{Title: "State", Width: 14},
		{Title: "Players", Width: 8},
		{Title: "CPU", Width: 7},
		{Title: "RAM", Width: 9},
		{Title: "Uptime", Width: 8},
		{Title: "Version", Width: 12},
		{Title: "ID", Width: 36},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
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

	m := model{
		table:     t,
		isLoading: true,
		client:    client,
	}

	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout))
	finalModel, err := program.Run()
	if err != nil {
		return "", fmt.Errorf("error running dashboard: %w", err)
	}

	if m, ok := finalModel.(model); ok && !m.quit {
		return m.selected, nil
	}
	return "", nil
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		fetchDataCmd(m.client),
		tickCmd(),
	)
}

func (m model) selectedRow() *serverRow {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return nil
	}
	id := row[len(row)-1]
	for i := range m.rows {
		if m.rows[i].conn.ID == id {
			return &m.rows[i]
		}
	}
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		case "s", "x", "r", "i":
			row := m.selectedRow()
			if row == nil {
				return m, nil
			}
			text, action := m.action(msg.String(), row)
			m.message = text
			return m, action
		case "enter":
			if row := m.selectedRow(); row != nil {
				m.selected = row.conn.ID
				return m, tea.Quit
			}
		}
	case string:
		if msg == "clear_message" {
			m.message = ""
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width - 10)
		m.table.SetHeight(msg.Height - 12)
	case serverDataMsg:
		m.isLoading = false
		m.err = nil
		m.rows = msg
		m.updateTable()
		return m, nil
	case actionMsg:
		if msg.err != nil {
			m.message = msg.err.Error()
		} else {
			m.message = msg.text
		}
		return m, tea.Batch(fetchDataCmd(m.client), clearMessageCmd())
	case tickMsg:
		return m, tea.Batch(fetchDataCmd(m.client), tickCmd())
	case errMsg:
		m.err = msg
		return m, nil
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// action checks the obvious preconditions locally; the daemon has the
// final word.
func (m model) action(key string, row *serverRow) (string, tea.Cmd) {
	state := ""
	if row.status != nil {
		state = string(row.status.State)
	}
	id, name := row.conn.ID, row.conn.Name

	switch key {
	case "s":
		if isActive(state) {
			return fmt.Sprintf("%s is already %s", name, state), clearMessageCmd()
		}
		return fmt.Sprintf("Starting %s...", name), runAction(func() (string, error) {
			st, err := m.client.StartServer(id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s is %s", name, st.State), nil
		})
	case "x":
		if state != "RUNNING" && state != "STARTING" {
			return fmt.Sprintf("%s is not running (state: %s)", name, state), clearMessageCmd()
		}
		return fmt.Sprintf("Stopping %s...", name), runAction(func() (string, error) {
			st, err := m.client.StopServer(id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s is %s", name, st.State), nil
		})
	case "r":
		return fmt.Sprintf("Restarting %s...", name), runAction(func() (string, error) {
			st, err := m.client.RestartServer(id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s is %s", name, st.State), nil
		})
	case "i":
		return fmt.Sprintf("Installing %s...", name), runAction(func() (string, error) {
			p, err := m.client.InstallServer(id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Install of %s: %s", name, p.Message), nil
		})
	}
	return "", nil
}

func runAction(fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		text, err := fn()
		return actionMsg{text: text, err: err}
	}
}

func clearMessageCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
		return "clear_message"
	})
}

func (m *model) updateTable() {
	rows := []table.Row{}
	for _, r := range m.rows {
		state, players, cpu, ram, uptime, version := "?", "-", "-", "-", "-", r.conn.ServerVersion
		if st := r.status; st != nil {
			state = string(st.State)
			if st.Install != nil && st.State == "INSTALLING" {
				state = fmt.Sprintf("%s %.0f%%", state, st.Install.Progress)
			}
			if st.IsOnline {
				players = fmt.Sprintf("%d/%d", st.Players, st.MaxPlayers)
				cpu = fmt.Sprintf("%.1f%%", st.CPU)
				ram = formatBytesShort(int64(st.Memory))
				uptime = formatUptime(st.Uptime)
			}
			if st.Version != "" {
				version = st.Version
			}
		}
		rows = append(rows, table.Row{
			stateIcon(state),
			r.conn.Name,
			r.conn.Type,
			state,
			players,
			cpu,
			ram,
			uptime,
			version,
			r.conn.ID,
		})
	}
	m.table.SetRows(rows)
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := headerStyle.Render("GARRISON")
	clock := subHeaderStyle.Render(time.Now().Format("Mon Jan 2 15:04:05"))

	hostInfo := fmt.Sprintf("Daemon: %s  |  Connections: %d", m.client.BaseURL(), len(m.rows))
	if m.err != nil {
		hostInfo = fmt.Sprintf("Daemon: %s  |  error: %v", m.client.BaseURL(), m.err)
	}
	headerBox := baseStyle.
		Width(m.width-4).
		Align(lipgloss.Center).
		Render(lipgloss.JoinVertical(lipgloss.Center, title, clock, " ", hostInfo))

	tableContainer := baseStyle.
		Width(m.width - 4).
		Height(m.height - 12).
		Render(m.table.View())

	footerText := lipgloss.NewStyle().MarginLeft(2).Render(
		helpLine("↑/↓", "navigate", "s", "start", "x", "stop", "r", "restart", "i", "install", "enter", "console", "q", "quit"))

	if m.message != "" {
		footerText = fmt.Sprintf("%s\n%s", messageStyle.Render(m.message), footerText)
	}

	return lipgloss.JoinVertical(lipgloss.Center,
		headerBox,
		tableContainer,
		footerText,
	)
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchDataCmd(client *sdk.Client) tea.Cmd {
	return func() tea.Msg {
		conns, err := client.ListConnections()
		if err != nil {
			return errMsg(err)
		}

		rows := make([]serverRow, 0, len(conns))
		for _, c := range conns {
			row := serverRow{conn: c}
			// a failing status leaves the row without live data
			if st, err := client.GetStatus(c.ID); err == nil {
				row.status = st
			}
			rows = append(rows, row)
		}
		return serverDataMsg(rows)
	}
}
