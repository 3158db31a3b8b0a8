package ui

import (
	"encoding/json"
	"fmt"
	"strings"

	"garrison/pkg/sdk"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
)

const maxConsoleLines = 2000

type consoleModel struct {
	sub       chan sdk.Frame
	conn      *websocket.Conn
	viewport  viewport.Model
	textInput textinput.Model
	err       error
	ready     bool
	connID    string
	server    *sdk.Connection
	status    *sdk.ProcessStatus
	lines     []string
	back      bool
	client    *sdk.Client
	width     int
	height    int
}

func initialConsoleModel(id string, conn *websocket.Conn, sub chan sdk.Frame, client *sdk.Client) consoleModel {
	ti := textinput.New()
	ti.Placeholder = "Type an RCON command..."
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 40

	return consoleModel{
		sub:       sub,
		conn:      conn,
		textInput: ti,
		connID:    id,
		client:    client,
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		waitForFrame(m.sub),
		getServerDetails(m.client, m.connID),
		tickCmd(),
	)
}

type frameMsg sdk.Frame
type socketClosedMsg struct{}

type serverDetailsMsg struct {
	conn   *sdk.Connection
	status *sdk.ProcessStatus
}

func waitForFrame(sub chan sdk.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-sub
		if !ok {
			return socketClosedMsg{}
		}
		return frameMsg(f)
	}
}

func getServerDetails(client *sdk.Client, id string) tea.Cmd {
	return func() tea.Msg {
		conn, err := client.GetConnection(id)
		if err != nil {
			return errMsg(err)
		}
		st, _ := client.GetStatus(id)
		return serverDetailsMsg{conn: conn, status: st}
	}
}

// renderFrame turns one websocket frame into console lines.
func renderFrame(f sdk.Frame) []string {
	switch f.Type {
	case "console":
		out := make([]string, 0, len(f.Lines))
		for _, l := range f.Lines {
			if style, ok := severityStyles[string(l.Severity)]; ok {
				out = append(out, style.Render(l.Text))
			} else {
				out = append(out, l.Text)
			}
		}
		return out
	case "rcon":
		out := []string{keyStyle.Render("> " + f.Command)}
		for _, l := range strings.Split(strings.TrimRight(f.Reply, "\n"), "\n") {
			out = append(out, replyStyle.Render(l))
		}
		return out
	case "error":
		return []string{severityStyles["error"].Render(fmt.Sprintf("[%s] %s", f.ErrorKind, f.Message))}
	case "install":
		if f.Install == nil {
			return nil
		}
		return []string{descStyle.Render(fmt.Sprintf("[install] %s %.0f%% %s", f.Install.Status, f.Install.Progress, f.Install.Message))}
	case "status":
		if f.Previous == "" {
			return nil
		}
		return []string{descStyle.Render(fmt.Sprintf("[state] %s -> %s %s", f.Previous, f.State, f.Message))}
	}
	return nil
}

func (m *consoleModel) appendLines(lines []string) {
	m.lines = append(m.lines, lines...)
	if over := len(m.lines) - maxConsoleLines; over > 0 {
		m.lines = m.lines[over:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEsc:
			m.back = true
			return m, tea.Quit
		case tea.KeyEnter:
			if cmd := strings.TrimSpace(m.textInput.Value()); cmd != "" {
				m.textInput.SetValue("")
				if m.conn != nil {
					data, _ := json.Marshal(map[string]string{"type": "command", "command": cmd})
					_ = m.conn.WriteMessage(websocket.TextMessage, data)
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 12
		contentWidth := msg.Width - 6

		if !m.ready {
			m.viewport = viewport.New(contentWidth, msg.Height-headerHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
		} else {
			m.viewport.Width = contentWidth
			m.viewport.Height = msg.Height - headerHeight
		}

	case frameMsg:
		f := sdk.Frame(msg)
		if f.Status != nil {
			m.status = f.Status
		}
		if lines := renderFrame(f); len(lines) > 0 {
			m.appendLines(lines)
		}
		return m, waitForFrame(m.sub)

	case socketClosedMsg:
		m.appendLines([]string{severityStyles["error"].Render("console stream closed")})
		return m, nil

	case serverDetailsMsg:
		m.server = msg.conn
		if msg.status != nil {
			m.status = msg.status
		}

	case errMsg:
		m.err = msg
		return m, tea.Quit
	case tickMsg:
		return m, tea.Batch(getServerDetails(m.client, m.connID), tickCmd())
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m consoleModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	title := headerStyle.Width(m.width).Render("SERVER CONSOLE")

	serverInfoContent := "Loading server details..."
	if m.server != nil {
		state := "?"
		players := "-"
		if m.status != nil {
			state = string(m.status.State)
			if m.status.IsOnline {
				players = fmt.Sprintf("%d/%d", m.status.Players, m.status.MaxPlayers)
			}
		}
		serverInfoContent = fmt.Sprintf(
			"Server: %s %s  •  State: %s  •  Players: %s\nType: %s  •  Path: %s",
			stateIcon(state),
			m.server.Name,
			state,
			players,
			m.server.Type,
			m.server.InstallPath,
		)
	}

	headerBox := baseStyle.
		Width(m.width-4).
		Align(lipgloss.Center).
		Render(serverInfoContent)

	console := baseStyle.
		Width(m.width - 4).
		Render(m.viewport.View())

	footerContent := lipgloss.JoinVertical(lipgloss.Left,
		fmt.Sprintf("→ %s", m.textInput.View()),
		lipgloss.NewStyle().Width(m.width-6).Align(lipgloss.Center).Render(helpLine("esc", "back", "ctrl+c", "quit")),
	)

	footerBox := footerStyle.
		Width(m.width - 4).
		Align(lipgloss.Left).
		Render(footerContent)

	return lipgloss.JoinVertical(lipgloss.Center,
		title,
		headerBox,
		console,
		footerBox,
	)
}

// RunConsole attaches to the live console of a connection. It reports
// whether the user asked to go back to the dashboard.
func RunConsole(client *sdk.Client, id string) (bool, error) {
	wsURL, err := client.ConsoleURL(id)
	if err != nil {
		return false, fmt.Errorf("error parsing base URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("error connecting to console: %w", err)
	}
	defer conn.Close()

	sub := make(chan sdk.Frame, 64)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(sub)
		for {
			var f sdk.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			select {
			case sub <- f:
			case <-done:
				return
			}
		}
	}()

	p := tea.NewProgram(
		initialConsoleModel(id, conn, sub, client),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	m, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("error running console UI: %w", err)
	}

	if cm, ok := m.(consoleModel); ok {
		return cm.back, cm.err
	}
	return false, nil
}
