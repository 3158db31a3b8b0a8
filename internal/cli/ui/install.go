package ui

import (
	"errors"
	"fmt"
	"time"

	"garrison/pkg/sdk"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type installModel struct {
	client   *sdk.Client
	connID   string
	name     string
	current  sdk.InstallProgress
	progress progress.Model
	spinner  spinner.Model
	err      error
	width    int
}

type installProgressMsg sdk.InstallProgress

func pollInstall(client *sdk.Client, id string, after time.Duration) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg {
		p, err := client.GetInstallProgress(id)
		if err != nil {
			return errMsg(err)
		}
		return installProgressMsg(*p)
	})
}

func (m installModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, pollInstall(m.client, m.connID, 0))
}

func finished(p sdk.InstallProgress) bool {
	return p.Status == "complete" || p.Status == "error"
}

func (m installModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			// the install keeps running on the daemon
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 20
	case installProgressMsg:
		m.current = sdk.InstallProgress(msg)
		if finished(m.current) {
			return m, tea.Quit
		}
		return m, pollInstall(m.client, m.connID, 500*time.Millisecond)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case errMsg:
		m.err = msg
		return m, tea.Quit
	}
	return m, nil
}

func (m installModel) View() string {
	title := headerStyle.Render("INSTALL " + m.name)
	phase := fmt.Sprintf("%s %s", m.spinner.View(), m.current.Status)
	if finished(m.current) {
		phase = string(m.current.Status)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		phase,
		m.progress.ViewAs(m.current.Progress/100),
		descStyle.Render(m.current.Message),
		"",
		helpLine("q", "detach"),
	)
}

// RunInstall starts an install and follows it until it completes or fails.
func RunInstall(client *sdk.Client, conn *sdk.Connection) error {
	first, err := client.InstallServer(conn.ID)
	if err != nil {
		return err
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	m := installModel{
		client:   client,
		connID:   conn.ID,
		name:     conn.Name,
		current:  *first,
		progress: progress.New(progress.WithDefaultGradient()),
		spinner:  s,
	}

	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return fmt.Errorf("error running install UI: %w", err)
	}
	im, ok := final.(installModel)
	if !ok {
		return nil
	}
	if im.err != nil {
		return im.err
	}
	if im.current.Status == "error" {
		return errors.New(im.current.Message)
	}
	return nil
}
