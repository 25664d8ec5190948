package watch

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = min(max(msg.Width-20, 10), 60)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			m.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keymap.Sync):
			if !m.running {
				m.running = true
				m.notice = "Full sync requested"
				cmds = append(cmds, m.fullSync())
			}
		case key.Matches(msg, m.keymap.Push):
			if !m.running {
				m.running = true
				m.notice = "Push requested"
				cmds = append(cmds, m.push())
			}
		}

	case StatusMsg:
		m.status = msg.Status
		cmds = append(cmds, m.progress.SetPercent(float64(msg.Status.Progress)/100), m.feed.next(m.ctx))

	case SyncDoneMsg:
		m.running = false
		switch {
		case msg.Result.Success:
			m.notice = fmt.Sprintf("Full sync done: %d pushed, %d pulled", msg.Result.Pushed, msg.Result.Pulled)
		default:
			m.notice = "Full sync did not run (offline, busy or interrupted)"
		}

	case PushDoneMsg:
		m.running = false
		switch {
		case msg.Result.Success:
			m.notice = fmt.Sprintf("Push done: %d synced, %d failed", msg.Result.Synced, msg.Result.Failed)
		default:
			m.notice = "Push did not run (offline, busy or interrupted)"
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		model, cmd := m.progress.Update(msg)
		m.progress = model.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}
