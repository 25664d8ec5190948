package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tildaslashalef/shopsync/internal/sync"
	"github.com/tildaslashalef/shopsync/internal/utils"
)

// View renders the watch view
func (m *Model) View() string {
	var sb strings.Builder

	sb.WriteString(m.styles.Title.Render("shopsync"))
	sb.WriteString(m.styles.Subtle.Render(fmt.Sprintf("  tenant %s · %s", m.tenantID, m.device)))
	sb.WriteString("\n\n")

	rows := []string{
		m.row("Connection", m.connection()),
		m.row("State", m.state()),
		m.row("Pending", fmt.Sprintf("%d", m.status.PendingCount)),
		m.row("Last sync", utils.FormatTime(m.status.LastSyncAt)),
	}
	if m.status.LastError != "" {
		rows = append(rows, m.row("Last error", m.styles.Error.Render(utils.Truncate(m.status.LastError, 80))))
	}
	sb.WriteString(m.styles.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	sb.WriteString("\n\n")

	if m.status.Syncing {
		sb.WriteString(m.progress.View())
		sb.WriteString("\n\n")
	}

	if m.notice != "" {
		sb.WriteString(m.styles.Notice.Render(m.notice))
		sb.WriteString("\n\n")
	}

	sb.WriteString(m.help.View(m.keymap))
	return sb.String()
}

func (m *Model) row(label, value string) string {
	return m.styles.Label.Render(label) + m.styles.Value.Render(value)
}

func (m *Model) connection() string {
	if m.status.Online {
		return m.styles.Online.Render("● online")
	}
	return m.styles.Offline.Render("○ offline")
}

func (m *Model) state() string {
	if !m.status.Syncing {
		return "idle"
	}
	phase := "pushing"
	if m.status.Direction == sync.DirectionPull {
		phase = "pulling"
	}
	return fmt.Sprintf("%s %s %d%%", m.spinner.View(), phase, m.status.Progress)
}
