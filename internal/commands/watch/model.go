// Package watch is the live sync status view of the watch command
package watch

import (
	"context"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tildaslashalef/shopsync/internal/sync"
)

// Engine is the part of the sync engine the view drives
type Engine interface {
	Subscribe(listener sync.Listener) func()
	ForceSync(ctx context.Context) sync.FullSyncResult
	SyncPendingChanges(ctx context.Context) sync.PushResult
}

// Model is the Bubble Tea model of the watch view
type Model struct {
	ctx         context.Context
	cancel      context.CancelFunc
	engine      Engine
	feed        *feed
	unsubscribe func()

	tenantID string
	device   string

	keymap   KeyMap
	help     help.Model
	spinner  spinner.Model
	progress progress.Model
	styles   Styles

	status  sync.SyncStatus
	notice  string
	width   int
	running bool
}

// NewModel subscribes to the engine; the subscription ends when the view quits
func NewModel(ctx context.Context, engine Engine, tenantID, device string) *Model {
	ctx, cancel := context.WithCancel(ctx)

	s := spinner.New()
	s.Spinner = spinner.Dot

	m := &Model{
		ctx:      ctx,
		cancel:   cancel,
		engine:   engine,
		feed:     newFeed(),
		tenantID: tenantID,
		device:   device,
		keymap:   DefaultKeyMap(),
		help:     help.New(),
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		styles:   DefaultStyles(),
	}
	m.spinner.Style = m.styles.Spinner
	m.unsubscribe = engine.Subscribe(m.feed.push)
	return m
}

// Init starts listening for status updates
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.feed.next(m.ctx))
}

// Close drops the subscription and stops pending commands
func (m *Model) Close() {
	m.cancel()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Model) fullSync() tea.Cmd {
	return func() tea.Msg {
		return SyncDoneMsg{Result: m.engine.ForceSync(m.ctx)}
	}
}

func (m *Model) push() tea.Cmd {
	return func() tea.Msg {
		return PushDoneMsg{Result: m.engine.SyncPendingChanges(m.ctx)}
	}
}
