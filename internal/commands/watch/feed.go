package watch

import (
	"context"
	stdsync "sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tildaslashalef/shopsync/internal/sync"
)

// feed hands engine status updates to the Bubble Tea loop. The engine calls
// listeners synchronously, so push never blocks and only the newest status is kept.
type feed struct {
	mu     stdsync.Mutex
	latest sync.SyncStatus
	ready  chan struct{}
}

func newFeed() *feed {
	return &feed{ready: make(chan struct{}, 1)}
}

func (f *feed) push(s sync.SyncStatus) {
	f.mu.Lock()
	f.latest = s
	f.mu.Unlock()

	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// next waits for the next status, or returns nil once ctx is done
func (f *feed) next(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case <-f.ready:
			f.mu.Lock()
			defer f.mu.Unlock()
			return StatusMsg{Status: f.latest}
		}
	}
}
