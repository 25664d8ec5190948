package watch

import "github.com/tildaslashalef/shopsync/internal/sync"

type (
	// StatusMsg carries a status snapshot published by the engine
	StatusMsg struct {
		Status sync.SyncStatus
	}

	// SyncDoneMsg is sent when a full sync requested from the view returns
	SyncDoneMsg struct {
		Result sync.FullSyncResult
	}

	// PushDoneMsg is sent when a push requested from the view returns
	PushDoneMsg struct {
		Result sync.PushResult
	}
)
