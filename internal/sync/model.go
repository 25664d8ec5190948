// Package sync reconciles the local record store with the remote system of record
package sync

import (
	"time"

	"github.com/tildaslashalef/shopsync/internal/remote"
)

// SyncType represents what triggered a sync run
type SyncType string

const (
	// SyncTypeManual represents a user initiated full sync
	SyncTypeManual SyncType = "manual"
	// SyncTypeStartup represents the full sync run when a session starts online
	SyncTypeStartup SyncType = "startup"
	// SyncTypeReconnect represents the full sync run after connectivity returns
	SyncTypeReconnect SyncType = "reconnect"
	// SyncTypePeriodic represents a push run from the periodic timer
	SyncTypePeriodic SyncType = "periodic"
	// SyncTypePush represents a user initiated push run
	SyncTypePush SyncType = "push"
)

// Direction is the phase a sync run is in
type Direction string

const (
	DirectionIdle Direction = "idle"
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
	// DirectionBoth only appears in sync logs of full runs
	DirectionBoth Direction = "both"
)

// SyncErrorType represents the type of error that occurred during sync
type SyncErrorType string

const (
	// SyncErrorTypeNetwork represents a network error
	SyncErrorTypeNetwork SyncErrorType = "network"
	// SyncErrorTypeAuth represents an authentication error
	SyncErrorTypeAuth SyncErrorType = "auth"
	// SyncErrorTypeServer represents a server error
	SyncErrorTypeServer SyncErrorType = "server"
	// SyncErrorTypeClient represents a client error
	SyncErrorTypeClient SyncErrorType = "client"
	// SyncErrorTypeUnknown represents an unknown error
	SyncErrorTypeUnknown SyncErrorType = "unknown"
)

// classifyError maps a push or pull failure onto a SyncErrorType
func classifyError(err error) SyncErrorType {
	switch remote.Classify(err) {
	case remote.ErrorKindNetwork:
		return SyncErrorTypeNetwork
	case remote.ErrorKindAuth:
		return SyncErrorTypeAuth
	case remote.ErrorKindServer:
		return SyncErrorTypeServer
	case remote.ErrorKindClient:
		return SyncErrorTypeClient
	}
	return SyncErrorTypeUnknown
}

// SyncStatus is a snapshot of the engine's observable state
type SyncStatus struct {
	Online       bool       `json:"online"`
	Syncing      bool       `json:"syncing"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	PendingCount int        `json:"pending_count"`
	Progress     int        `json:"progress"`
	LastError    string     `json:"last_error,omitempty"`
	Direction    Direction  `json:"direction"`
}

func (s SyncStatus) clone() SyncStatus {
	if s.LastSyncAt != nil {
		t := *s.LastSyncAt
		s.LastSyncAt = &t
	}
	return s
}

// Listener receives status snapshots
type Listener func(SyncStatus)

// FullSyncResult contains the results of a push followed by a pull
type FullSyncResult struct {
	Success bool
	Pushed  int
	Pulled  int
}

// PushResult contains the results of a push run
type PushResult struct {
	Success bool
	Synced  int
	Failed  int
}

// SyncLog represents a log entry for one sync run
type SyncLog struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"tenant_id"`
	RunID        string        `json:"run_id"`
	SyncType     SyncType      `json:"sync_type"`
	Direction    Direction     `json:"direction"`
	Success      bool          `json:"success"`
	Pushed       int           `json:"pushed"`
	Failed       int           `json:"failed"`
	Pulled       int           `json:"pulled"`
	ErrorType    SyncErrorType `json:"error_type,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// NewSyncLog creates a new sync log entry
func NewSyncLog(tenantID, runID string, syncType SyncType, direction Direction) *SyncLog {
	now := time.Now().UTC()
	return &SyncLog{
		TenantID:    tenantID,
		RunID:       runID,
		SyncType:    syncType,
		Direction:   direction,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// MarkSuccessful marks the sync log as successful
func (l *SyncLog) MarkSuccessful(pushed, failed, pulled int) {
	l.Success = true
	l.Pushed = pushed
	l.Failed = failed
	l.Pulled = pulled
	l.CompletedAt = time.Now().UTC()
}

// MarkFailed marks the sync log as failed
func (l *SyncLog) MarkFailed(errorType SyncErrorType, errorMessage string) {
	l.Success = false
	l.ErrorType = errorType
	l.ErrorMessage = errorMessage
	l.CompletedAt = time.Now().UTC()
}

// Duration returns how long the run took
func (l *SyncLog) Duration() time.Duration {
	return l.CompletedAt.Sub(l.StartedAt)
}
