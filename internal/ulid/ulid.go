// Package ulid provides a thin wrapper around github.com/oklog/ulid/v2 used for
// every identifier shopsync generates on the device: temporary client ids for
// records created offline, sync queue item ids, sync run ids and settings ids.
//
// ULIDs sort lexicographically by creation time, which the sync queue relies on
// as a tie-breaker when two items share the same enqueue timestamp.
package ulid

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Common prefixes for different parts of the application
const (
	// PrefixLocal marks a client-generated record id that the server has not acknowledged yet
	PrefixLocal = "local"

	// PrefixQueue is used for sync queue items
	PrefixQueue = "sq"

	// PrefixRun is used for a single push/pull run
	PrefixRun = "run"

	// PrefixSyncLog is used for persisted sync log entries
	PrefixSyncLog = "sync"

	// PrefixSetting is used for settings rows
	PrefixSetting = "set"

	// PrefixSeparator is used to separate the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// ULID wraps ulid.ULID with an optional textual prefix.
type ULID struct {
	ulid.ULID
	prefix string
}

// GenerateWithPrefix creates a new ULID with the current timestamp and a prefix.
func GenerateWithPrefix(prefix string) ULID {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyLock.Unlock()
	return ULID{id, prefix}
}

// String returns "prefix-ulid", or the bare ULID when there is no prefix.
func (u ULID) String() string {
	if u.prefix != "" {
		return u.prefix + PrefixSeparator + u.ULID.String()
	}
	return u.ULID.String()
}

// LocalID generates a temporary client-side record id
func LocalID() string {
	return GenerateWithPrefix(PrefixLocal).String()
}

// IsLocalID reports whether id was generated by LocalID
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, PrefixLocal+PrefixSeparator)
}

// QueueItemID generates a new sync queue item id
func QueueItemID() string {
	return GenerateWithPrefix(PrefixQueue).String()
}

// RunID generates a new sync run id
func RunID() string {
	return GenerateWithPrefix(PrefixRun).String()
}

// SyncLogID generates a new sync log id
func SyncLogID() string {
	return GenerateWithPrefix(PrefixSyncLog).String()
}

// SettingID generates a new ULID with the setting prefix
func SettingID() string {
	return GenerateWithPrefix(PrefixSetting).String()
}
