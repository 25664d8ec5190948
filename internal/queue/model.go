// Package queue holds the sync queue: one row per local mutation waiting to reach the remote.
package queue

import (
	"errors"
	"time"

	"github.com/tildaslashalef/shopsync/internal/records"
)

// ErrItemNotFound is returned when a queue item id does not exist
var ErrItemNotFound = errors.New("queue item not found")

// Item is one mutation intent. It is only removed once the remote confirmed it.
type Item struct {
	ID         string
	Operation  records.Operation
	EntityType records.EntityType
	RecordID   string
	Data       map[string]any
	RetryCount int
	LastError  string
	EnqueuedAt time.Time
}

// Exhausted reports whether the item failed more often than threshold allows
func (i *Item) Exhausted(threshold int) bool {
	return i.RetryCount > threshold
}
