package ulid

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWithPrefix(t *testing.T) {
	prefixes := []string{PrefixLocal, PrefixQueue, PrefixRun, PrefixSyncLog, PrefixSetting}

	for _, prefix := range prefixes {
		id := GenerateWithPrefix(prefix).String()

		require.True(t, strings.HasPrefix(id, prefix+PrefixSeparator), id)
		raw, err := ulid.Parse(strings.TrimPrefix(id, prefix+PrefixSeparator))
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), ulid.Time(raw.Time()), time.Second)
	}
}

func TestStringWithoutPrefix(t *testing.T) {
	id := GenerateWithPrefix("").String()
	assert.Len(t, id, 26)
	assert.NotContains(t, id, PrefixSeparator)
}

func TestLocalID(t *testing.T) {
	id := LocalID()

	assert.True(t, IsLocalID(id))
	assert.False(t, IsLocalID("srv-123"))
	assert.False(t, IsLocalID(QueueItemID()))
}

func TestQueueItemIDsSortByCreation(t *testing.T) {
	ids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		ids = append(ids, QueueItemID())
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	assert.Equal(t, ids, sorted, "monotonic entropy should keep generation order")
}
