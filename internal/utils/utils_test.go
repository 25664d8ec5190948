package utils

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeviceName(t *testing.T) {
	name := DeviceName()
	assert.NotEmpty(t, name)
	assert.NotContains(t, name, "_")
	assert.Contains(t, name, "-")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"connection refused by host", 12, "connectio..."},
		{"ডিম ও চাল", 5, "ডি..."},
		{"abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.max))
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", FormatTime(nil))
	assert.Equal(t, "-", FormatTime(&time.Time{}))

	ts := time.Date(2026, 5, 1, 9, 30, 0, 0, time.Local)
	assert.Equal(t, "May 01 09:30:00", FormatTime(&ts))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	prev := Output
	Output = &buf
	t.Cleanup(func() { Output = prev })

	PrintTable("Queue", []string{"ID", "Type"}, [][]string{{"sq-1", "product"}})
	assert.Contains(t, buf.String(), "sq-1")
	assert.Contains(t, buf.String(), "product")

	buf.Reset()
	PrintTable("Queue", []string{"ID"}, nil)
	assert.Contains(t, buf.String(), "No records found.")
}
