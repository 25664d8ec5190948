package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/shopsync/internal/config"
	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/remote"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHTTPProbeOnline(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "healthy", want: true},
		{name: "unhealthy answer", err: &remote.APIError{StatusCode: http.StatusServiceUnavailable}, want: true},
		{name: "unreachable", err: errors.New("dial tcp: connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewHTTPProbe(pingerFunc(func(context.Context) error { return tt.err }), time.Second, true, loggy.NewNoopLogger())
			assert.Equal(t, tt.want, p.Online(context.Background()))
		})
	}
}

func TestHTTPProbeShouldRun(t *testing.T) {
	ping := pingerFunc(func(context.Context) error { return nil })
	assert.True(t, NewHTTPProbe(ping, 0, true, loggy.NewNoopLogger()).ShouldRun())
	assert.False(t, NewHTTPProbe(ping, 0, false, loggy.NewNoopLogger()).ShouldRun())
}

func TestHTTPProbeWatchReportsTransitions(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			// a hijacked connection closed without an answer looks like a network failure
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := remote.NewClient(config.ServerConfig{URL: srv.URL, Timeout: time.Second}, loggy.NewNoopLogger())
	p := NewHTTPProbe(client, 5*time.Millisecond, true, loggy.NewNoopLogger())

	var mu sync.Mutex
	var seen []bool
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Watch(ctx, func(online bool) {
			mu.Lock()
			seen = append(seen, online)
			mu.Unlock()
		})
	}()

	observed := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), seen...)
	}

	require.Eventually(t, func() bool { return len(observed()) == 1 }, time.Second, time.Millisecond)
	down.Store(true)
	require.Eventually(t, func() bool { return len(observed()) == 2 }, time.Second, time.Millisecond)
	down.Store(false)
	require.Eventually(t, func() bool { return len(observed()) == 3 }, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, []bool{true, false, true}, observed())
}

func TestStaticProbeWatch(t *testing.T) {
	p := NewStaticProbe(true, false)
	assert.True(t, p.ShouldRun())
	assert.False(t, p.Online(context.Background()))

	got := make(chan bool, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Watch(ctx, func(online bool) { got <- online })
	}()

	require.Eventually(t, func() bool {
		p.Set(true)
		select {
		case online := <-got:
			return online
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.True(t, p.Online(context.Background()))

	cancel()
	<-done

	p.mu.Lock()
	assert.Empty(t, p.watchers)
	p.mu.Unlock()
}
