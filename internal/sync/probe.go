package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tildaslashalef/shopsync/internal/loggy"
	"github.com/tildaslashalef/shopsync/internal/remote"
)

// Probe reports whether the engine should run on this client and whether the remote is reachable
type Probe interface {
	// ShouldRun reports whether this client syncs at all
	ShouldRun() bool
	// Online checks connectivity once
	Online(ctx context.Context) bool
	// Watch calls fn with connectivity changes until ctx is done
	Watch(ctx context.Context, fn func(online bool))
}

// Pinger checks that the remote answers
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPProbe polls the remote's health endpoint and reports transitions
type HTTPProbe struct {
	pinger     Pinger
	interval   time.Duration
	timeout    time.Duration
	standalone bool
	logger     *loggy.Logger
}

// NewHTTPProbe creates a probe pinging the remote every interval
func NewHTTPProbe(pinger Pinger, interval time.Duration, standalone bool, logger *loggy.Logger) *HTTPProbe {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HTTPProbe{
		pinger:     pinger,
		interval:   interval,
		timeout:    5 * time.Second,
		standalone: standalone,
		logger:     logger,
	}
}

// ShouldRun reports whether the client is configured as a standalone install
func (p *HTTPProbe) ShouldRun() bool {
	return p.standalone
}

// Online pings the remote once. Any HTTP answer, even an error status, means the network is up.
func (p *HTTPProbe) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	if err == nil {
		return true
	}

	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		p.logger.Debug("Remote reachable but unhealthy", "error", err)
		return true
	}

	p.logger.Debug("Remote unreachable", "error", err)
	return false
}

// Watch reports the first observed state, then every change, until ctx is done
func (p *HTTPProbe) Watch(ctx context.Context, fn func(online bool)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := p.Online(ctx)
	if ctx.Err() != nil {
		return
	}
	fn(last)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := p.Online(ctx)
			if ctx.Err() != nil {
				return
			}
			if online != last {
				p.logger.Info("Connectivity changed", "online", online)
				last = online
				fn(online)
			}
		}
	}
}

// StaticProbe reports fixed answers; changes are pushed with Set
type StaticProbe struct {
	mu       sync.Mutex
	run      bool
	online   bool
	watchers []chan bool
}

// NewStaticProbe creates a probe with a fixed run decision and an initial connectivity state
func NewStaticProbe(run, online bool) *StaticProbe {
	return &StaticProbe{run: run, online: online}
}

// ShouldRun returns the fixed run decision
func (p *StaticProbe) ShouldRun() bool {
	return p.run
}

// Online returns the current connectivity state
func (p *StaticProbe) Online(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Set changes the connectivity state and notifies watchers
func (p *StaticProbe) Set(online bool) {
	p.mu.Lock()
	p.online = online
	watchers := append([]chan bool(nil), p.watchers...)
	p.mu.Unlock()

	// the latest state replaces one the watcher has not consumed yet
	for _, ch := range watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- online:
		default:
		}
	}
}

// Watch forwards Set calls to fn until ctx is done
func (p *StaticProbe) Watch(ctx context.Context, fn func(online bool)) {
	ch := make(chan bool, 1)
	p.mu.Lock()
	p.watchers = append(p.watchers, ch)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		for i, w := range p.watchers {
			if w == ch {
				p.watchers = append(p.watchers[:i], p.watchers[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case online := <-ch:
			fn(online)
		}
	}
}
