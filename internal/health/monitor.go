// Package health tracks whether the remote service is reachable.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/csheth/nexus/internal/remote"
)

// State is the last known reachability of the service.
type State int

const (
	Unknown State = iota
	Online
	Offline
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// Sender is the transport used for probes.
type Sender interface {
	Send(ctx context.Context, endpoint remote.Endpoint, method string, payload remote.Payload) (remote.Outcome, error)
}

// Monitor probes the service on demand. It never retries or polls.
type Monitor struct {
	sender Sender
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group

	mu      sync.Mutex
	state   State
	checked time.Time
}

// NewMonitor returns a Monitor in the Unknown state.
func NewMonitor(sender Sender, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{sender: sender, logger: logger, now: time.Now}
}

// Probe pings the service and records the result. Concurrent callers share a
// single request, which runs detached from any one caller's context. A caller
// whose ctx ends first gets the last recorded state.
func (m *Monitor) Probe(ctx context.Context) State {
	ch := m.group.DoChan("ping", func() (any, error) {
		return m.probe(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(State)
	case <-ctx.Done():
		return m.State()
	}
}

func (m *Monitor) probe(ctx context.Context) State {
	state := Offline
	outcome, err := m.sender.Send(ctx, remote.EndpointPing, http.MethodGet, nil)
	switch {
	case err != nil:
		m.logger.Warn("health probe failed", "error", err)
	case outcome.OK:
		state = Online
	default:
		m.logger.Warn("health probe rejected", "status", outcome.Status)
	}

	m.mu.Lock()
	m.state = state
	m.checked = m.now()
	m.mu.Unlock()
	return state
}

// State returns the result of the last completed probe.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CheckedAt returns when the last probe completed, or the zero time.
func (m *Monitor) CheckedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checked
}
