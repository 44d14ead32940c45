package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/csheth/nexus/internal/remote"
	"github.com/csheth/nexus/internal/remotetest"
)

func newMonitor(t *testing.T) (*Monitor, *remotetest.Server) {
	t.Helper()
	srv := remotetest.Start(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := remote.New(remote.Config{BaseURL: srv.URL(), Logger: logger})
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	return NewMonitor(client, logger), srv
}

func TestMonitorStartsUnknown(t *testing.T) {
	m, srv := newMonitor(t)
	if m.State() != Unknown {
		t.Fatalf("state mismatch: got %v", m.State())
	}
	if !m.CheckedAt().IsZero() {
		t.Fatal("no probe has completed yet")
	}
	if srv.TotalCalls() != 0 {
		t.Fatalf("monitor should not probe on its own, got %d calls", srv.TotalCalls())
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name     string
		response *remotetest.Response
		want     State
	}{
		{"online", nil, Online},
		{"server error", &remotetest.Response{Status: http.StatusServiceUnavailable}, Offline},
		{"dropped", &remotetest.Response{Drop: true}, Offline},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m, srv := newMonitor(t)
			if tt.response != nil {
				srv.Enqueue(http.MethodGet, "/", *tt.response)
			}
			if got := m.Probe(context.Background()); got != tt.want {
				t.Fatalf("probe mismatch: got %v want %v", got, tt.want)
			}
			if m.State() != tt.want {
				t.Fatalf("state mismatch: got %v want %v", m.State(), tt.want)
			}
			if m.CheckedAt().IsZero() {
				t.Fatal("checked time not recorded")
			}
			if srv.Calls(http.MethodGet, "/") != 1 {
				t.Fatalf("probe must not retry, got %d calls", srv.Calls(http.MethodGet, "/"))
			}
		})
	}
}

func TestProbeUnreachable(t *testing.T) {
	m, srv := newMonitor(t)
	srv.HTTP.Close()
	if got := m.Probe(context.Background()); got != Offline {
		t.Fatalf("probe mismatch: got %v want %v", got, Offline)
	}
}

func TestProbeRecovers(t *testing.T) {
	m, srv := newMonitor(t)
	srv.Enqueue(http.MethodGet, "/", remotetest.Response{Status: http.StatusBadGateway})
	if got := m.Probe(context.Background()); got != Offline {
		t.Fatalf("first probe: got %v", got)
	}
	if got := m.Probe(context.Background()); got != Online {
		t.Fatalf("second probe: got %v", got)
	}
}

type countingSender struct {
	mu      sync.Mutex
	calls   int
	gate    chan struct{}
	entered chan struct{}
}

func (c *countingSender) Send(ctx context.Context, endpoint remote.Endpoint, method string, payload remote.Payload) (remote.Outcome, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	c.entered <- struct{}{}
	<-c.gate
	return remote.Outcome{OK: true, Status: http.StatusOK}, nil
}

func TestConcurrentProbesShareRequest(t *testing.T) {
	sender := &countingSender{gate: make(chan struct{}), entered: make(chan struct{}, 3)}
	m := NewMonitor(sender, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var wg sync.WaitGroup
	results := make([]State, 3)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.Probe(context.Background())
		}()
	}
	<-sender.entered
	// let the other callers join the in-flight probe
	time.Sleep(50 * time.Millisecond)
	close(sender.gate)
	wg.Wait()

	for i, got := range results {
		if got != Online {
			t.Fatalf("probe %d: got %v", i, got)
		}
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.calls != 1 {
		t.Fatalf("expected one shared request, got %d", sender.calls)
	}
}

// contextSender blocks until released and fails if its context has ended.
type contextSender struct {
	gate    chan struct{}
	entered chan struct{}
}

func (c *contextSender) Send(ctx context.Context, endpoint remote.Endpoint, method string, payload remote.Payload) (remote.Outcome, error) {
	c.entered <- struct{}{}
	select {
	case <-c.gate:
	case <-ctx.Done():
		return remote.Outcome{}, &remote.TransportError{Endpoint: endpoint, Method: method, Err: ctx.Err()}
	}
	return remote.Outcome{OK: true, Status: http.StatusOK}, nil
}

func TestCanceledCallerDoesNotFailSharedProbe(t *testing.T) {
	sender := &contextSender{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := NewMonitor(sender, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan State, 1)
	go func() { first <- m.Probe(ctx) }()
	<-sender.entered

	second := make(chan State, 1)
	go func() { second <- m.Probe(context.Background()) }()
	// let the second caller join the in-flight probe
	time.Sleep(50 * time.Millisecond)

	cancel()
	if got := <-first; got != Unknown {
		t.Fatalf("canceled caller should get the last recorded state, got %v", got)
	}
	close(sender.gate)
	if got := <-second; got != Online {
		t.Fatalf("second caller mismatch: got %v want %v", got, Online)
	}
	if m.State() != Online {
		t.Fatalf("state mismatch: got %v want %v", m.State(), Online)
	}
}
