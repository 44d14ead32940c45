package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"sync"
	"testing"

	"github.com/csheth/nexus/internal/remote"
	"github.com/csheth/nexus/internal/remotetest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRemoteCache(t *testing.T) (*Cache, *remotetest.Server) {
	t.Helper()
	srv := remotetest.Start(t)
	client, err := remote.New(remote.Config{BaseURL: srv.URL(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	return NewCache(client, quietLogger()), srv
}

func TestCacheIsLazy(t *testing.T) {
	cache, srv := newRemoteCache(t)
	if cache.Loaded() {
		t.Fatal("cache should not be loaded before the first refresh")
	}
	if len(cache.Entries()) != 0 {
		t.Fatalf("expected no entries, got %v", cache.Entries())
	}
	if srv.TotalCalls() != 0 {
		t.Fatalf("no request expected before refresh, got %d", srv.TotalCalls())
	}
}

func TestRefreshReplacesEntries(t *testing.T) {
	cache, srv := newRemoteCache(t)
	srv.SeedHistory(
		remotetest.HistoryItem{ID: 2, Filename: "b.pdf", Date: "2024-05-02 10:00", Summary: "Guía"},
		remotetest.HistoryItem{ID: 1, Filename: "a.pdf", Date: "2024-05-01 09:00", Summary: "Guía"},
	)

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	want := []Entry{
		{ID: 2, Filename: "b.pdf", Date: "2024-05-02 10:00", Summary: "Guía"},
		{ID: 1, Filename: "a.pdf", Date: "2024-05-01 09:00", Summary: "Guía"},
	}
	if got := cache.Entries(); !reflect.DeepEqual(got, want) {
		t.Fatalf("entries mismatch:\n got %+v\nwant %+v", got, want)
	}
	if !cache.Loaded() || cache.LastRefreshed().IsZero() {
		t.Fatal("cache should be marked loaded")
	}

	srv.SeedHistory(remotetest.HistoryItem{ID: 7, Filename: "c.pdf"})
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if got := cache.Entries(); len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("expected whole list replaced, got %+v", got)
	}
}

func TestRefreshSoftFailuresKeepEntries(t *testing.T) {
	tests := []struct {
		name     string
		response remotetest.Response
	}{
		{"server error", remotetest.JSONResponse(http.StatusInternalServerError, map[string]string{"detail": "db down"})},
		{"not a list", remotetest.JSONResponse(http.StatusOK, map[string]string{"status": "ok"})},
		{"null body", remotetest.RawResponse(http.StatusOK, "null")},
		{"not json", remotetest.RawResponse(http.StatusOK, "<html>")},
		{"duplicate ids", remotetest.RawResponse(http.StatusOK, `[{"id":1,"filename":"a.pdf"},{"id":1,"filename":"b.pdf"}]`)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cache, srv := newRemoteCache(t)
			srv.SeedHistory(remotetest.HistoryItem{ID: 1, Filename: "a.pdf"})
			if err := cache.Refresh(context.Background()); err != nil {
				t.Fatalf("initial refresh: %v", err)
			}
			before := cache.Entries()
			at := cache.LastRefreshed()

			srv.Enqueue(http.MethodGet, "/history", tt.response)
			err := cache.Refresh(context.Background())
			var refreshErr *RefreshError
			if !errors.As(err, &refreshErr) {
				t.Fatalf("expected *RefreshError, got %v", err)
			}
			if got := cache.Entries(); !reflect.DeepEqual(got, before) {
				t.Fatalf("entries changed on failure: got %+v want %+v", got, before)
			}
			if !cache.LastRefreshed().Equal(at) {
				t.Fatal("refresh time should not move on failure")
			}
		})
	}
}

func TestRefreshEmptyList(t *testing.T) {
	cache, _ := newRemoteCache(t)
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !cache.Loaded() {
		t.Fatal("an empty list is a successful load")
	}
	if len(cache.Entries()) != 0 {
		t.Fatalf("expected no entries, got %+v", cache.Entries())
	}
}

func TestClearAllRefreshes(t *testing.T) {
	cache, srv := newRemoteCache(t)
	srv.SeedHistory(remotetest.HistoryItem{ID: 1, Filename: "a.pdf"})
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := cache.ClearAll(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if srv.Calls(http.MethodDelete, "/history") != 1 {
		t.Fatalf("expected one delete, got %d", srv.Calls(http.MethodDelete, "/history"))
	}
	if srv.Calls(http.MethodGet, "/history") != 2 {
		t.Fatalf("expected an implicit refresh after clear, got %d gets", srv.Calls(http.MethodGet, "/history"))
	}
	if len(cache.Entries()) != 0 {
		t.Fatalf("expected empty history after clear, got %+v", cache.Entries())
	}
}

func TestClearAllFailureLeavesCache(t *testing.T) {
	cache, srv := newRemoteCache(t)
	srv.SeedHistory(remotetest.HistoryItem{ID: 1, Filename: "a.pdf"})
	_ = cache.Refresh(context.Background())

	srv.Enqueue(http.MethodDelete, "/history", remotetest.JSONResponse(http.StatusInternalServerError, map[string]string{"detail": "nope"}))
	err := cache.ClearAll(context.Background())
	if err == nil {
		t.Fatal("expected clear to fail")
	}
	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) {
		t.Fatalf("a failed delete is not a refresh failure: %v", err)
	}
	if got := cache.Entries(); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("entries changed after failed clear: %+v", got)
	}
	if srv.Calls(http.MethodGet, "/history") != 1 {
		t.Fatalf("no refresh expected after a failed delete, got %d gets", srv.Calls(http.MethodGet, "/history"))
	}
}

func TestClearAllReportsFailedReload(t *testing.T) {
	cache, srv := newRemoteCache(t)
	srv.Enqueue(http.MethodGet, "/history", remotetest.RawResponse(http.StatusBadGateway, "upstream"))

	err := cache.ClearAll(context.Background())
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("expected wrapped *RefreshError, got %v", err)
	}
	if refreshErr.Status != http.StatusBadGateway {
		t.Fatalf("status mismatch: got %d", refreshErr.Status)
	}
}

// gatedSender answers each call with the body scripted for its position,
// releasing calls only when their gate is closed.
type gatedSender struct {
	mu      sync.Mutex
	calls   int
	bodies  []string
	gates   []chan struct{}
	entered chan int
}

func (g *gatedSender) Send(ctx context.Context, endpoint remote.Endpoint, method string, payload remote.Payload) (remote.Outcome, error) {
	g.mu.Lock()
	n := g.calls
	g.calls++
	g.mu.Unlock()

	g.entered <- n
	select {
	case <-g.gates[n]:
	case <-ctx.Done():
		return remote.Outcome{}, &remote.TransportError{Endpoint: endpoint, Method: method, Err: ctx.Err()}
	}
	return remote.Outcome{OK: true, Status: http.StatusOK, Body: []byte(g.bodies[n])}, nil
}

func TestOverlappingRefreshesLastIssuedWins(t *testing.T) {
	sender := &gatedSender{
		bodies: []string{
			`[{"id":1,"filename":"old.pdf"}]`,
			`[{"id":2,"filename":"new.pdf"}]`,
		},
		gates:   []chan struct{}{make(chan struct{}), make(chan struct{})},
		entered: make(chan int, 2),
	}
	cache := NewCache(sender, quietLogger())

	first := make(chan error, 1)
	go func() { first <- cache.Refresh(context.Background()) }()
	<-sender.entered

	second := make(chan error, 1)
	go func() { second <- cache.Refresh(context.Background()) }()
	<-sender.entered

	close(sender.gates[1])
	if err := <-second; err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	close(sender.gates[0])
	err := <-first
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected the older refresh to be discarded, got %v", err)
	}

	got := cache.Entries()
	if len(got) != 1 || got[0].Filename != "new.pdf" {
		t.Fatalf("stale response overwrote newer data: %+v", got)
	}
}

func TestClearAllOvertakenReloadIsSuccess(t *testing.T) {
	sender := &gatedSender{
		bodies: []string{
			``,
			`[{"id":1,"filename":"before.pdf"}]`,
			`[]`,
		},
		gates:   []chan struct{}{make(chan struct{}), make(chan struct{}), make(chan struct{})},
		entered: make(chan int, 3),
	}
	cache := NewCache(sender, quietLogger())
	close(sender.gates[0])

	cleared := make(chan error, 1)
	go func() { cleared <- cache.ClearAll(context.Background()) }()
	<-sender.entered // delete
	<-sender.entered // follow-up refresh

	refreshed := make(chan error, 1)
	go func() { refreshed <- cache.Refresh(context.Background()) }()
	<-sender.entered
	close(sender.gates[2])
	if err := <-refreshed; err != nil {
		t.Fatalf("newer refresh: %v", err)
	}

	close(sender.gates[1])
	if err := <-cleared; err != nil {
		t.Fatalf("clear should succeed when its reload is overtaken, got %v", err)
	}
	if got := cache.Entries(); len(got) != 0 || !cache.Loaded() {
		t.Fatalf("newer refresh should stay applied: %+v", got)
	}
}
