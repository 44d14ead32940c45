package tui

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type jobKind string

const (
	jobKindLoad    jobKind = "load"
	jobKindAnalyze jobKind = "analyze"
	jobKindExport  jobKind = "export"
	jobKindHistory jobKind = "history"
	jobKindClear   jobKind = "clear"
	jobKindProbe   jobKind = "probe"
)

type jobStatus string

const (
	jobStatusRunning   jobStatus = "running"
	jobStatusSucceeded jobStatus = "succeeded"
	jobStatusFailed    jobStatus = "failed"
	jobStatusCanceled  jobStatus = "canceled"
)

type jobSnapshot struct {
	ID          string
	Kind        jobKind
	Status      jobStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Err         string
}

func (s jobSnapshot) Duration() time.Duration {
	if s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

type jobSignalMsg struct {
	Snapshot jobSnapshot
}

type jobResultEnvelope struct {
	Snapshot jobSnapshot
	Payload  tea.Msg
}

// jobRunner does the blocking work of a job and returns the message to feed
// back into Update. The context ends when the program shuts down.
type jobRunner func(context.Context) (tea.Msg, error)

// jobBus runs jobRunners as tea commands and reports their lifecycle.
type jobBus struct {
	seq     atomic.Int64
	running atomic.Int64
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func newJobBus(logger *slog.Logger) *jobBus {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &jobBus{logger: logger, ctx: ctx, cancel: cancel}
}

// Start returns a command that first announces the job and then runs it.
func (b *jobBus) Start(kind jobKind, runner jobRunner) tea.Cmd {
	id := fmt.Sprintf("%s-%d", kind, b.seq.Add(1))
	started := time.Now()
	b.running.Add(1)

	announce := func() tea.Msg {
		return jobSignalMsg{Snapshot: jobSnapshot{ID: id, Kind: kind, Status: jobStatusRunning, StartedAt: started}}
	}
	run := func() tea.Msg {
		defer b.running.Add(-1)
		payload, err := runner(b.ctx)
		snap := jobSnapshot{ID: id, Kind: kind, StartedAt: started, CompletedAt: time.Now()}
		switch {
		case err == nil:
			snap.Status = jobStatusSucceeded
		case b.ctx.Err() != nil:
			snap.Status = jobStatusCanceled
			snap.Err = err.Error()
		default:
			snap.Status = jobStatusFailed
			snap.Err = err.Error()
		}
		b.logger.Info("[jobs] "+string(kind)+" "+string(snap.Status),
			"id", id, "duration", snap.Duration(), "error", err)
		return jobResultEnvelope{Snapshot: snap, Payload: payload}
	}
	return tea.Sequence(announce, run)
}

// Running reports how many started jobs have not finished.
func (b *jobBus) Running() int {
	return int(b.running.Load())
}

// Shutdown cancels the context every job runs under.
func (b *jobBus) Shutdown() {
	b.cancel()
}
