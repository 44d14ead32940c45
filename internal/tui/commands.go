package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/nexus/internal/analysis"
	"github.com/csheth/nexus/internal/export"
	"github.com/csheth/nexus/internal/health"
	"github.com/csheth/nexus/internal/history"
)

type documentLoadedMsg struct {
	path string
	doc  analysis.Document
	err  error
}

type analysisResultMsg struct {
	completion analysis.Completion
}

type exportResultMsg struct {
	artifact export.Artifact
	err      error
}

type historyResultMsg struct {
	cleared bool
	err     error
}

type probeResultMsg struct {
	state health.State
}

func loadDocumentJob(load func(string) (analysis.Document, error), path string) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		doc, err := load(path)
		return documentLoadedMsg{path: path, doc: doc, err: err}, err
	}
}

func analyzeJob(ctrl *analysis.Controller, req *analysis.Request) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		completion := ctrl.Execute(parent, req)
		var err error
		if completion.Failure != nil {
			err = completion.Failure
		}
		return analysisResultMsg{completion: completion}, err
	}
}

func exportJob(handler *export.Handler, result analysis.Result, suggestedName string) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		ctx, cancel := context.WithTimeout(parent, 2*time.Minute)
		defer cancel()
		artifact, err := handler.ExportToFile(ctx, &result, suggestedName)
		return exportResultMsg{artifact: artifact, err: err}, err
	}
}

func refreshHistoryJob(cache *history.Cache) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		err := cache.Refresh(parent)
		if errors.Is(err, history.ErrStale) {
			// a newer refresh already landed
			err = nil
		}
		return historyResultMsg{err: err}, err
	}
}

func clearHistoryJob(cache *history.Cache) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		err := cache.ClearAll(parent)
		return historyResultMsg{cleared: true, err: err}, err
	}
}

func probeJob(monitor *health.Monitor) jobRunner {
	return func(parent context.Context) (tea.Msg, error) {
		state := monitor.Probe(parent)
		if state != health.Online {
			return probeResultMsg{state: state}, fmt.Errorf("service %s", state)
		}
		return probeResultMsg{state: state}, nil
	}
}

func trimmedName(value string) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= 48 {
		return value
	}
	return strings.TrimSpace(string(runes[:45])) + "…"
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}

// controllerMessage turns a rejected controller call into a status line.
func controllerMessage(err error) string {
	switch {
	case errors.Is(err, analysis.ErrBusy):
		return "An analysis is already running. Wait for it to finish."
	case errors.Is(err, analysis.ErrNoDocument):
		return "Load a PDF first."
	case errors.Is(err, analysis.ErrNotReady):
		return "Load a PDF again, or press t to retry the same file."
	default:
		return err.Error()
	}
}
