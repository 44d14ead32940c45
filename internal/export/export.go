// Package export renders an analysis into a PDF through the remote service
// and hands the bytes to a Sink.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/csheth/nexus/internal/analysis"
	"github.com/csheth/nexus/internal/remote"
)

const (
	// DefaultSuffix replaces the .pdf extension of exported files.
	DefaultSuffix = "_ApuntesPRO.pdf"
	defaultName   = "doc"
)

// ErrNoResult is returned when there is nothing to export.
var ErrNoResult = errors.New("export: no analysis result to export")

// Error is an export that did not produce a usable artifact. Nothing is saved
// when it is returned.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("export failed: %s: %v", e.Message, e.Err)
	}
	return "export failed: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Kind classifies every export error as analysis.ExportFailed.
func (e *Error) Kind() analysis.Kind { return analysis.ExportFailed }

// Sender is the transport used to render the PDF.
type Sender interface {
	Send(ctx context.Context, endpoint remote.Endpoint, method string, payload remote.Payload) (remote.Outcome, error)
}

// Sink stores a finished artifact and reports where it went.
type Sink interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Artifact describes a saved export.
type Artifact struct {
	Name     string
	Location string
	Size     int64
	Pages    int
}

// Handler exports analysis results. It holds no state between calls.
type Handler struct {
	sender Sender
	sink   Sink
	suffix string
	logger *slog.Logger
}

// Option customises a Handler.
type Option func(*Handler)

// WithSuffix overrides DefaultSuffix.
func WithSuffix(suffix string) Option {
	return func(h *Handler) {
		if strings.TrimSpace(suffix) != "" {
			h.suffix = suffix
		}
	}
}

// WithLogger sets the handler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler builds a Handler that renders through sender and saves to sink.
func NewHandler(sender Sender, sink Sink, opts ...Option) *Handler {
	h := &Handler{sender: sender, sink: sink, suffix: DefaultSuffix, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ExportToFile asks the service to render result as a PDF and saves it under
// a name derived from suggestedName.
func (h *Handler) ExportToFile(ctx context.Context, result *analysis.Result, suggestedName string) (Artifact, error) {
	if result == nil || result.Analysis == nil {
		return Artifact{}, ErrNoResult
	}
	if strings.TrimSpace(suggestedName) == "" {
		suggestedName = result.Filename
	}
	if strings.TrimSpace(suggestedName) == "" {
		suggestedName = defaultName
	}
	name := ArtifactName(suggestedName, h.suffix)

	payload := remote.JSON{Value: map[string]any{"data": result.Analysis, "filename": suggestedName}}
	outcome, err := h.sender.Send(ctx, remote.EndpointGeneratePDF, http.MethodPost, payload)
	if err != nil {
		return Artifact{}, h.fail(&Error{Message: "could not reach the PDF service", Err: err})
	}
	if !outcome.OK {
		return Artifact{}, h.fail(&Error{Status: outcome.Status,
			Message: fmt.Sprintf("the PDF service returned %d %s", outcome.Status, http.StatusText(outcome.Status))})
	}
	if len(outcome.Body) == 0 {
		return Artifact{}, h.fail(&Error{Status: outcome.Status, Message: "the PDF service returned an empty document"})
	}
	pages, err := inspect(outcome.Body)
	if err != nil {
		return Artifact{}, h.fail(&Error{Status: outcome.Status, Message: "the PDF service returned an invalid document", Err: err})
	}

	location, err := h.sink.Save(ctx, name, outcome.Body)
	if err != nil {
		return Artifact{}, h.fail(&Error{Message: "could not save the document", Err: err})
	}
	artifact := Artifact{Name: name, Location: location, Size: int64(len(outcome.Body)), Pages: pages}
	h.logger.Info("export saved", "name", name, "location", location, "bytes", artifact.Size, "pages", pages)
	return artifact, nil
}

func (h *Handler) fail(err *Error) error {
	h.logger.Warn("export failed", "status", err.Status, "error", err)
	return err
}

// ArtifactName derives the saved file name: a trailing .pdf (any case) is
// replaced by suffix, other names get suffix appended.
func ArtifactName(suggested, suffix string) string {
	name := strings.TrimSpace(suggested)
	if name == "" {
		name = defaultName
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if len(name) >= 4 && strings.EqualFold(name[len(name)-4:], ".pdf") {
		name = name[:len(name)-4]
	}
	return name + suffix
}

var disableConfigDir sync.Once

// inspect validates data as a PDF and returns its page count.
func inspect(data []byte) (int, error) {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return 0, err
	}
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, err
	}
	return pages, nil
}
