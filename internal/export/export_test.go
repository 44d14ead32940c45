package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/csheth/nexus/internal/analysis"
	"github.com/csheth/nexus/internal/pdftest"
	"github.com/csheth/nexus/internal/remote"
	"github.com/csheth/nexus/internal/remotetest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(t *testing.T, sink Sink) (*Handler, *remotetest.Server) {
	t.Helper()
	srv := remotetest.Start(t)
	client, err := remote.New(remote.Config{BaseURL: srv.URL(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	return NewHandler(client, sink, WithLogger(quietLogger())), srv
}

func sampleResult() *analysis.Result {
	return &analysis.Result{
		Filename: "Temario.pdf",
		Analysis: map[string]any{"temario": []any{map[string]any{"tema": "Uno", "resumen": "..."}}},
	}
}

func TestArtifactName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		suggested string
		want      string
	}{
		{"Temario.pdf", "Temario_ApuntesPRO.pdf"},
		{"SCAN.PDF", "SCAN_ApuntesPRO.pdf"},
		{"notes", "notes_ApuntesPRO.pdf"},
		{"archive.pdf.zip", "archive.pdf.zip_ApuntesPRO.pdf"},
		{"", "doc_ApuntesPRO.pdf"},
		{"  ", "doc_ApuntesPRO.pdf"},
	}
	for _, tt := range tests {
		if got := ArtifactName(tt.suggested, ""); got != tt.want {
			t.Fatalf("ArtifactName(%q) = %q, want %q", tt.suggested, got, tt.want)
		}
	}
	if got := ArtifactName("a.pdf", "-study.pdf"); got != "a-study.pdf" {
		t.Fatalf("custom suffix ignored: %q", got)
	}
}

func TestExportWithoutResultMakesNoRequest(t *testing.T) {
	sink := NewDirSink(t.TempDir())
	h, srv := newHandler(t, sink)

	for _, result := range []*analysis.Result{nil, {Filename: "x.pdf"}} {
		_, err := h.ExportToFile(context.Background(), result, "x.pdf")
		if !errors.Is(err, ErrNoResult) {
			t.Fatalf("expected ErrNoResult, got %v", err)
		}
	}
	if srv.TotalCalls() != 0 {
		t.Fatalf("no request expected, got %d", srv.TotalCalls())
	}
	entries, _ := os.ReadDir(sink.Dir)
	if len(entries) != 0 {
		t.Fatalf("no file expected, got %d", len(entries))
	}
}

func TestExportSavesValidatedPDF(t *testing.T) {
	dir := t.TempDir()
	h, srv := newHandler(t, NewDirSink(dir))

	artifact, err := h.ExportToFile(context.Background(), sampleResult(), "Temario.pdf")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if artifact.Name != "Temario_ApuntesPRO.pdf" {
		t.Fatalf("name mismatch: got %q", artifact.Name)
	}
	if artifact.Location != filepath.Join(dir, "Temario_ApuntesPRO.pdf") {
		t.Fatalf("location mismatch: got %q", artifact.Location)
	}
	if artifact.Pages != 1 {
		t.Fatalf("pages mismatch: got %d", artifact.Pages)
	}
	data, err := os.ReadFile(artifact.Location)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if int64(len(data)) != artifact.Size || !strings.HasPrefix(string(data), "%PDF-") {
		t.Fatalf("artifact content mismatch (%d bytes)", len(data))
	}

	rec, ok := srv.LastRequest(http.MethodPost, "/generate-pdf")
	if !ok {
		t.Fatal("generate-pdf not called")
	}
	var body struct {
		Data     map[string]any `json:"data"`
		Filename string         `json:"filename"`
	}
	if err := json.Unmarshal(rec.Body, &body); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if body.Filename != "Temario.pdf" {
		t.Fatalf("filename mismatch: got %q", body.Filename)
	}
	if _, ok := body.Data["temario"]; !ok {
		t.Fatalf("analysis not forwarded: %#v", body.Data)
	}
}

func TestExportFallsBackToResultFilename(t *testing.T) {
	dir := t.TempDir()
	h, _ := newHandler(t, NewDirSink(dir))

	artifact, err := h.ExportToFile(context.Background(), sampleResult(), "")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if artifact.Name != "Temario_ApuntesPRO.pdf" {
		t.Fatalf("name mismatch: got %q", artifact.Name)
	}
}

func TestExportFailuresLeaveNoFile(t *testing.T) {
	tests := []struct {
		name     string
		response remotetest.Response
		status   int
	}{
		{"server error", remotetest.JSONResponse(http.StatusInternalServerError, map[string]string{"detail": "boom"}), http.StatusInternalServerError},
		{"empty body", remotetest.Response{Status: http.StatusOK, ContentType: "application/pdf"}, http.StatusOK},
		{"not a pdf", remotetest.RawResponse(http.StatusOK, "<html>error page</html>"), http.StatusOK},
		{"truncated pdf", remotetest.Response{Status: http.StatusOK, Body: pdftest.Minimal(2)[:20], ContentType: "application/pdf"}, http.StatusOK},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			h, srv := newHandler(t, NewDirSink(dir))
			srv.Enqueue(http.MethodPost, "/generate-pdf", tt.response)

			_, err := h.ExportToFile(context.Background(), sampleResult(), "Temario.pdf")
			var exportErr *Error
			if !errors.As(err, &exportErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if exportErr.Status != tt.status {
				t.Fatalf("status mismatch: got %d want %d", exportErr.Status, tt.status)
			}
			if kind, ok := analysis.KindOf(err); !ok || kind != analysis.ExportFailed {
				t.Fatalf("expected ExportFailed kind, got %v", kind)
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Fatalf("no file should be written, found %v", entries)
			}
		})
	}
}

func TestExportTransportFailure(t *testing.T) {
	dir := t.TempDir()
	h, srv := newHandler(t, NewDirSink(dir))
	srv.HTTP.Close()

	_, err := h.ExportToFile(context.Background(), sampleResult(), "Temario.pdf")
	var exportErr *Error
	if !errors.As(err, &exportErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !remote.IsTransport(err) {
		t.Fatalf("transport cause should be preserved, got %v", err)
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	f.calls++
	return "", errors.New("disk full")
}

func TestExportSinkFailure(t *testing.T) {
	sink := &failingSink{}
	h, _ := newHandler(t, sink)

	_, err := h.ExportToFile(context.Background(), sampleResult(), "Temario.pdf")
	var exportErr *Error
	if !errors.As(err, &exportErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("expected one save attempt, got %d", sink.calls)
	}
}
