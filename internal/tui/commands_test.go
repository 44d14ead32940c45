package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/csheth/nexus/internal/analysis"
)

func TestControllerMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{analysis.ErrBusy, "already running"},
		{analysis.ErrNoDocument, "Load a PDF first"},
		{analysis.ErrNotReady, "press t"},
		{errors.New("odd"), "odd"},
	}
	for _, tc := range cases {
		if got := controllerMessage(tc.err); !strings.Contains(got, tc.want) {
			t.Fatalf("controllerMessage(%v) = %q, want it to contain %q", tc.err, got, tc.want)
		}
	}
}

func TestHumanSize(t *testing.T) {
	cases := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KB",
		1536:    "1.5 KB",
		5 << 20: "5.0 MB",
		3 << 30: "3.0 GB",
	}
	for n, want := range cases {
		if got := humanSize(n); got != want {
			t.Fatalf("humanSize(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestTrimmedName(t *testing.T) {
	if got := trimmedName("  temario.pdf "); got != "temario.pdf" {
		t.Fatalf("short names should only be trimmed, got %q", got)
	}
	long := strings.Repeat("a", 60) + ".pdf"
	got := trimmedName(long)
	if !strings.HasSuffix(got, "…") || len([]rune(got)) != 46 {
		t.Fatalf("long names should be cut to 45 runes plus an ellipsis, got %q", got)
	}
}

func TestLoadDocumentJobReportsError(t *testing.T) {
	boom := errors.New("boom")
	runner := loadDocumentJob(func(string) (analysis.Document, error) {
		return analysis.Document{}, boom
	}, "/tmp/x.pdf")
	msg, err := runner(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	loaded, ok := msg.(documentLoadedMsg)
	if !ok || loaded.path != "/tmp/x.pdf" || !errors.Is(loaded.err, boom) {
		t.Fatalf("unexpected payload %#v", msg)
	}
}
