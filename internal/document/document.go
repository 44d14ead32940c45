// Package document loads user-selected files into memory for analysis.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/csheth/nexus/internal/analysis"
)

// DefaultMaxBytes bounds how much of a file is read into memory.
const DefaultMaxBytes int64 = 50 << 20

var (
	// ErrEmpty is returned for zero-byte files.
	ErrEmpty = errors.New("document: file is empty")
	// ErrTooLarge is returned when a file exceeds the configured limit.
	ErrTooLarge = errors.New("document: file is too large")
	// ErrNotRegular is returned for directories and other non-regular files.
	ErrNotRegular = errors.New("document: not a regular file")
)

// Options controls Load.
type Options struct {
	MaxBytes int64
}

// Load reads the file at path. PDFs are inspected for their page count;
// files that are not PDFs, or that fail to parse, keep Pages at zero and are
// still returned so the service can give its own verdict.
func Load(path string, opts Options) (analysis.Document, error) {
	path = expandHome(strings.TrimSpace(path))
	if path == "" {
		return analysis.Document{}, fmt.Errorf("document: path is required")
	}
	limit := opts.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	file, err := os.Open(path)
	if err != nil {
		return analysis.Document{}, fmt.Errorf("document: open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return analysis.Document{}, fmt.Errorf("document: stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return analysis.Document{}, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}
	if info.Size() > limit {
		return analysis.Document{}, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, filepath.Base(path), info.Size(), limit)
	}

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return analysis.Document{}, fmt.Errorf("document: read %s: %w", path, err)
	}
	if int64(len(data)) > limit {
		return analysis.Document{}, fmt.Errorf("%w: %s (limit %d)", ErrTooLarge, filepath.Base(path), limit)
	}
	if len(data) == 0 {
		return analysis.Document{}, fmt.Errorf("%w: %s", ErrEmpty, path)
	}

	doc := analysis.Document{
		Name: filepath.Base(path),
		Size: int64(len(data)),
		Data: data,
	}
	if IsPDF(doc.Name, data) {
		doc.Pages = PageCount(data)
	}
	return doc, nil
}

// IsPDF reports whether the name or the leading bytes look like a PDF.
func IsPDF(name string, data []byte) bool {
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// PageCount returns the number of pages in data, or zero when it cannot be
// parsed.
func PageCount(data []byte) (pages int) {
	defer func() {
		// the reader panics on some truncated cross-reference tables
		if recover() != nil {
			pages = 0
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0
	}
	return reader.NumPage()
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
