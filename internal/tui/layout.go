package tui

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/muesli/reflow/wordwrap"

	"github.com/csheth/nexus/internal/analysis"
)

type pageLayout struct {
	windowWidth    int
	windowHeight   int
	viewportWidth  int
	viewportHeight int
	tableHeight    int
}

func newPageLayout() pageLayout {
	return pageLayout{
		viewportWidth:  80,
		viewportHeight: 12,
		tableHeight:    10,
	}
}

func (l *pageLayout) Update(width, height int) {
	l.windowWidth = width
	l.windowHeight = height
	innerWidth := width - viewportHorizontalPadding
	if innerWidth < minViewportWidth {
		innerWidth = minViewportWidth
	}
	l.viewportWidth = innerWidth
	// logo, tagline, tab bar, status lines and the session meter
	const chrome = 18
	usable := height - chrome
	if usable < 6 {
		usable = 6
	}
	l.viewportHeight = usable
	l.tableHeight = usable - 2
	if l.tableHeight < 4 {
		l.tableHeight = 4
	}
}

type contentBuilder struct {
	builder strings.Builder
	lines   int
}

func (cb *contentBuilder) WriteString(s string) {
	cb.builder.WriteString(s)
	cb.lines += strings.Count(s, "\n")
}

func (cb *contentBuilder) WriteRune(r rune) {
	cb.builder.WriteRune(r)
	if r == '\n' {
		cb.lines++
	}
}

func (cb *contentBuilder) String() string {
	return cb.builder.String()
}

func (cb *contentBuilder) Line() int {
	return cb.lines
}

// buildResultPreview renders a short look at the analysis: the first
// temario entry when there is one, otherwise the whole payload, as indented
// JSON cut to resultPreviewLimit runes. Top-level keys are listed after it.
func buildResultPreview(result *analysis.Result, wrap int) string {
	cb := &contentBuilder{}
	cb.WriteString(sectionHeaderStyle.Render("Preview"))
	cb.WriteRune('\n')

	var subject any = result.Analysis
	if items, ok := result.Analysis["temario"].([]any); ok && len(items) > 0 {
		subject = items[0]
		cb.WriteString(helperStyle.Render("First of " + pluralize(len(items), "temario entry", "temario entries")))
		cb.WriteRune('\n')
	}
	raw, err := json.MarshalIndent(subject, "", "  ")
	if err != nil {
		cb.WriteString(errorStyle.Render("The analysis could not be rendered: " + err.Error()))
		cb.WriteRune('\n')
		return cb.String()
	}
	body := previewText(string(raw), resultPreviewLimit)
	cb.WriteString(indentMultiline(wordwrap.String(body, wrap), "  "))
	cb.WriteRune('\n')

	keys := make([]string, 0, len(result.Analysis))
	for key := range result.Analysis {
		keys = append(keys, key)
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		cb.WriteRune('\n')
		cb.WriteString(sectionHeaderStyle.Render("Sections"))
		cb.WriteRune('\n')
		for _, key := range keys {
			cb.WriteString(" • ")
			cb.WriteString(key)
			cb.WriteRune('\n')
		}
	}
	return cb.String()
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.Itoa(n) + " " + many
}

func indentMultiline(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func (m *model) wrapWidth(padding int) int {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}
	if padding < 0 {
		padding = 0
	}
	available := width - padding
	if available < 20 {
		available = 20
	}
	return available
}

func previewText(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
