package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/csheth/nexus/internal/analysis"
	"github.com/csheth/nexus/internal/health"
)

func (m *model) View() string {
	parts := []string{m.heroView(), m.tabBarView()}
	switch m.tab {
	case tabHistory:
		parts = append(parts, m.historyView())
	case tabSystem:
		parts = append(parts, m.systemView())
	default:
		parts = append(parts, m.dashboardView())
	}
	parts = append(parts, m.statusView())
	if m.helpVisible {
		parts = append(parts, m.keyLegendView())
	}
	parts = append(parts, m.sessionMeterView())
	return joinNonEmpty(parts)
}

func (m *model) heroView() string {
	logo := renderLogo()
	doc := m.snap.Document
	if doc == nil {
		return lipgloss.JoinVertical(lipgloss.Left, logo, taglineStyle.Render(heroTagline))
	}

	title := heroTitleStyle.Render(wordwrap.String(doc.Name, 40))
	meta := []string{helperStyle.Render("Size: " + humanSize(doc.Size))}
	if doc.Pages > 0 {
		meta = append(meta, helperStyle.Render(pluralize(doc.Pages, "page", "pages")))
	}
	meta = append(meta, helperStyle.Render("State: "+m.snap.State.String()))
	content := strings.Join(append([]string{title}, meta...), "\n")
	panel := lipgloss.JoinHorizontal(lipgloss.Top, logo, heroSummaryStyle.Render(heroBoxStyle.Render(content)))
	return lipgloss.JoinVertical(lipgloss.Left, panel, taglineStyle.Render(heroTagline))
}

func (m *model) tabBarView() string {
	cells := make([]string, 0, len(tabSequence))
	for i, t := range tabSequence {
		label := fmt.Sprintf("%d %s", i+1, t.title())
		if t == m.tab {
			cells = append(cells, activeTabStyle.Render(label))
		} else {
			cells = append(cells, inactiveTabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func (m *model) dashboardView() string {
	cb := &contentBuilder{}
	cb.WriteString(sectionHeaderStyle.Render("Document"))
	cb.WriteRune('\n')
	cb.WriteString(m.pathInput.View())
	cb.WriteRune('\n')
	if m.loadingDocument {
		cb.WriteString(helperStyle.Render(m.spinner.View() + " Reading file…"))
		cb.WriteRune('\n')
	}
	cb.WriteRune('\n')

	switch m.snap.State {
	case analysis.Idle:
		cb.WriteString(helperStyle.Render("No PDF selected. Press o to type a path."))
	case analysis.FileSelected:
		cb.WriteString(helperStyle.Render("Ready. Press Enter or s to create the study guide."))
	case analysis.Submitting:
		cb.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), helperStyle.Render("Analysing… this can take a few minutes for long documents.")))
	case analysis.Succeeded:
		m.refreshPreviewIfDirty()
		cb.WriteString(successStyle.Render("Study guide ready"))
		cb.WriteRune('\n')
		cb.WriteString(previewBoxStyle.Render(m.viewport.View()))
		cb.WriteRune('\n')
		cb.WriteString(m.exportStatusView())
	case analysis.Failed:
		cb.WriteString(m.failureView())
	}
	return cb.String()
}

func (m *model) failureView() string {
	failure := m.snap.Failure
	if failure == nil {
		return errorStyle.Render("The analysis failed.")
	}
	lines := []string{
		errorStyle.Render("Analysis failed (" + failure.Kind.String() + ")"),
		wordwrap.String(failure.Message, m.wrapWidth(4)),
	}
	if failure.Status > 0 {
		lines = append(lines, helperStyle.Render(fmt.Sprintf("HTTP %d", failure.Status)))
	}
	lines = append(lines, helperStyle.Render("Press t to retry or o to choose another PDF."))
	return strings.Join(lines, "\n")
}

func (m *model) exportStatusView() string {
	switch {
	case m.exporting:
		return helperStyle.Render(m.spinner.View() + " Rendering PDF…")
	case m.lastArtifact != nil:
		a := m.lastArtifact
		line := fmt.Sprintf("Exported %s (%s", a.Name, humanSize(a.Size))
		if a.Pages > 0 {
			line += ", " + pluralize(a.Pages, "page", "pages")
		}
		line += ") to " + a.Location
		return successStyle.Render(line)
	case m.config.Exporter == nil:
		return helperStyle.Render("Export is not configured.")
	default:
		return helperStyle.Render("Press e to export the study guide as a PDF.")
	}
}

func (m *model) historyView() string {
	if m.config.History == nil {
		return helperStyle.Render("History is not available.")
	}
	cb := &contentBuilder{}
	cb.WriteString(sectionHeaderStyle.Render("History"))
	cb.WriteRune('\n')
	if m.historyLoading {
		cb.WriteString(helperStyle.Render(m.spinner.View() + " Refreshing…"))
		cb.WriteRune('\n')
	}
	if m.historyError != "" {
		cb.WriteString(errorStyle.Render(m.historyError))
		cb.WriteRune('\n')
	}
	switch {
	case !m.config.History.Loaded() && !m.historyLoading:
		cb.WriteString(helperStyle.Render("Press R to load the history."))
		cb.WriteRune('\n')
	case m.config.History.Loaded() && len(m.config.History.Entries()) == 0:
		cb.WriteString(helperStyle.Render("No analyses yet."))
		cb.WriteRune('\n')
	case m.config.History.Loaded():
		cb.WriteString(m.historyTable.View())
		cb.WriteRune('\n')
		if at := m.config.History.LastRefreshed(); !at.IsZero() {
			cb.WriteString(helperStyle.Render("Updated " + at.Format("15:04:05")))
			cb.WriteRune('\n')
		}
	}
	if m.confirmClear {
		cb.WriteRune('\n')
		cb.WriteString(errorStyle.Render("Delete every history entry on the service? y to confirm, any other key to cancel."))
		cb.WriteRune('\n')
	}
	return cb.String()
}

func (m *model) systemView() string {
	rows := []string{sectionHeaderStyle.Render("Analysis service")}
	rows = append(rows, "URL      "+orPlaceholder(m.config.ServiceURL))
	if m.config.Health == nil {
		rows = append(rows, "Status   "+helperStyle.Render("not monitored"))
	} else {
		status := healthBadge(m.config.Health.State())
		if m.probing {
			status += " " + m.spinner.View()
		}
		rows = append(rows, "Status   "+status)
		if at := m.config.Health.CheckedAt(); !at.IsZero() {
			rows = append(rows, "Checked  "+at.Format("15:04:05"))
		}
	}
	rows = append(rows, "", sectionHeaderStyle.Render("Exports"))
	rows = append(rows, "Target   "+orPlaceholder(m.config.ExportTarget))
	rows = append(rows, "", helperStyle.Render("Press p to check the service again."))
	return strings.Join(rows, "\n")
}

func healthBadge(state health.State) string {
	switch state {
	case health.Online:
		return onlineStyle.Render("ONLINE")
	case health.Offline:
		return offlineStyle.Render("OFFLINE")
	default:
		return unknownStyle.Render("UNKNOWN")
	}
}

func orPlaceholder(value string) string {
	if strings.TrimSpace(value) == "" {
		return helperStyle.Render("not set")
	}
	return value
}

func (m *model) statusView() string {
	lines := []string{}
	if m.errorMessage != "" {
		lines = append(lines, errorStyle.Render(m.errorMessage))
	}
	if m.infoMessage != "" {
		lines = append(lines, helperStyle.Render(m.infoMessage))
	}
	return strings.Join(lines, "\n")
}

func joinNonEmpty(parts []string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	return strings.Join(filtered, "\n\n")
}

func (m *model) modeLabel() string {
	if m.mode == modeInsert {
		return "INSERT"
	}
	return "NORMAL"
}

func (m *model) sessionMeterView() string {
	stats := []string{
		fmt.Sprintf("Mode %s", m.modeLabel()),
		fmt.Sprintf("Analysis %s", m.snap.State),
	}
	if m.config.History != nil && m.config.History.Loaded() {
		stats = append(stats, fmt.Sprintf("History %d", len(m.config.History.Entries())))
	}
	if m.config.Health != nil {
		stats = append(stats, fmt.Sprintf("Service %s", m.config.Health.State()))
	}
	if n := m.jobs.Running(); n > 0 {
		stats = append(stats, fmt.Sprintf("Jobs %d", n))
	}
	stats = append(stats, m.jobStatusBadges()...)
	return statusBarStyle.Render(strings.Join(stats, "  •  "))
}

func (m *model) jobStatusBadges() []string {
	var badges []string
	for kind, snap := range m.jobStates {
		if snap.Status == jobStatusRunning {
			badges = append(badges, string(kind)+"…")
		}
	}
	sort.Strings(badges)
	return badges
}

type keyHint struct {
	Key         string
	Description string
}

func (m *model) keyLegendView() string {
	hints := []keyHint{
		{"o", "Choose PDF"},
		{"Enter/s", "Analyse"},
		{"e", "Export PDF"},
		{"t", "Retry"},
		{"r", "Reset"},
		{"↑/↓", "Scroll"},
		{"1-3", "Switch tab"},
		{"R", "Refresh history"},
		{"D", "Clear history"},
		{"p", "Check service"},
		{"?", "Toggle cheatsheet"},
		{"q", "Quit"},
	}
	rows := []string{sectionHeaderStyle.Render("Keys")}
	const columns = 3
	for i := 0; i < len(hints); i += columns {
		end := i + columns
		if end > len(hints) {
			end = len(hints)
		}
		var cells []string
		for _, hint := range hints[i:end] {
			key := keyStyle.Render(hint.Key)
			desc := keyDescStyle.Render(" " + hint.Description + "  ")
			cells = append(cells, lipgloss.JoinHorizontal(lipgloss.Top, key, desc))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return legendBoxStyle.Render(strings.Join(rows, "\n"))
}

func renderLogo() string {
	if len(logoArtLines) == 0 {
		return ""
	}
	width := 0
	lineRunes := make([][]rune, len(logoArtLines))
	for i, line := range logoArtLines {
		runes := []rune(line)
		lineRunes[i] = runes
		if len(runes) > width {
			width = len(runes)
		}
	}
	width++
	height := len(logoArtLines) + 1

	type cell struct {
		r     rune
		style lipgloss.Style
	}

	grid := make([][]cell, height)
	for i := range grid {
		grid[i] = make([]cell, width)
	}
	for y, runes := range lineRunes {
		for x, r := range runes {
			if r != ' ' {
				grid[y+1][x+1] = cell{r: r, style: logoShadowStyle}
			}
		}
	}
	for y, runes := range lineRunes {
		for x, r := range runes {
			if r != ' ' {
				grid[y][x] = cell{r: r, style: logoFaceStyle}
			}
		}
	}

	lines := make([]string, height)
	for y, row := range grid {
		var b strings.Builder
		for _, c := range row {
			if c.r == 0 {
				b.WriteRune(' ')
				continue
			}
			b.WriteString(c.style.Render(string(c.r)))
		}
		lines[y] = b.String()
	}
	return logoContainerStyle.Render(strings.Join(lines, "\n"))
}
