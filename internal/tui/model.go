package tui

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/csheth/nexus/internal/analysis"
	"github.com/csheth/nexus/internal/document"
	"github.com/csheth/nexus/internal/export"
	"github.com/csheth/nexus/internal/health"
	"github.com/csheth/nexus/internal/history"
)

// Config wires runtime components into the TUI program. Controller is
// required; the other components are optional and their views say so when
// they are missing.
type Config struct {
	Controller   *analysis.Controller
	History      *history.Cache
	Health       *health.Monitor
	Exporter     *export.Handler
	LoadDocument func(path string) (analysis.Document, error)
	ServiceURL   string
	ExportTarget string
	Logger       *slog.Logger
}

// New returns a tea.Model ready to be mounted into a Program.
func New(config Config) tea.Model {
	if config.Controller == nil {
		panic("tui: Config.Controller is required")
	}
	if config.LoadDocument == nil {
		config.LoadDocument = func(path string) (analysis.Document, error) {
			return document.Load(path, document.Options{})
		}
	}

	pathInput := textinput.New()
	pathInput.Placeholder = pathPlaceholder
	pathInput.Focus()
	pathInput.CharLimit = 512
	pathInput.Width = 70

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	vp := viewport.New(80, 12)
	vp.MouseWheelEnabled = true

	historyTable := table.New(
		table.WithColumns(historyColumns(80)),
		table.WithHeight(10),
		table.WithFocused(true),
	)

	m := &model{
		config:       config,
		tab:          tabDashboard,
		mode:         modeInsert,
		layout:       newPageLayout(),
		jobs:         newJobBus(config.Logger),
		pathInput:    pathInput,
		spinner:      spin,
		viewport:     vp,
		historyTable: historyTable,
		jobStates:    map[jobKind]jobSnapshot{},
		infoMessage:  defaultInfo,
	}
	m.sync()
	return m
}

type model struct {
	config Config
	tab    tab
	mode   interactionMode
	layout pageLayout
	jobs   *jobBus

	pathInput    textinput.Model
	spinner      spinner.Model
	viewport     viewport.Model
	historyTable table.Model

	snap            analysis.Snapshot
	loadingDocument bool
	exporting       bool
	lastArtifact    *export.Artifact
	historyLoading  bool
	historyError    string
	confirmClear    bool
	probing         bool
	previewDirty    bool
	helpVisible     bool
	jobStates       map[jobKind]jobSnapshot
	infoMessage     string
	errorMessage    string
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case spinner.TickMsg:
		if m.busy() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	case jobSignalMsg:
		m.jobStates[msg.Snapshot.Kind] = msg.Snapshot
		return m, nil
	case jobResultEnvelope:
		m.jobStates[msg.Snapshot.Kind] = msg.Snapshot
		if msg.Payload == nil {
			return m, nil
		}
		return m.Update(msg.Payload)
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.MouseMsg:
		if m.tab == tabDashboard && m.snap.State == analysis.Succeeded {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		return m, nil
	case documentLoadedMsg:
		return m, m.handleDocumentLoaded(msg)
	case analysisResultMsg:
		return m, m.handleAnalysisResult(msg)
	case exportResultMsg:
		return m, m.handleExportResult(msg)
	case historyResultMsg:
		return m, m.handleHistoryResult(msg)
	case probeResultMsg:
		m.probing = false
		if msg.state == health.Online {
			m.infoMessage = "Analysis service is online."
		} else {
			m.infoMessage = "Analysis service is offline."
		}
		return m, nil
	}
	return m, nil
}

func (m *model) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type == tea.KeyCtrlC {
		return m, m.quit()
	}
	if m.confirmClear {
		m.confirmClear = false
		if strings.EqualFold(key.String(), "y") {
			return m, m.startClearHistory()
		}
		m.infoMessage = "History left untouched."
		return m, nil
	}
	if m.mode == modeInsert {
		return m.handleInsertKey(key)
	}

	switch key.String() {
	case "tab":
		return m, m.switchTab(m.relativeTab(1))
	case "shift+tab":
		return m, m.switchTab(m.relativeTab(-1))
	case "1":
		return m, m.switchTab(tabDashboard)
	case "2":
		return m, m.switchTab(tabHistory)
	case "3":
		return m, m.switchTab(tabSystem)
	case "q":
		return m, m.quit()
	case "?":
		m.helpVisible = !m.helpVisible
		return m, nil
	case "p":
		return m, m.startProbe()
	case "R":
		return m, m.startHistoryRefresh()
	case "D":
		if m.config.History == nil {
			m.errorMessage = "History is not available."
			return m, nil
		}
		m.tab = tabHistory
		m.confirmClear = true
		return m, nil
	}

	switch m.tab {
	case tabDashboard:
		return m.handleDashboardKey(key)
	case tabHistory:
		var cmd tea.Cmd
		m.historyTable, cmd = m.historyTable.Update(key)
		return m, cmd
	}
	return m, nil
}

func (m *model) handleInsertKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEnter:
		path := strings.TrimSpace(m.pathInput.Value())
		if path == "" {
			if m.snap.State == analysis.FileSelected {
				m.leaveInsertMode()
				return m, m.startAnalysis()
			}
			m.errorMessage = "Type the path of a PDF first."
			return m, nil
		}
		return m, m.startLoad(path)
	case tea.KeyEsc:
		if m.pathInput.Value() != "" {
			m.pathInput.SetValue("")
			return m, nil
		}
		m.leaveInsertMode()
		return m, nil
	case tea.KeyTab:
		m.leaveInsertMode()
		return m, m.switchTab(m.relativeTab(1))
	}
	var cmd tea.Cmd
	m.pathInput, cmd = m.pathInput.Update(key)
	return m, cmd
}

func (m *model) handleDashboardKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "enter", "s":
		return m, m.startAnalysis()
	case "e":
		return m, m.startExport()
	case "r":
		if err := m.config.Controller.Reset(); err != nil {
			m.errorMessage = controllerMessage(err)
			return m, nil
		}
		m.sync()
		m.lastArtifact = nil
		m.errorMessage = ""
		m.infoMessage = defaultInfo
		m.enterInsertMode()
		return m, textinput.Blink
	case "t":
		return m, m.retry()
	case "o", "i", "/":
		m.enterInsertMode()
		return m, textinput.Blink
	case "g":
		m.viewport.GotoTop()
		return m, nil
	case "G":
		m.viewport.GotoBottom()
		return m, nil
	}
	if m.snap.State == analysis.Succeeded {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(key)
		return m, cmd
	}
	return m, nil
}

func (m *model) startLoad(path string) tea.Cmd {
	if m.loadingDocument {
		m.infoMessage = "Still loading the previous file."
		return nil
	}
	m.loadingDocument = true
	m.errorMessage = ""
	m.infoMessage = fmt.Sprintf("Loading %s…", trimmedName(path))
	return tea.Batch(m.jobs.Start(jobKindLoad, loadDocumentJob(m.config.LoadDocument, path)), m.spinner.Tick)
}

func (m *model) handleDocumentLoaded(msg documentLoadedMsg) tea.Cmd {
	m.loadingDocument = false
	if msg.err != nil {
		m.errorMessage = msg.err.Error()
		m.infoMessage = "Check the path and try again."
		return nil
	}
	if err := m.config.Controller.SelectFile(msg.doc); err != nil {
		m.errorMessage = controllerMessage(err)
		return nil
	}
	m.sync()
	m.lastArtifact = nil
	m.errorMessage = ""
	m.pathInput.SetValue("")
	m.leaveInsertMode()
	m.infoMessage = fmt.Sprintf("Loaded %s. Press Enter to create the study guide.", trimmedName(msg.doc.Name))
	return nil
}

func (m *model) startAnalysis() tea.Cmd {
	ctrl := m.config.Controller
	req, err := ctrl.Dispatch()
	if err != nil {
		m.errorMessage = controllerMessage(err)
		return nil
	}
	m.sync()
	m.errorMessage = ""
	m.infoMessage = fmt.Sprintf("Analysing %s… long documents can take a few minutes.", trimmedName(req.Document.Name))
	return tea.Batch(m.jobs.Start(jobKindAnalyze, analyzeJob(ctrl, req)), m.spinner.Tick)
}

func (m *model) retry() tea.Cmd {
	if m.snap.State != analysis.Failed || m.snap.Document == nil {
		m.errorMessage = "Nothing to retry."
		return nil
	}
	if err := m.config.Controller.SelectFile(*m.snap.Document); err != nil {
		m.errorMessage = controllerMessage(err)
		return nil
	}
	m.sync()
	return m.startAnalysis()
}

func (m *model) handleAnalysisResult(msg analysisResultMsg) tea.Cmd {
	if !m.config.Controller.Finish(msg.completion) {
		// the controller moved on while this request was in flight
		m.sync()
		return nil
	}
	m.sync()
	if m.snap.Failure != nil {
		m.errorMessage = m.snap.Failure.Message
		m.infoMessage = "Press t to retry, or o to load another PDF."
		return nil
	}
	m.errorMessage = ""
	m.infoMessage = "Study guide ready. Press e to export it as a PDF."
	m.markPreviewDirty()
	return nil
}

func (m *model) startExport() tea.Cmd {
	if m.config.Exporter == nil {
		m.errorMessage = "Export is not configured."
		return nil
	}
	if m.snap.Result == nil {
		m.errorMessage = "Nothing to export yet. Analyse a PDF first."
		return nil
	}
	if m.exporting {
		m.infoMessage = "An export is already running."
		return nil
	}
	name := m.snap.Result.Filename
	if m.snap.Document != nil {
		name = m.snap.Document.Name
	}
	m.exporting = true
	m.errorMessage = ""
	m.infoMessage = fmt.Sprintf("Rendering %s…", export.ArtifactName(name, ""))
	return tea.Batch(m.jobs.Start(jobKindExport, exportJob(m.config.Exporter, *m.snap.Result, name)), m.spinner.Tick)
}

func (m *model) handleExportResult(msg exportResultMsg) tea.Cmd {
	m.exporting = false
	if msg.err != nil {
		if errors.Is(msg.err, export.ErrNoResult) {
			m.errorMessage = "Nothing to export yet."
		} else {
			m.errorMessage = msg.err.Error()
		}
		m.infoMessage = "The analysis is still available. Press e to try the export again."
		return nil
	}
	artifact := msg.artifact
	m.lastArtifact = &artifact
	m.errorMessage = ""
	m.infoMessage = fmt.Sprintf("Saved %s (%s) to %s", artifact.Name, humanSize(artifact.Size), artifact.Location)
	return nil
}

func (m *model) startHistoryRefresh() tea.Cmd {
	if m.config.History == nil {
		m.errorMessage = "History is not available."
		return nil
	}
	m.historyLoading = true
	return tea.Batch(m.jobs.Start(jobKindHistory, refreshHistoryJob(m.config.History)), m.spinner.Tick)
}

func (m *model) startClearHistory() tea.Cmd {
	if m.config.History == nil {
		return nil
	}
	m.historyLoading = true
	m.infoMessage = "Clearing history…"
	return tea.Batch(m.jobs.Start(jobKindClear, clearHistoryJob(m.config.History)), m.spinner.Tick)
}

func (m *model) handleHistoryResult(msg historyResultMsg) tea.Cmd {
	m.historyLoading = false
	m.applyHistoryRows()
	var refreshErr *history.RefreshError
	switch {
	case msg.err == nil:
		m.historyError = ""
		if msg.cleared {
			m.infoMessage = "History cleared."
		}
	case errors.As(msg.err, &refreshErr):
		m.historyError = "Could not refresh the history; showing the last copy."
		if msg.cleared {
			m.infoMessage = "History cleared on the service."
		}
	default:
		m.errorMessage = msg.err.Error()
		if msg.cleared {
			m.infoMessage = "History was not cleared."
		}
	}
	return nil
}

func (m *model) applyHistoryRows() {
	entries := m.config.History.Entries()
	rows := make([]table.Row, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", entry.ID),
			entry.Filename,
			entry.Date,
			previewText(entry.Summary, 80),
		})
	}
	m.historyTable.SetRows(rows)
	if m.historyTable.Cursor() >= len(rows) {
		m.historyTable.GotoTop()
	}
}

func (m *model) startProbe() tea.Cmd {
	if m.config.Health == nil {
		m.errorMessage = "Health checks are not available."
		return nil
	}
	if m.probing {
		return nil
	}
	m.probing = true
	return tea.Batch(m.jobs.Start(jobKindProbe, probeJob(m.config.Health)), m.spinner.Tick)
}

func (m *model) switchTab(next tab) tea.Cmd {
	if m.mode == modeInsert {
		m.leaveInsertMode()
	}
	m.tab = next
	switch next {
	case tabHistory:
		if m.config.History != nil && !m.historyLoading {
			return m.startHistoryRefresh()
		}
	case tabSystem:
		return m.startProbe()
	}
	return nil
}

func (m *model) relativeTab(delta int) tab {
	idx := 0
	for i, t := range tabSequence {
		if t == m.tab {
			idx = i
			break
		}
	}
	n := len(tabSequence)
	return tabSequence[((idx+delta)%n+n)%n]
}

func (m *model) enterInsertMode() {
	m.tab = tabDashboard
	m.mode = modeInsert
	m.pathInput.Focus()
}

func (m *model) leaveInsertMode() {
	m.mode = modeNormal
	m.pathInput.Blur()
}

func (m *model) quit() tea.Cmd {
	m.config.Controller.Abandon()
	m.jobs.Shutdown()
	return tea.Quit
}

func (m *model) sync() {
	m.snap = m.config.Controller.Snapshot()
	m.markPreviewDirty()
}

func (m *model) busy() bool {
	return m.loadingDocument || m.exporting || m.historyLoading || m.probing || m.snap.State == analysis.Submitting
}

func (m *model) resize(width, height int) {
	m.layout.Update(width, height)
	m.viewport.Width = m.layout.viewportWidth
	m.viewport.Height = m.layout.viewportHeight
	m.pathInput.Width = m.layout.viewportWidth - 4
	m.historyTable.SetColumns(historyColumns(m.layout.viewportWidth))
	m.historyTable.SetWidth(m.layout.viewportWidth)
	m.historyTable.SetHeight(m.layout.tableHeight)
	m.markPreviewDirty()
}

func (m *model) markPreviewDirty() {
	m.previewDirty = true
}

func (m *model) refreshPreviewIfDirty() {
	if !m.previewDirty {
		return
	}
	m.previewDirty = false
	if m.snap.Result == nil {
		m.viewport.SetContent("")
		return
	}
	m.viewport.SetContent(buildResultPreview(m.snap.Result, m.wrapWidth(2)))
	m.viewport.GotoTop()
}

func historyColumns(width int) []table.Column {
	if width < minViewportWidth {
		width = minViewportWidth
	}
	fixed := 6 + 18
	flexible := width - fixed - 8
	if flexible < 20 {
		flexible = 20
	}
	return []table.Column{
		{Title: "ID", Width: 6},
		{Title: "File", Width: flexible / 2},
		{Title: "Date", Width: 18},
		{Title: "Summary", Width: flexible - flexible/2},
	}
}

var (
	sectionHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helperStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	successStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#a3be8c"))

	heroAccentColor        = lipgloss.Color("#5b8def")
	heroEmberColor         = lipgloss.Color("#0b1533")
	heroTextColor          = lipgloss.Color("#e6edff")
	heroSecondaryTextColor = lipgloss.Color("#8fb3ff")

	heroTitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(heroAccentColor)
	heroBoxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(heroAccentColor).Foreground(heroTextColor).Background(heroEmberColor).Padding(1, 2)
	heroSummaryStyle   = lipgloss.NewStyle().PaddingLeft(2)
	taglineStyle       = lipgloss.NewStyle().Foreground(heroSecondaryTextColor).Italic(true)
	statusBarStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#8ecae6")).Padding(0, 1)
	keyStyle           = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#ffd166")).Padding(0, 1)
	keyDescStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0def4"))
	legendBoxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#56526e")).Padding(1, 2)
	previewBoxStyle    = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("#56526e")).Padding(0, 1)
	activeTabStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(heroAccentColor).Padding(0, 2)
	inactiveTabStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 2)
	onlineStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#a3be8c")).Padding(0, 1)
	offlineStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#ef6f6c")).Padding(0, 1)
	unknownStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("244")).Padding(0, 1)
	logoFaceStyle      = lipgloss.NewStyle().Bold(true).Foreground(heroTextColor).Background(heroEmberColor)
	logoShadowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#02050f"))
	logoContainerStyle = lipgloss.NewStyle().Padding(0, 1)
	logoArtLines       = []string{
		"███╗   ██╗  ███████╗  ██╗  ██╗  ██╗   ██╗  ███████╗  ",
		"████╗  ██║  ██╔════╝  ╚██╗██╔╝  ██║   ██║  ██╔════╝  ",
		"██╔██╗ ██║  █████╗     ╚███╔╝   ██║   ██║  ███████╗  ",
		"██║╚██╗██║  ██╔══╝     ██╔██╗   ██║   ██║  ╚════██║  ",
		"██║ ╚████║  ███████╗  ██╔╝ ██╗  ╚██████╔╝  ███████║  ",
		"╚═╝  ╚═══╝  ╚══════╝  ╚═╝  ╚═╝   ╚═════╝   ╚══════╝  ",
	}
)
