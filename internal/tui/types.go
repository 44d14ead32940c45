package tui

type tab int

const (
	tabDashboard tab = iota
	tabHistory
	tabSystem
)

var tabSequence = []tab{tabDashboard, tabHistory, tabSystem}

func (t tab) title() string {
	switch t {
	case tabHistory:
		return "History"
	case tabSystem:
		return "System"
	default:
		return "Dashboard"
	}
}

const heroTagline = "Turn PDFs into study guides with Nexus."

const (
	minViewportWidth          = 40
	viewportHorizontalPadding = 4
	resultPreviewLimit        = 400
)

type interactionMode int

const (
	modeNormal interactionMode = iota
	modeInsert
)

const (
	pathPlaceholder = "Path to a PDF, e.g. ~/Documents/temario.pdf"
	defaultInfo     = "Type the path of a PDF and press Enter to load it."
)
