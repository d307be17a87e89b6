package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/ui/benchmarks"
)

// PhaseRow represents one workflow phase for display.
type PhaseRow struct {
	Phase     environment.Phase
	Active    bool
	Done      bool
	Failed    bool
	StartedAt time.Time
	Duration  time.Duration
}

// Model is the Bubble Tea model for the workflow progress view.
type Model struct {
	// Environment info
	ID     string
	Branch string
	Event  environment.EventKind

	// Phase tracking
	Phases       []PhaseRow
	Current      environment.Phase
	PhaseStarted time.Time
	Completed    map[environment.Phase]time.Duration
	Superseded   bool

	Report *environment.Report

	// ETA
	EstimatedRemaining time.Duration
	PerformanceScale   float64
	StartTime          time.Time

	// Animation
	SpinnerFrame int

	// UI state
	Width  int
	Height int
	Err    error
	Done   bool
}

// NewModel creates a progress model for one workflow run.
func NewModel(id, branch string, event environment.EventKind) Model {
	chain := environment.ProvisionPhases
	if event == environment.EventDeleted {
		chain = environment.DecommissionPhases
	}
	return Model{
		ID:               id,
		Branch:           branch,
		Event:            event,
		Phases:           rowsFor(chain),
		Completed:        make(map[environment.Phase]time.Duration),
		StartTime:        time.Now(),
		PerformanceScale: 1.0,
	}
}

func rowsFor(chain []environment.Phase) []PhaseRow {
	rows := make([]PhaseRow, len(chain))
	for i, p := range chain {
		rows[i] = PhaseRow{Phase: p}
	}
	return rows
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case PhaseMsg:
		if msg.ID != "" && msg.ID != m.ID {
			return m, nil
		}
		m.updatePhase(msg)

	case ReportMsg:
		report := msg.Report
		m.Report = &report
		m.Done = true
		return m, tea.Quit

	case TickMsg:
		m.SpinnerFrame++
		m.updateETA()
		return m, tickCmd()

	case ErrMsg:
		m.Err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) index(p environment.Phase) int {
	for i, row := range m.Phases {
		if row.Phase == p {
			return i
		}
	}
	return -1
}

func (m *Model) updatePhase(msg PhaseMsg) {
	at := msg.At
	if at.IsZero() {
		at = time.Now()
	}

	if from := m.index(msg.From); from >= 0 && m.Phases[from].Active {
		row := &m.Phases[from]
		row.Active = false
		row.Duration = at.Sub(row.StartedAt)
		if msg.To == environment.PhaseFailed {
			row.Failed = true
		} else {
			row.Done = true
			m.Completed[row.Phase] = row.Duration
		}
	}

	m.Current = msg.To
	m.PhaseStarted = at
	if msg.To == environment.PhaseFailed {
		return
	}

	idx := m.index(msg.To)
	if idx < 0 && (msg.To.IsDeleteSide() || msg.To == environment.PhaseDeleted) {
		// A create run handed over to deletion.
		m.Superseded = m.Event != environment.EventDeleted
		m.Phases = rowsFor(environment.DecommissionPhases)
		idx = m.index(msg.To)
	}
	if idx < 0 {
		return
	}
	if cur := m.activeIndex(); cur >= 0 && idx < cur {
		// Re-entry starts the chain over.
		m.Phases = rowsFor(rowChain(m.Phases))
		m.Completed = make(map[environment.Phase]time.Duration)
	}

	for i := 0; i < idx; i++ {
		m.Phases[i].Done = true
		m.Phases[i].Active = false
	}
	row := &m.Phases[idx]
	row.StartedAt = at
	if msg.To.IsTerminal() {
		row.Done = true
		return
	}
	row.Active = true
}

func (m *Model) activeIndex() int {
	last := -1
	for i, row := range m.Phases {
		if row.Active || row.Done || row.Failed {
			last = i
		}
	}
	return last
}

func rowChain(rows []PhaseRow) []environment.Phase {
	chain := make([]environment.Phase, len(rows))
	for i, row := range rows {
		chain[i] = row.Phase
	}
	return chain
}

func (m *Model) updateETA() {
	if m.Current == "" || m.Current.IsTerminal() {
		m.EstimatedRemaining = 0
		return
	}
	elapsed := time.Since(m.PhaseStarted)
	m.PerformanceScale = benchmarks.PerformanceScale(m.Current, elapsed, m.Completed)
	m.EstimatedRemaining = benchmarks.EstimateRemainingWithScale(m.Current, elapsed, m.Completed, m.PerformanceScale)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View implements tea.Model.
func (m Model) View() string {
	return renderView(m)
}
