package ui

import (
	"context"

	bar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lakshaymaurya-felt/monolingual/internal/progress"
)

const maxRecent = 8

// ─── Messages ────────────────────────────────────────────────────────────────

// EventMsg delivers one reported item to the view.
type EventMsg progress.Event

// DoneMsg ends the view with the run's outcome.
type DoneMsg struct {
	Summary progress.Summary
	Err     error
}

// ─── Model ───────────────────────────────────────────────────────────────────

// Model is the bubbletea Model for a running scrub.
type Model struct {
	title   string
	spinner spinner.Model
	bar     bar.Model
	cancel  context.CancelFunc

	recent     []progress.Event
	reported   uint64
	discovered uint64
	bytes      int64
	removed    int
	skipped    int
	errored    int
	dryRun     bool

	width     int
	canceling bool
	forced    bool
	done      bool
	summary   progress.Summary
	err       error
}

// NewModel creates a Model. cancel is called when the user asks to stop.
func NewModel(title string, cancel context.CancelFunc) Model {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = s.Style.Foreground(ColorPrimary)
	return Model{
		title:   title,
		spinner: s,
		bar:     bar.New(bar.WithDefaultGradient(), bar.WithWidth(40)),
		cancel:  cancel,
		width:   80,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(min(msg.Width-16, 60), 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			// A second ctrl+c stops waiting for the run to wind down.
			if m.canceling && msg.String() == "ctrl+c" {
				m.forced = true
				return m, tea.Quit
			}
			if !m.canceling {
				m.canceling = true
				if m.cancel != nil {
					m.cancel()
				}
			}
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m.record(progress.Event(msg))
		return m, nil

	case DoneMsg:
		m.done = true
		m.summary = msg.Summary
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

// View delegates to view.go renderView.
func (m Model) View() string {
	return m.renderView()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (m *Model) record(e progress.Event) {
	m.reported = max(m.reported, e.Seq)
	m.discovered = max(m.discovered, e.Discovered, m.reported)
	m.dryRun = e.DryRun
	switch e.Status {
	case progress.StatusRemoved, progress.StatusWouldRemove:
		m.removed++
		m.bytes += e.Bytes
	case progress.StatusSkipped:
		m.skipped++
	default:
		m.errored++
	}
	m.recent = append(m.recent, e)
	if len(m.recent) > maxRecent {
		m.recent = m.recent[len(m.recent)-maxRecent:]
	}
}

// fraction is the share of discovered items already reported. Discovery
// runs ahead of processing, so the bar can move backwards briefly.
func (m Model) fraction() float64 {
	if m.discovered == 0 {
		return 0
	}
	return float64(m.reported) / float64(m.discovered)
}

// ─── Running ─────────────────────────────────────────────────────────────────

// RunFunc performs one scrub, calling onEvent for every reported item.
type RunFunc func(ctx context.Context, onEvent func(progress.Event)) (progress.Summary, error)

// Run shows the live view while run executes. Quitting the view cancels
// the run and waits for its summary; a second ctrl+c abandons it.
func Run(ctx context.Context, title string, run RunFunc) (progress.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(title, cancel))
	go func() {
		sum, err := run(ctx, func(e progress.Event) { p.Send(EventMsg(e)) })
		p.Send(DoneMsg{Summary: sum, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return progress.Summary{}, err
	}
	m, ok := final.(Model)
	if !ok || !m.done {
		return progress.Summary{}, context.Canceled
	}
	return m.summary, m.err
}
