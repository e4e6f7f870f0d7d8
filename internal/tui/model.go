// Package tui renders batch extraction progress with Bubble Tea.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// recentLimit is the number of finished packages listed under the bar.
const recentLimit = 8

// PackageDoneMsg reports one finished package.
type PackageDoneMsg struct {
	Path string
	// ID is "name@version", empty when the scan failed.
	ID     string
	Raised int
	Err    error
}

// BatchDoneMsg ends the program.
type BatchDoneMsg struct {
	Err error
}

// Model is the batch progress screen.
type Model struct {
	total    int
	done     int
	failed   int
	raised   int
	recent   []PackageDoneMsg
	spinner  spinner.Model
	progress progress.Model
	start    time.Time
	width    int

	cancel   func()
	finished bool
	quitting bool
	err      error
}

// NewModel creates a progress model for total packages. cancel is called
// when the user quits early.
func NewModel(total int, cancel func()) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SpinnerStyle

	return Model{
		total:    total,
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient()),
		start:    time.Now(),
		cancel:   cancel,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Done returns the finished and failed package counts.
func (m Model) Done() (done, failed int) {
	return m.done, m.failed
}

// Quitting reports whether the user interrupted the batch.
func (m Model) Quitting() bool { return m.quitting }

func (m Model) percent() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.done) / float64(m.total)
}
