// Package progress renders a batch operation's completion state as a
// terminal progress bar, grounded on prtea's bubbletea+bubbles+lipgloss UI
// stack but reduced to the single-purpose "N of M done" meter the CLI's
// batch executor needs. It runs against stderr so NDJSON output on stdout
// stays machine-readable.
package progress

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// Update is one tick of batch progress: total items and how many have
// completed (successfully or with an error) so far.
type Update struct {
	Done  int
	Total int
	Label string
}

// Reporter drives a bubbletea program from a channel of Updates; callers
// send on Updates and call Close when the batch finishes.
type Reporter struct {
	Updates chan Update
	done    chan struct{}
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	doneStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
)

// NewReporter starts a background bubbletea program rendering to stderr. It
// is a no-op (Updates still accepted and drained) when stderr is not a
// terminal, so piping output never blocks on an unread channel.
func NewReporter() *Reporter {
	r := &Reporter{Updates: make(chan Update, 16), done: make(chan struct{})}
	go r.run()
	return r
}

func (r *Reporter) run() {
	defer close(r.done)
	if fi, err := os.Stderr.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		for range r.Updates {
		}
		return
	}
	bar := progress.New(progress.WithDefaultGradient())
	p := tea.NewProgram(model{bar: bar, updates: r.Updates}, tea.WithOutput(os.Stderr))
	_, _ = p.Run()
}

// Close stops accepting updates and waits for the program to finish
// rendering its final frame.
func (r *Reporter) Close() {
	close(r.Updates)
	<-r.done
}

type tickMsg Update

type model struct {
	bar     progress.Model
	updates chan Update
	last    Update
}

func (m model) Init() tea.Cmd {
	return m.waitForUpdate()
}

func (m model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		u, ok := <-m.updates
		if !ok {
			return tea.Quit()
		}
		return tickMsg(u)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.last = Update(msg)
		return m, m.waitForUpdate()
	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 20
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	if m.last.Total == 0 {
		return labelStyle.Render("waiting for work...") + "\n"
	}
	pct := float64(m.last.Done) / float64(m.last.Total)
	bar := m.bar.ViewAs(pct)
	status := doneStyle.Render(fmt.Sprintf("%d/%d", m.last.Done, m.last.Total))
	if m.last.Label != "" {
		return fmt.Sprintf("%s %s %s\n", bar, status, labelStyle.Render(m.last.Label))
	}
	return fmt.Sprintf("%s %s\n", bar, status)
}
