// Package tui renders a running attempt in the terminal.
package tui

import (
	"context"
	"fmt"
	"io"

	"dvzoll/internal/entity"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	defaultBarWidth = 40
	maxBarWidth     = 80
)

// Source is the part of the attempt controller the TUI watches.
type Source interface {
	Snapshot() entity.Attempt
	Subscribe(fn func(entity.Attempt)) (unsubscribe func())
}

type snapshotMsg entity.Attempt

type closedMsg struct{}

// Model shows the progress of one attempt and quits once it is terminal.
type Model struct {
	attempt entity.Attempt
	updates <-chan entity.Attempt
	cancel  func()
	bar     progress.Model

	started   bool
	cancelled bool
	quitting  bool
}

// New returns a model fed by updates. cancel is called when the user aborts a
// busy attempt.
func New(updates <-chan entity.Attempt, cancel func()) Model {
	return Model{
		updates: updates,
		cancel:  cancel,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(defaultBarWidth), progress.WithoutPercentage()),
	}
}

// Attempt returns the last snapshot the model received.
func (m Model) Attempt() entity.Attempt {
	return m.attempt
}

// Cancelled reports whether the user aborted.
func (m Model) Cancelled() bool {
	return m.cancelled
}

func (m Model) Init() tea.Cmd {
	return listen(m.updates)
}

func listen(updates <-chan entity.Attempt) tea.Cmd {
	return func() tea.Msg {
		a, ok := <-updates
		if !ok {
			return closedMsg{}
		}

		return snapshotMsg(a)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.attempt.Status.Busy() && m.cancel != nil {
				m.cancel()
			}

			m.cancelled = true
			m.quitting = true

			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-AppPadding*2-8, maxBarWidth), 10)

	case snapshotMsg:
		a := entity.Attempt(msg)

		// a snapshot queued before the one already shown
		if a.UpdatedAt.Before(m.attempt.UpdatedAt) {
			return m, listen(m.updates)
		}

		m.attempt = a

		switch {
		case a.Status.Busy():
			m.started = true
		case a.Status.Terminal(), m.started && a.Status == entity.AttemptStatusIdle:
			m.quitting = true

			return m, tea.Quit
		}

		return m, listen(m.updates)

	case closedMsg:
		m.quitting = true

		return m, tea.Quit
	}

	return m, nil
}

// Run shows the attempt on out until it finishes, the user aborts or ctx is done.
func Run(ctx context.Context, src Source, cancel func(), out io.Writer) (Model, error) {
	updates, stop := Watch(src)
	defer stop()

	p := tea.NewProgram(New(updates, cancel), tea.WithContext(ctx), tea.WithOutput(out))

	final, err := p.Run()
	if err != nil {
		return Model{}, fmt.Errorf("run tui: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return Model{}, fmt.Errorf("run tui: unexpected model %T", final)
	}

	return m, nil
}

// Watch subscribes to src and returns a channel of snapshots starting with the
// current one. When the reader falls behind the oldest snapshot is dropped.
// stop unsubscribes and closes the channel.
func Watch(src Source) (updates <-chan entity.Attempt, stop func()) {
	ch := make(chan entity.Attempt, 16)

	push := func(a entity.Attempt) {
		for {
			select {
			case ch <- a:
				return
			default:
			}

			select {
			case <-ch:
			default:
			}
		}
	}

	unsubscribe := src.Subscribe(push)
	push(src.Snapshot())

	return ch, func() {
		unsubscribe()
		close(ch)
	}
}
