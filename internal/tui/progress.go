// Package tui shows the progress of a population run while it executes.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/pksim/internal/engine"
	"github.com/san-kum/pksim/internal/viz"
)

const barWidth = 40

// SubjectDone is sent once per finished individual.
type SubjectDone struct {
	ID  int
	Err error
}

type finishedMsg struct{ err error }

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type Progress struct {
	title     string
	total     int
	done      int
	failed    []SubjectDone
	frame     int
	start     time.Time
	finished  bool
	cancelled bool
	err       error
}

func NewProgress(title string, total int) Progress {
	return Progress{title: title, total: total, start: time.Now()}
}

func (m Progress) Init() tea.Cmd { return tick() }

func (m Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	case SubjectDone:
		m.done++
		if msg.Err != nil {
			m.failed = append(m.failed, msg)
		}
	case finishedMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case tickMsg:
		m.frame++
		return m, tick()
	}
	return m, nil
}

func (m Progress) View() string {
	var b strings.Builder

	fraction := 0.0
	if m.total > 0 {
		fraction = float64(m.done) / float64(m.total)
	}

	spinner := viz.AnimatedSpinner(m.frame)
	if m.finished {
		spinner = viz.StatusOK.Render("✓")
	}

	fmt.Fprintf(&b, "%s %s\n\n", spinner, viz.Title.Render(m.title))
	fmt.Fprintf(&b, "%s %d/%d", viz.ProgressBar(fraction, barWidth), m.done, m.total)
	if len(m.failed) > 0 {
		b.WriteString("  " + viz.StatusFailed.Render(fmt.Sprintf("%d failed", len(m.failed))))
	}
	b.WriteString("\n")
	b.WriteString(viz.Subtle.Render(fmt.Sprintf("elapsed %v", time.Since(m.start).Round(100*time.Millisecond))))
	b.WriteString("\n")

	if !m.finished {
		b.WriteString(viz.Subtle.Render("q to cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

// Observer forwards completions of individuals to a running program.
type Observer struct {
	p *tea.Program
}

func NewObserver(p *tea.Program) *Observer {
	return &Observer{p: p}
}

func (o *Observer) OnSubject(id int, err error) {
	o.p.Send(SubjectDone{ID: id, Err: err})
}

// Run executes run while showing progress. Quitting the view cancels the
// context passed to run.
func Run(ctx context.Context, title string, total int, run func(context.Context, engine.Observer) (*engine.Result, error), opts ...tea.ProgramOption) (*engine.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgress(title, total), opts...)

	var (
		result *engine.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = run(ctx, NewObserver(p))
		p.Send(finishedMsg{err: runErr})
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		<-done
		return nil, err
	}
	if m, ok := final.(Progress); ok && m.cancelled {
		cancel()
	}
	<-done
	return result, runErr
}
