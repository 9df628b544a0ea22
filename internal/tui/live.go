// Package tui shows a running simulation live in the terminal: step counters,
// the sampled observables and a scrolling temperature chart.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/mdstep/internal/config"
	"github.com/san-kum/mdstep/internal/runner"
)

const historyCapacity = 240

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

type stepMsg runner.StepInfo

type doneMsg struct{ err error }

type Model struct {
	cfg    *config.Config
	cancel context.CancelFunc
	steps  chan runner.StepInfo
	done   chan error

	last     runner.StepInfo
	tempHist []float64
	finished bool
	runErr   error
	width    int
}

// NewModel wires a live view around an already-constructed runner. The run
// starts when the program does and stops when the user quits.
func NewModel(cfg *config.Config, r *runner.Runner) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		cfg:      cfg,
		cancel:   cancel,
		steps:    make(chan runner.StepInfo, 16),
		done:     make(chan error, 1),
		tempHist: make([]float64, 0, historyCapacity),
		width:    80,
	}

	go func() {
		_, err := r.Run(ctx, func(info runner.StepInfo) bool {
			select {
			case m.steps <- info:
			case <-ctx.Done():
				return false
			}
			return true
		})
		close(m.steps)
		m.done <- err
	}()

	return m
}

func (m *Model) Init() tea.Cmd { return m.waitForStep() }

func (m *Model) waitForStep() tea.Cmd {
	return func() tea.Msg {
		info, ok := <-m.steps
		if !ok {
			return doneMsg{err: <-m.done}
		}
		return stepMsg(info)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "escape":
			m.cancel()
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case stepMsg:
		m.last = runner.StepInfo(msg)
		m.tempHist = append(m.tempHist, m.last.Temperature)
		if len(m.tempHist) > historyCapacity {
			m.tempHist = m.tempHist[1:]
		}
		return m, m.waitForStep()
	case doneMsg:
		m.finished = true
		m.runErr = msg.err
		return m, nil
	}
	return m, nil
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString("\n  " + headerStyle.Render("mdstep") + "  " +
		dimStyle.Render(fmt.Sprintf("%d waters, dt=%g ps", m.cfg.Waters, m.cfg.Dt)) + "\n\n")

	row := func(label, value string) {
		b.WriteString("  " + labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("step", fmt.Sprintf("%d / %d", m.last.Step+1, m.cfg.Steps))
	row("time", fmt.Sprintf("%.3f ps", m.last.Time))
	row("temperature", fmt.Sprintf("%.1f K", m.last.Temperature))
	row("pressure", fmt.Sprintf("%.3f", m.last.Pressure))
	row("energy", fmt.Sprintf("%.2f kJ/mol", m.last.Energy))

	rmsd := fmt.Sprintf("%.2e nm", m.last.RMSD)
	if m.last.RMSD > 1e-4 {
		b.WriteString("  " + labelStyle.Render("constraints") + warnStyle.Render(rmsd+" (drifting)") + "\n")
	} else {
		row("constraints", rmsd)
	}

	if len(m.tempHist) > 1 {
		width := m.width - 16
		if width > 60 {
			width = 60
		}
		if width < 20 {
			width = 20
		}
		chart := asciigraph.Plot(m.tempHist,
			asciigraph.Height(6),
			asciigraph.Width(width),
			asciigraph.Caption("temperature (K)"))
		b.WriteString(graphStyle.Render(indent(chart, 2)) + "\n")
	}

	if m.finished {
		if m.runErr != nil && m.runErr != context.Canceled {
			b.WriteString("\n  " + warnStyle.Render("run failed: "+m.runErr.Error()) + "\n")
		} else {
			b.WriteString("\n  " + doneStyle.Render("run complete") + "\n")
		}
	}

	b.WriteString("\n" + dimStyle.Render("  q quit") + "\n")
	return b.String()
}

func indent(s string, n int) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}

// Run drives the live view to completion.
func Run(cfg *config.Config, r *runner.Runner) error {
	p := tea.NewProgram(NewModel(cfg, r), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
