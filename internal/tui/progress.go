package tui

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"varforge/internal/observer"
	"varforge/internal/variant"
)

// LineMsg carries one generator message into the program.
type LineMsg string

// DoneMsg ends the program once the run returns.
type DoneMsg struct{ Err error }

var variantLine = regexp.MustCompile(`^\d+;"`)

// ProgressModel streams generator messages above a spinner line that counts
// finished variants.
type ProgressModel struct {
	spinner  spinner.Model
	total    int
	finished int
	stage    string
	err      error
	quitting bool
	aborted  bool
}

// NewProgressModel returns a model expecting total variants.
func NewProgressModel(total int) ProgressModel {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	return ProgressModel{spinner: s, total: total, stage: "starting"}
}

func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.aborted = true
			m.quitting = true
			return m, tea.Quit
		}
	case LineMsg:
		line := string(msg)
		switch {
		case strings.HasPrefix(line, "Please wait"):
			m.stage = "preparing"
		case strings.HasPrefix(line, "Preparation time"):
			m.stage = "solved"
		case line == variant.ReportHeader:
			m.stage = "materializing"
		case variantLine.MatchString(line):
			m.finished++
		}
		return m, tea.Println(line)
	case DoneMsg:
		m.err = msg.Err
		m.quitting = true
		m.stage = "finished"
		if msg.Err != nil {
			m.stage = "failed"
		}
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ProgressModel) View() string {
	if m.quitting {
		return ""
	}
	return fmt.Sprintf("%s %s  variants %d/%d\n", m.spinner.View(), m.stage, m.finished, m.total)
}

// Sender forwards observer messages to a running program.
type Sender struct{ P *tea.Program }

func (s Sender) Receive(msg string) { s.P.Send(LineMsg(msg)) }

// RunProgress runs work behind the progress view. Ctrl+C cancels the context
// handed to work; RunProgress always waits for work to return.
func RunProgress(ctx context.Context, total int, out io.Writer, work func(context.Context, observer.Observer) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgressModel(total), tea.WithOutput(out), tea.WithContext(ctx))
	errc := make(chan error, 1)
	go func() {
		err := work(ctx, Sender{P: p})
		errc <- err
		p.Send(DoneMsg{Err: err})
	}()

	_, runErr := p.Run()
	cancel()
	err := <-errc
	if err == nil && runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return err
}
