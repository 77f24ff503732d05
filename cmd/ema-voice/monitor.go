package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/session"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/internal/config"
	"github.com/muesli/reflow/truncate"
	"golang.org/x/sync/errgroup"
)

const (
	monitorHistory = 8
	monitorBuffer  = 256
)

// recordingTerminal stands in for the agent in a dry run: everything that
// would be typed is reported instead.
type recordingTerminal struct {
	mu     sync.Mutex
	record func(string)
}

var _ orchestration.Terminal = (*recordingTerminal)(nil)

func (t *recordingTerminal) SendText(_ context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(fmt.Sprintf("%q", text))
	return nil
}

func (t *recordingTerminal) SendControlKey(_ context.Context, name string) error {
	if _, err := session.KeySequence(name); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("<" + name + ">")
	return nil
}

func (t *recordingTerminal) IsAlive() bool { return true }

func (t *recordingTerminal) Restart(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("<restart>")
	return nil
}

type (
	eventMsg        struct{ event events.Event }
	typedMsg        struct{ text string }
	pipelineDoneMsg struct{ err error }
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type monitorModel struct {
	pipeline *orchestration.Pipeline
	spinner  spinner.Model
	width    int

	listening   bool
	state       session.State
	partial     string
	transcripts []string
	directives  []string
	typed       []string
	overruns    int
	err         error
}

func newMonitorModel(pipeline *orchestration.Pipeline) monitorModel {
	return monitorModel{
		pipeline:  pipeline,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		width:     80,
		listening: pipeline.Listening(),
		state:     session.StateStarting,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ", "l":
			m.listening = m.pipeline.ToggleListening()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case eventMsg:
		m.handleEvent(msg.event)
		return m, nil

	case typedMsg:
		m.typed = appendBounded(m.typed, msg.text)
		return m, nil

	case pipelineDoneMsg:
		m.err = msg.err
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m *monitorModel) handleEvent(event events.Event) {
	switch e := event.(type) {
	case events.TranscriptUpdated:
		switch e.Update.Kind {
		case speechtotext.KindPartial:
			m.partial = e.Update.Text
		case speechtotext.KindFinal:
			m.partial = ""
			m.transcripts = appendBounded(m.transcripts, fmt.Sprintf("%s (%.2f)", e.Update.Text, e.Update.Confidence))
		case speechtotext.KindError:
			m.partial = ""
			m.transcripts = appendBounded(m.transcripts, errorStyle.Render("error: "+e.Update.Err.Error()))
		}
	case events.DirectiveProduced:
		m.directives = appendBounded(m.directives, e.Directive.String())
	case events.DirectiveDropped:
		m.directives = appendBounded(m.directives, warnStyle.Render(fmt.Sprintf("dropped %s: %s", e.Directive, e.Reason)))
	case events.SessionStateChanged:
		m.state = e.To
	case events.ListeningChanged:
		m.listening = e.Listening
	case events.Overrun:
		m.overruns++
	}
}

func appendBounded(lines []string, line string) []string {
	lines = append(lines, line)
	if len(lines) > monitorHistory {
		lines = lines[len(lines)-monitorHistory:]
	}
	return lines
}

func (m monitorModel) View() string {
	var b strings.Builder

	status := mutedStyle.Render("muted")
	if m.listening {
		status = m.spinner.View() + " listening"
	}
	b.WriteString(titleStyle.Render("ema-voice monitor") + "  " + status +
		mutedStyle.Render(fmt.Sprintf("  session %s  overruns %d", m.state, m.overruns)) + "\n")

	if m.partial != "" {
		b.WriteString(mutedStyle.Render("… "+m.truncate(m.partial)) + "\n")
	}
	m.section(&b, "Transcripts", m.transcripts)
	m.section(&b, "Directives", m.directives)
	m.section(&b, "Typed", m.typed)

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + mutedStyle.Render("space: toggle listening • q: quit") + "\n")
	return b.String()
}

func (m monitorModel) section(b *strings.Builder, title string, lines []string) {
	b.WriteString(sectionStyle.Render(title) + "\n")
	if len(lines) == 0 {
		b.WriteString(mutedStyle.Render("  none yet") + "\n")
		return
	}
	for _, line := range lines {
		b.WriteString("  " + m.truncate(line) + "\n")
	}
}

func (m monitorModel) truncate(line string) string {
	if m.width <= 4 {
		return line
	}
	return truncate.StringWithTail(line, uint(m.width-4), "…")
}

// runMonitor runs the pipeline against a recording terminal and shows what
// it hears and would type.
func runMonitor(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	source, err := newSource(cfg.Audio)
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	defer source.Close()

	recognizer, closer, err := newRecognizer(ctx, cfg.Transcription, cfg.InterpreterConfig().Phrases)
	if err != nil {
		return fmt.Errorf("failed to create recognizer: %w", err)
	}
	defer closer.Close()

	classifier, classifierCloser, err := newClassifier(cfg)
	if err != nil {
		return fmt.Errorf("failed to create speech classifier: %w", err)
	}
	defer classifierCloser.Close()

	messages := make(chan tea.Msg, monitorBuffer)
	enqueue := func(msg tea.Msg) {
		select {
		case messages <- msg:
		default:
		}
	}

	terminal := &recordingTerminal{record: func(text string) { enqueue(typedMsg{text: text}) }}
	telemetry := newTelemetry(cfg)
	handlers := append(telemetry.handlers, func(event events.Event) { enqueue(eventMsg{event: event}) })
	options, err := pipelineOptions(cfg, source, classifier, recognizer, terminal, handlers...)
	if err != nil {
		return err
	}
	pipeline, err := orchestration.NewPipeline(options...)
	if err != nil {
		return err
	}

	program := tea.NewProgram(newMonitorModel(pipeline),
		tea.WithContext(ctx),
		tea.WithInput(stdin),
		tea.WithOutput(stdout))

	group, groupCtx := errgroup.WithContext(ctx)
	for _, service := range telemetry.services {
		group.Go(func() error { return service(groupCtx) })
	}
	group.Go(func() error {
		err := pipeline.Run(groupCtx)
		program.Send(pipelineDoneMsg{err: err})
		return err
	})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-messages:
				program.Send(msg)
			}
		}
	}()

	final, runErr := program.Run()
	cancel()
	pipelineErr := group.Wait()

	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	if model, ok := final.(monitorModel); ok && model.err != nil {
		return model.err
	}
	return pipelineErr
}
