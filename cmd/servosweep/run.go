package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/servosweep/pkg/servo"
	"github.com/gwillem/servosweep/pkg/sweep"
)

type RunCommand struct {
	Config   string `short:"c" long:"config" default:"servosweep.json" description:"Rig configuration file"`
	Sequence string `short:"s" long:"sequence" description:"YAML sequence file"`
	Demo     bool   `long:"demo" description:"Run the built-in 0/90/180/90 sweep"`
	Yes      bool   `short:"y" long:"yes" description:"Do not ask for confirmation before moving"`
	Plain    bool   `long:"plain" description:"Log progress instead of showing the chart"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	tickInterval = 100 * time.Millisecond
)

// Actuator colors, assigned in registration order.
var palette = []string{"196", "46", "51", "226", "208", "201"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (c *RunCommand) Execute(args []string) error {
	if c.Sequence == "" && !c.Demo {
		return errors.New("either --sequence or --demo is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.execute(ctx, newLogger())
}

// execute runs the sequence. Interruption is a clean exit; any other
// failure is logged with its kind and step and returned.
func (c *RunCommand) execute(ctx context.Context, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := loadRig(c.Config)
	if err != nil {
		return err
	}
	seq, err := c.loadSequence(cfg)
	if err != nil {
		return err
	}
	log := logger.WithFields(logrus.Fields{"run_id": uuid.NewString(), "sequence": seq.Name})

	dev, err := openSink(cfg, log)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer dev.Close()

	events := make(chan sweep.Event, 64)
	sq := sweep.New(sweep.Options{
		Sink: dev,
		Log:  log,
		Observer: func(e sweep.Event) {
			select {
			case events <- e:
			default:
			}
		},
	})
	for _, a := range cfg.Actuators {
		if err := sq.Register(a.Name, a.Mapping(), a.Channel); err != nil {
			return err
		}
	}
	if err := sq.Check(seq); err != nil {
		return reportFailure(log, err)
	}

	if !c.Yes {
		if !interactive() {
			return errors.New("refusing to move servos without a terminal (use --yes)")
		}
		ok := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Run %q (%d steps) on %s backend?", seq.Name, len(seq.Steps), cfg.Backend)).
			Description("Servos will move. Keep hands clear.").
			Value(&ok).
			Run()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	tui := !c.Plain && isatty.IsTerminal(os.Stdout.Fd())
	if tui {
		// The chart owns the screen; keep log lines off it.
		setLogOutput(logger, io.Discard)
		err = runTUI(ctx, sq, seq, events)
	} else {
		go logEvents(ctx, log, sq.Actuators(), events)
		err = sq.Run(ctx, seq)
	}
	if errors.Is(err, sweep.ErrInterrupted) && !errors.Is(err, servo.ErrSink) {
		log.Warn("sequence interrupted, servos released")
		return nil
	}
	if err != nil {
		return reportFailure(log, err)
	}
	return nil
}

// reportFailure logs err with its kind and, when known, the failing step.
func reportFailure(log logrus.FieldLogger, err error) error {
	entry := log.WithField("kind", sweep.ErrorKind(err))
	var stepErr *sweep.StepError
	if errors.As(err, &stepErr) {
		entry = entry.WithField("step", stepErr.Step)
	}
	entry.WithError(err).Error("sequence failed")
	return err
}

func (c *RunCommand) loadSequence(cfg *servo.Config) (sweep.Sequence, error) {
	if c.Sequence != "" {
		return sweep.LoadSequence(c.Sequence)
	}
	names := make([]string, 0, len(cfg.Actuators))
	for _, a := range cfg.Actuators {
		names = append(names, a.Name)
	}
	return sweep.Demo(names...), nil
}

func logEvents(ctx context.Context, log logrus.FieldLogger, names []string, events <-chan sweep.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			if e.Kind == sweep.StepApplied {
				log.WithFields(logrus.Fields{
					"step":   e.Step,
					"angles": formatAngles(names, e.Angles),
				}).Info("step applied")
			}
		}
	}
}

// formatAngles lists angles in the order of names, skipping names without
// a commanded angle.
func formatAngles(names []string, angles map[string]float64) string {
	parts := make([]string, 0, len(angles))
	for _, name := range names {
		if a, ok := angles[name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.0f", name, a))
		}
	}
	return strings.Join(parts, " ")
}

// TUI

type sweepModel struct {
	seq      *sweep.Sequencer
	name     string
	steps    int
	names    []string
	colors   map[string]string
	events   <-chan sweep.Event
	done     <-chan error
	chart    *streamlinechart.Model
	width    int
	height   int
	step     int
	logs     []string
	err      error
	finished bool
}

type tickMsg time.Time
type eventMsg sweep.Event
type doneMsg struct{ err error }
type stoppedMsg struct{ err error }

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForEvent(events <-chan sweep.Event) tea.Cmd {
	return func() tea.Msg { return eventMsg(<-events) }
}

func waitForDone(done <-chan error) tea.Cmd {
	return func() tea.Msg { return doneMsg{<-done} }
}

func stopCmd(seq *sweep.Sequencer) tea.Cmd {
	return func() tea.Msg { return stoppedMsg{seq.Stop()} }
}

func runTUI(ctx context.Context, sq *sweep.Sequencer, seq sweep.Sequence, events <-chan sweep.Event) error {
	done := make(chan error, 1)
	go func() { done <- sq.Run(ctx, seq) }()

	p := tea.NewProgram(newSweepModel(sq, seq, events, done), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		sq.Stop()
		return err
	}
	m := final.(sweepModel)
	if !m.finished {
		// The program exited without seeing the run finish.
		sq.Stop()
		return <-done
	}
	return m.err
}

func newSweepModel(sq *sweep.Sequencer, seq sweep.Sequence, events <-chan sweep.Event, done <-chan error) sweepModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(0, servo.MaxAngle),
	)
	names := sq.Actuators()
	colors := make(map[string]string, len(names))
	for i, name := range names {
		colors[name] = palette[i%len(palette)]
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(colors[name]))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}
	return sweepModel{
		seq:    sq,
		name:   seq.Name,
		steps:  len(seq.Steps),
		names:  names,
		colors: colors,
		events: events,
		done:   done,
		chart:  &chart,
		step:   -1,
	}
}

func (m *sweepModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *sweepModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m sweepModel) Init() tea.Cmd {
	return tea.Batch(tick(), waitForEvent(m.events), waitForDone(m.done))
}

func (m sweepModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.addLog("stopping...")
			return m, stopCmd(m.seq)
		}

	case tickMsg:
		for name, angle := range m.seq.Angles() {
			m.chart.PushDataSet(name, angle)
		}
		m.chart.DrawAll()
		return m, tick()

	case eventMsg:
		e := sweep.Event(msg)
		switch e.Kind {
		case sweep.StepApplied:
			m.step = e.Step
			m.addLog(fmt.Sprintf("step %d: %s", e.Step, formatAngles(m.names, e.Angles)))
		case sweep.Released:
			m.addLog("all channels released")
		case sweep.Failed:
			m.addLog(fmt.Sprintf("failed: %v", e.Err))
		}
		return m, waitForEvent(m.events)

	case stoppedMsg:
		if msg.err != nil {
			m.addLog(fmt.Sprintf("release: %v", msg.err))
		}
		return m, nil

	case doneMsg:
		m.err = msg.err
		m.finished = true
		return m, tea.Quit
	}

	return m, nil
}

func (m sweepModel) View() string {
	if m.finished {
		if m.err != nil {
			return fmt.Sprintf("Sequence %q ended: %v\n", m.name, m.err)
		}
		return fmt.Sprintf("Sequence %q completed.\n", m.name)
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("servosweep"))
	sb.WriteString(fmt.Sprintf(" - %s  step %d/%d", m.name, m.step+1, m.steps))
	sb.WriteString(statusStyle.Render("  " + m.seq.State().String()))
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(m.renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	logLines := statusStyle.Render("Press 'q' to stop")
	if len(m.logs) > 0 {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m sweepModel) renderLegend() string {
	angles := m.seq.Angles()
	items := make([]string, 0, len(m.names))
	for _, name := range m.names {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(m.colors[name])).Bold(true)
		items = append(items, fmt.Sprintf("%s %s %.0f°", colorStyle.Render("━━"), name, angles[name]))
	}
	return strings.Join(items, "  ")
}
