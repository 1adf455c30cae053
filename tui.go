package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
)

// ===========================================================================
// LIVE TRAINING DASHBOARD
// ===========================================================================
//
// A terminal dashboard for watching a run: current epoch and batch, a
// sparkline of recent batch losses, per-epoch train/validation curves, the
// retained checkpoints, and a scrolling event log. The Trainer publishes
// TrainingEvents through an observer; the dashboard is just one more
// observer, reading them from a channel, so the training loop stays
// completely unaware of the UI.
//
// Training runs in its own goroutine. The UI never blocks it: the observer
// drops events when the channel is full (a dashboard that lags simply
// skips frames), and quitting the dashboard abandons the run.
//
// ===========================================================================

const (
	batchSeriesCap = 512
	dashLogCap     = 200
)

type trainEventMsg TrainingEvent

type trainDoneMsg struct{ err error }

type dashTickMsg struct{ ts time.Time }

type dashStyles struct {
	title      lipgloss.Style
	panel      lipgloss.Style
	panelTitle lipgloss.Style
	dim        lipgloss.Style
	ok         lipgloss.Style
	warn       lipgloss.Style
	graphLoss  lipgloss.Style
	graphEval  lipgloss.Style
}

func defaultDashStyles() dashStyles {
	brand := lipgloss.AdaptiveColor{Light: "26", Dark: "81"}
	subtle := lipgloss.AdaptiveColor{Light: "245", Dark: "244"}
	border := lipgloss.AdaptiveColor{Light: "250", Dark: "238"}
	return dashStyles{
		title:      lipgloss.NewStyle().Bold(true).Foreground(brand),
		panel:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border).Padding(0, 1),
		panelTitle: lipgloss.NewStyle().Bold(true).Foreground(brand),
		dim:        lipgloss.NewStyle().Foreground(subtle),
		ok:         lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		warn:       lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		graphLoss:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		graphEval:  lipgloss.NewStyle().Foreground(lipgloss.Color("86")),
	}
}

type dashKeyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

func (k dashKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Quit}
}

func (k dashKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down, k.Quit}}
}

type dashboard struct {
	width  int
	height int
	styles dashStyles
	spin   spinner.Model
	keys   dashKeyMap
	help   help.Model
	logs   []string
	logVP  viewport.Model

	cfg    *Config
	events chan TrainingEvent
	done   chan error

	running  bool
	finished bool
	runErr   error

	epoch       int
	batch       int
	batchLoss   float64
	batchSeries []float64
	trainSeries []float64
	valSeries   []float64
	best        float64
	stale       int
	checkpoints []string

	// Spring-smoothed batch loss for the headline number.
	lossAnim   float64
	lossVel    float64
	animPrimed bool
	spring     harmonica.Spring
}

func newDashboard(cfg *Config, events chan TrainingEvent, done chan error) dashboard {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))

	logVP := viewport.New(100, 12)
	logVP.SetContent("run events will appear here")

	return dashboard{
		styles:  defaultDashStyles(),
		spin:    sp,
		help:    help.New(),
		logVP:   logVP,
		cfg:     cfg,
		events:  events,
		done:    done,
		running: true,
		best:    math.NaN(),
		spring:  harmonica.NewSpring(harmonica.FPS(30), 6.0, 1.0),
		keys: dashKeyMap{
			Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
			Up:   key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("up/k", "scroll log")),
			Down: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("down/j", "scroll log")),
		},
	}
}

func (d dashboard) Init() tea.Cmd {
	return tea.Batch(d.spin.Tick, waitEventCmd(d.events), waitRunDoneCmd(d.done), dashTickCmd())
}

func waitEventCmd(ch <-chan TrainingEvent) tea.Cmd {
	return func() tea.Msg {
		return trainEventMsg(<-ch)
	}
}

func waitRunDoneCmd(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		return trainDoneMsg{err: <-ch}
	}
}

func dashTickCmd() tea.Cmd {
	return tea.Tick(time.Second/30, func(ts time.Time) tea.Msg {
		return dashTickMsg{ts: ts}
	})
}

func (d dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.logVP.Width = max(40, d.width-6)
		d.logVP.Height = max(4, d.height-22)
		return d, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, d.keys.Quit):
			return d, tea.Quit
		case key.Matches(msg, d.keys.Up):
			d.logVP.LineUp(1)
			return d, nil
		case key.Matches(msg, d.keys.Down):
			d.logVP.LineDown(1)
			return d, nil
		}
		return d, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spin, cmd = d.spin.Update(msg)
		return d, cmd

	case dashTickMsg:
		if d.animPrimed {
			d.lossAnim, d.lossVel = d.spring.Update(d.lossAnim, d.lossVel, d.batchLoss)
		}
		if d.finished {
			return d, nil
		}
		return d, dashTickCmd()

	case trainEventMsg:
		d.consume(TrainingEvent(msg))
		return d, waitEventCmd(d.events)

	case trainDoneMsg:
		d.running = false
		d.finished = true
		d.runErr = msg.err
		if msg.err != nil {
			d.addLog("run failed: " + msg.err.Error())
		} else {
			d.addLog("run finished")
		}
		return d, nil
	}

	return d, nil
}

func (d *dashboard) consume(ev TrainingEvent) {
	switch ev.Kind {
	case EventEpochStart:
		d.epoch = ev.Epoch
		d.batch = 0
		d.addLog(fmt.Sprintf("epoch %d started", ev.Epoch))

	case EventTrainBatch:
		d.batch = ev.Batch
		d.batchLoss = ev.Loss
		if !d.animPrimed {
			d.lossAnim = ev.Loss
			d.animPrimed = true
		}
		d.batchSeries = append(d.batchSeries, ev.Loss)
		if len(d.batchSeries) > batchSeriesCap {
			d.batchSeries = d.batchSeries[len(d.batchSeries)-batchSeriesCap:]
		}

	case EventValidationBatch:
		d.batch = ev.Batch

	case EventEpochEnd:
		d.trainSeries = append(d.trainSeries, ev.TrainLoss)
		d.valSeries = append(d.valSeries, ev.ValidationLoss)
		d.best = ev.BestLoss
		d.stale = ev.StaleEpochs
		d.addLog(fmt.Sprintf("epoch %d done: train %.4f, validation %.4f",
			ev.Epoch, ev.TrainLoss, ev.ValidationLoss))

	case EventCheckpointSaved:
		d.checkpoints = append(d.checkpoints, ev.CheckpointPath)
		if len(d.checkpoints) > maxCheckpoints {
			d.checkpoints = d.checkpoints[len(d.checkpoints)-maxCheckpoints:]
		}
		d.addLog("checkpoint saved: " + ev.CheckpointPath)

	case EventEarlyStop:
		d.addLog(fmt.Sprintf("early stopping at epoch %d (%d stale epochs)",
			ev.Epoch, ev.StaleEpochs))

	case EventRunDone:
		d.running = false
	}
}

func (d *dashboard) addLog(line string) {
	ts := time.Now().Format("15:04:05")
	d.logs = append(d.logs, d.styles.dim.Render(ts)+" "+line)
	if len(d.logs) > dashLogCap {
		d.logs = d.logs[len(d.logs)-dashLogCap:]
	}
	d.logVP.SetContent(strings.Join(d.logs, "\n"))
	d.logVP.GotoBottom()
}

func (d dashboard) View() string {
	if d.width == 0 {
		return "starting dashboard..."
	}

	var status string
	switch {
	case d.runErr != nil:
		status = d.styles.warn.Render("failed")
	case d.finished:
		status = d.styles.ok.Render("done")
	default:
		status = d.spin.View() + " training"
	}

	header := d.styles.title.Render("caption model dashboard") +
		d.styles.dim.Render(fmt.Sprintf("  %s / model_%d  ", d.cfg.Attention, d.cfg.ModelNumber)) +
		status

	graphW := max(24, min(72, d.width-28))

	bestStr := "-"
	if !math.IsNaN(d.best) {
		bestStr = fmt.Sprintf("%.3f", d.best)
	}
	progress := fmt.Sprintf("epoch %d/%d   batch %d/%d   loss %.4f   best %s   stale %d",
		d.epoch, d.cfg.Epochs, d.batch, d.cfg.TrainStepsPerEpoch, d.lossAnim, bestStr, d.stale)

	batchPanel := d.styles.panel.Render(
		d.styles.panelTitle.Render("batch loss") + "\n" +
			d.styles.graphLoss.Render(sparkline(d.batchSeries, graphW)) + "\n" +
			d.styles.dim.Render(progress))

	epochLines := d.styles.panelTitle.Render("epoch loss") + "\n" +
		d.styles.graphLoss.Render(sparkline(d.trainSeries, graphW)) + " " + d.styles.dim.Render("train") + "\n" +
		d.styles.graphEval.Render(sparkline(d.valSeries, graphW)) + " " + d.styles.dim.Render("validation")
	if n := len(d.trainSeries); n > 0 {
		epochLines += "\n" + d.styles.dim.Render(fmt.Sprintf("latest: train %.4f, validation %.4f",
			d.trainSeries[n-1], d.valSeries[n-1]))
	}
	epochPanel := d.styles.panel.Render(epochLines)

	ckptLines := d.styles.panelTitle.Render("checkpoints") + "\n"
	if len(d.checkpoints) == 0 {
		ckptLines += d.styles.dim.Render("none yet")
	} else {
		ckptLines += strings.Join(d.checkpoints, "\n")
	}
	ckptPanel := d.styles.panel.Render(ckptLines)

	logPanel := d.styles.panel.Render(
		d.styles.panelTitle.Render("events") + "\n" + d.logVP.View())

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		batchPanel,
		epochPanel,
		ckptPanel,
		logPanel,
		d.help.View(d.keys),
	)
}

// RunDashboard trains under a live terminal dashboard. The run executes in
// a background goroutine; the returned error is the UI's, while the run's
// own outcome is reported inside the dashboard and returned once both are
// done.
func RunDashboard(trainer *Trainer, cfg *Config) error {
	events := make(chan TrainingEvent, 256)
	done := make(chan error, 1)

	trainer.AddObserver(func(ev TrainingEvent) {
		select {
		case events <- ev:
		default: // never stall training for a slow terminal
		}
	})
	go func() {
		done <- trainer.Run()
	}()

	p := tea.NewProgram(newDashboard(cfg, events, done), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// sparkline renders a series as one row of block characters, downsampling
// to width when needed.
func sparkline(series []float64, width int) string {
	if width < 4 {
		width = 4
	}
	if len(series) == 0 {
		return strings.Repeat(".", width)
	}
	sampled := make([]float64, 0, width)
	if len(series) <= width {
		sampled = append(sampled, series...)
	} else {
		step := float64(len(series)-1) / float64(width-1)
		for i := 0; i < width; i++ {
			idx := int(math.Round(float64(i) * step))
			if idx < 0 {
				idx = 0
			}
			if idx >= len(series) {
				idx = len(series) - 1
			}
			sampled = append(sampled, series[idx])
		}
	}
	minV, maxV := sampled[0], sampled[0]
	for _, v := range sampled[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	chars := []rune("▁▂▃▄▅▆▇█")
	if maxV == minV {
		return strings.Repeat(string(chars[len(chars)-2]), width)
	}
	var b strings.Builder
	b.Grow(width)
	for _, v := range sampled {
		r := (v - minV) / (maxV - minV)
		pos := int(math.Round(r * float64(len(chars)-1)))
		if pos < 0 {
			pos = 0
		}
		if pos >= len(chars) {
			pos = len(chars) - 1
		}
		b.WriteRune(chars[pos])
	}
	for i := len(sampled); i < width; i++ {
		b.WriteRune(chars[0])
	}
	return b.String()
}
