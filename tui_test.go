package main

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
)

// TestDashboardConsume feeds the dashboard the event sequence a short run
// emits and checks the state it accumulates for the view.
func TestDashboardConsume(t *testing.T) {
	cfg := tinyConfig()
	d := newDashboard(&cfg, nil, nil)

	d.consume(TrainingEvent{Kind: EventEpochStart, Epoch: 1})
	if d.epoch != 1 || d.batch != 0 {
		t.Fatalf("epoch start: epoch=%d batch=%d", d.epoch, d.batch)
	}

	d.consume(TrainingEvent{Kind: EventTrainBatch, Epoch: 1, Batch: 1, Loss: 2.5})
	d.consume(TrainingEvent{Kind: EventTrainBatch, Epoch: 1, Batch: 2, Loss: 2.4})
	if d.batch != 2 || d.batchLoss != 2.4 {
		t.Errorf("after batches: batch=%d loss=%g", d.batch, d.batchLoss)
	}
	if len(d.batchSeries) != 2 {
		t.Errorf("batch series has %d points, want 2", len(d.batchSeries))
	}
	if !d.animPrimed || d.lossAnim != 2.5 {
		t.Errorf("headline loss should prime on the first batch, got %g", d.lossAnim)
	}

	d.consume(TrainingEvent{Kind: EventValidationBatch, Epoch: 1, Batch: 1, Loss: 2.6})
	d.consume(TrainingEvent{
		Kind: EventEpochEnd, Epoch: 1,
		TrainLoss: 2.45, ValidationLoss: 2.6, BestLoss: 2.6, StaleEpochs: 0,
	})
	if len(d.trainSeries) != 1 || d.trainSeries[0] != 2.45 {
		t.Errorf("train series %v", d.trainSeries)
	}
	if len(d.valSeries) != 1 || d.valSeries[0] != 2.6 {
		t.Errorf("validation series %v", d.valSeries)
	}
	if d.best != 2.6 || d.stale != 0 {
		t.Errorf("best=%g stale=%d", d.best, d.stale)
	}

	d.consume(TrainingEvent{Kind: EventCheckpointSaved, Epoch: 1, CheckpointPath: "ckpt-1.bin"})
	if len(d.checkpoints) != 1 || d.checkpoints[0] != "ckpt-1.bin" {
		t.Errorf("checkpoints %v", d.checkpoints)
	}

	// A new epoch resets the batch counter.
	d.consume(TrainingEvent{Kind: EventEpochStart, Epoch: 2})
	if d.epoch != 2 || d.batch != 0 {
		t.Errorf("epoch 2 start: epoch=%d batch=%d", d.epoch, d.batch)
	}

	d.consume(TrainingEvent{Kind: EventRunDone})
	if d.running {
		t.Error("run-done should clear the running flag")
	}
}

// TestDashboardSeriesCaps tests the memory bounds: the batch series and the
// checkpoint list keep only their newest entries.
func TestDashboardSeriesCaps(t *testing.T) {
	cfg := tinyConfig()
	d := newDashboard(&cfg, nil, nil)

	total := batchSeriesCap + 50
	for i := 1; i <= total; i++ {
		d.consume(TrainingEvent{Kind: EventTrainBatch, Batch: i, Loss: float64(i)})
	}
	if len(d.batchSeries) != batchSeriesCap {
		t.Fatalf("batch series %d points, want %d", len(d.batchSeries), batchSeriesCap)
	}
	if d.batchSeries[0] != 51 || d.batchSeries[len(d.batchSeries)-1] != float64(total) {
		t.Errorf("series window [%g..%g], want [51..%d]",
			d.batchSeries[0], d.batchSeries[len(d.batchSeries)-1], total)
	}

	for i := 1; i <= maxCheckpoints+2; i++ {
		d.consume(TrainingEvent{Kind: EventCheckpointSaved, CheckpointPath: fmt.Sprintf("ckpt-%d.bin", i)})
	}
	if len(d.checkpoints) != maxCheckpoints {
		t.Fatalf("%d checkpoints listed, want %d", len(d.checkpoints), maxCheckpoints)
	}
	if d.checkpoints[maxCheckpoints-1] != fmt.Sprintf("ckpt-%d.bin", maxCheckpoints+2) {
		t.Errorf("newest checkpoint %q", d.checkpoints[maxCheckpoints-1])
	}
}

func TestDashboardLogCap(t *testing.T) {
	cfg := tinyConfig()
	d := newDashboard(&cfg, nil, nil)

	for i := 1; i <= dashLogCap+10; i++ {
		d.consume(TrainingEvent{Kind: EventEpochStart, Epoch: i})
	}
	if len(d.logs) != dashLogCap {
		t.Errorf("%d log lines kept, want %d", len(d.logs), dashLogCap)
	}
}

// TestDashboardUpdate drives the bubbletea Update loop directly: resize,
// events, completion and quit.
func TestDashboardUpdate(t *testing.T) {
	cfg := tinyConfig()
	events := make(chan TrainingEvent, 1)
	done := make(chan error, 1)
	var m tea.Model = newDashboard(&cfg, events, done)

	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	d := m.(dashboard)
	if d.width != 100 || d.height != 40 {
		t.Fatalf("window size not applied: %dx%d", d.width, d.height)
	}

	// A train event updates state and re-arms the channel wait.
	m, cmd := m.Update(trainEventMsg(TrainingEvent{Kind: EventTrainBatch, Batch: 3, Loss: 1.5}))
	d = m.(dashboard)
	if d.batch != 3 {
		t.Errorf("batch event not consumed: batch=%d", d.batch)
	}
	if cmd == nil {
		t.Error("train event must re-arm the event wait")
	}

	m, _ = m.Update(trainDoneMsg{err: nil})
	d = m.(dashboard)
	if !d.finished || d.running {
		t.Errorf("done message: finished=%v running=%v", d.finished, d.running)
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("quit key produced no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("quit key must produce tea.Quit")
	}
}

// TestDashboardView smoke-tests rendering before and after the first
// window size arrives.
func TestDashboardView(t *testing.T) {
	cfg := tinyConfig()
	var m tea.Model = newDashboard(&cfg, nil, nil)

	if view := m.View(); !strings.Contains(view, "starting dashboard") {
		t.Errorf("zero-width view should show the placeholder, got %q", view)
	}

	m, _ = m.Update(tea.WindowSizeMsg{Width: 90, Height: 36})
	view := m.View()
	for _, want := range []string{"caption model dashboard", "batch loss", "epoch loss", "checkpoints", "none yet"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestWaitCmds(t *testing.T) {
	events := make(chan TrainingEvent, 1)
	events <- TrainingEvent{Kind: EventEpochStart, Epoch: 4}
	msg := waitEventCmd(events)()
	ev, ok := msg.(trainEventMsg)
	if !ok || ev.Epoch != 4 {
		t.Errorf("waitEventCmd returned %#v", msg)
	}

	done := make(chan error, 1)
	done <- nil
	if dm, ok := waitRunDoneCmd(done)().(trainDoneMsg); !ok || dm.err != nil {
		t.Errorf("waitRunDoneCmd returned %#v", dm)
	}
}

// TestSparkline tests the renderer's shape guarantees: fixed width, full
// range coverage, and the flat/empty special cases.
func TestSparkline(t *testing.T) {
	if got := sparkline(nil, 10); got != strings.Repeat(".", 10) {
		t.Errorf("empty series: %q", got)
	}

	// Fewer points than columns: rendered points then baseline padding.
	got := sparkline([]float64{1, 8}, 6)
	if utf8.RuneCountInString(got) != 6 {
		t.Fatalf("width %d, want 6", utf8.RuneCountInString(got))
	}
	runes := []rune(got)
	if runes[0] != '▁' || runes[1] != '█' {
		t.Errorf("min/max not mapped to extremes: %q", got)
	}

	// A full ramp uses every block character.
	ramp := sparkline([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 8)
	if ramp != "▁▂▃▄▅▆▇█" {
		t.Errorf("ramp: %q", ramp)
	}

	// More points than columns: downsampled to exactly the width.
	long := make([]float64, 300)
	for i := range long {
		long[i] = float64(i)
	}
	got = sparkline(long, 12)
	if utf8.RuneCountInString(got) != 12 {
		t.Fatalf("downsampled width %d, want 12", utf8.RuneCountInString(got))
	}
	runes = []rune(got)
	if runes[0] != '▁' || runes[11] != '█' {
		t.Errorf("downsample endpoints: %q", got)
	}

	// Flat series renders a constant mid-high line.
	if got := sparkline([]float64{3, 3, 3}, 5); got != strings.Repeat("▇", 5) {
		t.Errorf("flat series: %q", got)
	}

	// Tiny widths are clamped.
	if got := sparkline(nil, 1); utf8.RuneCountInString(got) != 4 {
		t.Errorf("clamped width: %q", got)
	}
}
