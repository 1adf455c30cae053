package main

import (
	"fmt"
	"math"
	"os"
)

// ===========================================================================
// TRAINING LOOP CONTROLLER
// ===========================================================================
//
// WHAT'S GOING ON HERE?
//
// The Trainer drives a whole run: for each epoch it pulls a fixed number of
// training batches, looks up their image features (a missing feature is
// fatal - the extraction step was incomplete and skipping would silently
// train on a different dataset), runs the session's TrainStep, then scores
// a fixed number of validation batches, persists the history row, and
// applies the checkpoint policy.
//
// Checkpoint/early-stopping policy, driven by validation loss:
//
//	- first epoch: always save, remember the loss as best
//	- improvement: save, update best, reset the stale counter
//	- no improvement: bump the stale counter, don't save; once the
//	  counter passes 4 (five stale epochs in a row), stop the run
//
// Comparisons use values rounded to 3 decimal places, compared
// numerically, so a 1e-5 wobble doesn't count as progress and keep a dead
// run alive. At most 3 snapshots are retained.
//
// Everything is strictly sequential: batches within an epoch, epochs within
// a run. The only way out early is the stale counter. Progress reporting
// goes through observers so the same loop can feed plain console logs or
// the live dashboard without knowing either exists.
//
// ===========================================================================

const (
	// maxCheckpoints is the retention cap enforced per run.
	maxCheckpoints = 3

	// staleLimit is how many consecutive non-improving epochs are
	// tolerated before the run stops.
	staleLimit = 4
)

// EventKind tags a TrainingEvent.
type EventKind int

const (
	EventEpochStart EventKind = iota
	EventTrainBatch
	EventValidationBatch
	EventEpochEnd
	EventCheckpointSaved
	EventEarlyStop
	EventRunDone
)

// TrainingEvent is one progress notification from the Trainer.
type TrainingEvent struct {
	Kind  EventKind
	Epoch int
	Batch int // 1-based batch index within the epoch, for batch events

	Loss           float64 // batch loss, for batch events
	TrainLoss      float64 // epoch mean train loss, from EventEpochEnd on
	ValidationLoss float64 // epoch mean validation loss, from EventEpochEnd on
	BestLoss       float64 // best rounded validation loss so far
	StaleEpochs    int     // consecutive non-improving epochs

	CheckpointPath string // set on EventCheckpointSaved
}

// TrainingObserver receives TrainingEvents as the run progresses.
type TrainingObserver func(TrainingEvent)

// checkpointPolicy is the best/stale state machine from the policy above.
type checkpointPolicy struct {
	best  float64 // rounded best validation loss, NaN before the first epoch
	stale int
}

func newCheckpointPolicy() *checkpointPolicy {
	return &checkpointPolicy{best: math.NaN()}
}

// decide consumes one epoch's validation loss and reports whether to save
// a checkpoint and whether to stop the run. Never both.
func (p *checkpointPolicy) decide(valLoss float64) (save, stop bool) {
	rounded := round3(valLoss)
	if math.IsNaN(p.best) || rounded < p.best {
		p.best = rounded
		p.stale = 0
		return true, false
	}
	p.stale++
	return false, p.stale > staleLimit
}

// round3 rounds to 3 decimal places, the precision at which validation
// losses are compared.
func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

// Trainer owns one training run: the session, both datasets, the feature
// store, checkpointing and history.
type Trainer struct {
	session   *Session
	store     *FeatureStore
	trainIter *BatchIterator
	valIter   *BatchIterator
	manager   *CheckpointManager
	history   *History
	observers []TrainingObserver
}

// NewTrainer wires a run together. train and val must already be filtered
// and padded. Training batches are drawn in shuffled order, validation
// batches sequentially. The run directory (checkpoints, history) is
// created here.
func NewTrainer(session *Session, store *FeatureStore, train, val *Dataset) (*Trainer, error) {
	cfg := session.Config()

	trainIter, err := NewBatchIterator(train, cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("trainer: training set: %w", err)
	}
	// Fixed seed: two runs of the same config see the same batch order.
	trainIter.Shuffle(42)
	valIter, err := NewBatchIterator(val, cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("trainer: validation set: %w", err)
	}

	if err := os.MkdirAll(cfg.RunDir(), 0o755); err != nil {
		return nil, fmt.Errorf("trainer: create run dir: %w", err)
	}
	manager, err := NewCheckpointManager(cfg.CheckpointDir(), maxCheckpoints)
	if err != nil {
		return nil, err
	}
	history, err := LoadHistory(cfg.HistoryPath())
	if err != nil {
		return nil, err
	}

	return &Trainer{
		session:   session,
		store:     store,
		trainIter: trainIter,
		valIter:   valIter,
		manager:   manager,
		history:   history,
	}, nil
}

// AddObserver registers an observer for run progress. Observers run
// synchronously in registration order.
func (t *Trainer) AddObserver(obs TrainingObserver) {
	t.observers = append(t.observers, obs)
}

// History returns the run's history.
func (t *Trainer) History() *History { return t.history }

// Checkpoints returns the run's checkpoint manager.
func (t *Trainer) Checkpoints() *CheckpointManager { return t.manager }

func (t *Trainer) emit(ev TrainingEvent) {
	for _, obs := range t.observers {
		obs(ev)
	}
}

// Run executes the training loop until the epoch budget is spent or early
// stopping fires. Any error (a missing feature, a failed write) aborts the
// run as-is; nothing is retried.
func (t *Trainer) Run() error {
	cfg := t.session.Config()
	policy := newCheckpointPolicy()

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		t.emit(TrainingEvent{Kind: EventEpochStart, Epoch: epoch, BestLoss: policy.best, StaleEpochs: policy.stale})
		t.session.ResetMetrics()

		for b := 1; b <= cfg.TrainStepsPerEpoch; b++ {
			ids, captions := t.trainIter.Next()
			features, err := t.store.BatchFeatures(ids)
			if err != nil {
				return fmt.Errorf("trainer: epoch %d batch %d: %w", epoch, b, err)
			}
			loss := t.session.TrainStep(features, captions)
			t.emit(TrainingEvent{Kind: EventTrainBatch, Epoch: epoch, Batch: b, Loss: loss})
		}
		trainLoss := t.session.TrainMetric().Value()

		for b := 1; b <= cfg.ValidationStepsPerEpoch; b++ {
			ids, captions := t.valIter.Next()
			features, err := t.store.BatchFeatures(ids)
			if err != nil {
				return fmt.Errorf("trainer: epoch %d validation batch %d: %w", epoch, b, err)
			}
			loss := t.session.ValidationStep(features, captions)
			t.emit(TrainingEvent{Kind: EventValidationBatch, Epoch: epoch, Batch: b, Loss: loss})
		}
		valLoss := t.session.ValidationMetric().Value()

		if err := t.history.Append(EpochStats{Epoch: epoch, TrainLoss: trainLoss, ValidationLoss: valLoss}); err != nil {
			return err
		}

		save, stop := policy.decide(valLoss)
		if save {
			path, err := t.manager.Save(t.session, epoch, valLoss)
			if err != nil {
				return err
			}
			t.emit(TrainingEvent{
				Kind:           EventCheckpointSaved,
				Epoch:          epoch,
				ValidationLoss: valLoss,
				BestLoss:       policy.best,
				CheckpointPath: path,
			})
		}

		t.emit(TrainingEvent{
			Kind:           EventEpochEnd,
			Epoch:          epoch,
			TrainLoss:      trainLoss,
			ValidationLoss: valLoss,
			BestLoss:       policy.best,
			StaleEpochs:    policy.stale,
		})

		if stop {
			t.emit(TrainingEvent{
				Kind:           EventEarlyStop,
				Epoch:          epoch,
				ValidationLoss: valLoss,
				BestLoss:       policy.best,
				StaleEpochs:    policy.stale,
			})
			break
		}
	}

	t.emit(TrainingEvent{Kind: EventRunDone, BestLoss: policy.best, StaleEpochs: policy.stale})
	return nil
}

// TestModel restores the most recent checkpoint for cfg and scores
// TestStepsPerEpoch batches from the test set with validation steps.
// Returns the mean test loss. No checkpoint is a hard error: testing
// requires a finished training run.
func TestModel(cfg *Config, store *FeatureStore, test *Dataset) (float64, error) {
	manager, err := NewCheckpointManager(cfg.CheckpointDir(), maxCheckpoints)
	if err != nil {
		return 0, err
	}
	path, ok := manager.Latest()
	if !ok {
		return 0, fmt.Errorf("test: no checkpoint under %s, train first", cfg.CheckpointDir())
	}
	session, _, err := LoadCheckpoint(path)
	if err != nil {
		return 0, err
	}

	iter, err := NewBatchIterator(test, cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("test: %w", err)
	}

	session.ResetMetrics()
	for b := 1; b <= cfg.TestStepsPerEpoch; b++ {
		ids, captions := iter.Next()
		features, err := store.BatchFeatures(ids)
		if err != nil {
			return 0, fmt.Errorf("test: batch %d: %w", b, err)
		}
		session.ValidationStep(features, captions)
	}
	return session.ValidationMetric().Value(), nil
}

// ConsoleObserver returns an observer that logs progress with the standard
// logger-free Printf style: batch lines every logEvery batches, epoch
// summaries always.
func ConsoleObserver(logEvery int) TrainingObserver {
	if logEvery < 1 {
		logEvery = 1
	}
	return func(ev TrainingEvent) {
		switch ev.Kind {
		case EventTrainBatch:
			if ev.Batch%logEvery == 0 {
				fmt.Printf("Epoch %d | Batch %d | Loss: %.4f\n", ev.Epoch, ev.Batch, ev.Loss)
			}
		case EventEpochEnd:
			fmt.Printf("Epoch %d | Train Loss: %.4f | Validation Loss: %.4f | Best: %.3f\n",
				ev.Epoch, ev.TrainLoss, ev.ValidationLoss, ev.BestLoss)
		case EventCheckpointSaved:
			fmt.Printf("Saved checkpoint: %s (validation loss %.4f)\n", ev.CheckpointPath, ev.ValidationLoss)
		case EventEarlyStop:
			fmt.Printf("Early stopping at epoch %d: %d epochs without improvement\n",
				ev.Epoch, ev.StaleEpochs)
		}
	}
}
