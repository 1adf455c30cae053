package main

import (
	"math"
	"math/rand"
	"testing"
)

// sessionBatch builds a deterministic feature batch and caption pair sized
// for tinyConfig: two images, five positions, captions of length five with
// one padded row.
func sessionBatch(cfg *Config) (*Tensor, [][]int) {
	rng := rand.New(rand.NewSource(7))
	features := NewTensor(2, cfg.FeaturePositions, cfg.FeatureDim)
	fillRand(features, rng)
	captions := [][]int{
		{1, 5, 7, 2, 0},
		{1, 3, 4, 8, 2},
	}
	return features, captions
}

func snapshotParams(params []*Tensor) [][]float64 {
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = append([]float64(nil), p.data...)
	}
	return out
}

func TestNewSessionValidatesConfig(t *testing.T) {
	cfg := tinyConfig()
	cfg.BatchSize = 0
	if _, err := NewSession(&cfg); err == nil {
		t.Error("expected error for zero batch size")
	}

	cfg = tinyConfig()
	cfg.Attention = "cosine"
	if _, err := NewSession(&cfg); err == nil {
		t.Error("expected error for unknown attention type")
	}
}

// TestSessionParameterLayout tests that Parameters lists the encoder's
// tensors first, then the decoder's, sharing the live tensors rather than
// copies. Checkpoints depend on this order being stable.
func TestSessionParameterLayout(t *testing.T) {
	cfg := tinyConfig()
	s, err := NewSession(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	encParams := s.Encoder().Parameters()
	decParams := s.Decoder().Parameters()
	all := s.Parameters()

	if len(all) != len(encParams)+len(decParams) {
		t.Fatalf("expected %d parameters, got %d", len(encParams)+len(decParams), len(all))
	}
	for i, p := range encParams {
		if all[i] != p {
			t.Errorf("parameter %d is not the encoder's tensor", i)
		}
	}
	for i, p := range decParams {
		if all[len(encParams)+i] != p {
			t.Errorf("parameter %d is not the decoder's tensor", len(encParams)+i)
		}
	}
}

// TestTrainStepUpdatesParameters tests one optimization step end to end:
// the loss must be finite and both halves of the model must move.
func TestTrainStepUpdatesParameters(t *testing.T) {
	cfg := tinyConfig()
	s, err := NewSession(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	features, captions := sessionBatch(&cfg)

	before := snapshotParams(s.Parameters())
	loss := s.TrainStep(features, captions)

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Fatalf("loss not finite: %g", loss)
	}
	if loss <= 0 {
		t.Errorf("untrained model should have positive loss, got %g", loss)
	}

	changed := func(params []*Tensor, offset int) bool {
		for i, p := range params {
			for j, v := range p.data {
				if v != before[offset+i][j] {
					return true
				}
			}
		}
		return false
	}
	if !changed(s.Encoder().Parameters(), 0) {
		t.Error("encoder parameters did not change")
	}
	if !changed(s.Decoder().Parameters(), len(s.Encoder().Parameters())) {
		t.Error("decoder parameters did not change")
	}
}

// TestValidationStepLeavesParameters tests that scoring never mutates the
// model.
func TestValidationStepLeavesParameters(t *testing.T) {
	cfg := tinyConfig()
	s, err := NewSession(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	features, captions := sessionBatch(&cfg)

	before := snapshotParams(s.Parameters())
	loss := s.ValidationStep(features, captions)

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Fatalf("loss not finite: %g", loss)
	}
	for i, p := range s.Parameters() {
		for j, v := range p.data {
			if v != before[i][j] {
				t.Fatalf("parameter %d element %d moved from %g to %g", i, j, before[i][j], v)
			}
		}
	}
}

// TestTrainValLossAgreement tests the loss metric itself: with dropout
// disabled the training forward pass and the validation pass compute the
// same numbers, so the loss TrainStep reports (measured before its update)
// must match ValidationStep on the same weights.
func TestTrainValLossAgreement(t *testing.T) {
	cfg := tinyConfig()
	s, err := NewSession(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	features, captions := sessionBatch(&cfg)

	valLoss := s.ValidationStep(features, captions)
	trainLoss := s.TrainStep(features, captions)

	if math.Abs(valLoss-trainLoss) > 1e-12 {
		t.Errorf("validation loss %.15f != train loss %.15f", valLoss, trainLoss)
	}
}

// TestTrainingReducesLoss overfits a single fixed batch. Fifty Adam steps
// on a model this small must drive the loss well below its starting point.
func TestTrainingReducesLoss(t *testing.T) {
	cfg := tinyConfig()
	cfg.LearningRate = 0.01
	s, err := NewSession(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	features, captions := sessionBatch(&cfg)

	first := s.TrainStep(features, captions)
	last := first
	for i := 0; i < 49; i++ {
		last = s.TrainStep(features, captions)
	}

	if last >= first {
		t.Errorf("loss did not improve: first %.4f, last %.4f", first, last)
	}
}

// TestSessionMetrics tests the running means: each step folds its returned
// loss in, and resetting clears both.
func TestSessionMetrics(t *testing.T) {
	cfg := tinyConfig()
	s, err := NewSession(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	features, captions := sessionBatch(&cfg)

	if s.TrainMetric().Value() != 0 {
		t.Error("fresh train metric should read 0")
	}

	l1 := s.TrainStep(features, captions)
	l2 := s.TrainStep(features, captions)
	if got, want := s.TrainMetric().Value(), (l1+l2)/2; math.Abs(got-want) > 1e-12 {
		t.Errorf("train metric %.15f, want %.15f", got, want)
	}

	v1 := s.ValidationStep(features, captions)
	if got := s.ValidationMetric().Value(); got != v1 {
		t.Errorf("validation metric %.15f, want %.15f", got, v1)
	}

	s.ResetMetrics()
	if s.TrainMetric().Value() != 0 || s.ValidationMetric().Value() != 0 {
		t.Error("reset should clear both metrics")
	}
}

func TestBatchDimsValidation(t *testing.T) {
	cfg := tinyConfig()
	s, err := NewSession(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	check := func(name string, features *Tensor, captions [][]int) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s: expected panic", name)
			}
		}()
		s.ValidationStep(features, captions)
	}

	good, _ := sessionBatch(&cfg)
	check("2D features", NewTensor(2, cfg.FeatureDim), [][]int{{1, 2}, {1, 2}})
	check("caption count mismatch", good, [][]int{{1, 2}})
	check("single-token captions", good, [][]int{{1}, {1}})
	check("ragged rows", good, [][]int{{1, 5, 2}, {1, 2}})
}
