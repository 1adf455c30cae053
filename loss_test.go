package main

import (
	"math"
	"math/rand"
	"testing"
)

// TestMaskedCrossEntropyFullyMasked tests the padding contract: a step
// whose targets are all padding contributes zero loss and zero gradient.
func TestMaskedCrossEntropyFullyMasked(t *testing.T) {
	logits := NewTensorRand(3, 5)

	loss, grad := MaskedCrossEntropy(logits, []int{PadToken, PadToken, PadToken})

	if loss != 0 {
		t.Errorf("fully masked step: expected loss 0, got %g", loss)
	}
	for i, v := range grad.data {
		if v != 0 {
			t.Errorf("grad[%d]: expected 0, got %g", i, v)
		}
	}
}

// TestMaskedCrossEntropyKnownValue tests a hand-computed case.
func TestMaskedCrossEntropyKnownValue(t *testing.T) {
	// One row, two classes, equal logits: softmax = [0.5, 0.5],
	// ce = -log(0.5) = ln 2.
	logits := NewTensor(1, 2)

	loss, grad := MaskedCrossEntropy(logits, []int{1})

	if math.Abs(loss-math.Ln2) > 1e-12 {
		t.Errorf("expected ln2 = %f, got %f", math.Ln2, loss)
	}
	// grad = softmax - onehot = [0.5, -0.5] (batch 1)
	if math.Abs(grad.data[0]-0.5) > 1e-12 || math.Abs(grad.data[1]+0.5) > 1e-12 {
		t.Errorf("expected grad [0.5 -0.5], got %v", grad.data)
	}
}

// TestMaskedCrossEntropyBatchMean tests that masked rows stay in the
// denominator: with one real row and one padded row the loss is half the
// single-row loss, and the padded row's gradient block is zero.
func TestMaskedCrossEntropyBatchMean(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	single := NewTensor(1, 4)
	fillRand(single, rng)

	pair := NewTensor(2, 4)
	copy(pair.data[:4], single.data)
	copy(pair.data[4:], single.data)

	lossSingle, _ := MaskedCrossEntropy(single, []int{2})
	lossPair, gradPair := MaskedCrossEntropy(pair, []int{2, PadToken})

	if math.Abs(lossPair-lossSingle/2) > 1e-12 {
		t.Errorf("expected %g (half of %g), got %g", lossSingle/2, lossSingle, lossPair)
	}
	for v := 0; v < 4; v++ {
		if gradPair.At(1, v) != 0 {
			t.Errorf("padded row grad[%d]: expected 0, got %g", v, gradPair.At(1, v))
		}
	}
}

// TestMaskedCrossEntropyGradient checks the analytic gradient against
// finite differences of the loss value.
func TestMaskedCrossEntropyGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(20))
	logits := NewTensor(4, 6)
	fillRand(logits, rng)
	targets := []int{3, PadToken, 1, 5}

	_, grad := MaskedCrossEntropy(logits, targets)

	loss := func() float64 { return MaskedCrossEntropyLoss(logits, targets) }
	for i := range logits.data {
		want := numericalGradient(loss, logits, i)
		if math.Abs(grad.data[i]-want) > 1e-6 {
			t.Errorf("grad[%d]: analytic %g, numeric %g", i, grad.data[i], want)
		}
	}
}

// TestMaskedCrossEntropyAgreement tests that the gradient-free variant
// returns the same scalar.
func TestMaskedCrossEntropyAgreement(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	logits := NewTensor(3, 5)
	fillRand(logits, rng)
	targets := []int{4, PadToken, 2}

	withGrad, _ := MaskedCrossEntropy(logits, targets)
	withoutGrad := MaskedCrossEntropyLoss(logits, targets)

	if withGrad != withoutGrad {
		t.Errorf("loss variants disagree: %g vs %g", withGrad, withoutGrad)
	}
}

// TestMaskedCrossEntropyExtremeLogits tests numerical stability.
func TestMaskedCrossEntropyExtremeLogits(t *testing.T) {
	logits := NewTensor(1, 3)
	logits.data = []float64{1000, -1000, 999}

	loss, grad := MaskedCrossEntropy(logits, []int{2})

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Fatalf("loss is not finite: %g", loss)
	}
	for i, v := range grad.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("grad[%d] is not finite: %g", i, v)
		}
	}
	// With logits (1000, -1000, 999) and target 2:
	// ce = log(1 + e^-1 + e^-1999) - (-1) ≈ log(1+e^-1) + 1
	want := math.Log(1+math.Exp(-1)) + 1
	if math.Abs(loss-want) > 1e-9 {
		t.Errorf("expected %g, got %g", want, loss)
	}
}

// TestMaskedCrossEntropyBadTarget tests the range contract.
func TestMaskedCrossEntropyBadTarget(t *testing.T) {
	logits := NewTensor(1, 3)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for target outside the vocabulary")
		}
	}()
	MaskedCrossEntropy(logits, []int{3})
}
