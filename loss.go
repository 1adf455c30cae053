package main

import (
	"fmt"
	"math"
)

// ===========================================================================
// MASKED CROSS-ENTROPY
// ===========================================================================
//
// Captions in a batch are padded to a common length with PadToken, and the
// padding must not train the model. The loss for one decoding step is
//
//	loss = Σ_b ce[b]·mask[b] / batch
//
// where mask[b] is 0 when the target is padding and 1 otherwise, and ce is
// the sparse categorical cross-entropy of the logits row against the target
// index. Note the denominator: masked rows drop out of the numerator but
// stay in the batch count, matching a mean over the batch of masked
// per-row losses.
//
// The gradient follows the classic softmax/cross-entropy shortcut,
//
//	∂loss/∂logits[b,v] = (softmax(logits[b])[v] - onehot[v])·mask[b] / batch
//
// so fully padded steps contribute exactly zero loss and zero gradient.
//
// Cross-entropy is computed via log-softmax (shift by the row max) rather
// than -log(softmax) to stay finite for extreme logits.
//
// ===========================================================================

// PadToken is the reserved padding index. Targets equal to it are masked
// out of the loss.
const PadToken = 0

// MaskedCrossEntropy computes one step's masked loss and its gradient
// w.r.t. the logits. logits is (batch, vocab); targets holds one token
// index per row.
func MaskedCrossEntropy(logits *Tensor, targets []int) (float64, *Tensor) {
	batch, vocab := lossDims(logits, targets)

	grad := NewTensor(batch, vocab)
	total := 0.0
	for b := 0; b < batch; b++ {
		if targets[b] == PadToken {
			continue
		}
		row := logits.data[b*vocab : (b+1)*vocab]
		gradRow := grad.data[b*vocab : (b+1)*vocab]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		sumExp := 0.0
		for _, v := range row {
			sumExp += math.Exp(v - maxVal)
		}
		logSumExp := math.Log(sumExp)

		total += -(row[targets[b]] - maxVal - logSumExp)

		for v := 0; v < vocab; v++ {
			gradRow[v] = math.Exp(row[v]-maxVal) / sumExp / float64(batch)
		}
		gradRow[targets[b]] -= 1.0 / float64(batch)
	}

	return total / float64(batch), grad
}

// MaskedCrossEntropyLoss is MaskedCrossEntropy without the gradient, for
// validation passes.
func MaskedCrossEntropyLoss(logits *Tensor, targets []int) float64 {
	batch, vocab := lossDims(logits, targets)

	total := 0.0
	for b := 0; b < batch; b++ {
		if targets[b] == PadToken {
			continue
		}
		row := logits.data[b*vocab : (b+1)*vocab]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		sumExp := 0.0
		for _, v := range row {
			sumExp += math.Exp(v - maxVal)
		}

		total += -(row[targets[b]] - maxVal - math.Log(sumExp))
	}

	return total / float64(batch)
}

func lossDims(logits *Tensor, targets []int) (batch, vocab int) {
	if logits.Dims() != 2 {
		panic(fmt.Sprintf("loss: logits must be 2D, got %v", logits.Shape()))
	}
	batch, vocab = logits.shape[0], logits.shape[1]
	if len(targets) != batch {
		panic(fmt.Sprintf("loss: %d targets for batch %d", len(targets), batch))
	}
	for b, t := range targets {
		if t < 0 || t >= vocab {
			panic(fmt.Sprintf("loss: target %d out of vocab range [0,%d) at row %d", t, vocab, b))
		}
	}
	return batch, vocab
}
