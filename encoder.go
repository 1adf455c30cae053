package main

import "fmt"

// ===========================================================================
// FEATURE ENCODER
// ===========================================================================
//
// Images reach this model as pre-extracted CNN feature maps: 64 spatial
// positions of 2048 values each, shaped (batch, 64, 2048). The encoder is a
// single position-wise projection into the word embedding space, a ReLU,
// and dropout (training mode only), so the decoder's attention can compare
// image regions and token embeddings in the same width.
//
// The projection is identical at every position, so the (batch, P, F) input
// is viewed as (batch*P, F), pushed through one Dense layer, and viewed
// back. No copies, no per-position loops.
//
// ===========================================================================

// Encoder projects raw image features into the embedding space.
type Encoder struct {
	featureDim int
	embedDim   int
	fc         *Dense
	dropout    *Dropout
}

// EncoderCache stores the forward activations for Backward.
type EncoderCache struct {
	features2d *Tensor // (batch*positions, featureDim)
	preAct     *Tensor // projection output before the ReLU
	mask       *Tensor // dropout mask, nil when inactive
	batch      int
	positions  int
}

// NewEncoder creates an encoder mapping featureDim values per position to
// embedDim.
func NewEncoder(featureDim, embedDim int, dropoutRate float64) *Encoder {
	return &Encoder{
		featureDim: featureDim,
		embedDim:   embedDim,
		fc:         NewDense(featureDim, embedDim),
		dropout:    NewDropout(dropoutRate),
	}
}

// Forward encodes (batch, positions, featureDim) into
// (batch, positions, embedDim) in evaluation mode: dropout is inactive.
func (e *Encoder) Forward(features *Tensor) *Tensor {
	out, _ := e.forward(features, false)
	return out
}

// ForwardWithCache encodes in training mode, with dropout active, and
// returns the cache Backward needs.
func (e *Encoder) ForwardWithCache(features *Tensor) (*Tensor, *EncoderCache) {
	return e.forward(features, true)
}

func (e *Encoder) forward(features *Tensor, training bool) (*Tensor, *EncoderCache) {
	if features.Dims() != 3 || features.shape[2] != e.featureDim {
		panic(fmt.Sprintf("encoder: want (batch, positions, %d), got %v", e.featureDim, features.Shape()))
	}
	batch, positions := features.shape[0], features.shape[1]

	features2d := features.Reshape(batch*positions, e.featureDim)
	preAct := e.fc.Forward(features2d)
	act := ReLU(preAct)
	dropped, mask := e.dropout.Forward(act, training)
	out := dropped.Reshape(batch, positions, e.embedDim)

	if !training {
		return out, nil
	}
	return out, &EncoderCache{
		features2d: features2d,
		preAct:     preAct,
		mask:       mask,
		batch:      batch,
		positions:  positions,
	}
}

// Backward accumulates the projection's parameter gradients. Image features
// are fixed inputs, so their gradient is discarded.
func (e *Encoder) Backward(gradOut *Tensor, cache *EncoderCache) {
	grad2d := gradOut.Reshape(cache.batch*cache.positions, e.embedDim)
	gradAct := e.dropout.Backward(grad2d, cache.mask)
	gradPreAct := ReLUBackward(cache.preAct, gradAct)
	e.fc.Backward(gradPreAct, cache.features2d)
}

// Parameters returns the encoder's trainable tensors.
func (e *Encoder) Parameters() []*Tensor {
	return e.fc.Parameters()
}
