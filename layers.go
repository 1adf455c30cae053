package main

import (
	"fmt"
	"math"
	"math/rand"
)

// ===========================================================================
// BASIC LAYERS
// ===========================================================================
//
// Dense, Embedding and Dropout are the shared building blocks of the encoder
// and decoder. Each keeps its parameters as Tensors, answers Parameters()
// for the optimizer and checkpointing, and implements an explicit backward
// that accumulates into parameter grad buffers and returns the input
// gradient. Layers are stateless across calls - activations needed by the
// backward pass travel in per-step caches, never in the layer itself.
//
// ===========================================================================

// Dense is a fully connected layer: out = x @ W + b.
type Dense struct {
	w *Tensor // (in, out)
	b *Tensor // (out)
}

// NewDense creates a dense layer with He-scaled random weights and zero bias.
func NewDense(in, out int) *Dense {
	w := NewTensorRand(in, out)
	scale := math.Sqrt(2.0 / float64(in))
	for i := range w.data {
		w.data[i] *= scale
	}
	return &Dense{
		w: w,
		b: NewTensor(out),
	}
}

// Forward computes x @ W + b for x of shape (rows, in).
// Callers with 3D inputs flatten to (batch*positions, in) first.
func (d *Dense) Forward(x *Tensor) *Tensor {
	return addBias(MatMul(x, d.w), d.b)
}

// Backward accumulates weight and bias gradients for the call that produced
// gradOut, given the same input x that Forward saw, and returns the input
// gradient.
func (d *Dense) Backward(gradOut, x *Tensor) *Tensor {
	gradX, gradW := MatMulBackward(x, d.w, gradOut)
	d.w.AccumulateGrad(gradW)
	d.b.AccumulateGrad(sumColumns(gradOut))
	return gradX
}

// OutputDim reports the layer's output width.
func (d *Dense) OutputDim() int {
	return d.w.shape[1]
}

// Parameters returns the trainable tensors in a stable order.
func (d *Dense) Parameters() []*Tensor {
	return []*Tensor{d.w, d.b}
}

// Embedding maps token indices to dense rows of a (vocab, dim) table.
type Embedding struct {
	w *Tensor // (vocab, dim)
}

// NewEmbedding creates an embedding table with small random values.
func NewEmbedding(vocab, dim int) *Embedding {
	return &Embedding{w: NewTensorRand(vocab, dim)}
}

// Forward gathers the embedding row for each token: (len(tokens), dim).
// Panics on out-of-vocabulary indices - token validity is the caller's
// contract, broken indices are bugs.
func (e *Embedding) Forward(tokens []int) *Tensor {
	vocab, dim := e.w.shape[0], e.w.shape[1]
	out := NewTensor(len(tokens), dim)
	for i, tok := range tokens {
		if tok < 0 || tok >= vocab {
			panic(fmt.Sprintf("embedding: token %d outside vocabulary [0,%d)", tok, vocab))
		}
		copy(out.data[i*dim:(i+1)*dim], e.w.data[tok*dim:(tok+1)*dim])
	}
	return out
}

// Backward scatter-adds the output gradient back into the rows that were
// gathered. Repeated tokens in a batch accumulate, as they must.
func (e *Embedding) Backward(gradOut *Tensor, tokens []int) {
	dim := e.w.shape[1]
	if gradOut.shape[0] != len(tokens) || gradOut.shape[1] != dim {
		panic(fmt.Sprintf("embedding: gradient shape %v does not match %d tokens of dim %d",
			gradOut.shape, len(tokens), dim))
	}
	for i, tok := range tokens {
		for j := 0; j < dim; j++ {
			e.w.grad[tok*dim+j] += gradOut.data[i*dim+j]
		}
	}
}

// Parameters returns the embedding table.
func (e *Embedding) Parameters() []*Tensor {
	return []*Tensor{e.w}
}

// Dropout implements inverted dropout: in training mode each element is
// zeroed with probability rate and survivors are scaled by 1/(1-rate), so
// eval mode needs no rescaling. Eval mode (and rate 0) is the identity.
type Dropout struct {
	rate float64
}

// NewDropout creates a dropout layer. Rate must be in [0, 1).
func NewDropout(rate float64) *Dropout {
	if rate < 0 || rate >= 1 {
		panic(fmt.Sprintf("dropout: rate must be in [0, 1), got %g", rate))
	}
	return &Dropout{rate: rate}
}

// Forward applies dropout and returns the output plus the mask used.
// The mask is nil when the call was an identity (eval mode or rate 0);
// Backward understands a nil mask the same way.
func (d *Dropout) Forward(x *Tensor, training bool) (*Tensor, *Tensor) {
	if !training || d.rate == 0 {
		return x, nil
	}

	keep := 1.0 - d.rate
	mask := NewTensor(x.shape...)
	out := NewTensor(x.shape...)
	for i := range x.data {
		if rand.Float64() >= d.rate {
			mask.data[i] = 1.0 / keep
			out.data[i] = x.data[i] * mask.data[i]
		}
	}
	return out, mask
}

// Backward routes the gradient through the mask recorded by Forward.
func (d *Dropout) Backward(gradOut, mask *Tensor) *Tensor {
	if mask == nil {
		return gradOut
	}
	return Mul(gradOut, mask)
}

// addBias adds a length-n bias vector to every row of a (rows, n) tensor.
func addBias(x, b *Tensor) *Tensor {
	if len(x.shape) != 2 || len(b.shape) != 1 || x.shape[1] != b.shape[0] {
		panic(fmt.Sprintf("tensor: cannot add bias %v to %v", b.shape, x.shape))
	}
	rows, n := x.shape[0], x.shape[1]
	out := NewTensor(rows, n)
	for r := 0; r < rows; r++ {
		for c := 0; c < n; c++ {
			out.data[r*n+c] = x.data[r*n+c] + b.data[c]
		}
	}
	return out
}

// sumColumns sums a (rows, n) tensor over rows, producing (n).
// This is the bias gradient for a batched dense layer.
func sumColumns(t *Tensor) *Tensor {
	if len(t.shape) != 2 {
		panic("tensor: sumColumns requires 2D tensor")
	}
	rows, n := t.shape[0], t.shape[1]
	out := NewTensor(n)
	for r := 0; r < rows; r++ {
		for c := 0; c < n; c++ {
			out.data[c] += t.data[r*n+c]
		}
	}
	return out
}
