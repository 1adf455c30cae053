package main

import "fmt"

// ===========================================================================
// VISUAL ATTENTION
// ===========================================================================
//
// WHAT'S GOING ON HERE?
//
// At every decoding step the decoder asks: "which of the 64 image regions
// matter for the next word?" Attention answers by scoring each encoded
// region against the decoder's recurrent state, normalizing the scores with
// a softmax over regions, and blending the regions into a single context
// vector with those weights:
//
//	ctx[b] = Σ_p weights[b,p] · enc[b,p]
//
// Two scoring strategies are implemented behind one interface:
//
//	Bahdanau (additive):  score = V · tanh(W1·enc + W2·h + W3·c)
//	Luong (multiplicative): score = h · (W·enc + b)
//
// Bahdanau reads both halves of the recurrent state; Luong only the hidden
// vector, so its backward pass returns a zero cell gradient.
//
// Both strategies share AttentionCache. Encoded features arrive as
// (batch, positions, dim) and are viewed as (batch*positions, dim) for the
// projections, which are position-independent.
//
// ===========================================================================

// Attention scores encoded image regions against a recurrent state and
// blends them into a context vector.
type Attention interface {
	// Name reports the strategy identifier used in configs and run paths.
	Name() string

	// Forward computes the context vector (batch, dim) for encoded
	// features (batch, positions, dim) and state vectors h, c of shape
	// (batch, units).
	Forward(enc, h, c *Tensor) *Tensor

	// ForwardWithCache is Forward plus the cache for Backward.
	ForwardWithCache(enc, h, c *Tensor) (*Tensor, *AttentionCache)

	// Backward propagates the context gradient to the inputs. Parameter
	// gradients accumulate in place.
	Backward(gradCtx *Tensor, cache *AttentionCache) (gradEnc, gradH, gradC *Tensor)

	// Parameters returns the trainable tensors in a stable order.
	Parameters() []*Tensor
}

// AttentionCache stores one scoring pass. Both strategies use enc2d, h and
// weights; hidden holds the tanh output for Bahdanau and the projected
// features for Luong.
type AttentionCache struct {
	enc2d     *Tensor // (batch*positions, dim) view of the encoder output
	h         *Tensor // (batch, units)
	c         *Tensor // (batch, units), nil for Luong
	hidden    *Tensor // (batch*positions, units)
	weights   *Tensor // (batch, positions), softmax output
	positions int
}

// NewAttention builds the strategy named by a config's attention key.
func NewAttention(name string, featureDim, units int) (Attention, error) {
	switch name {
	case AttentionBahdanau:
		return NewBahdanauAttention(featureDim, units), nil
	case AttentionLuong:
		return NewLuongAttention(featureDim, units), nil
	default:
		return nil, fmt.Errorf("attention: unknown strategy %q", name)
	}
}

// ---------------------------------------------------------------------------
// Shared pieces
// ---------------------------------------------------------------------------

// enc2dView reshapes (batch, positions, dim) to (batch*positions, dim)
// without copying.
func enc2dView(enc *Tensor) (*Tensor, int, int, int) {
	if enc.Dims() != 3 {
		panic(fmt.Sprintf("attention: encoder output must be 3D, got %v", enc.Shape()))
	}
	batch, positions, dim := enc.shape[0], enc.shape[1], enc.shape[2]
	return enc.Reshape(batch*positions, dim), batch, positions, dim
}

// blendContext computes ctx[b,d] = Σ_p weights[b,p]·enc[b,p,d].
func blendContext(weights, enc2d *Tensor, batch, positions, dim int) *Tensor {
	ctx := NewTensor(batch, dim)
	for b := 0; b < batch; b++ {
		for p := 0; p < positions; p++ {
			w := weights.data[b*positions+p]
			if w == 0 {
				continue
			}
			encRow := enc2d.data[(b*positions+p)*dim : (b*positions+p+1)*dim]
			ctxRow := ctx.data[b*dim : (b+1)*dim]
			for d := 0; d < dim; d++ {
				ctxRow[d] += w * encRow[d]
			}
		}
	}
	return ctx
}

// blendBackward inverts blendContext: it accumulates the direct encoder
// gradient into gradEnc2d and returns the gradient w.r.t. the weights.
func blendBackward(gradCtx, weights, enc2d, gradEnc2d *Tensor, batch, positions, dim int) *Tensor {
	gradWeights := NewTensor(batch, positions)
	for b := 0; b < batch; b++ {
		gradCtxRow := gradCtx.data[b*dim : (b+1)*dim]
		for p := 0; p < positions; p++ {
			row := b*positions + p
			encRow := enc2d.data[row*dim : (row+1)*dim]
			gradEncRow := gradEnc2d.data[row*dim : (row+1)*dim]
			w := weights.data[row]

			dot := 0.0
			for d := 0; d < dim; d++ {
				dot += gradCtxRow[d] * encRow[d]
				gradEncRow[d] += w * gradCtxRow[d]
			}
			gradWeights.data[row] = dot
		}
	}
	return gradWeights
}

// sumPositions folds (batch*positions, units) down to (batch, units) by
// summing over positions. Used when a per-batch projection was broadcast
// across positions on the way forward.
func sumPositions(t *Tensor, batch, positions, units int) *Tensor {
	out := NewTensor(batch, units)
	for b := 0; b < batch; b++ {
		outRow := out.data[b*units : (b+1)*units]
		for p := 0; p < positions; p++ {
			row := t.data[(b*positions+p)*units : (b*positions+p+1)*units]
			for u := 0; u < units; u++ {
				outRow[u] += row[u]
			}
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Bahdanau (additive) attention
// ---------------------------------------------------------------------------

// BahdanauAttention scores regions with a small feed-forward network over
// the encoded features and both recurrent state vectors.
type BahdanauAttention struct {
	w1 *Dense // featureDim -> units, applied per region
	w2 *Dense // units -> units, hidden state path
	w3 *Dense // units -> units, cell state path
	v  *Dense // units -> 1, score head
}

// NewBahdanauAttention creates the additive strategy for encoded features
// of width featureDim and recurrent states of width units.
func NewBahdanauAttention(featureDim, units int) *BahdanauAttention {
	return &BahdanauAttention{
		w1: NewDense(featureDim, units),
		w2: NewDense(units, units),
		w3: NewDense(units, units),
		v:  NewDense(units, 1),
	}
}

func (a *BahdanauAttention) Name() string { return AttentionBahdanau }

func (a *BahdanauAttention) Forward(enc, h, c *Tensor) *Tensor {
	ctx, _ := a.forward(enc, h, c, false)
	return ctx
}

func (a *BahdanauAttention) ForwardWithCache(enc, h, c *Tensor) (*Tensor, *AttentionCache) {
	return a.forward(enc, h, c, true)
}

func (a *BahdanauAttention) forward(enc, h, c *Tensor, keepCache bool) (*Tensor, *AttentionCache) {
	enc2d, batch, positions, dim := enc2dView(enc)
	units := a.w2.OutputDim()

	// preAct[b,p] = W1·enc[b,p] + W2·h[b] + W3·c[b], the state projections
	// broadcast across positions.
	encProj := a.w1.Forward(enc2d)
	hProj := a.w2.Forward(h)
	cProj := a.w3.Forward(c)

	preAct := NewTensor(batch*positions, units)
	for b := 0; b < batch; b++ {
		hRow := hProj.data[b*units : (b+1)*units]
		cRow := cProj.data[b*units : (b+1)*units]
		for p := 0; p < positions; p++ {
			row := b*positions + p
			encRow := encProj.data[row*units : (row+1)*units]
			dst := preAct.data[row*units : (row+1)*units]
			for u := 0; u < units; u++ {
				dst[u] = encRow[u] + hRow[u] + cRow[u]
			}
		}
	}
	hidden := Tanh(preAct)

	scores := a.v.Forward(hidden).Reshape(batch, positions)
	weights := Softmax(scores)

	ctx := blendContext(weights, enc2d, batch, positions, dim)

	if !keepCache {
		return ctx, nil
	}
	return ctx, &AttentionCache{
		enc2d:     enc2d,
		h:         h,
		c:         c,
		hidden:    hidden,
		weights:   weights,
		positions: positions,
	}
}

func (a *BahdanauAttention) Backward(gradCtx *Tensor, cache *AttentionCache) (gradEnc, gradH, gradC *Tensor) {
	batch := gradCtx.shape[0]
	dim := gradCtx.shape[1]
	positions := cache.positions
	units := a.w2.OutputDim()

	gradEnc2d := NewTensor(batch*positions, dim)
	gradWeights := blendBackward(gradCtx, cache.weights, cache.enc2d, gradEnc2d, batch, positions, dim)

	gradScores := SoftmaxBackward(cache.weights, gradWeights).Reshape(batch*positions, 1)

	gradHidden := a.v.Backward(gradScores, cache.hidden)
	gradPreAct := TanhBackward(cache.hidden, gradHidden)

	// The encoder projection sees every row; the state projections were
	// broadcast, so their gradients sum over positions.
	addInto(gradEnc2d, a.w1.Backward(gradPreAct, cache.enc2d))
	gradH = a.w2.Backward(sumPositions(gradPreAct, batch, positions, units), cache.h)
	gradC = a.w3.Backward(sumPositions(gradPreAct, batch, positions, units), cache.c)

	return gradEnc2d.Reshape(batch, positions, dim), gradH, gradC
}

func (a *BahdanauAttention) Parameters() []*Tensor {
	params := a.w1.Parameters()
	params = append(params, a.w2.Parameters()...)
	params = append(params, a.w3.Parameters()...)
	params = append(params, a.v.Parameters()...)
	return params
}

// ---------------------------------------------------------------------------
// Luong (multiplicative) attention
// ---------------------------------------------------------------------------

// LuongAttention scores regions by projecting them into the state space and
// taking a dot product with the hidden vector. The cell state is unused.
type LuongAttention struct {
	w *Dense // featureDim -> units
}

// NewLuongAttention creates the multiplicative strategy.
func NewLuongAttention(featureDim, units int) *LuongAttention {
	return &LuongAttention{w: NewDense(featureDim, units)}
}

func (a *LuongAttention) Name() string { return AttentionLuong }

func (a *LuongAttention) Forward(enc, h, c *Tensor) *Tensor {
	ctx, _ := a.forward(enc, h, false)
	return ctx
}

func (a *LuongAttention) ForwardWithCache(enc, h, c *Tensor) (*Tensor, *AttentionCache) {
	return a.forward(enc, h, true)
}

func (a *LuongAttention) forward(enc, h *Tensor, keepCache bool) (*Tensor, *AttentionCache) {
	enc2d, batch, positions, dim := enc2dView(enc)
	units := a.w.OutputDim()

	proj := a.w.Forward(enc2d)

	// score[b,p] = h[b] · proj[b,p]
	scores := NewTensor(batch, positions)
	for b := 0; b < batch; b++ {
		hRow := h.data[b*units : (b+1)*units]
		for p := 0; p < positions; p++ {
			row := b*positions + p
			projRow := proj.data[row*units : (row+1)*units]
			dot := 0.0
			for u := 0; u < units; u++ {
				dot += hRow[u] * projRow[u]
			}
			scores.data[row] = dot
		}
	}
	weights := Softmax(scores)

	ctx := blendContext(weights, enc2d, batch, positions, dim)

	if !keepCache {
		return ctx, nil
	}
	return ctx, &AttentionCache{
		enc2d:     enc2d,
		h:         h,
		hidden:    proj,
		weights:   weights,
		positions: positions,
	}
}

func (a *LuongAttention) Backward(gradCtx *Tensor, cache *AttentionCache) (gradEnc, gradH, gradC *Tensor) {
	batch := gradCtx.shape[0]
	dim := gradCtx.shape[1]
	positions := cache.positions
	units := a.w.OutputDim()

	gradEnc2d := NewTensor(batch*positions, dim)
	gradWeights := blendBackward(gradCtx, cache.weights, cache.enc2d, gradEnc2d, batch, positions, dim)

	gradScores := SoftmaxBackward(cache.weights, gradWeights)

	// score[b,p] = h[b] · proj[b,p]
	gradH = NewTensor(batch, units)
	gradProj := NewTensor(batch*positions, units)
	for b := 0; b < batch; b++ {
		hRow := cache.h.data[b*units : (b+1)*units]
		gradHRow := gradH.data[b*units : (b+1)*units]
		for p := 0; p < positions; p++ {
			row := b*positions + p
			gs := gradScores.data[row]
			projRow := cache.hidden.data[row*units : (row+1)*units]
			gradProjRow := gradProj.data[row*units : (row+1)*units]
			for u := 0; u < units; u++ {
				gradHRow[u] += gs * projRow[u]
				gradProjRow[u] = gs * hRow[u]
			}
		}
	}

	addInto(gradEnc2d, a.w.Backward(gradProj, cache.enc2d))

	// The cell state never enters the score, so its gradient is zero.
	gradC = NewTensor(batch, units)

	return gradEnc2d.Reshape(batch, positions, dim), gradH, gradC
}

func (a *LuongAttention) Parameters() []*Tensor {
	return a.w.Parameters()
}
