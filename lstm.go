package main

import (
	"fmt"
	"math"
)

// ===========================================================================
// LSTM CELL
// ===========================================================================
//
// One step of a Long Short-Term Memory layer. The decoder drives the cell
// one timestep at a time (decoding is sequential by nature), so the cell
// exposes single-step Forward/Backward rather than whole-sequence calls.
//
// Gate math, with z = x@Wx + h_prev@Wh + b split into four blocks [i|f|g|o]:
//
//	i = σ(z_i)    input gate
//	f = σ(z_f)    forget gate
//	g = tanh(z_g) candidate cell
//	o = σ(z_o)    output gate
//	c = f·c_prev + i·g
//	h = o·tanh(c)
//
// The forget-gate bias initializes to 1 so early training doesn't flush the
// cell state before the gates learn anything.
//
// ===========================================================================

// LSTMCell holds the parameters for one recurrent layer.
type LSTMCell struct {
	inputDim  int
	hiddenDim int

	wx *Tensor // (inputDim, 4*hiddenDim), gate order [i|f|g|o]
	wh *Tensor // (hiddenDim, 4*hiddenDim)
	b  *Tensor // (4*hiddenDim)
}

// LSTMCache stores one step's activations for the backward pass.
type LSTMCache struct {
	x     *Tensor // step input (batch, inputDim)
	hPrev *Tensor // (batch, hiddenDim)
	cPrev *Tensor // (batch, hiddenDim)

	i, f, g, o *Tensor // post-activation gate values (batch, hiddenDim)
	tanhC      *Tensor // tanh of the new cell state
}

// NewLSTMCell creates a cell mapping inputDim features to hiddenDim state.
func NewLSTMCell(inputDim, hiddenDim int) *LSTMCell {
	wx := NewTensorRand(inputDim, 4*hiddenDim)
	wh := NewTensorRand(hiddenDim, 4*hiddenDim)
	b := NewTensor(4 * hiddenDim)

	// Forget-gate bias block starts at 1.
	for j := hiddenDim; j < 2*hiddenDim; j++ {
		b.data[j] = 1.0
	}

	return &LSTMCell{
		inputDim:  inputDim,
		hiddenDim: hiddenDim,
		wx:        wx,
		wh:        wh,
		b:         b,
	}
}

// Forward advances the cell one step: (x, h_prev, c_prev) -> (h, c).
func (l *LSTMCell) Forward(x, hPrev, cPrev *Tensor) (h, c *Tensor) {
	h, c, _ = l.step(x, hPrev, cPrev, false)
	return h, c
}

// ForwardWithCache advances one step and records the activations needed to
// run Backward for this step.
func (l *LSTMCell) ForwardWithCache(x, hPrev, cPrev *Tensor) (h, c *Tensor, cache *LSTMCache) {
	return l.step(x, hPrev, cPrev, true)
}

func (l *LSTMCell) step(x, hPrev, cPrev *Tensor, keepCache bool) (*Tensor, *Tensor, *LSTMCache) {
	if x.shape[1] != l.inputDim {
		panic(fmt.Sprintf("lstm: input dim %d, cell expects %d", x.shape[1], l.inputDim))
	}

	batch := x.shape[0]
	hd := l.hiddenDim

	// z = x@Wx + hPrev@Wh + b, then split into the four gate blocks.
	z := Add(MatMul(x, l.wx), MatMul(hPrev, l.wh))
	z = addBias(z, l.b)

	i := NewTensor(batch, hd)
	f := NewTensor(batch, hd)
	g := NewTensor(batch, hd)
	o := NewTensor(batch, hd)
	for r := 0; r < batch; r++ {
		zrow := z.data[r*4*hd : (r+1)*4*hd]
		for j := 0; j < hd; j++ {
			i.data[r*hd+j] = sigmoidScalar(zrow[j])
			f.data[r*hd+j] = sigmoidScalar(zrow[hd+j])
			g.data[r*hd+j] = math.Tanh(zrow[2*hd+j])
			o.data[r*hd+j] = sigmoidScalar(zrow[3*hd+j])
		}
	}

	c := Add(Mul(f, cPrev), Mul(i, g))
	tanhC := Tanh(c)
	h := Mul(o, tanhC)

	if !keepCache {
		return h, c, nil
	}
	return h, c, &LSTMCache{
		x:     x,
		hPrev: hPrev,
		cPrev: cPrev,
		i:     i,
		f:     f,
		g:     g,
		o:     o,
		tanhC: tanhC,
	}
}

// Backward propagates one step's gradients. gradH and gradC are the loss
// gradients w.r.t. this step's outputs h and c (the latter arrives from the
// next timestep's forget path). Parameter gradients accumulate in place;
// the returns are the gradients w.r.t. the step inputs.
func (l *LSTMCell) Backward(gradH, gradC *Tensor, cache *LSTMCache) (gradX, gradHPrev, gradCPrev *Tensor) {
	batch := gradH.shape[0]
	hd := l.hiddenDim

	// h = o·tanh(c):
	//   ∂L/∂o = gradH·tanh(c)
	//   ∂L/∂c += gradH·o·(1 - tanh²(c))
	gradO := Mul(gradH, cache.tanhC)
	gradCTotal := gradC.Clone()
	for idx := range gradCTotal.data {
		t := cache.tanhC.data[idx]
		gradCTotal.data[idx] += gradH.data[idx] * cache.o.data[idx] * (1.0 - t*t)
	}

	// c = f·c_prev + i·g
	gradF := Mul(gradCTotal, cache.cPrev)
	gradI := Mul(gradCTotal, cache.g)
	gradG := Mul(gradCTotal, cache.i)
	gradCPrev = Mul(gradCTotal, cache.f)

	// Through the gate non-linearities into the pre-activations,
	// reassembled in [i|f|g|o] block order.
	dZ := NewTensor(batch, 4*hd)
	for r := 0; r < batch; r++ {
		for j := 0; j < hd; j++ {
			iv := cache.i.data[r*hd+j]
			fv := cache.f.data[r*hd+j]
			gv := cache.g.data[r*hd+j]
			ov := cache.o.data[r*hd+j]

			dZ.data[r*4*hd+j] = gradI.data[r*hd+j] * iv * (1.0 - iv)
			dZ.data[r*4*hd+hd+j] = gradF.data[r*hd+j] * fv * (1.0 - fv)
			dZ.data[r*4*hd+2*hd+j] = gradG.data[r*hd+j] * (1.0 - gv*gv)
			dZ.data[r*4*hd+3*hd+j] = gradO.data[r*hd+j] * ov * (1.0 - ov)
		}
	}

	// z = x@Wx + hPrev@Wh + b
	gradX, gradWx := MatMulBackward(cache.x, l.wx, dZ)
	l.wx.AccumulateGrad(gradWx)

	var gradWh *Tensor
	gradHPrev, gradWh = MatMulBackward(cache.hPrev, l.wh, dZ)
	l.wh.AccumulateGrad(gradWh)

	l.b.AccumulateGrad(sumColumns(dZ))

	return gradX, gradHPrev, gradCPrev
}

// Parameters returns the cell's trainable tensors in a stable order.
func (l *LSTMCell) Parameters() []*Tensor {
	return []*Tensor{l.wx, l.wh, l.b}
}

func sigmoidScalar(v float64) float64 {
	return 1.0 / (1.0 + math.Exp(-v))
}
