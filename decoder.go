package main

import "fmt"

// ===========================================================================
// CAPTION DECODER
// ===========================================================================
//
// WHAT'S GOING ON HERE?
//
// The decoder turns encoded image regions into a caption one token at a
// time. It is a stack of one to three LSTM layers with visual attention in
// front and a vocabulary projection behind, and it is the single model this
// package trains in six configurations: {bahdanau, luong} x {1, 2, 3}
// layers, all handled by the same code parameterized at construction.
//
// One decoding step, given the previous token and the carried per-layer
// recurrent states:
//
//	1. Attend: score the encoded regions against the LAST layer's current
//	   (h, c) and blend them into a context vector ctx.
//	2. Embed the input token.
//	3. Feed [ctx | emb] to the first LSTM layer.
//	4. Feed [ctx | h] to every deeper layer, re-concatenating the SAME
//	   context vector each time. ctx is computed once per step.
//	5. Dropout on the last layer's output, then project to vocab logits.
//
// Every layer's (h, c) pair is carried to the next step; dropout touches
// only the output path, never the recurrent path.
//
// Backpropagation-through-time runs the same wiring in reverse. The tricky
// part is bookkeeping: a layer's hidden state gradient arrives from up to
// three places (the next timestep's same layer, the concat feeding the
// layer above in the same step, and for the last layer the output path plus
// the NEXT step's attention), and the context gradient fans back into the
// attention module once per step after summing its per-layer shares.
//
// ===========================================================================

// RecurrentState is one LSTM layer's carried (hidden, cell) pair, each
// shaped (batch, units).
type RecurrentState struct {
	H *Tensor
	C *Tensor
}

// Decoder generates caption tokens from encoded image features.
type Decoder struct {
	vocabSize int
	embedDim  int
	units     int
	depth     int

	embedding *Embedding
	attention Attention
	cells     []*LSTMCell
	dropout   *Dropout
	fc        *Dense
}

// DecodeCache stores one step's forward activations for StepBackward.
type DecodeCache struct {
	tokens  []int
	ctx     *Tensor // the step's single context vector
	attn    *AttentionCache
	lstm    []*LSTMCache // one per layer
	dropped *Tensor      // fc input (dropout output)
	mask    *Tensor      // dropout mask, nil when inactive
}

// NewDecoder builds the decoder a config describes. Construction fails
// fast: an unknown attention strategy or a depth outside 1..3 is an error,
// not a model that limps along.
func NewDecoder(cfg *Config) (*Decoder, error) {
	if cfg.ModelNumber < 1 || cfg.ModelNumber > 3 {
		return nil, fmt.Errorf("decoder: model_number must be 1, 2 or 3, got %d", cfg.ModelNumber)
	}
	attn, err := NewAttention(cfg.Attention, cfg.EmbeddingSize, cfg.RNNSize)
	if err != nil {
		return nil, err
	}

	depth := cfg.ModelNumber
	cells := make([]*LSTMCell, depth)
	for l := 0; l < depth; l++ {
		// First layer reads [ctx | embedding], deeper layers read
		// [ctx | previous layer's output].
		inDim := cfg.EmbeddingSize + cfg.EmbeddingSize
		if l > 0 {
			inDim = cfg.EmbeddingSize + cfg.RNNSize
		}
		cells[l] = NewLSTMCell(inDim, cfg.RNNSize)
	}

	return &Decoder{
		vocabSize: cfg.TargetVocabSize,
		embedDim:  cfg.EmbeddingSize,
		units:     cfg.RNNSize,
		depth:     depth,
		embedding: NewEmbedding(cfg.TargetVocabSize, cfg.EmbeddingSize),
		attention: attn,
		cells:     cells,
		dropout:   NewDropout(cfg.DropoutRate),
		fc:        NewDense(cfg.RNNSize, cfg.TargetVocabSize),
	}, nil
}

// Depth reports the number of stacked LSTM layers.
func (d *Decoder) Depth() int { return d.depth }

// Attention reports the scoring strategy in use.
func (d *Decoder) Attention() Attention { return d.attention }

// InitialStates returns zeroed per-layer states for a fresh sequence.
func (d *Decoder) InitialStates(batch int) []RecurrentState {
	states := make([]RecurrentState, d.depth)
	for l := range states {
		states[l] = RecurrentState{
			H: NewTensor(batch, d.units),
			C: NewTensor(batch, d.units),
		}
	}
	return states
}

// Step runs one decoding step in evaluation mode: dropout is inactive and
// no cache is kept. Returns the vocab logits (batch, vocabSize) and the
// per-layer states to carry into the next step.
func (d *Decoder) Step(tokens []int, enc *Tensor, states []RecurrentState) (*Tensor, []RecurrentState) {
	logits, next, _ := d.step(tokens, enc, states, false, false)
	return logits, next
}

// StepWithCache runs one decoding step in training mode, with dropout
// active, and keeps everything StepBackward needs.
func (d *Decoder) StepWithCache(tokens []int, enc *Tensor, states []RecurrentState) (*Tensor, []RecurrentState, *DecodeCache) {
	return d.step(tokens, enc, states, true, true)
}

func (d *Decoder) step(tokens []int, enc *Tensor, states []RecurrentState, training, keepCache bool) (*Tensor, []RecurrentState, *DecodeCache) {
	if len(states) != d.depth {
		panic(fmt.Sprintf("decoder: got %d states for depth %d", len(states), d.depth))
	}

	last := states[d.depth-1]
	var ctx *Tensor
	var attnCache *AttentionCache
	if keepCache {
		ctx, attnCache = d.attention.ForwardWithCache(enc, last.H, last.C)
	} else {
		ctx = d.attention.Forward(enc, last.H, last.C)
	}

	emb := d.embedding.Forward(tokens)

	next := make([]RecurrentState, d.depth)
	var lstmCaches []*LSTMCache
	if keepCache {
		lstmCaches = make([]*LSTMCache, d.depth)
	}

	x := Concat(ctx, emb)
	var h, c *Tensor
	for l := 0; l < d.depth; l++ {
		if keepCache {
			var lc *LSTMCache
			h, c, lc = d.cells[l].ForwardWithCache(x, states[l].H, states[l].C)
			lstmCaches[l] = lc
		} else {
			h, c = d.cells[l].Forward(x, states[l].H, states[l].C)
		}
		next[l] = RecurrentState{H: h, C: c}
		if l < d.depth-1 {
			x = Concat(ctx, h)
		}
	}

	dropped, mask := d.dropout.Forward(h, training)
	logits := d.fc.Forward(dropped)

	if !keepCache {
		return logits, next, nil
	}
	return logits, next, &DecodeCache{
		tokens:  tokens,
		ctx:     ctx,
		attn:    attnCache,
		lstm:    lstmCaches,
		dropped: dropped,
		mask:    mask,
	}
}

// StepBackward propagates one step's gradients during BPTT.
//
// gradLogits is the loss gradient at this step's logits. gradStates holds
// the gradients w.r.t. this step's OUTPUT states, accumulated by the caller
// from the following timestep (zeros at the final step). gradEnc is the
// running encoder-output gradient and is accumulated in place.
//
// Parameter gradients accumulate into the layers; the return value is the
// gradient w.r.t. the INCOMING states, which the caller carries to the
// previous timestep.
func (d *Decoder) StepBackward(gradLogits *Tensor, cache *DecodeCache, gradStates []RecurrentState, gradEnc *Tensor) []RecurrentState {
	batch := gradLogits.shape[0]

	// Output path: fc, then dropout, into the last layer's hidden grad.
	gradDropped := d.fc.Backward(gradLogits, cache.dropped)
	gradHLast := d.dropout.Backward(gradDropped, cache.mask)

	gh := make([]*Tensor, d.depth)
	gc := make([]*Tensor, d.depth)
	for l := 0; l < d.depth; l++ {
		gh[l] = gradStates[l].H.Clone()
		gc[l] = gradStates[l].C
	}
	addInto(gh[d.depth-1], gradHLast)

	gradCtx := NewTensor(batch, d.embedDim)
	prev := make([]RecurrentState, d.depth)
	var gradEmb *Tensor

	// Walk the stack top-down. Each layer's input was [ctx | lower], so
	// its input gradient splits into a context share and a share for the
	// layer below (the token embedding at the bottom).
	for l := d.depth - 1; l >= 0; l-- {
		gradX, gradHPrev, gradCPrev := d.cells[l].Backward(gh[l], gc[l], cache.lstm[l])
		prev[l] = RecurrentState{H: gradHPrev, C: gradCPrev}

		ctxShare, lower := SplitCols(gradX, d.embedDim)
		addInto(gradCtx, ctxShare)
		if l > 0 {
			addInto(gh[l-1], lower)
		} else {
			gradEmb = lower
		}
	}

	// The attention read the INCOMING last-layer state, so its state
	// gradients join the previous-step flow, not this step's.
	gradEncStep, gradHAttn, gradCAttn := d.attention.Backward(gradCtx, cache.attn)
	addInto(gradEnc, gradEncStep)
	addInto(prev[d.depth-1].H, gradHAttn)
	addInto(prev[d.depth-1].C, gradCAttn)

	d.embedding.Backward(gradEmb, cache.tokens)

	return prev
}

// Parameters returns every trainable tensor in a stable order: embedding,
// attention, LSTM stack bottom-up, output projection. Checkpoint layout
// depends on this order.
func (d *Decoder) Parameters() []*Tensor {
	params := d.embedding.Parameters()
	params = append(params, d.attention.Parameters()...)
	for _, cell := range d.cells {
		params = append(params, cell.Parameters()...)
	}
	params = append(params, d.fc.Parameters()...)
	return params
}
