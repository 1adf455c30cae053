package main

import "fmt"

// ===========================================================================
// TRAINING SESSION
// ===========================================================================
//
// A Session owns one encoder/decoder pair, the optimizer driving it, and
// the config that built it. It exposes exactly two step operations:
//
//	TrainStep      teacher-forced forward over a batch, backpropagation
//	               through time, gradient clip, optimizer update
//	ValidationStep the same forward pass with dropout inactive and no
//	               gradient work
//
// Teacher forcing means the decoder always reads the GROUND-TRUTH previous
// token, never its own prediction: for a padded caption of length L the
// model is asked L-1 questions, "given tokens[t-1], predict tokens[t]".
//
// Both steps return the batch loss metric: the sum of per-step masked
// losses divided by L-1. The gradients, however, come from the UNDIVIDED
// sum, so the metric scaling never leaks into the update. Each step also
// folds its loss into a running Mean (one for training, one for
// validation) that the epoch loop resets and reads.
//
// ===========================================================================

// Mean is a running average over observed values.
type Mean struct {
	total float64
	count int
}

// Update folds one value into the average.
func (m *Mean) Update(v float64) {
	m.total += v
	m.count++
}

// Value returns the mean of everything observed since the last Reset, or 0
// when nothing has been.
func (m *Mean) Value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.total / float64(m.count)
}

// Reset clears the average.
func (m *Mean) Reset() {
	m.total, m.count = 0, 0
}

// Session bundles the model, its optimizer and its config for one training
// run, plus the running loss metrics the epoch loop reads.
type Session struct {
	cfg     *Config
	encoder *Encoder
	decoder *Decoder
	opt     Optimizer
	params  []*Tensor

	trainMetric Mean
	valMetric   Mean
}

// NewSession validates cfg and builds a fresh model and optimizer from it.
func NewSession(cfg *Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	encoder := NewEncoder(cfg.FeatureDim, cfg.EmbeddingSize, cfg.DropoutRate)
	decoder, err := NewDecoder(cfg)
	if err != nil {
		return nil, err
	}

	params := make([]*Tensor, 0)
	params = append(params, encoder.Parameters()...)
	params = append(params, decoder.Parameters()...)

	opt, err := NewOptimizer(cfg, params)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:     cfg,
		encoder: encoder,
		decoder: decoder,
		opt:     opt,
		params:  params,
	}, nil
}

// Config returns the config the session was built from.
func (s *Session) Config() *Config { return s.cfg }

// Encoder returns the feature encoder.
func (s *Session) Encoder() *Encoder { return s.encoder }

// Decoder returns the caption decoder.
func (s *Session) Decoder() *Decoder { return s.decoder }

// Parameters returns every trainable tensor, encoder first, in the order
// checkpoints are laid out.
func (s *Session) Parameters() []*Tensor { return s.params }

// TrainMetric returns the running mean of TrainStep losses since the last
// ResetMetrics.
func (s *Session) TrainMetric() *Mean { return &s.trainMetric }

// ValidationMetric returns the running mean of ValidationStep losses since
// the last ResetMetrics.
func (s *Session) ValidationMetric() *Mean { return &s.valMetric }

// ResetMetrics clears both loss metrics, typically at the top of an epoch.
func (s *Session) ResetMetrics() {
	s.trainMetric.Reset()
	s.valMetric.Reset()
}

// TrainStep runs one optimization step on a batch. features is
// (batch, positions, featureDim); captions holds one padded token row per
// batch element, all the same length. Returns the batch loss metric.
func (s *Session) TrainStep(features *Tensor, captions [][]int) float64 {
	batch, seqLen := batchDims(features, captions)

	s.opt.ZeroGrad(s.params)

	enc, encCache := s.encoder.ForwardWithCache(features)
	states := s.decoder.InitialStates(batch)

	// Teacher-forced forward, stashing per-step caches and loss
	// gradients for the reverse sweep.
	steps := seqLen - 1
	caches := make([]*DecodeCache, steps)
	gradLogits := make([]*Tensor, steps)
	totalLoss := 0.0

	for t := 1; t < seqLen; t++ {
		// Fresh slices each step: the decode cache keeps a reference.
		tokens := make([]int, batch)
		targets := make([]int, batch)
		for b := 0; b < batch; b++ {
			tokens[b] = captions[b][t-1]
			targets[b] = captions[b][t]
		}

		logits, next, cache := s.decoder.StepWithCache(tokens, enc, states)
		stepLoss, grad := MaskedCrossEntropy(logits, targets)

		totalLoss += stepLoss
		caches[t-1] = cache
		gradLogits[t-1] = grad
		states = next
	}

	// Backpropagation through time: walk the steps in reverse, carrying
	// each layer's state gradient backwards and accumulating the encoder
	// gradient across every step's attention.
	gradStates := s.decoder.InitialStates(batch)
	gradEnc := NewTensor(enc.Shape()...)
	for t := steps - 1; t >= 0; t-- {
		gradStates = s.decoder.StepBackward(gradLogits[t], caches[t], gradStates, gradEnc)
	}
	s.encoder.Backward(gradEnc, encCache)

	clipGradients(s.params, s.cfg.GradientClipNorm)
	s.opt.Step(s.params, s.cfg.LearningRate)

	metric := totalLoss / float64(steps)
	s.trainMetric.Update(metric)
	return metric
}

// ValidationStep scores a batch without touching the model: dropout is
// inactive, no gradients are computed. Returns the batch loss metric.
func (s *Session) ValidationStep(features *Tensor, captions [][]int) float64 {
	batch, seqLen := batchDims(features, captions)

	enc := s.encoder.Forward(features)
	states := s.decoder.InitialStates(batch)

	totalLoss := 0.0
	tokens := make([]int, batch)
	targets := make([]int, batch)
	for t := 1; t < seqLen; t++ {
		for b := 0; b < batch; b++ {
			tokens[b] = captions[b][t-1]
			targets[b] = captions[b][t]
		}

		logits, next := s.decoder.Step(tokens, enc, states)
		totalLoss += MaskedCrossEntropyLoss(logits, targets)
		states = next
	}

	metric := totalLoss / float64(seqLen-1)
	s.valMetric.Update(metric)
	return metric
}

func batchDims(features *Tensor, captions [][]int) (batch, seqLen int) {
	if features.Dims() != 3 {
		panic(fmt.Sprintf("session: features must be 3D, got %v", features.Shape()))
	}
	batch = features.shape[0]
	if len(captions) != batch {
		panic(fmt.Sprintf("session: %d captions for feature batch %d", len(captions), batch))
	}
	seqLen = len(captions[0])
	if seqLen < 2 {
		panic("session: captions need at least two tokens per row")
	}
	for b, row := range captions {
		if len(row) != seqLen {
			panic(fmt.Sprintf("session: caption row %d has length %d, want %d", b, len(row), seqLen))
		}
	}
	return batch, seqLen
}
