package main

import "fmt"

// ===========================================================================
// GREEDY CAPTION GENERATION
// ===========================================================================
//
// Training always feeds the decoder ground-truth tokens; serving has none.
// Free-running generation closes the loop instead: start from the start
// token, take the argmax of each step's logits, and feed that prediction
// back in as the next input, carrying the recurrent states exactly as in
// training. Decoding stops at the end token or after maxLen steps,
// whichever comes first.
//
// Beam search and sampling live in serving layers; this package only
// implements the deterministic greedy decode.
//
// ===========================================================================

// Caption is the outcome of one greedy decode.
type Caption struct {
	// Tokens are the generated indices in order, including the end token
	// when one was produced within the length budget.
	Tokens []int

	// Weights holds one attention distribution over the image positions
	// per generated token.
	Weights [][]float64
}

// GenerateCaption greedily decodes a caption for a single image's features,
// shaped (1, positions, featureDim). maxLen bounds the number of generated
// tokens; values < 1 fall back to MaxCaptionLength.
func (s *Session) GenerateCaption(features *Tensor, maxLen int) Caption {
	shape := features.Shape()
	if len(shape) != 3 || shape[0] != 1 {
		panic(fmt.Sprintf("generate: want features (1, positions, dim), got %v", shape))
	}
	if maxLen < 1 {
		maxLen = MaxCaptionLength
	}

	enc := s.encoder.Forward(features)
	states := s.decoder.InitialStates(1)
	token := s.cfg.StartTokenIndex

	var out Caption
	for step := 0; step < maxLen; step++ {
		// Evaluation-mode step, but with the cache kept so the attention
		// weights can be reported alongside each token.
		logits, next, cache := s.decoder.step([]int{token}, enc, states, false, true)

		token = argmaxRow(logits, 0)
		out.Tokens = append(out.Tokens, token)
		out.Weights = append(out.Weights, copyRow(cache.attn.weights, 0))

		if s.cfg.EndTokenIndex > 0 && token == s.cfg.EndTokenIndex {
			break
		}
		states = next
	}
	return out
}

// argmaxRow returns the column index of the largest value in row r.
func argmaxRow(t *Tensor, r int) int {
	cols := t.shape[1]
	row := t.data[r*cols : (r+1)*cols]
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

// copyRow copies row r of a 2D tensor into a fresh slice.
func copyRow(t *Tensor, r int) []float64 {
	cols := t.shape[1]
	out := make([]float64, cols)
	copy(out, t.data[r*cols:(r+1)*cols])
	return out
}
