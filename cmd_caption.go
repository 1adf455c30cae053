package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
)

// ===========================================================================
// CAPTION CLI - Greedy Inference for One Image
// ===========================================================================
//
// Restores the latest checkpoint of a run and generates a caption for a
// single image from the feature store. Greedy decoding: at each step the
// highest-scoring token wins, until the end token or the length cap.
//
// Token ids are printed always; pass a vocabulary file (a JSON array of
// strings indexed by token id) to see words. With -weights the per-step
// attention distribution over feature positions is dumped too, which is
// the quickest way to see where the model "looked" for each word.
//
// ===========================================================================

// RunCaptionCommand implements the single-image inference CLI.
func RunCaptionCommand(args []string) error {
	fs := flag.NewFlagSet("caption", flag.ExitOnError)

	configPath := fs.String("config", "", "Config JSON of the trained run (required)")
	dbPath := fs.String("db", "features.db", "SQLite feature store path")
	imageID := fs.String("image", "", "Image id to caption (required)")
	vocabPath := fs.String("vocab", "", "Optional vocabulary JSON (array of words by token id)")
	maxLen := fs.Int("max-len", MaxCaptionLength, "Generation length cap")
	showWeights := fs.Bool("weights", false, "Print per-step attention weights")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("caption: -config is required")
	}
	if *imageID == "" {
		return fmt.Errorf("caption: -image is required")
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	manager, err := NewCheckpointManager(cfg.CheckpointDir(), maxCheckpoints)
	if err != nil {
		return err
	}
	path, ok := manager.Latest()
	if !ok {
		return fmt.Errorf("no checkpoint under %s, train first", cfg.CheckpointDir())
	}
	session, epoch, err := LoadCheckpoint(path)
	if err != nil {
		return err
	}

	store, err := OpenFeatureStore(*dbPath, cfg.FeaturePositions, cfg.FeatureDim)
	if err != nil {
		return fmt.Errorf("open feature store: %w", err)
	}
	defer store.Close()

	features, err := store.Get(*imageID)
	if err != nil {
		return err
	}

	fmt.Printf("Captioning %s with checkpoint from epoch %d (%s/model_%d)\n",
		*imageID, epoch, cfg.Attention, cfg.ModelNumber)

	caption := session.GenerateCaption(features, *maxLen)

	fmt.Printf("Token ids: %v\n", caption.Tokens)
	if *vocabPath != "" {
		words, err := loadVocab(*vocabPath)
		if err != nil {
			return err
		}
		fmt.Printf("Caption:   %s\n", renderTokens(caption.Tokens, words))
	}

	if *showWeights {
		fmt.Println("Attention weights (position -> weight, top 5 per step):")
		for step, w := range caption.Weights {
			fmt.Printf("  step %2d:", step+1)
			for _, p := range topPositions(w, 5) {
				fmt.Printf(" %d:%.3f", p, w[p])
			}
			fmt.Println()
		}
	}

	return nil
}

// loadVocab reads a JSON array of words, indexed by token id.
func loadVocab(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	return words, nil
}

// renderTokens maps token ids to words, falling back to <id> for ids the
// vocabulary does not cover.
func renderTokens(tokens []int, words []string) string {
	parts := make([]string, 0, len(tokens))
	for _, id := range tokens {
		if id >= 0 && id < len(words) && words[id] != "" {
			parts = append(parts, words[id])
		} else {
			parts = append(parts, fmt.Sprintf("<%d>", id))
		}
	}
	return strings.Join(parts, " ")
}

// topPositions returns the indexes of the k largest weights, descending.
func topPositions(weights []float64, k int) []int {
	idx := make([]int, len(weights))
	for i := range idx {
		idx[i] = i
	}
	// Selection of the top k: the weight vectors are short (64 positions).
	if k > len(idx) {
		k = len(idx)
	}
	for i := 0; i < k; i++ {
		best := i
		for j := i + 1; j < len(idx); j++ {
			if weights[idx[j]] > weights[idx[best]] {
				best = j
			}
		}
		idx[i], idx[best] = idx[best], idx[i]
	}
	return idx[:k]
}
