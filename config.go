package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ===========================================================================
// RUN CONFIGURATION
// ===========================================================================
//
// A single Config selects everything about a training run: which attention
// family scores the encoder positions, how many recurrent layers the decoder
// stacks (the "model number"), every tensor dimension, and the loop bounds.
// One (Encoder, Decoder) pair is instantiated per Config and owned
// exclusively by that run - configurations never share parameters.
//
// Validation is deliberately strict and happens before any tensor is
// allocated: an unsupported (attention, model_number) pair must kill the run
// immediately, not surface as a shape panic three layers deep.
//
// ===========================================================================

// Attention family names accepted in Config.Attention.
const (
	AttentionBahdanau = "bahdanau"
	AttentionLuong    = "luong"
)

// Config holds all hyperparameters and loop bounds for one run.
// It round-trips exactly through JSON (Save/Load below).
type Config struct {
	// Model selection
	Attention   string `json:"attention"`    // "bahdanau" or "luong"
	ModelNumber int    `json:"model_number"` // decoder stack depth: 1, 2 or 3

	// Dimensions
	EmbeddingSize    int     `json:"embedding_size"`
	RNNSize          int     `json:"rnn_size"`
	DropoutRate      float64 `json:"dropout_rate"`
	TargetVocabSize  int     `json:"target_vocab_size"`
	FeaturePositions int     `json:"feature_positions"` // spatial positions per image
	FeatureDim       int     `json:"feature_dim"`       // raw feature size per position

	// Special token indices in the (external) target vocabulary.
	StartTokenIndex int `json:"start_token_index"`
	EndTokenIndex   int `json:"end_token_index"` // 0 disables end-token stopping

	// Loop bounds
	Epochs                  int `json:"epochs"`
	TrainStepsPerEpoch      int `json:"train_steps_per_epoch"`
	ValidationStepsPerEpoch int `json:"validation_steps_per_epoch"`
	TestStepsPerEpoch       int `json:"test_steps_per_epoch"`
	BatchSize               int `json:"batch_size"`

	// Optimization
	Optimizer        string  `json:"optimizer"` // "adam" or "sgd"
	LearningRate     float64 `json:"learning_rate"`
	AdamBeta1        float64 `json:"adam_beta_1"`
	AdamBeta2        float64 `json:"adam_beta_2"`
	AdamEpsilon      float64 `json:"adam_epsilon"`
	WeightDecay      float64 `json:"weight_decay"`
	GradientClipNorm float64 `json:"gradient_clip_norm"` // 0 disables clipping

	// Artifact root. Run artifacts live under RunDir().
	ModelDir string `json:"model_dir"`
}

// DefaultConfig returns a working configuration for a small run.
// Dimensions match the external feature extractor (64 positions x 2048).
func DefaultConfig() Config {
	return Config{
		Attention:   AttentionBahdanau,
		ModelNumber: 1,

		EmbeddingSize:    256,
		RNNSize:          512,
		DropoutRate:      0.3,
		TargetVocabSize:  8357,
		FeaturePositions: 64,
		FeatureDim:       2048,

		StartTokenIndex: 1,
		EndTokenIndex:   2,

		Epochs:                  20,
		TrainStepsPerEpoch:      100,
		ValidationStepsPerEpoch: 20,
		TestStepsPerEpoch:       20,
		BatchSize:               64,

		Optimizer:        "adam",
		LearningRate:     1e-3,
		AdamBeta1:        0.9,
		AdamBeta2:        0.999,
		AdamEpsilon:      1e-8,
		WeightDecay:      0.0,
		GradientClipNorm: 5.0,

		ModelDir: "results",
	}
}

// Validate checks the configuration before any model is built.
// The first problem found is returned; a non-nil error is fatal to the run.
func (c Config) Validate() error {
	switch c.Attention {
	case AttentionBahdanau, AttentionLuong:
	default:
		return fmt.Errorf("config: unknown attention family %q (want %q or %q)",
			c.Attention, AttentionBahdanau, AttentionLuong)
	}
	if c.ModelNumber < 1 || c.ModelNumber > 3 {
		return fmt.Errorf("config: model_number must be 1, 2 or 3, got %d", c.ModelNumber)
	}
	if c.EmbeddingSize <= 0 {
		return fmt.Errorf("config: embedding_size must be positive, got %d", c.EmbeddingSize)
	}
	if c.RNNSize <= 0 {
		return fmt.Errorf("config: rnn_size must be positive, got %d", c.RNNSize)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("config: dropout_rate must be in [0, 1), got %g", c.DropoutRate)
	}
	if c.TargetVocabSize <= 1 {
		return fmt.Errorf("config: target_vocab_size must be > 1, got %d", c.TargetVocabSize)
	}
	if c.FeaturePositions <= 0 || c.FeatureDim <= 0 {
		return fmt.Errorf("config: feature shape must be positive, got (%d, %d)",
			c.FeaturePositions, c.FeatureDim)
	}
	if c.StartTokenIndex <= 0 || c.StartTokenIndex >= c.TargetVocabSize {
		return fmt.Errorf("config: start_token_index %d outside vocabulary (1..%d)",
			c.StartTokenIndex, c.TargetVocabSize-1)
	}
	if c.EndTokenIndex < 0 || c.EndTokenIndex >= c.TargetVocabSize {
		return fmt.Errorf("config: end_token_index %d outside vocabulary", c.EndTokenIndex)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("config: epochs must be positive, got %d", c.Epochs)
	}
	if c.TrainStepsPerEpoch <= 0 || c.ValidationStepsPerEpoch <= 0 || c.TestStepsPerEpoch <= 0 {
		return fmt.Errorf("config: steps per epoch must be positive, got train=%d validation=%d test=%d",
			c.TrainStepsPerEpoch, c.ValidationStepsPerEpoch, c.TestStepsPerEpoch)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive, got %d", c.BatchSize)
	}
	switch c.Optimizer {
	case "adam", "sgd":
	default:
		return fmt.Errorf("config: unknown optimizer %q (want \"adam\" or \"sgd\")", c.Optimizer)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("config: learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.GradientClipNorm < 0 {
		return fmt.Errorf("config: gradient_clip_norm must be >= 0, got %g", c.GradientClipNorm)
	}
	return nil
}

// RunDir returns the artifact directory for this configuration:
// <model_dir>/<attention>/model_<n>. Checkpoints, history and the report
// for a run all live under it.
func (c Config) RunDir() string {
	return filepath.Join(c.ModelDir, c.Attention, fmt.Sprintf("model_%d", c.ModelNumber))
}

// CheckpointDir returns the checkpoint directory for this configuration.
func (c Config) CheckpointDir() string {
	return filepath.Join(c.RunDir(), "checkpoints")
}

// HistoryPath returns the training-history CSV path for this configuration.
func (c Config) HistoryPath() string {
	return filepath.Join(c.RunDir(), "history.csv")
}

// ReportPath returns the HTML report path for this configuration.
func (c Config) ReportPath() string {
	return filepath.Join(c.RunDir(), "report.html")
}

// SaveConfig writes the configuration as indented JSON.
func SaveConfig(c Config, path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads a configuration saved by SaveConfig and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
