package main

import (
	"flag"
	"fmt"
	"path/filepath"
)

// ===========================================================================
// TRAINING CLI - The Complete Caption Training Loop
// ===========================================================================
//
// This file implements the training CLI that runs the full pipeline:
// feature store → datasets → session → training loop → checkpoints → report.
//
// INTENTION:
// Provide a working end-to-end run over precomputed CNN features. This is
// meant to be:
//   - Simple enough to run on a laptop against a synthetic feature store
//   - Complete enough to exercise every component working together
//   - Educational: show how the pieces fit together
//
// KEY DESIGN DECISIONS:
//
// 1. DATA:
//    - Image features come from a SQLite store keyed by image id
//      (precomputed elsewhere; this program never runs a CNN)
//    - Captions are token id sequences, filtered and padded to a fixed
//      length before batching
//    - Why? Decoupling feature extraction from training keeps every epoch
//      a pure tensor workload
//
// 2. CONFIG:
//    - One JSON config describes the whole run (architecture + schedule)
//    - Flags override individual fields for quick experiments
//    - The resolved config is saved into the run directory so a run is
//      always reproducible from its own artifacts
//
// 3. TRAINING:
//    - Teacher forcing with masked cross-entropy over padded steps
//    - Checkpoints only on validation improvement, three retained
//    - Early stopping once validation goes stale
//
// 4. OBSERVABILITY:
//    - Console progress by default, full-screen dashboard with -dashboard
//    - History lands in a CSV, optionally rendered to an HTML report
//
// ===========================================================================

// RunTrainCommand implements the training CLI.
//
// It resolves a config (file plus flag overrides), opens the feature
// store, loads the caption datasets, builds a session, and hands
// everything to the training loop.
func RunTrainCommand(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)

	configPath := fs.String("config", "", "Config JSON path (flags override its fields)")

	// Model hyperparameters
	attention := fs.String("attention", AttentionBahdanau, "Attention strategy: bahdanau or luong")
	modelNumber := fs.Int("model", 1, "Decoder depth selector (1-3 recurrent layers)")
	embed := fs.Int("embed", 256, "Embedding size")
	rnnSize := fs.Int("rnn", 512, "Recurrent layer size")
	dropout := fs.Float64("dropout", 0.3, "Dropout rate")
	vocab := fs.Int("vocab", 8357, "Target vocabulary size")

	// Training hyperparameters
	epochs := fs.Int("epochs", 20, "Number of training epochs")
	batchSize := fs.Int("batch", 64, "Batch size")
	lr := fs.Float64("lr", 0.001, "Learning rate")
	trainSteps := fs.Int("train-steps", 100, "Training batches per epoch")
	valSteps := fs.Int("val-steps", 20, "Validation batches per epoch")

	// I/O
	dbPath := fs.String("db", "features.db", "SQLite feature store path")
	trainPath := fs.String("train", "train.json", "Training caption dataset (JSON)")
	valPath := fs.String("val", "val.json", "Validation caption dataset (JSON)")
	modelDir := fs.String("dir", "results", "Root directory for run artifacts")

	// Observability
	dashboard := fs.Bool("dashboard", false, "Watch the run in a full-screen dashboard")
	logEvery := fs.Int("log-every", 10, "Console: log every N training batches")
	report := fs.Bool("report", true, "Write an HTML report after the run")

	if err := fs.Parse(args); err != nil {
		return err
	}

	// Resolve config: file first, then explicit flags on top.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "attention":
			cfg.Attention = *attention
		case "model":
			cfg.ModelNumber = *modelNumber
		case "embed":
			cfg.EmbeddingSize = *embed
		case "rnn":
			cfg.RNNSize = *rnnSize
		case "dropout":
			cfg.DropoutRate = *dropout
		case "vocab":
			cfg.TargetVocabSize = *vocab
		case "epochs":
			cfg.Epochs = *epochs
		case "batch":
			cfg.BatchSize = *batchSize
		case "lr":
			cfg.LearningRate = *lr
		case "train-steps":
			cfg.TrainStepsPerEpoch = *trainSteps
		case "val-steps":
			cfg.ValidationStepsPerEpoch = *valSteps
		case "dir":
			cfg.ModelDir = *modelDir
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Println("===========================================================================")
	fmt.Println("TRAINING AN IMAGE CAPTION MODEL")
	fmt.Println("===========================================================================")
	fmt.Println()
	fmt.Printf("Model: %s attention, %d recurrent layer(s), %d embed, %d rnn, vocab %d\n",
		cfg.Attention, cfg.ModelNumber, cfg.EmbeddingSize, cfg.RNNSize, cfg.TargetVocabSize)
	fmt.Printf("Training: %d epochs, %d+%d batches/epoch, batch size %d, lr %.4f\n",
		cfg.Epochs, cfg.TrainStepsPerEpoch, cfg.ValidationStepsPerEpoch, cfg.BatchSize, cfg.LearningRate)
	fmt.Println()

	// Step 1: Open the feature store
	fmt.Println("Step 1: Opening feature store", *dbPath)
	store, err := OpenFeatureStore(*dbPath, cfg.FeaturePositions, cfg.FeatureDim)
	if err != nil {
		return fmt.Errorf("open feature store: %w", err)
	}
	defer store.Close()
	n, err := store.Count()
	if err != nil {
		return err
	}
	fmt.Printf("  %d images with stored features\n", n)
	fmt.Println()

	// Step 2: Load caption datasets
	fmt.Println("Step 2: Loading caption datasets")
	trainSet, err := LoadDataset(*trainPath)
	if err != nil {
		return fmt.Errorf("load training dataset: %w", err)
	}
	valSet, err := LoadDataset(*valPath)
	if err != nil {
		return fmt.Errorf("load validation dataset: %w", err)
	}
	trainSet = trainSet.FilterAndPad(MaxCaptionLength)
	valSet = valSet.FilterAndPad(MaxCaptionLength)
	fmt.Printf("  train: %d captions, validation: %d captions (padded to %d)\n",
		trainSet.Len(), valSet.Len(), MaxCaptionLength)
	fmt.Println()

	// Step 3: Build the session
	fmt.Println("Step 3: Building encoder/decoder session")
	session, err := NewSession(&cfg)
	if err != nil {
		return err
	}
	fmt.Printf("  Total parameters: %d\n", countParameters(session.Parameters()))
	fmt.Println()

	// Step 4: Training loop
	fmt.Println("Step 4: Training...")
	trainer, err := NewTrainer(session, store, trainSet, valSet)
	if err != nil {
		return err
	}
	if err := SaveConfig(cfg, filepath.Join(cfg.RunDir(), "config.json")); err != nil {
		return fmt.Errorf("save run config: %w", err)
	}

	if *dashboard {
		if err := RunDashboard(trainer, &cfg); err != nil {
			return err
		}
	} else {
		trainer.AddObserver(ConsoleObserver(*logEvery))
		fmt.Println("-------------------------------------------------------------------")
		if err := trainer.Run(); err != nil {
			return err
		}
		fmt.Println("-------------------------------------------------------------------")
	}
	fmt.Println()

	// Step 5: Report
	if *report && trainer.History().Len() > 0 {
		fmt.Println("Step 5: Writing HTML report")
		if err := SaveReportHTML(&cfg, trainer.History(), cfg.ReportPath()); err != nil {
			return err
		}
		fmt.Printf("  Report saved to: %s\n", cfg.ReportPath())
		fmt.Println()
	}

	fmt.Println("Training complete! Try:")
	fmt.Printf("  go run . evaluate -db=%s -test=test.json -config=%s\n",
		*dbPath, filepath.Join(cfg.RunDir(), "config.json"))
	fmt.Printf("  go run . caption -db=%s -image=<id> -config=%s\n",
		*dbPath, filepath.Join(cfg.RunDir(), "config.json"))
	fmt.Println()

	return nil
}

// countParameters counts total parameters in the model.
func countParameters(params []*Tensor) int {
	total := 0
	for _, p := range params {
		count := 1
		for _, dim := range p.shape {
			count *= dim
		}
		total += count
	}
	return total
}
