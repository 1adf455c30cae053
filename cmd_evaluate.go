package main

import (
	"flag"
	"fmt"
)

// ===========================================================================
// EVALUATION CLI - Scoring the Latest Checkpoint
// ===========================================================================
//
// Restores the most recent checkpoint of a run and measures masked
// cross-entropy on a held-out test set. No gradients, no checkpointing:
// just the number you would report.
//
// The run is identified by its config file (the one the train command
// saved into the run directory), so evaluation always scores the same
// architecture the checkpoint was written with.
//
// ===========================================================================

// RunEvaluateCommand implements the evaluation CLI.
func RunEvaluateCommand(args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)

	configPath := fs.String("config", "", "Config JSON of the run to evaluate (required)")
	dbPath := fs.String("db", "features.db", "SQLite feature store path")
	testPath := fs.String("test", "test.json", "Test caption dataset (JSON)")
	steps := fs.Int("steps", 0, "Test batches to run (0 = config's test_steps_per_epoch)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("evaluate: -config is required (use the config.json saved in the run directory)")
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *steps > 0 {
		cfg.TestStepsPerEpoch = *steps
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := OpenFeatureStore(*dbPath, cfg.FeaturePositions, cfg.FeatureDim)
	if err != nil {
		return fmt.Errorf("open feature store: %w", err)
	}
	defer store.Close()

	testSet, err := LoadDataset(*testPath)
	if err != nil {
		return fmt.Errorf("load test dataset: %w", err)
	}
	testSet = testSet.FilterAndPad(MaxCaptionLength)

	fmt.Printf("Evaluating %s/model_%d on %d captions (%d batches of %d)\n",
		cfg.Attention, cfg.ModelNumber, testSet.Len(), cfg.TestStepsPerEpoch, cfg.BatchSize)

	loss, err := TestModel(&cfg, store, testSet)
	if err != nil {
		return err
	}

	fmt.Printf("Test loss: %.4f\n", loss)
	return nil
}
