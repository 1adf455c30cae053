package main

import (
	"flag"
	"fmt"
)

// ===========================================================================
// REPORT CLI - Rendering Training History
// ===========================================================================
//
// Turns a run's history CSV into a self-contained HTML page with the
// train/validation curves. The history file is the source of truth; this
// command only renders, so it can be re-run at any point, even while a
// training run is still appending rows.
//
// ===========================================================================

// RunReportCommand implements the report CLI.
func RunReportCommand(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)

	configPath := fs.String("config", "", "Config JSON of the run to render (required)")
	out := fs.String("out", "", "Output HTML path (default: report.html in the run directory)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("report: -config is required")
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	history, err := LoadHistory(cfg.HistoryPath())
	if err != nil {
		return err
	}
	if history.Len() == 0 {
		return fmt.Errorf("no history at %s, train first", cfg.HistoryPath())
	}

	path := *out
	if path == "" {
		path = cfg.ReportPath()
	}
	if err := SaveReportHTML(&cfg, history, path); err != nil {
		return err
	}

	fmt.Printf("Report for %s/model_%d (%d epochs) saved to: %s\n",
		cfg.Attention, cfg.ModelNumber, history.Len(), path)
	return nil
}
