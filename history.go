package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// ===========================================================================
// TRAINING HISTORY
// ===========================================================================
//
// One CSV row per finished epoch: epoch number, mean training loss, mean
// validation loss. The file is rewritten in full after every epoch rather
// than appended, so a crash mid-write can at worst lose the newest row,
// never produce a torn one, and restarting a run always sees a consistent
// table.
//
// Floats are written with strconv's shortest round-trip formatting so a
// load returns exactly the values that were saved.
//
// ===========================================================================

// EpochStats is one training-history row.
type EpochStats struct {
	Epoch          int
	TrainLoss      float64
	ValidationLoss float64
}

// History accumulates per-epoch stats and persists them to a CSV file.
type History struct {
	path string
	rows []EpochStats
}

// NewHistory creates an empty history that will persist to path.
func NewHistory(path string) *History {
	return &History{path: path}
}

// LoadHistory reads a history CSV written by Append. A missing file yields
// an empty history, not an error, so fresh runs and resumed runs share one
// code path.
func LoadHistory(path string) (*History, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewHistory(path), nil
		}
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("history: parse %s: %w", path, err)
	}

	h := NewHistory(path)
	for i, rec := range records {
		if i == 0 {
			continue // header
		}
		if len(rec) != 3 {
			return nil, fmt.Errorf("history: row %d has %d columns, want 3", i, len(rec))
		}
		epoch, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("history: row %d epoch: %w", i, err)
		}
		trainLoss, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("history: row %d train_loss: %w", i, err)
		}
		valLoss, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("history: row %d validation_loss: %w", i, err)
		}
		h.rows = append(h.rows, EpochStats{Epoch: epoch, TrainLoss: trainLoss, ValidationLoss: valLoss})
	}
	return h, nil
}

// Append records one epoch and rewrites the whole file.
func (h *History) Append(row EpochStats) error {
	h.rows = append(h.rows, row)
	return h.save()
}

// Rows returns a copy of the recorded epochs, oldest first.
func (h *History) Rows() []EpochStats {
	out := make([]EpochStats, len(h.rows))
	copy(out, h.rows)
	return out
}

// Len reports the number of recorded epochs.
func (h *History) Len() int { return len(h.rows) }

func (h *History) save() error {
	f, err := os.Create(h.path)
	if err != nil {
		return fmt.Errorf("history: create %s: %w", h.path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"epoch", "train_loss", "validation_loss"}); err != nil {
		f.Close()
		return fmt.Errorf("history: write header: %w", err)
	}
	for _, row := range h.rows {
		rec := []string{
			strconv.Itoa(row.Epoch),
			strconv.FormatFloat(row.TrainLoss, 'g', -1, 64),
			strconv.FormatFloat(row.ValidationLoss, 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("history: write row %d: %w", row.Epoch, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("history: flush %s: %w", h.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("history: close %s: %w", h.path, err)
	}
	return nil
}
