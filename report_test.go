package main

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestSaveReportHTML renders a small run and spot-checks the page: the
// model identity, the stat cards and both loss series must appear.
func TestSaveReportHTML(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Attention = AttentionLuong
	cfg.ModelNumber = 2

	h := NewHistory(filepath.Join(dir, "history.csv"))
	rows := []EpochStats{
		{Epoch: 1, TrainLoss: 2.5, ValidationLoss: 2.6},
		{Epoch: 2, TrainLoss: 1.75, ValidationLoss: 1.9},
		{Epoch: 3, TrainLoss: 1.5, ValidationLoss: 2.0},
	}
	for _, row := range rows {
		if err := h.Append(row); err != nil {
			t.Fatal(err)
		}
	}

	path := filepath.Join(dir, "report.html")
	if err := SaveReportHTML(&cfg, h, path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)

	for _, want := range []string{
		"<!DOCTYPE html>",
		"luong attention, 2 recurrent layer(s)",
		"Best Validation Loss",
		"1.9000", // best validation loss, epoch 2
		"1.5000", // final train loss
		"const epochs = [1,2,3];",
		"[2.500000,1.750000,1.500000]",
		"[2.600000,1.900000,2.000000]",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestSaveReportHTMLEmptyHistory(t *testing.T) {
	cfg := DefaultConfig()
	h := NewHistory(filepath.Join(t.TempDir(), "history.csv"))
	if err := SaveReportHTML(&cfg, h, filepath.Join(t.TempDir(), "report.html")); err == nil {
		t.Error("expected error for empty history")
	}
}

func TestFormatJSArray(t *testing.T) {
	if got := formatJSArray([]int{1, 2, 3}); got != "[1,2,3]" {
		t.Errorf("got %q", got)
	}
	if got := formatJSArray(nil); got != "[]" {
		t.Errorf("got %q", got)
	}
}

// TestFormatJSArrayFloat tests that non-finite losses render as null so a
// diverged run still produces a loadable page.
func TestFormatJSArrayFloat(t *testing.T) {
	in := []float64{1.5, math.NaN(), math.Inf(1), 0.25}
	if got := formatJSArrayFloat(in); got != "[1.500000,null,null,0.250000]" {
		t.Errorf("got %q", got)
	}
}
