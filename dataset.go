package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
)

// ===========================================================================
// CAPTION DATASET
// ===========================================================================
//
// Tokenization happens outside this module: a dataset file already holds
// token INDICES, one caption per image id, with the start/end markers in
// place. The JSON layout is two parallel arrays:
//
//	{
//	  "image_ids": ["coco_123", "coco_456", ...],
//	  "captions":  [[1, 52, 9, 2], [1, 17, 33, 4, 2], ...]
//	}
//
// Before training, captions are filtered and padded to one fixed length:
// anything longer than the limit is dropped (with its image id), and
// everything else is right-padded with PadToken. Padding never appears
// anywhere but the tail.
//
// ===========================================================================

// MaxCaptionLength is the fixed padded caption length. Longer captions are
// filtered out, not truncated.
const MaxCaptionLength = 40

// Dataset pairs image ids with tokenized captions, index for index.
type Dataset struct {
	ImageIDs []string `json:"image_ids"`
	Captions [][]int  `json:"captions"`
}

// LoadDataset reads and structurally validates a dataset file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("dataset: parse %s: %w", path, err)
	}
	if err := ds.check(); err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return &ds, nil
}

// SaveDataset writes a dataset as indented JSON.
func SaveDataset(ds *Dataset, path string) error {
	if err := ds.check(); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("dataset: marshal: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("dataset: write %s: %w", path, err)
	}
	return nil
}

func (ds *Dataset) check() error {
	if len(ds.ImageIDs) == 0 {
		return fmt.Errorf("no images")
	}
	if len(ds.ImageIDs) != len(ds.Captions) {
		return fmt.Errorf("%d image ids but %d captions", len(ds.ImageIDs), len(ds.Captions))
	}
	for i, caption := range ds.Captions {
		if len(caption) < 2 {
			return fmt.Errorf("caption %d has %d tokens, want at least start and end", i, len(caption))
		}
		for _, tok := range caption {
			if tok < 0 {
				return fmt.Errorf("caption %d holds negative token %d", i, tok)
			}
		}
	}
	return nil
}

// Len reports the number of (image, caption) pairs.
func (ds *Dataset) Len() int { return len(ds.ImageIDs) }

// FilterAndPad drops pairs whose caption exceeds maxLen tokens and
// right-pads the survivors with PadToken to exactly maxLen. The receiver
// is left untouched.
func (ds *Dataset) FilterAndPad(maxLen int) *Dataset {
	if maxLen < 2 {
		panic(fmt.Sprintf("dataset: pad length must be >= 2, got %d", maxLen))
	}

	out := &Dataset{}
	for i, caption := range ds.Captions {
		if len(caption) > maxLen {
			continue
		}
		padded := make([]int, maxLen)
		copy(padded, caption)
		for j := len(caption); j < maxLen; j++ {
			padded[j] = PadToken
		}
		out.ImageIDs = append(out.ImageIDs, ds.ImageIDs[i])
		out.Captions = append(out.Captions, padded)
	}
	return out
}

// BatchIterator hands out fixed-size batches, cycling through the dataset
// when an epoch needs more batches than one pass provides. In shuffled mode
// each pass visits the pairs in a fresh permutation.
type BatchIterator struct {
	ds        *Dataset
	batchSize int
	cursor    int
	order     []int      // nil in sequential mode
	rng       *rand.Rand // reshuffles order on every wrap
}

// NewBatchIterator creates a sequential iterator over ds. The dataset must
// hold at least one pair.
func NewBatchIterator(ds *Dataset, batchSize int) (*BatchIterator, error) {
	if ds.Len() == 0 {
		return nil, fmt.Errorf("dataset: cannot iterate an empty dataset")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be positive, got %d", batchSize)
	}
	return &BatchIterator{ds: ds, batchSize: batchSize}, nil
}

// Shuffle switches the iterator to shuffled order, one fresh permutation
// per pass, deterministic for a given seed.
func (it *BatchIterator) Shuffle(seed int64) {
	it.rng = rand.New(rand.NewSource(seed))
	it.order = it.rng.Perm(it.ds.Len())
}

// Next returns the next batch of image ids and caption rows, wrapping
// around at the end of the dataset. The caption rows are the dataset's own
// slices; callers must not mutate them.
func (it *BatchIterator) Next() ([]string, [][]int) {
	ids := make([]string, it.batchSize)
	caps := make([][]int, it.batchSize)
	for i := 0; i < it.batchSize; i++ {
		idx := it.cursor
		if it.order != nil {
			idx = it.order[it.cursor]
		}
		ids[i] = it.ds.ImageIDs[idx]
		caps[i] = it.ds.Captions[idx]

		it.cursor++
		if it.cursor == it.ds.Len() {
			it.cursor = 0
			if it.rng != nil {
				it.order = it.rng.Perm(it.ds.Len())
			}
		}
	}
	return ids, caps
}
