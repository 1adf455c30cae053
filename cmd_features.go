package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// ===========================================================================
// FEATURE STORE CLI - Importing and Inspecting Image Features
// ===========================================================================
//
// The model never sees images, only CNN feature grids that were extracted
// ahead of time. This command owns the SQLite store those grids live in:
//
//   import   load .f64 feature dumps from a directory
//   synth    fill the store with random features (and optionally emit a
//            matching random caption dataset) so the whole pipeline can be
//            exercised without a real extractor
//   list     print stored image ids
//
// A .f64 dump is the raw grid for one image: positions*dim float64 values,
// little-endian, row-major. The image id is the file name without the
// extension. At 64 positions x 2048 dims that is 1 MiB per image, which is
// why the format is flat binary and not JSON.
//
// The synth mode exists for the same reason the rest of this repo exists:
// you learn a training loop by running it, and random data runs anywhere.
//
// ===========================================================================

// RunFeaturesCommand implements the feature store CLI.
func RunFeaturesCommand(args []string) error {
	fs := flag.NewFlagSet("features", flag.ExitOnError)

	dbPath := fs.String("db", "features.db", "SQLite feature store path")
	positions := fs.Int("positions", 64, "Feature positions per image")
	dim := fs.Int("dim", 2048, "Feature dimension per position")

	importDir := fs.String("import", "", "Import all .f64 dumps from this directory")
	synth := fs.Int("synth", 0, "Store N synthetic feature grids")
	datasetPath := fs.String("dataset", "", "With -synth: also write a random caption dataset here")
	vocab := fs.Int("vocab", 8357, "With -synth -dataset: vocabulary size for random captions")
	seed := fs.Int64("seed", 42, "With -synth: random seed")
	list := fs.Bool("list", false, "Print stored image ids")

	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := OpenFeatureStore(*dbPath, *positions, *dim)
	if err != nil {
		return fmt.Errorf("open feature store: %w", err)
	}
	defer store.Close()

	if *importDir != "" {
		n, err := importFeatureDumps(store, *importDir, *positions, *dim)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d feature grids into %s\n", n, *dbPath)
	}

	if *synth > 0 {
		ids, err := synthFeatures(store, *synth, *positions, *dim, *seed)
		if err != nil {
			return err
		}
		fmt.Printf("Stored %d synthetic feature grids in %s\n", len(ids), *dbPath)
		if *datasetPath != "" {
			ds := synthCaptions(ids, *vocab, *seed)
			if err := SaveDataset(ds, *datasetPath); err != nil {
				return err
			}
			fmt.Printf("Wrote %d random captions to %s\n", ds.Len(), *datasetPath)
		}
	}

	if *list {
		ids, err := store.ImageIDs()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
	}

	count, err := store.Count()
	if err != nil {
		return err
	}
	fmt.Printf("Store %s: %d images, %d positions x %d dims\n", *dbPath, count, *positions, *dim)
	return nil
}

// importFeatureDumps loads every .f64 file in dir into the store. The
// image id is the file name without the extension.
func importFeatureDumps(store *FeatureStore, dir string, positions, dim int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dump directory: %w", err)
	}

	want := positions * dim
	imported := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".f64") {
			continue
		}
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			return imported, fmt.Errorf("open dump %s: %w", name, err)
		}

		t := NewTensor(1, positions, dim)
		err = binary.Read(f, binary.LittleEndian, t.data)
		f.Close()
		if err != nil {
			return imported, fmt.Errorf("dump %s: want %d float64 values: %w", name, want, err)
		}

		id := strings.TrimSuffix(name, ".f64")
		if err := store.Put(id, t); err != nil {
			return imported, err
		}
		imported++
	}
	if imported == 0 {
		return 0, fmt.Errorf("no .f64 dumps found in %s", dir)
	}
	return imported, nil
}

// synthFeatures stores n random feature grids and returns their ids.
//
// Values are drawn uniform from [0, 1): post-ReLU CNN activations are
// non-negative, so random non-negative values are shaped like the real
// thing even though they mean nothing.
func synthFeatures(store *FeatureStore, n, positions, dim int, seed int64) ([]string, error) {
	rng := rand.New(rand.NewSource(seed))
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("img-%05d", i)
		t := NewTensor(1, positions, dim)
		for j := range t.data {
			t.data[j] = rng.Float64()
		}
		if err := store.Put(id, t); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// synthCaptions builds a random caption per image id: start token, a few
// random word ids, end token. Word ids stay clear of the pad, start and
// end tokens.
func synthCaptions(ids []string, vocabSize int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed + 1))
	cfg := DefaultConfig()

	ds := &Dataset{
		ImageIDs: make([]string, 0, len(ids)),
		Captions: make([][]int, 0, len(ids)),
	}
	lowest := 3 // below this sit pad, start and end
	if vocabSize <= lowest+1 {
		panic(fmt.Sprintf("synthCaptions: vocab size %d leaves no word ids", vocabSize))
	}
	for _, id := range ids {
		words := 4 + rng.Intn(10)
		caption := make([]int, 0, words+2)
		caption = append(caption, cfg.StartTokenIndex)
		for w := 0; w < words; w++ {
			caption = append(caption, lowest+rng.Intn(vocabSize-lowest))
		}
		caption = append(caption, cfg.EndTokenIndex)
		ds.ImageIDs = append(ds.ImageIDs, id)
		ds.Captions = append(ds.Captions, caption)
	}
	return ds
}
