package main

import (
	"math/rand"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T, positions, dim int) *FeatureStore {
	t.Helper()
	store, err := OpenFeatureStore(filepath.Join(t.TempDir(), "features.db"), positions, dim)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestFeatureStoreRoundTrip tests that a stored tensor comes back
// bit-exact, including values that stress the float64 encoding.
func TestFeatureStoreRoundTrip(t *testing.T) {
	store := openTestStore(t, 2, 3)

	in := NewTensor(1, 2, 3)
	in.data = []float64{0, -1.5, 3.14159265358979, 1e-300, -1e300, 0.1}
	if err := store.Put("img-001", in); err != nil {
		t.Fatal(err)
	}

	out, err := store.Get("img-001")
	if err != nil {
		t.Fatal(err)
	}
	wantShape := []int{1, 2, 3}
	for i, d := range out.Shape() {
		if d != wantShape[i] {
			t.Fatalf("shape %v, want %v", out.Shape(), wantShape)
		}
	}
	for i := range in.data {
		if out.data[i] != in.data[i] {
			t.Errorf("element %d: %g != %g", i, out.data[i], in.data[i])
		}
	}
}

// TestFeatureStoreReplace tests that Put overwrites an existing entry
// rather than duplicating it.
func TestFeatureStoreReplace(t *testing.T) {
	store := openTestStore(t, 1, 2)

	first := NewTensor(1, 1, 2)
	first.data = []float64{1, 2}
	second := NewTensor(1, 1, 2)
	second.data = []float64{3, 4}

	if err := store.Put("img", first); err != nil {
		t.Fatal(err)
	}
	if err := store.Put("img", second); err != nil {
		t.Fatal(err)
	}

	n, err := store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 entry after replace, got %d", n)
	}
	got, err := store.Get("img")
	if err != nil {
		t.Fatal(err)
	}
	if got.data[0] != 3 || got.data[1] != 4 {
		t.Errorf("expected replaced values, got %v", got.data)
	}
}

// TestFeatureStoreMissingID tests that a lookup miss is an error, never a
// silent zero tensor.
func TestFeatureStoreMissingID(t *testing.T) {
	store := openTestStore(t, 2, 2)
	if _, err := store.Get("ghost"); err == nil {
		t.Error("expected error for missing image id")
	}
	if _, err := store.BatchFeatures([]string{"ghost"}); err == nil {
		t.Error("expected batch error for missing image id")
	}
}

func TestFeatureStorePutValidation(t *testing.T) {
	store := openTestStore(t, 2, 3)

	if err := store.Put("", NewTensor(1, 2, 3)); err == nil {
		t.Error("expected error for empty image id")
	}
	if err := store.Put("img", NewTensor(1, 3, 2)); err == nil {
		t.Error("expected error for wrong shape")
	}
	if err := store.Put("img", NewTensor(2, 2, 3)); err == nil {
		t.Error("expected error for batch dimension != 1")
	}
}

// TestBatchFeaturesOrder tests that the stacked tensor follows the id list
// order, not insertion or lexical order.
func TestBatchFeaturesOrder(t *testing.T) {
	store := openTestStore(t, 1, 2)

	for i, id := range []string{"c", "a", "b"} {
		ft := NewTensor(1, 1, 2)
		ft.data = []float64{float64(i * 10), float64(i*10 + 1)}
		if err := store.Put(id, ft); err != nil {
			t.Fatal(err)
		}
	}

	batch, err := store.BatchFeatures([]string{"b", "c", "a"})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{20, 21, 0, 1, 10, 11}
	for i, v := range want {
		if batch.data[i] != v {
			t.Fatalf("batch data %v, want %v", batch.data, want)
		}
	}
	if batch.shape[0] != 3 || batch.shape[1] != 1 || batch.shape[2] != 2 {
		t.Errorf("batch shape %v, want [3 1 2]", batch.Shape())
	}

	if _, err := store.BatchFeatures(nil); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestFeatureStoreCountAndIDs(t *testing.T) {
	store := openTestStore(t, 1, 1)

	n, err := store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("fresh store should be empty, got %d", n)
	}

	rng := rand.New(rand.NewSource(1))
	for _, id := range []string{"zebra", "ant", "moth"} {
		ft := NewTensor(1, 1, 1)
		ft.data[0] = rng.Float64()
		if err := store.Put(id, ft); err != nil {
			t.Fatal(err)
		}
	}

	n, err = store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3, got %d", n)
	}

	ids, err := store.ImageIDs()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"ant", "moth", "zebra"}
	if len(ids) != len(want) {
		t.Fatalf("ids %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids %v, want %v", ids, want)
		}
	}
}

// TestFeatureStoreReopen tests durability: data written through one handle
// is visible through a fresh one.
func TestFeatureStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.db")

	store, err := OpenFeatureStore(path, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	ft := NewTensor(1, 1, 2)
	ft.data = []float64{7, 8}
	if err := store.Put("img", ft); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = OpenFeatureStore(path, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	got, err := store.Get("img")
	if err != nil {
		t.Fatal(err)
	}
	if got.data[0] != 7 || got.data[1] != 8 {
		t.Errorf("reopened store returned %v", got.data)
	}
}

// TestFeatureStoreShapeMismatch tests that a store opened with a different
// shape refuses entries written under the old one.
func TestFeatureStoreShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.db")

	store, err := OpenFeatureStore(path, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put("img", NewTensor(1, 2, 2)); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = OpenFeatureStore(path, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, err := store.Get("img"); err == nil {
		t.Error("expected shape mismatch error")
	}

	if _, err := OpenFeatureStore(filepath.Join(t.TempDir(), "x.db"), 0, 5); err == nil {
		t.Error("expected error for non-positive positions")
	}
}
