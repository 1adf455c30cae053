package main

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"

	_ "modernc.org/sqlite"
)

// ===========================================================================
// FEATURE STORE
// ===========================================================================
//
// Captions train against pre-extracted CNN features, not raw images: an
// external extractor runs each image through a vision backbone once and
// persists the resulting (1, positions, dim) tensor under the image id.
// Training then only ever LOOKS UP features, one batch at a time.
//
// The store is a single SQLite file (modernc.org/sqlite, pure Go - no cgo,
// the binary stays self-contained):
//
//	features(image_id TEXT PRIMARY KEY, positions INTEGER,
//	         dim INTEGER, data BLOB)
//
// data is the raw float64 payload, little endian, so a stored tensor
// round-trips bit-exactly. A lookup miss during training is fatal: a
// missing id means the extraction step was incomplete, and skipping it
// silently would train on a different dataset than requested.
//
// ===========================================================================

// FeatureStore reads and writes per-image feature tensors in SQLite.
type FeatureStore struct {
	db        *sql.DB
	positions int
	dim       int
}

// OpenFeatureStore opens (creating if absent) the store at path. Every
// tensor in a store shares one (positions, dim) shape.
func OpenFeatureStore(path string, positions, dim int) (*FeatureStore, error) {
	if positions <= 0 || dim <= 0 {
		return nil, fmt.Errorf("feature store: invalid shape (%d, %d)", positions, dim)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("feature store: open %s: %w", path, err)
	}
	db.Exec("PRAGMA journal_mode=WAL")

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS features(
		image_id TEXT PRIMARY KEY,
		positions INTEGER NOT NULL,
		dim INTEGER NOT NULL,
		data BLOB NOT NULL)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("feature store: create table: %w", err)
	}

	return &FeatureStore{db: db, positions: positions, dim: dim}, nil
}

// Close releases the underlying database handle.
func (fs *FeatureStore) Close() error {
	return fs.db.Close()
}

// Put stores the features for one image, replacing any previous entry.
// features must be shaped (1, positions, dim).
func (fs *FeatureStore) Put(imageID string, features *Tensor) error {
	if imageID == "" {
		return fmt.Errorf("feature store: empty image id")
	}
	shape := features.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[1] != fs.positions || shape[2] != fs.dim {
		return fmt.Errorf("feature store: want shape (1, %d, %d), got %v", fs.positions, fs.dim, shape)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, features.data); err != nil {
		return fmt.Errorf("feature store: encode %s: %w", imageID, err)
	}

	_, err := fs.db.Exec(
		"INSERT OR REPLACE INTO features(image_id, positions, dim, data) VALUES(?,?,?,?)",
		imageID, fs.positions, fs.dim, buf.Bytes())
	if err != nil {
		return fmt.Errorf("feature store: put %s: %w", imageID, err)
	}
	return nil
}

// Get looks up one image's features as a (1, positions, dim) tensor. A
// missing id is an error; callers treat it as fatal.
func (fs *FeatureStore) Get(imageID string) (*Tensor, error) {
	var positions, dim int
	var blob []byte
	err := fs.db.QueryRow(
		"SELECT positions, dim, data FROM features WHERE image_id = ?",
		imageID).Scan(&positions, &dim, &blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("feature store: no features for image %q", imageID)
	}
	if err != nil {
		return nil, fmt.Errorf("feature store: get %s: %w", imageID, err)
	}
	if positions != fs.positions || dim != fs.dim {
		return nil, fmt.Errorf("feature store: %s stored as (%d, %d), store expects (%d, %d)",
			imageID, positions, dim, fs.positions, fs.dim)
	}
	if len(blob) != positions*dim*8 {
		return nil, fmt.Errorf("feature store: %s blob is %d bytes, want %d",
			imageID, len(blob), positions*dim*8)
	}

	t := NewTensor(1, positions, dim)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, t.data); err != nil {
		return nil, fmt.Errorf("feature store: decode %s: %w", imageID, err)
	}
	return t, nil
}

// BatchFeatures stacks the features for a batch of image ids into one
// (batch, positions, dim) tensor, in id order. Any missing id fails the
// whole batch.
func (fs *FeatureStore) BatchFeatures(imageIDs []string) (*Tensor, error) {
	if len(imageIDs) == 0 {
		return nil, fmt.Errorf("feature store: empty batch")
	}

	out := NewTensor(len(imageIDs), fs.positions, fs.dim)
	stride := fs.positions * fs.dim
	for b, id := range imageIDs {
		t, err := fs.Get(id)
		if err != nil {
			return nil, err
		}
		copy(out.data[b*stride:(b+1)*stride], t.data)
	}
	return out, nil
}

// Count reports how many images the store holds.
func (fs *FeatureStore) Count() (int, error) {
	var n int
	if err := fs.db.QueryRow("SELECT COUNT(*) FROM features").Scan(&n); err != nil {
		return 0, fmt.Errorf("feature store: count: %w", err)
	}
	return n, nil
}

// ImageIDs returns every stored image id in lexical order.
func (fs *FeatureStore) ImageIDs() ([]string, error) {
	rows, err := fs.db.Query("SELECT image_id FROM features ORDER BY image_id")
	if err != nil {
		return nil, fmt.Errorf("feature store: list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("feature store: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
