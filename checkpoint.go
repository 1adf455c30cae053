package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ===========================================================================
// CHECKPOINTS
// ===========================================================================
//
// Simple binary snapshot format:
//
//	1. Header length (4 bytes, little endian)
//	2. Header (JSON): the run config, the epoch, Adam's step counter
//	3. Every trainable tensor in Session.Parameters() order (raw float64)
//	4. Adam first and second moments in the same order (when using Adam)
//
// There are no per-tensor shape records: the config in the header rebuilds
// the exact same model, so tensor sizes are fully determined. A truncated
// or mismatched file surfaces as a read error, not silent corruption.
//
// A snapshot holds the OPTIMIZER state too, not just the weights. Resuming
// Adam without its moment estimates restarts the effective learning rate
// schedule from zero, which shows up as a loss spike after every restore.
//
// CheckpointManager enforces the retention policy: at most maxToKeep
// snapshots on disk, oldest evicted first, with a JSON manifest recording
// what is present.
//
// ===========================================================================

// checkpointHeader is the JSON header at the front of every snapshot.
type checkpointHeader struct {
	Config    Config `json:"config"`
	Epoch     int    `json:"epoch"`
	AdamSteps int    `json:"adam_steps"`
}

// SaveCheckpoint writes the session's parameters and optimizer state to
// path.
func SaveCheckpoint(s *Session, path string, epoch int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: create %s: %w", path, err)
	}
	defer f.Close()

	header := checkpointHeader{
		Config: *s.cfg,
		Epoch:  epoch,
	}
	adam, hasAdam := s.opt.(*AdamOptimizer)
	if hasAdam {
		header.AdamSteps = adam.t
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal header: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("checkpoint: write header length: %w", err)
	}
	if _, err := f.Write(headerJSON); err != nil {
		return fmt.Errorf("checkpoint: write header: %w", err)
	}

	writeTensor := func(t *Tensor) error {
		return binary.Write(f, binary.LittleEndian, t.data)
	}

	for i, p := range s.params {
		if err := writeTensor(p); err != nil {
			return fmt.Errorf("checkpoint: write parameter %d: %w", i, err)
		}
	}
	if hasAdam {
		for i, m := range adam.m {
			if err := writeTensor(m); err != nil {
				return fmt.Errorf("checkpoint: write adam m %d: %w", i, err)
			}
		}
		for i, v := range adam.v {
			if err := writeTensor(v); err != nil {
				return fmt.Errorf("checkpoint: write adam v %d: %w", i, err)
			}
		}
	}

	return nil
}

// LoadCheckpoint rebuilds a session from a snapshot. Returns the session
// and the epoch the snapshot was taken after.
func LoadCheckpoint(path string) (*Session, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	defer f.Close()

	var headerLen uint32
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return nil, 0, fmt.Errorf("checkpoint: read header length: %w", err)
	}
	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerJSON); err != nil {
		return nil, 0, fmt.Errorf("checkpoint: read header: %w", err)
	}
	var header checkpointHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, 0, fmt.Errorf("checkpoint: parse header: %w", err)
	}

	s, err := NewSession(&header.Config)
	if err != nil {
		return nil, 0, fmt.Errorf("checkpoint: rebuild model: %w", err)
	}

	readTensor := func(t *Tensor) error {
		return binary.Read(f, binary.LittleEndian, t.data)
	}

	for i, p := range s.params {
		if err := readTensor(p); err != nil {
			return nil, 0, fmt.Errorf("checkpoint: read parameter %d: %w", i, err)
		}
	}
	if adam, ok := s.opt.(*AdamOptimizer); ok {
		for i, m := range adam.m {
			if err := readTensor(m); err != nil {
				return nil, 0, fmt.Errorf("checkpoint: read adam m %d: %w", i, err)
			}
		}
		for i, v := range adam.v {
			if err := readTensor(v); err != nil {
				return nil, 0, fmt.Errorf("checkpoint: read adam v %d: %w", i, err)
			}
		}
		adam.t = header.AdamSteps
	}

	return s, header.Epoch, nil
}

// ---------------------------------------------------------------------------
// Retention
// ---------------------------------------------------------------------------

const manifestName = "checkpoints.json"

// CheckpointEntry is one manifest row.
type CheckpointEntry struct {
	File           string  `json:"file"` // name within the manager's dir
	Epoch          int     `json:"epoch"`
	ValidationLoss float64 `json:"validation_loss"`
}

// CheckpointManager owns a checkpoint directory and keeps at most maxToKeep
// snapshots in it, evicting the oldest on overflow.
type CheckpointManager struct {
	dir       string
	maxToKeep int
	entries   []CheckpointEntry
}

// NewCheckpointManager creates dir if needed and picks up any manifest a
// previous run left there.
func NewCheckpointManager(dir string, maxToKeep int) (*CheckpointManager, error) {
	if maxToKeep < 1 {
		return nil, fmt.Errorf("checkpoint: maxToKeep must be >= 1, got %d", maxToKeep)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create dir %s: %w", dir, err)
	}

	m := &CheckpointManager{dir: dir, maxToKeep: maxToKeep}

	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("checkpoint: read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, fmt.Errorf("checkpoint: parse manifest: %w", err)
	}
	sort.Slice(m.entries, func(i, j int) bool { return m.entries[i].Epoch < m.entries[j].Epoch })
	return m, nil
}

// Save snapshots the session after the given epoch and applies the
// retention policy. Returns the snapshot path.
func (m *CheckpointManager) Save(s *Session, epoch int, valLoss float64) (string, error) {
	name := fmt.Sprintf("ckpt-%d.bin", epoch)
	path := filepath.Join(m.dir, name)
	if err := SaveCheckpoint(s, path, epoch); err != nil {
		return "", err
	}

	m.entries = append(m.entries, CheckpointEntry{
		File:           name,
		Epoch:          epoch,
		ValidationLoss: valLoss,
	})

	for len(m.entries) > m.maxToKeep {
		oldest := m.entries[0]
		m.entries = m.entries[1:]
		if err := os.Remove(filepath.Join(m.dir, oldest.File)); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("checkpoint: evict %s: %w", oldest.File, err)
		}
	}

	if err := m.writeManifest(); err != nil {
		return "", err
	}
	return path, nil
}

// Latest returns the path of the most recent snapshot, or ok=false when the
// directory has none.
func (m *CheckpointManager) Latest() (string, bool) {
	if len(m.entries) == 0 {
		return "", false
	}
	return filepath.Join(m.dir, m.entries[len(m.entries)-1].File), true
}

// Entries returns a copy of the manifest, oldest first.
func (m *CheckpointManager) Entries() []CheckpointEntry {
	out := make([]CheckpointEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *CheckpointManager) writeManifest() error {
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal manifest: %w", err)
	}
	path := filepath.Join(m.dir, manifestName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("checkpoint: write manifest: %w", err)
	}
	return nil
}
