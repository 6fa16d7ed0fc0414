package katra

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ckoons/katra-sub000/internal/katraerr"
)

// Checkpoint records the progress of a long-running pass (consolidation,
// reindex) so that a crash mid-pass can resume or be safely re-run. It is
// persisted under <root>/checkpoints/<name>.json.
type Checkpoint struct {
	Name      string    `json:"name"`
	CIID      string    `json:"ci_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Completed bool      `json:"completed"`
	// Cursor is an opaque resume token owned by the caller (e.g. the last
	// day file processed, or a record_id boundary).
	Cursor string `json:"cursor,omitempty"`
	// ArchivedIDs lists the record_ids a pass has flagged archived=true so
	// far. Nothing reads it back after a crash: no recovery step restores
	// or reprocesses the records it names.
	ArchivedIDs []string `json:"archived_ids,omitempty"`
}

// CheckpointStore persists checkpoints under a root directory.
type CheckpointStore struct {
	root string
}

func NewCheckpointStore(root string) *CheckpointStore {
	return &CheckpointStore{root: filepath.Join(root, "checkpoints")}
}

func (s *CheckpointStore) path(name string) string {
	return filepath.Join(s.root, name+".json")
}

// Save writes the checkpoint atomically (write-temp, rename) so a crash
// mid-write never leaves a half-written checkpoint file behind.
func (s *CheckpointStore) Save(cp *Checkpoint) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return katraerr.IO("failed to create checkpoints directory", err)
	}
	cp.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return katraerr.Wrap(katraerr.KindCheckpointFailed, "E_CHECKPOINT_FAILED", "failed to marshal checkpoint", err)
	}

	tmp := s.path(cp.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return katraerr.Wrap(katraerr.KindCheckpointFailed, "E_CHECKPOINT_FAILED", "failed to write checkpoint", err)
	}
	if err := os.Rename(tmp, s.path(cp.Name)); err != nil {
		return katraerr.Wrap(katraerr.KindCheckpointFailed, "E_CHECKPOINT_FAILED", "failed to commit checkpoint", err)
	}
	return nil
}

// Load reads a checkpoint by name. A missing file is not an error: it
// means no pass has started yet, so callers get (nil, nil).
func (s *CheckpointStore) Load(name string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, katraerr.IO("failed to read checkpoint", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, katraerr.New(katraerr.KindCheckpointCorrupt, "E_CHECKPOINT_CORRUPT", "checkpoint file is corrupt").WithSuggestion("delete the checkpoint and rerun the pass from scratch")
	}
	return &cp, nil
}

// Clear removes a checkpoint once its pass has completed successfully.
func (s *CheckpointStore) Clear(name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return katraerr.IO("failed to remove checkpoint", err)
	}
	return nil
}
