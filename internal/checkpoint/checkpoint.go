// Package checkpoint persists how far an archiver run got, so a restart over
// the same input can skip blocks that were already published.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")

	// ErrInputMismatch is returned by Resume when the saved checkpoint was
	// written for a different input.
	ErrInputMismatch = errors.New("checkpoint belongs to a different input")
)

// Checkpoint is the state saved after a published run.
type Checkpoint struct {
	Name            string    `json:"name"`
	RunID           string    `json:"run_id"`
	Input           string    `json:"input,omitempty"`
	LastBlockHeight int64     `json:"last_block_height"`
	FilesCommitted  int       `json:"files_committed"`
	UpdatedAt       time.Time `json:"updated_at"`

	// NextSequence is the next file number per record kind, used when files
	// are named by sequence.
	NextSequence map[string]int64 `json:"next_sequence,omitempty"`
}

// Manager loads and saves checkpoints.
type Manager interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error

	// Clear removes the saved checkpoint. Clearing a missing one is not an
	// error.
	Clear(ctx context.Context) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string
	Name    string // distinguishes archives sharing Dir
}

// NewManager returns a file manager, or a no-op manager when disabled.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return noopManager{}, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	name := cfg.Name
	if name == "" {
		name = "archiver"
	}
	name = sanitize(name)
	return &fileManager{
		name: name,
		path: filepath.Join(cfg.Dir, "checkpoint_"+name+".json"),
	}, nil
}

// Resume loads the checkpoint for input. It returns nil without error when
// there is nothing to resume from, and ErrInputMismatch when the saved
// checkpoint names another input.
func Resume(ctx context.Context, m Manager, input string) (*Checkpoint, error) {
	cp, err := m.Load(ctx)
	switch {
	case errors.Is(err, ErrNoCheckpoint):
		return nil, nil
	case err != nil:
		return nil, err
	}
	if cp.Input != "" && input != "" && cp.Input != input {
		return nil, fmt.Errorf("%w: saved for %q, running %q", ErrInputMismatch, cp.Input, input)
	}
	return cp, nil
}

// sanitize keeps letters, digits, '-' and '_' and replaces everything else.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

type fileManager struct {
	name string
	path string
}

func (m *fileManager) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	cp := new(Checkpoint)
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", m.path, err)
	}
	return cp, nil
}

func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	cp.Name = m.name
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return writeAtomic(m.path, data)
}

func (m *fileManager) Clear(ctx context.Context) error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// writeAtomic replaces path with data through a sibling temp file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

type noopManager struct{}

func (noopManager) Load(context.Context) (*Checkpoint, error) { return nil, ErrNoCheckpoint }
func (noopManager) Save(context.Context, *Checkpoint) error { return nil }
func (noopManager) Clear(context.Context) error { return nil }
