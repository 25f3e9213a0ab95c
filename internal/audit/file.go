package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/withObsrvr/substrate-archiver/internal/logging"
)

// FileBackup saves events as JSON files.
type FileBackup struct {
	dir string
}

// NewFileBackup creates dir if needed.
func NewFileBackup(dir string) (*FileBackup, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackup{dir: dir}, nil
}

// Path returns the backup file of evt: run_<first>-<last>_<run id>.json.
func (f *FileBackup) Path(evt *Event) string {
	name := fmt.Sprintf("run_%d-%d_%s.json", evt.Run.FirstHeight, evt.Run.LastHeight, evt.Run.RunID)
	return filepath.Join(f.dir, name)
}

// Save writes evt to its backup file.
func (f *FileBackup) Save(evt *Event) (string, error) {
	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	path := f.Path(evt)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write audit event: %w", err)
	}
	return path, nil
}

// FileEmitter appends events to the chain and writes them to local files only.
type FileEmitter struct {
	chain  *ChainTracker
	backup *FileBackup
	log    *slog.Logger
}

// NewFileEmitter keeps events and chain heads in dir.
func NewFileEmitter(dir string) (*FileEmitter, error) {
	chain, err := NewChainTracker(dir)
	if err != nil {
		return nil, err
	}
	backup, err := NewFileBackup(dir)
	if err != nil {
		return nil, err
	}
	return &FileEmitter{chain: chain, backup: backup, log: logging.Component("audit")}, nil
}

// Emit seals evt and saves it.
func (e *FileEmitter) Emit(_ context.Context, evt *Event) error {
	key := evt.ChainKey()
	prev, err := e.chain.Head(key)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return err
	}
	if err := Seal(evt, prev); err != nil {
		return err
	}

	path, err := e.backup.Save(evt)
	if err != nil {
		return err
	}
	if err := e.chain.SetHead(key, evt.Chain.EventHash); err != nil {
		return fmt.Errorf("update chain head: %w", err)
	}
	e.log.Info("audit event written", "path", path, "event_hash", evt.Chain.EventHash, "prev_hash", prev)
	return nil
}

func (e *FileEmitter) Close() error { return nil }
