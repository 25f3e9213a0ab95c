// Package metadata stores runtime metadata blobs, and the files each run
// committed, next to the Parquet output.
package metadata

import (
	"context"
	"fmt"

	"github.com/withObsrvr/substrate-archiver/internal/columnar"
	"github.com/withObsrvr/substrate-archiver/internal/model"
)

// Store is the metadata sidecar.
type Store interface {
	// InsertMetadata stores one runtime metadata row. Inserting an id that
	// already exists is a no-op, so reruns over the same input succeed.
	InsertMetadata(ctx context.Context, m model.Metadata) error

	// RecordFiles stores the files committed by a run.
	RecordFiles(ctx context.Context, runID string, files []columnar.FileInfo) error

	Close() error
}

// Backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Config selects and configures the sidecar backend.
type Config struct {
	Backend     string
	SQLitePath  string
	PostgresDSN string
}

// Open returns the configured backend. An empty backend means SQLite, or
// Postgres when a DSN is set.
func Open(ctx context.Context, cfg Config) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendSQLite
		if cfg.PostgresDSN != "" {
			backend = BackendPostgres
		}
	}

	switch backend {
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	case BackendNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.Backend)
	}
}

// Noop discards everything.
type Noop struct{}

func (Noop) InsertMetadata(context.Context, model.Metadata) error { return nil }
func (Noop) RecordFiles(context.Context, string, []columnar.FileInfo) error { return nil }
func (Noop) Close() error { return nil }
