package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ObjectInfo describes a committed object.
type ObjectInfo struct {
	Key      string
	Size     int64
	Checksum string // "sha256:<hex>"
	ModTime  time.Time
}

// ObjectWriter stages an object whose final key is decided when it is
// committed. Nothing is visible under the final key before Commit returns.
type ObjectWriter interface {
	io.Writer

	// Commit publishes the staged bytes under key, replacing any existing object.
	Commit(ctx context.Context, key string) (ObjectInfo, error)

	// Abort discards the staged bytes. It is safe to call after Commit.
	Abort() error
}

// Store abstracts the archive's output location.
type Store interface {
	// Create opens a staging writer.
	Create(ctx context.Context) (ObjectWriter, error)

	// Put atomically writes a small object.
	Put(ctx context.Context, key string, data []byte) (ObjectInfo, error)

	// Exists checks if key has been committed.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all committed keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Manifest describes the files produced by one archiver run.
type Manifest struct {
	RunID       string                 `json:"run_id"`
	FirstHeight int64                  `json:"first_height"`
	LastHeight  int64                  `json:"last_height"`
	Tables      map[string][]TableInfo `json:"tables"`
	Producer    ProducerInfo           `json:"producer"`
	CreatedAt   time.Time              `json:"created_at"`
}

// TableInfo describes a single committed file.
type TableInfo struct {
	File      string `json:"file"`
	Checksum  string `json:"checksum"`
	RowCount  int64  `json:"row_count"`
	RowGroups int    `json:"row_groups"`
	ByteSize  int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the files.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// MarshalJSON returns the manifest as indented JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// ManifestKey is the key of the run manifest relative to the store prefix.
const ManifestKey = "_manifest.json"

// WriteManifest publishes m under ManifestKey.
func WriteManifest(ctx context.Context, s Store, m *Manifest) (ObjectInfo, error) {
	data, err := m.MarshalJSON()
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("marshal manifest: %w", err)
	}
	return s.Put(ctx, ManifestKey, data)
}

// Config configures the storage backend.
type Config struct {
	Backend string // "local" | "gcs" | "s3"

	// Local filesystem
	LocalDir string

	// GCS
	GCSBucket string

	// S3 (also works for B2, R2, MinIO)
	S3Bucket   string
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string

	// Common
	Prefix string // path prefix within bucket or local dir
}

// normalizePrefix makes a non-empty prefix end in exactly one slash.
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// NewStore creates a storage backend based on configuration.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCSBucket required for gcs backend")
		}
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.Prefix)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3Bucket required for s3 backend")
		}
		return NewS3Store(ctx, cfg.S3Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
