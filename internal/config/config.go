// Package config loads archiver settings: defaults, then an optional YAML
// file, then environment variables. Command-line flags are applied on top by
// cmd/archiver.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Input      InputConfig      `yaml:"input"`
	Output     OutputConfig     `yaml:"output"`
	Rotation   RotationConfig   `yaml:"rotation"`
	Queue      QueueConfig      `yaml:"queue"`
	Sort       SortConfig       `yaml:"sort"`
	Errors     ErrorsConfig     `yaml:"errors"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type InputConfig struct {
	Path       string `yaml:"path"` // "-" for stdin, a file, a directory, or gs:// / s3://
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`
}

type OutputConfig struct {
	Dir         string `yaml:"dir"`
	Backend     string `yaml:"backend"` // local | gcs | s3
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	Compression string `yaml:"compression"` // snappy | zstd | gzip | none
	Naming      string `yaml:"naming"`      // height | sequence
}

type RotationConfig struct {
	RowsPerFile     int   `yaml:"rows_per_file"`
	RowsPerRowGroup int   `yaml:"rows_per_row_group"`
	BlocksPerFile   int64 `yaml:"blocks_per_file"` // 0 disables block-height rotation
	FlushOnClose    bool  `yaml:"flush_on_close"`
}

type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

type SortConfig struct {
	IDOrder string `yaml:"id_order"` // lexical | numeric
}

type ErrorsConfig struct {
	SkipDecode       bool `yaml:"skip_decode"`
	SkipMalformedIDs bool `yaml:"skip_malformed_ids"`
	SkipEncoding     bool `yaml:"skip_encoding"`
}

type MetadataConfig struct {
	Backend     string `yaml:"backend"` // sqlite | postgres | none
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Name    string `yaml:"name"`
}

// AuditConfig controls the hash-chained log of published runs.
type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	Endpoint string `yaml:"endpoint"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Input: InputConfig{Path: "-"},
		Output: OutputConfig{
			Dir:         "./data",
			Backend:     "local",
			Compression: "snappy",
			Naming:      "height",
		},
		Rotation: RotationConfig{
			RowsPerFile:     1_000_000,
			RowsPerRowGroup: 100_000,
			FlushOnClose:    true,
		},
		Queue:    QueueConfig{Capacity: 4},
		Sort:     SortConfig{IDOrder: "lexical"},
		Errors:   ErrorsConfig{SkipDecode: true},
		Metadata: MetadataConfig{Backend: "sqlite"},
		Checkpoint: CheckpointConfig{
			Name: "archiver",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Address: ":9090"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Input.Path = getenvDefault("INPUT", c.Input.Path)
	c.Input.S3Endpoint = getenvDefault("INPUT_S3_ENDPOINT", c.Input.S3Endpoint)
	c.Input.S3Region = getenvDefault("INPUT_S3_REGION", c.Input.S3Region)

	c.Output.Dir = getenvDefault("OUT_DIR", c.Output.Dir)
	c.Output.Backend = getenvDefault("STORAGE_BACKEND", c.Output.Backend)
	c.Output.Bucket = getenvDefault("STORAGE_BUCKET", c.Output.Bucket)
	c.Output.Prefix = getenvDefault("STORAGE_PREFIX", c.Output.Prefix)
	c.Output.S3Endpoint = getenvDefault("S3_ENDPOINT", c.Output.S3Endpoint)
	c.Output.S3Region = getenvDefault("S3_REGION", c.Output.S3Region)
	c.Output.Compression = getenvDefault("COMPRESSION", c.Output.Compression)
	c.Output.Naming = getenvDefault("FILE_NAMING", c.Output.Naming)

	c.Sort.IDOrder = getenvDefault("ID_ORDER", c.Sort.IDOrder)
	c.Metadata.Backend = getenvDefault("METADATA_BACKEND", c.Metadata.Backend)
	c.Metadata.SQLitePath = getenvDefault("METADATA_SQLITE_PATH", c.Metadata.SQLitePath)
	c.Metadata.PostgresDSN = getenvDefault("METADATA_DSN", c.Metadata.PostgresDSN)
	c.Checkpoint.Dir = getenvDefault("CHECKPOINT_DIR", c.Checkpoint.Dir)
	c.Checkpoint.Name = getenvDefault("CHECKPOINT_NAME", c.Checkpoint.Name)
	c.Audit.Dir = getenvDefault("AUDIT_DIR", c.Audit.Dir)
	c.Audit.Endpoint = getenvDefault("AUDIT_ENDPOINT", c.Audit.Endpoint)
	c.Logging.Level = getenvDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getenvDefault("LOG_FORMAT", c.Logging.Format)
	c.Metrics.Address = getenvDefault("METRICS_ADDRESS", c.Metrics.Address)

	var errs []error
	ints := []struct {
		key string
		dst *int
	}{
		{"ROWS_PER_FILE", &c.Rotation.RowsPerFile},
		{"ROWS_PER_ROW_GROUP", &c.Rotation.RowsPerRowGroup},
		{"QUEUE_CAPACITY", &c.Queue.Capacity},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", e.key, err))
				continue
			}
			*e.dst = n
		}
	}
	if v := os.Getenv("BLOCKS_PER_FILE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("BLOCKS_PER_FILE: %w", err))
		} else {
			c.Rotation.BlocksPerFile = n
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"FLUSH_ON_CLOSE", &c.Rotation.FlushOnClose},
		{"SKIP_DECODE_ERRORS", &c.Errors.SkipDecode},
		{"SKIP_MALFORMED_IDS", &c.Errors.SkipMalformedIDs},
		{"SKIP_ENCODING_ERRORS", &c.Errors.SkipEncoding},
		{"CHECKPOINT_ENABLED", &c.Checkpoint.Enabled},
		{"AUDIT_ENABLED", &c.Audit.Enabled},
		{"METRICS_ENABLED", &c.Metrics.Enabled},
	}
	for _, e := range bools {
		if v := os.Getenv(e.key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", e.key, err))
				continue
			}
			*e.dst = b
		}
	}
	return errors.Join(errs...)
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error
	if c.Rotation.RowsPerFile <= 0 {
		errs = append(errs, fmt.Errorf("rotation.rows_per_file must be positive, got %d", c.Rotation.RowsPerFile))
	}
	if c.Rotation.RowsPerRowGroup <= 0 {
		errs = append(errs, fmt.Errorf("rotation.rows_per_row_group must be positive, got %d", c.Rotation.RowsPerRowGroup))
	}
	if c.Rotation.BlocksPerFile < 0 {
		errs = append(errs, fmt.Errorf("rotation.blocks_per_file must not be negative, got %d", c.Rotation.BlocksPerFile))
	}
	if c.Queue.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity))
	}

	switch strings.ToLower(c.Output.Backend) {
	case "", "local":
		if c.Output.Dir == "" {
			errs = append(errs, errors.New("output.dir is required for the local backend"))
		}
	case "gcs", "s3":
		if c.Output.Bucket == "" {
			errs = append(errs, fmt.Errorf("output.bucket is required for the %s backend", c.Output.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown output.backend %q", c.Output.Backend))
	}

	if c.Checkpoint.Enabled && c.CheckpointDir() == "" {
		errs = append(errs, errors.New("checkpoint.dir is required when checkpointing a remote output"))
	}
	if c.Audit.Enabled && c.AuditDir() == "" {
		errs = append(errs, errors.New("audit.dir is required when auditing a remote output"))
	}
	return errors.Join(errs...)
}

// IsLocal reports whether output goes to the local filesystem.
func (c *Config) IsLocal() bool {
	b := strings.ToLower(c.Output.Backend)
	return b == "" || b == "local"
}

// SQLitePath returns the sidecar database path, defaulting to
// <out_dir>/metadata.sqlite for local output.
func (c *Config) SQLitePath() string {
	if c.Metadata.SQLitePath != "" {
		return c.Metadata.SQLitePath
	}
	if c.IsLocal() {
		return filepath.Join(c.Output.Dir, "metadata.sqlite")
	}
	return "metadata.sqlite"
}

// CheckpointDir returns the checkpoint directory, defaulting to the output
// directory for local output.
func (c *Config) CheckpointDir() string {
	if c.Checkpoint.Dir != "" {
		return c.Checkpoint.Dir
	}
	if c.IsLocal() {
		return c.Output.Dir
	}
	return ""
}

// AuditDir returns the audit log directory, defaulting to <out_dir>/_audit for
// local output.
func (c *Config) AuditDir() string {
	if c.Audit.Dir != "" {
		return c.Audit.Dir
	}
	if c.IsLocal() {
		return filepath.Join(c.Output.Dir, "_audit")
	}
	return ""
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
