package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Rotation.FlushOnClose {
		t.Error("flush_on_close should default to true")
	}
	if !cfg.Errors.SkipDecode {
		t.Error("skip_decode should default to true")
	}
	if cfg.Sort.IDOrder != "lexical" {
		t.Errorf("id_order = %q, want lexical", cfg.Sort.IDOrder)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archiver.yaml")
	yamlDoc := `
output:
  dir: /tmp/out
  compression: zstd
rotation:
  rows_per_file: 4
  rows_per_row_group: 2
  flush_on_close: false
queue:
  capacity: 1
errors:
  skip_malformed_ids: true
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROWS_PER_FILE", "8")
	t.Setenv("OUT_DIR", "/tmp/env-out")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Rotation.RowsPerFile != 8 {
		t.Errorf("RowsPerFile = %d, want 8 (env wins over yaml)", cfg.Rotation.RowsPerFile)
	}
	if cfg.Rotation.RowsPerRowGroup != 2 {
		t.Errorf("RowsPerRowGroup = %d, want 2", cfg.Rotation.RowsPerRowGroup)
	}
	if cfg.Output.Dir != "/tmp/env-out" {
		t.Errorf("Output.Dir = %q, want /tmp/env-out", cfg.Output.Dir)
	}
	if cfg.Output.Compression != "zstd" {
		t.Errorf("Compression = %q, want zstd", cfg.Output.Compression)
	}
	if cfg.Rotation.FlushOnClose {
		t.Error("FlushOnClose should be false from yaml")
	}
	if cfg.Queue.Capacity != 1 {
		t.Errorf("Queue.Capacity = %d, want 1", cfg.Queue.Capacity)
	}
	if !cfg.Errors.SkipMalformedIDs {
		t.Error("SkipMalformedIDs should be true from yaml")
	}
	// Untouched keys keep their defaults.
	if cfg.Output.Naming != "height" {
		t.Errorf("Naming = %q, want height", cfg.Output.Naming)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "many")
	t.Setenv("FLUSH_ON_CLOSE", "maybe")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for malformed env values")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rows per file", func(c *Config) { c.Rotation.RowsPerFile = 0 }},
		{"negative rows per group", func(c *Config) { c.Rotation.RowsPerRowGroup = -1 }},
		{"zero queue", func(c *Config) { c.Queue.Capacity = 0 }},
		{"negative blocks per file", func(c *Config) { c.Rotation.BlocksPerFile = -5 }},
		{"gcs without bucket", func(c *Config) { c.Output.Backend = "gcs" }},
		{"unknown backend", func(c *Config) { c.Output.Backend = "ftp" }},
		{"remote checkpoint without dir", func(c *Config) {
			c.Output.Backend = "s3"
			c.Output.Bucket = "b"
			c.Checkpoint.Enabled = true
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.Output.Dir = "/data/out"
	if got := cfg.SQLitePath(); got != filepath.Join("/data/out", "metadata.sqlite") {
		t.Errorf("SQLitePath = %q", got)
	}
	if got := cfg.CheckpointDir(); got != "/data/out" {
		t.Errorf("CheckpointDir = %q", got)
	}
	if got := cfg.AuditDir(); got != filepath.Join("/data/out", "_audit") {
		t.Errorf("AuditDir = %q", got)
	}

	cfg.Output.Backend = "gcs"
	if got := cfg.SQLitePath(); got != "metadata.sqlite" {
		t.Errorf("remote SQLitePath = %q", got)
	}
	if got := cfg.CheckpointDir(); got != "" {
		t.Errorf("remote CheckpointDir = %q", got)
	}
	if got := cfg.AuditDir(); got != "" {
		t.Errorf("remote AuditDir = %q", got)
	}

	cfg.Audit.Enabled = true
	cfg.Output.Bucket = "b"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for remote audit without a directory")
	}
}
