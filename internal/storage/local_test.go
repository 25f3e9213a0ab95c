package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalStoreCommit(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "archiver-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := NewLocalStore(tmpDir, "archive")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	data := []byte("fake parquet data for testing")

	w, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Final path shouldn't exist yet
	finalPath := filepath.Join(tmpDir, "archive", "block", "10.parquet")
	if _, err := os.Stat(finalPath); !os.IsNotExist(err) {
		t.Error("final file should not exist before Commit")
	}

	info, err := w.Commit(ctx, "block/10.parquet")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", info.Size, len(data))
	}
	if info.Checksum != ComputeChecksum(data) {
		t.Errorf("Checksum = %s, want %s", info.Checksum, ComputeChecksum(data))
	}

	got, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("failed to read final file: %v", err)
	}
	if string(got) != string(data) {
		t.Error("data mismatch")
	}

	// Staging directory is empty after commit
	staged, _ := os.ReadDir(filepath.Join(tmpDir, stagingDir))
	if len(staged) != 0 {
		t.Errorf("staging directory should be empty, has %d entries", len(staged))
	}

	// Abort after commit is a no-op
	if err := w.Abort(); err != nil {
		t.Errorf("Abort after Commit failed: %v", err)
	}
}

func TestLocalStoreAbort(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "archiver-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := NewLocalStore(tmpDir, "")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	w, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Write([]byte("test data"))

	if err := w.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	staged, _ := os.ReadDir(filepath.Join(tmpDir, stagingDir))
	if len(staged) != 0 {
		t.Errorf("staging directory should be empty after Abort, has %d entries", len(staged))
	}

	keys, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List after Abort = %v, want empty", keys)
	}
}

func TestLocalStorePutExistsAndList(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "archiver-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := NewLocalStore(tmpDir, "archive/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	for _, key := range []string{"block/1.parquet", "block/2.parquet", "event/1.parquet"} {
		if _, err := store.Put(ctx, key, []byte(key)); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	ok, err := store.Exists(ctx, "block/2.parquet")
	if err != nil || !ok {
		t.Errorf("Exists(block/2.parquet) = %v, %v; want true", ok, err)
	}
	ok, err = store.Exists(ctx, "call/2.parquet")
	if err != nil || ok {
		t.Errorf("Exists(call/2.parquet) = %v, %v; want false", ok, err)
	}

	keys, err := store.List(ctx, "block/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("List(block/) = %v, want 2 keys", keys)
	}
	for _, k := range keys {
		if filepath.Dir(k) != "block" {
			t.Errorf("unexpected key %s", k)
		}
	}

	uri := store.URI("block/1.parquet")
	if filepath.Base(uri) != "1.parquet" || uri[:7] != "file://" {
		t.Errorf("URI = %s", uri)
	}
}

func TestWriteManifest(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "archiver-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := NewLocalStore(tmpDir, "")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	manifest := &Manifest{
		RunID:       "run-1",
		FirstHeight: 1,
		LastHeight:  2,
		Tables: map[string][]TableInfo{
			"block": {{
				File:      "block/2.parquet",
				Checksum:  "sha256:abc123",
				RowCount:  2,
				RowGroups: 1,
				ByteSize:  100,
			}},
		},
		Producer:  ProducerInfo{Name: "substrate-archiver", Version: "test"},
		CreatedAt: time.Now(),
	}

	info, err := WriteManifest(context.Background(), store, manifest)
	if err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, ManifestKey))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if !VerifyChecksum(data, info.Checksum) {
		t.Error("manifest checksum mismatch")
	}
}
