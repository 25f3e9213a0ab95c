package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// stagingDir holds in-progress files under the base directory so that a
// commit is a rename within one filesystem.
const stagingDir = ".staging"

// LocalStore writes files to the local filesystem.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	// Ensure base and staging directories exist
	if err := os.MkdirAll(filepath.Join(baseDir, stagingDir), 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	return &LocalStore{
		baseDir: baseDir,
		prefix:  normalizePrefix(prefix),
	}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(s.prefix+key))
}

// Create opens a temp file in the staging directory.
func (s *LocalStore) Create(ctx context.Context) (ObjectWriter, error) {
	f, err := os.CreateTemp(filepath.Join(s.baseDir, stagingDir), "obj-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return &localWriter{store: s, f: f, digest: newDigestWriter(f)}, nil
}

type localWriter struct {
	store  *LocalStore
	f      *os.File
	digest *digestWriter
	done   bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	return w.digest.Write(p)
}

// Commit syncs the temp file and renames it into place.
func (w *localWriter) Commit(ctx context.Context, key string) (ObjectInfo, error) {
	if w.done {
		return ObjectInfo{}, fmt.Errorf("commit %s: writer already finished", key)
	}
	w.done = true
	tempPath := w.f.Name()

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(tempPath)
		return ObjectInfo{}, fmt.Errorf("sync %s: %w", tempPath, err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(tempPath)
		return ObjectInfo{}, fmt.Errorf("close %s: %w", tempPath, err)
	}

	path := w.store.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		os.Remove(tempPath)
		return ObjectInfo{}, fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		// Clean up temp file on rename failure
		os.Remove(tempPath)
		return ObjectInfo{}, fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}

	info := ObjectInfo{Key: key, Size: w.digest.size, Checksum: w.digest.checksum()}
	if st, err := os.Stat(path); err == nil {
		info.ModTime = st.ModTime()
	}
	return info, nil
}

func (w *localWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	if err := os.Remove(w.f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", w.f.Name(), err)
	}
	return nil
}

// Put writes data atomically using temp file + rename.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) (ObjectInfo, error) {
	w, err := s.Create(ctx)
	if err != nil {
		return ObjectInfo{}, err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return ObjectInfo{}, fmt.Errorf("write %s: %w", key, err)
	}
	return w.Commit(ctx, key)
}

// Exists checks if a key has been committed.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List returns committed keys under prefix, relative to the store prefix.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	root := filepath.Join(s.baseDir, filepath.FromSlash(s.prefix))
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == stagingDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	absPath, err := filepath.Abs(s.path(key))
	if err != nil {
		absPath = s.path(key)
	}
	return "file://" + absPath
}

// Close removes the staging directory if nothing is left in it.
func (s *LocalStore) Close() error {
	os.Remove(filepath.Join(s.baseDir, stagingDir))
	return nil
}

var _ Store = (*LocalStore)(nil)
