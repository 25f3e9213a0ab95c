package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gocloud.dev/blob"
)

// tempDir is where in-progress uploads are staged inside the bucket.
const tempDir = "_tmp/"

// BlobStore writes objects to any gocloud.dev bucket. Commit is copy+delete
// from a temp key, so readers never see a partial object.
type BlobStore struct {
	bucket *blob.Bucket
	scheme string
	name   string
	prefix string
}

// OpenBlobStore opens a bucket by URL (gs://, s3://, mem://, ...).
func OpenBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	scheme, rest, _ := strings.Cut(bucketURL, "://")
	name, _, _ := strings.Cut(rest, "?")
	return NewBlobStore(bucket, scheme, name, prefix), nil
}

// NewBlobStore wraps an already opened bucket. The store owns the bucket.
func NewBlobStore(bucket *blob.Bucket, scheme, name, prefix string) *BlobStore {
	return &BlobStore{
		bucket: bucket,
		scheme: scheme,
		name:   name,
		prefix: normalizePrefix(prefix),
	}
}

// Create starts an upload to a unique temp key.
func (s *BlobStore) Create(ctx context.Context) (ObjectWriter, error) {
	tempKey := s.prefix + tempDir + uuid.New().String()

	// Cancelling the writer's context before Close discards the upload.
	wctx, cancel := context.WithCancel(ctx)
	w, err := s.bucket.NewWriter(wctx, tempKey, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create writer for %s: %w", tempKey, err)
	}
	bw := &blobWriter{store: s, tempKey: tempKey, w: w, cancel: cancel}
	bw.digest = newDigestWriter(w)
	return bw, nil
}

type blobWriter struct {
	store   *BlobStore
	tempKey string
	w       *blob.Writer
	cancel  context.CancelFunc
	digest  *digestWriter
	done    bool
}

func (w *blobWriter) Write(p []byte) (int, error) {
	return w.digest.Write(p)
}

// Commit finishes the upload and moves it to its final key.
func (w *blobWriter) Commit(ctx context.Context, key string) (ObjectInfo, error) {
	if w.done {
		return ObjectInfo{}, fmt.Errorf("commit %s: writer already finished", key)
	}
	w.done = true
	defer w.cancel()

	if err := w.w.Close(); err != nil {
		return ObjectInfo{}, fmt.Errorf("close writer for %s: %w", w.tempKey, err)
	}

	finalKey := w.store.prefix + key
	if err := w.store.bucket.Copy(ctx, finalKey, w.tempKey, nil); err != nil {
		w.store.bucket.Delete(ctx, w.tempKey)
		return ObjectInfo{}, fmt.Errorf("finalize %s -> %s: %w", w.tempKey, finalKey, err)
	}
	// Delete temp file after successful copy
	w.store.bucket.Delete(ctx, w.tempKey) // ignore errors

	info := ObjectInfo{Key: key, Size: w.digest.size, Checksum: w.digest.checksum()}
	if attrs, err := w.store.bucket.Attributes(ctx, finalKey); err == nil {
		info.ModTime = attrs.ModTime
	}
	return info, nil
}

func (w *blobWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.cancel()
	// Close reports the cancellation; the object is never created.
	w.w.Close()
	return nil
}

// Put writes a small object through a temp key.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte) (ObjectInfo, error) {
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
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, s.prefix+key)
}

// List returns all committed keys with the given prefix, relative to the
// store prefix. Staged uploads are skipped.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: s.prefix + prefix,
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		key := strings.TrimPrefix(obj.Key, s.prefix)
		if strings.HasPrefix(key, tempDir) {
			continue
		}
		keys = append(keys, key)
	}

	return keys, nil
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return fmt.Sprintf("%s://%s/%s", s.scheme, s.name, s.prefix+key)
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

var _ Store = (*BlobStore)(nil)
