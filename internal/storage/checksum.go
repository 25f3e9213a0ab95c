package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// ComputeChecksum computes a SHA256 checksum for the given data.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
func VerifyChecksum(data []byte, expected string) bool {
	return ComputeChecksum(data) == expected
}

// digestWriter hashes and counts bytes on their way to w.
type digestWriter struct {
	w    io.Writer
	h    hash.Hash
	size int64
}

func newDigestWriter(w io.Writer) *digestWriter {
	return &digestWriter{w: w, h: sha256.New()}
}

func (d *digestWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	d.h.Write(p[:n])
	d.size += int64(n)
	return n, err
}

func (d *digestWriter) checksum() string {
	return "sha256:" + hex.EncodeToString(d.h.Sum(nil))
}
