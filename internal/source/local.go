package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Options configures where Open reads from.
type Options struct {
	// S3 settings for s3:// inputs.
	S3Endpoint string
	S3Region   string
}

// Open returns a reader for input:
//   - "" or "-": stdin
//   - file:///path: same as a local path
//   - gs://bucket/key or s3://bucket/key: one object
//   - gs://bucket/prefix/ or s3://bucket/prefix/: every object under prefix
//   - a local file, or a directory of *.jsonl / *.jsonl.zst files
//
// Files and objects are read in lexical order of their names.
func Open(ctx context.Context, in string, opts Options) (*Reader, error) {
	switch {
	case in == "" || in == "-":
		return NewReader(os.Stdin, "stdin"), nil
	case strings.HasPrefix(in, "file://"):
		return openLocal(ctx, strings.TrimPrefix(in, "file://"))
	case strings.Contains(in, "://"):
		return openRemote(ctx, in, opts)
	default:
		return openLocal(ctx, in)
	}
}

func openLocal(ctx context.Context, path string) (*Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("invalid input %s: %w", path, err)
	}
	if !info.IsDir() {
		return newReader(ctx, []input{fileInput(path)}, nil), nil
	}

	var paths []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsBlockFile(p) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no block files found in %s", path)
	}
	sort.Strings(paths)

	inputs := make([]input, len(paths))
	for i, p := range paths {
		inputs[i] = fileInput(p)
	}
	return newReader(ctx, inputs, nil), nil
}

func fileInput(path string) input {
	return input{
		name: path,
		open: func(context.Context) (io.ReadCloser, error) { return os.Open(path) },
	}
}

// IsBlockFile reports whether name looks like a block lines file.
func IsBlockFile(name string) bool {
	name = strings.TrimSuffix(name, ".zst")
	return strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".ndjson")
}
