package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver

	"github.com/withObsrvr/substrate-archiver/internal/storage"
)

// openRemote opens gs:// and s3:// inputs. A key ending in "/" selects every
// block file under that prefix.
func openRemote(ctx context.Context, raw string, opts Options) (*Reader, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse input url %s: %w", raw, err)
	}

	var bucketURL string
	switch u.Scheme {
	case "gs":
		bucketURL = "gs://" + u.Host
	case "s3":
		bucketURL = storage.S3URL(u.Host, opts.S3Endpoint, opts.S3Region)
	default:
		return nil, fmt.Errorf("unsupported input scheme %q", u.Scheme)
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", u.Host, err)
	}

	r, err := OpenObjects(ctx, bucket, u.Scheme+"://"+u.Host, strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		bucket.Close()
		return nil, err
	}
	r.cleanup = bucket.Close
	return r, nil
}

// OpenObjects reads key from bucket, or every block file under key when it
// ends in "/". The caller keeps ownership of bucket.
func OpenObjects(ctx context.Context, bucket *blob.Bucket, display, key string) (*Reader, error) {
	if key != "" && !strings.HasSuffix(key, "/") {
		return newReader(ctx, []input{objectInput(bucket, display, key)}, nil), nil
	}

	var keys []string
	iter := bucket.List(&blob.ListOptions{Prefix: key})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", display, key, err)
		}
		if !obj.IsDir && IsBlockFile(obj.Key) {
			keys = append(keys, obj.Key)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no block files found with prefix %s/%s", display, key)
	}
	sort.Strings(keys)

	inputs := make([]input, len(keys))
	for i, k := range keys {
		inputs[i] = objectInput(bucket, display, k)
	}
	return newReader(ctx, inputs, nil), nil
}

func objectInput(bucket *blob.Bucket, display, key string) input {
	return input{
		name: display + "/" + key,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			return bucket.NewReader(ctx, key, nil)
		},
	}
}
