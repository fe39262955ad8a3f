package objectstore

import (
	"context"
	"fmt"
	"io"
)

// ReadObject reads the full content of one object. Callers that need
// streaming should open the reader themselves via the handle.
func ReadObject(ctx context.Context, client Client, bucket, object string) ([]byte, error) {
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// OpenObject returns a streaming reader for one object. The caller owns the
// returned ReadCloser.
func OpenObject(ctx context.Context, client Client, bucket, object string) (io.ReadCloser, error) {
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open reader for gs://%s/%s: %w", bucket, object, err)
	}
	return r, nil
}
