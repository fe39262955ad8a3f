package objectstore

import (
	"context"
	"fmt"
	"path"

	"github.com/rs/zerolog"
)

// ArchiverConfig holds configuration for the failed-input archiver.
type ArchiverConfig struct {
	// ErrorPrefix is the destination prefix for archived objects,
	// e.g. "errors/".
	ErrorPrefix string
}

// Archiver moves an object into the error prefix of its bucket: a server-side
// copy followed by a delete of the source. It is used when a recipient-list
// upload fails validation wholesale, so the offending input is kept for
// inspection without retriggering the pipeline.
type Archiver struct {
	client GCSAccess
	config ArchiverConfig
	logger zerolog.Logger
}

// GCSAccess is the slice of Client the archiver needs.
type GCSAccess interface {
	Bucket(name string) BucketHandle
}

// NewArchiver creates an archiver writing under cfg.ErrorPrefix.
func NewArchiver(client GCSAccess, cfg ArchiverConfig, logger zerolog.Logger) (*Archiver, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client cannot be nil")
	}
	if cfg.ErrorPrefix == "" {
		cfg.ErrorPrefix = "errors/"
	}
	return &Archiver{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "Archiver").Logger(),
	}, nil
}

// Archive moves bucket/object to the error prefix, preserving the base file
// name. The source is deleted only after the copy succeeds, so a failed copy
// leaves the original in place.
func (a *Archiver) Archive(ctx context.Context, bucket, object string) (string, error) {
	dest := a.config.ErrorPrefix + path.Base(object)

	bkt := a.client.Bucket(bucket)
	src := bkt.Object(object)

	a.logger.Info().Str("source", object).Str("destination", dest).Msg("Archiving failed input object")

	if err := bkt.Object(dest).CopierFrom(src).Run(ctx); err != nil {
		return "", fmt.Errorf("copy gs://%s/%s to %s: %w", bucket, object, dest, err)
	}
	if err := src.Delete(ctx); err != nil {
		// The copy landed; a dangling source is preferable to losing the
		// archive, so surface the error but report the destination too.
		return dest, fmt.Errorf("delete source gs://%s/%s after archive: %w", bucket, object, err)
	}

	a.logger.Info().Str("destination", dest).Msg("Failed input archived")
	return dest, nil
}
