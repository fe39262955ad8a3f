package objectstore

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
)

// ====================================================================================
// This file defines a set of interfaces to abstract the Google Cloud Storage
// client. The abstraction keeps the readers, the archiver, and everything
// built on them testable without a real GCS client.
// ====================================================================================

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("storage object not found")

// Client abstracts the top-level GCS client.
type Client interface {
	Bucket(name string) BucketHandle
}

// BucketHandle abstracts a GCS bucket.
type BucketHandle interface {
	Object(name string) ObjectHandle
}

// ObjectHandle abstracts a GCS object: it can be read, written, copied from
// another object, and deleted.
type ObjectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	CopierFrom(src ObjectHandle) Copier
	Delete(ctx context.Context) error
}

// Copier abstracts a server-side object copy.
type Copier interface {
	Run(ctx context.Context) error
}

// --- Adapters to wrap the concrete Google Cloud Storage client ---

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes the concrete *storage.Client conform to the
// Client interface.
func NewGCSClientAdapter(client *storage.Client) Client {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) BucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) ObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	r, err := a.handle.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	return r, nil
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) io.WriteCloser {
	return a.handle.NewWriter(ctx)
}

func (a *gcsObjectHandleAdapter) CopierFrom(src ObjectHandle) Copier {
	if concrete, ok := src.(*gcsObjectHandleAdapter); ok {
		return &gcsCopierAdapter{copier: a.handle.CopierFrom(concrete.handle)}
	}
	return &gcsCopierAdapter{copier: nil}
}

func (a *gcsObjectHandleAdapter) Delete(ctx context.Context) error {
	if err := a.handle.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrObjectNotFound
		}
		return err
	}
	return nil
}

type gcsCopierAdapter struct {
	copier *storage.Copier
}

func (a *gcsCopierAdapter) Run(ctx context.Context) error {
	if a.copier == nil {
		return errors.New("copier source must be a GCS object handle")
	}
	_, err := a.copier.Run(ctx)
	return err
}
