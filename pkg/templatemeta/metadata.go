package templatemeta

import (
	"context"
	"errors"

	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// ErrTemplateNotFound is returned when no metadata record exists for a
// template key. It is terminal for the requesting batch: the producer aborts
// before enqueueing any chunk.
var ErrTemplateNotFound = errors.New("template metadata not found")

// Source is anything that can resolve template metadata for a key: the
// metadata store itself, or a caching layer wrapped around one. Layers are
// chained cache-then-fallback, so a lookup walks cache levels before reaching
// the store.
type Source interface {
	Get(ctx context.Context, key string) (*types.TemplateMetadata, error)
}

// Store is the metadata source of truth, written by the indexer and read by
// everything else through the caching chain.
type Store interface {
	Source
	Put(ctx context.Context, md *types.TemplateMetadata) error
	Delete(ctx context.Context, key string) error
}
