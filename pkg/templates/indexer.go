package templates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/templatemeta"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// FailureNotifier is raised when indexing an event fails. Implementations
// render an operator-facing report; the indexer only supplies the facts.
type FailureNotifier interface {
	NotifyIndexFailure(ctx context.Context, templateKey string, cause error) error
}

// IndexerConfig holds configuration for the template indexer.
type IndexerConfig struct {
	// TemplatesPrefix restricts indexing to objects under this prefix,
	// e.g. "templates/".
	TemplatesPrefix string
	// Suffixes restricts indexing to these content types.
	Suffixes []string
}

// DefaultIndexerConfig matches the storage layout the pipeline is deployed
// with.
func DefaultIndexerConfig() IndexerConfig {
	return IndexerConfig{
		TemplatesPrefix: "templates/",
		Suffixes:        []string{".html", ".txt"},
	}
}

// Indexer reacts to template content create/update/delete events: it scans
// content for variable placeholders and maintains the metadata record the
// producer validates against and the consumer renders with.
type Indexer struct {
	config   IndexerConfig
	content  ContentFetcher
	store    templatemeta.Store
	notifier FailureNotifier
	logger   zerolog.Logger
}

// NewIndexer creates an indexer. The notifier may be nil, in which case
// failures are only logged and surfaced to the trigger.
func NewIndexer(
	cfg IndexerConfig,
	content ContentFetcher,
	store templatemeta.Store,
	notifier FailureNotifier,
	logger zerolog.Logger,
) (*Indexer, error) {
	if content == nil {
		return nil, errors.New("content fetcher cannot be nil")
	}
	if store == nil {
		return nil, errors.New("metadata store cannot be nil")
	}
	if cfg.TemplatesPrefix == "" {
		cfg.TemplatesPrefix = DefaultIndexerConfig().TemplatesPrefix
	}
	if len(cfg.Suffixes) == 0 {
		cfg.Suffixes = DefaultIndexerConfig().Suffixes
	}
	return &Indexer{
		config:   cfg,
		content:  content,
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "TemplateIndexer").Logger(),
	}, nil
}

// HandleEvent processes one storage notification. Events outside the
// templates prefix or with an unrecognised suffix are skipped, not failed, so
// the trigger can acknowledge them. Failures are reported to the notifier and
// returned for the trigger's own retry policy.
func (ix *Indexer) HandleEvent(ctx context.Context, ev types.StorageEvent) (skipped bool, err error) {
	if !ev.Matches(ix.config.TemplatesPrefix, ix.config.Suffixes...) {
		ix.logger.Debug().Str("object", ev.Object).Msg("Event outside template layout, skipping.")
		return true, nil
	}

	switch ev.EventType {
	case types.StorageObjectFinalize:
		err = ix.index(ctx, ev.Object)
	case types.StorageObjectDelete:
		err = ix.remove(ctx, ev.Object)
	default:
		return true, nil
	}

	if err != nil {
		ix.logger.Error().Err(err).Str("template_key", ev.Object).Msg("Failed to process template event")
		if ix.notifier != nil {
			if notifyErr := ix.notifier.NotifyIndexFailure(ctx, ev.Object, err); notifyErr != nil {
				ix.logger.Error().Err(notifyErr).Str("template_key", ev.Object).Msg("Failed to raise admin notification")
			}
		}
		return false, err
	}
	return false, nil
}

// index scans the uploaded content and upserts the metadata record. A
// byte-identical re-upload is a no-op: the record, including its version, is
// left untouched.
func (ix *Indexer) index(ctx context.Context, key string) error {
	body, err := ix.content.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch template content %s: %w", key, err)
	}

	hash := ContentHash([]byte(body))

	version := int64(1)
	existing, err := ix.store.Get(ctx, key)
	switch {
	case err == nil:
		if existing.ContentHash == hash {
			ix.logger.Debug().Str("template_key", key).Int64("version", existing.Version).Msg("Content unchanged, metadata left as-is.")
			return nil
		}
		version = existing.Version + 1
	case errors.Is(err, templatemeta.ErrTemplateNotFound):
		// First upload of this key.
	default:
		return fmt.Errorf("read existing metadata for %s: %w", key, err)
	}

	md := &types.TemplateMetadata{
		Key:               key,
		RequiredVariables: ExtractVariables(body),
		Version:           version,
		ContentHash:       hash,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := ix.store.Put(ctx, md); err != nil {
		return fmt.Errorf("write metadata for %s: %w", key, err)
	}

	ix.logger.Info().
		Str("template_key", key).
		Int64("version", version).
		Strs("required_variables", md.RequiredVariables).
		Msg("Template metadata indexed")
	return nil
}

// remove drops the metadata record for a deleted template. Removing a key
// that was never indexed is a no-op.
func (ix *Indexer) remove(ctx context.Context, key string) error {
	if err := ix.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete metadata for %s: %w", key, err)
	}
	ix.logger.Info().Str("template_key", key).Msg("Template metadata removed")
	return nil
}
