package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// ErrBatchNotFound is returned when no descriptor exists for a batch name.
var ErrBatchNotFound = errors.New("batch descriptor not found")

// BatchTracker records one descriptor per batch and applies chunk outcomes to
// it. The producer creates descriptors; consumers report chunk results.
type BatchTracker interface {
	Create(ctx context.Context, desc *types.BatchDescriptor) error
	ApplyChunkResult(ctx context.Context, res types.ChunkResult) (*types.BatchDescriptor, error)
	Get(ctx context.Context, batchName string) (*types.BatchDescriptor, error)
}

// FirestoreTrackerConfig holds configuration for the Firestore tracking store.
type FirestoreTrackerConfig struct {
	ProjectID      string
	CollectionName string // e.g., "email-batches"
	// DescriptorTTL sets each descriptor's expirationTime relative to
	// creation, for store-level TTL cleanup.
	DescriptorTTL time.Duration
}

// LoadFirestoreTrackerConfigFromEnv loads tracker configuration from
// environment variables.
func LoadFirestoreTrackerConfigFromEnv() (*FirestoreTrackerConfig, error) {
	cfg := &FirestoreTrackerConfig{
		ProjectID:      os.Getenv("GCP_PROJECT_ID"),
		CollectionName: os.Getenv("FIRESTORE_COLLECTION_BATCH_TRACKER"),
		DescriptorTTL:  30 * 24 * time.Hour,
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID environment variable not set for Firestore tracker")
	}
	if cfg.CollectionName == "" {
		return nil, errors.New("FIRESTORE_COLLECTION_BATCH_TRACKER environment variable not set")
	}
	if ttl := os.Getenv("BATCH_DESCRIPTOR_TTL"); ttl != "" {
		if val, err := time.ParseDuration(ttl); err == nil && val > 0 {
			cfg.DescriptorTTL = val
		}
	}
	return cfg, nil
}

// FirestoreTracker implements BatchTracker over Firestore. Counter updates
// run inside a transaction so concurrent chunk reports for the same batch
// cannot lose increments, and applied chunk IDs are recorded so a redelivered
// chunk cannot double-count.
type FirestoreTracker struct {
	client         *firestore.Client
	collectionName string
	descriptorTTL  time.Duration
	logger         zerolog.Logger
}

// NewFirestoreTracker creates a tracker over an existing Firestore client.
// The caller owns the client's lifecycle.
func NewFirestoreTracker(client *firestore.Client, cfg *FirestoreTrackerConfig, logger zerolog.Logger) (*FirestoreTracker, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	ttl := cfg.DescriptorTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &FirestoreTracker{
		client:         client,
		collectionName: cfg.CollectionName,
		descriptorTTL:  ttl,
		logger:         logger.With().Str("component", "FirestoreTracker").Str("collection", cfg.CollectionName).Logger(),
	}, nil
}

// Create writes a fresh descriptor. Status and counters are forced to their
// initial values; TotalRecipients is fixed from this point on.
func (t *FirestoreTracker) Create(ctx context.Context, desc *types.BatchDescriptor) error {
	if desc == nil || desc.BatchName == "" {
		return errors.New("batch descriptor must carry a batch name")
	}
	now := time.Now().UTC()
	desc.SucceededCount = 0
	desc.FailedCount = 0
	desc.Status = types.BatchPending
	desc.ReportedChunks = nil
	desc.CreatedAt = now
	desc.ExpirationTime = now.Add(t.descriptorTTL)

	if _, err := t.client.Collection(t.collectionName).Doc(desc.BatchName).Create(ctx, desc); err != nil {
		return fmt.Errorf("firestore Create for batch %s: %w", desc.BatchName, err)
	}
	t.logger.Info().
		Str("batch_name", desc.BatchName).
		Int64("total_recipients", desc.TotalRecipients).
		Msg("Batch descriptor created")
	return nil
}

// ApplyChunkResult adds one chunk's tallies to the descriptor and recomputes
// its status. Re-reporting a chunk ID already applied is a no-op returning
// the current descriptor, which makes the update safe under the queue's
// at-least-once redelivery. The returned descriptor reflects the state after
// the update.
func (t *FirestoreTracker) ApplyChunkResult(ctx context.Context, res types.ChunkResult) (*types.BatchDescriptor, error) {
	docRef := t.client.Collection(t.collectionName).Doc(res.BatchName)

	var updated types.BatchDescriptor
	err := t.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrBatchNotFound
			}
			return err
		}
		var desc types.BatchDescriptor
		if err := snap.DataTo(&desc); err != nil {
			return fmt.Errorf("decode descriptor %s: %w", res.BatchName, err)
		}

		for _, id := range desc.ReportedChunks {
			if id == res.ChunkID {
				t.logger.Warn().
					Str("batch_name", res.BatchName).
					Str("chunk_id", res.ChunkID).
					Msg("Chunk already reported, ignoring duplicate delivery.")
				updated = desc
				return nil
			}
		}

		succeeded := res.Succeeded
		failed := res.Failed
		if remaining := desc.TotalRecipients - desc.SucceededCount - desc.FailedCount; succeeded+failed > remaining {
			t.logger.Error().
				Str("batch_name", res.BatchName).
				Str("chunk_id", res.ChunkID).
				Int64("remaining", remaining).
				Int64("reported", succeeded+failed).
				Msg("Chunk tallies exceed remaining recipients, clamping.")
			if succeeded > remaining {
				succeeded = remaining
			}
			failed = remaining - succeeded
		}

		desc.SucceededCount += succeeded
		desc.FailedCount += failed
		desc.Status = types.DeriveStatus(desc.TotalRecipients, desc.SucceededCount, desc.FailedCount)
		desc.ReportedChunks = append(desc.ReportedChunks, res.ChunkID)
		updated = desc

		return tx.Update(docRef, []firestore.Update{
			{Path: "succeededCount", Value: firestore.Increment(succeeded)},
			{Path: "failedCount", Value: firestore.Increment(failed)},
			{Path: "status", Value: desc.Status},
			{Path: "reportedChunks", Value: firestore.ArrayUnion(res.ChunkID)},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("apply chunk result %s for batch %s: %w", res.ChunkID, res.BatchName, err)
	}

	t.logger.Info().
		Str("batch_name", res.BatchName).
		Str("chunk_id", res.ChunkID).
		Int64("succeeded", updated.SucceededCount).
		Int64("failed", updated.FailedCount).
		Str("status", string(updated.Status)).
		Msg("Chunk result applied to batch descriptor")
	return &updated, nil
}

// Get fetches a descriptor by batch name.
func (t *FirestoreTracker) Get(ctx context.Context, batchName string) (*types.BatchDescriptor, error) {
	snap, err := t.client.Collection(t.collectionName).Doc(batchName).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("firestore Get for batch %s: %w", batchName, err)
	}
	var desc types.BatchDescriptor
	if err := snap.DataTo(&desc); err != nil {
		return nil, fmt.Errorf("decode descriptor %s: %w", batchName, err)
	}
	return &desc, nil
}
