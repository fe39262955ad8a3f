package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/mailer"
	"github.com/illmade-knight/go-mailbatch/pkg/templates"
	"github.com/illmade-knight/go-mailbatch/pkg/tracker"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// ChunkHandler delivers one chunk message: it resolves the template body,
// sends each recipient their rendered email, and reports the tally to the
// batch tracker.
type ChunkHandler struct {
	build   mailer.BuildConfig
	content templates.ContentFetcher
	sender  mailer.Sender
	tracker tracker.BatchTracker
	logger  zerolog.Logger
}

// NewChunkHandler creates a handler. The content fetcher is expected to be
// the body cache, shared across the worker's handlers.
func NewChunkHandler(
	build mailer.BuildConfig,
	content templates.ContentFetcher,
	sender mailer.Sender,
	batchTracker tracker.BatchTracker,
	logger zerolog.Logger,
) (*ChunkHandler, error) {
	if content == nil || sender == nil || batchTracker == nil {
		return nil, errors.New("chunk handler requires content, sender and tracker collaborators")
	}
	if build.AddressField == "" {
		build = mailer.DefaultBuildConfig()
	}
	return &ChunkHandler{
		build:   build,
		content: content,
		sender:  sender,
		tracker: batchTracker,
		logger:  logger.With().Str("component", "ChunkHandler").Logger(),
	}, nil
}

// HandleChunk processes one chunk. Per-recipient failures are isolated and
// tallied; only infrastructure failures (template fetch, tracker update)
// return an error, signalling the caller to redeliver. Redelivery is safe:
// duplicate chunk reports are no-ops in the tracker and resends carry the
// same idempotency key per recipient.
func (h *ChunkHandler) HandleChunk(ctx context.Context, chunk *types.ChunkMessage) (*types.BatchDescriptor, error) {
	logger := h.logger.With().Str("batch_name", chunk.BatchName).Str("chunk_id", chunk.ChunkID).Logger()

	body, err := h.content.Get(ctx, chunk.TemplateKey)
	if err != nil {
		return nil, fmt.Errorf("fetch template body %s for chunk %s: %w", chunk.TemplateKey, chunk.ChunkID, err)
	}

	var attachments []mailer.Attachment
	// Attachment fetching is keyed the same way as template bodies so the
	// chunk's attachment set rides the same cache.
	for _, key := range chunk.Attachments {
		data, err := h.content.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("fetch attachment %s for chunk %s: %w", key, chunk.ChunkID, err)
		}
		attachments = append(attachments, mailer.Attachment{
			Filename: key,
			Content:  []byte(data),
		})
	}

	result := types.ChunkResult{BatchName: chunk.BatchName, ChunkID: chunk.ChunkID}
	for i := range chunk.Recipients {
		email, err := mailer.BuildRecipientEmail(h.build, chunk, i, body, attachments)
		if err != nil {
			logger.Warn().Err(err).Int("recipient_index", i).Msg("Skipping recipient, could not build email")
			result.Failed++
			continue
		}
		if err := h.sender.Send(ctx, email); err != nil {
			logger.Warn().Err(err).Int("recipient_index", i).Msg("Send failed for recipient")
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	desc, err := h.tracker.ApplyChunkResult(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("report chunk %s result: %w", chunk.ChunkID, err)
	}

	logger.Info().
		Int64("succeeded", result.Succeeded).
		Int64("failed", result.Failed).
		Str("batch_status", string(desc.Status)).
		Msg("Chunk delivered")
	return desc, nil
}
