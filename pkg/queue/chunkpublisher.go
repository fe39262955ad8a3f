package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// ChunkPublisher enqueues chunk messages to the work queue. Publishes are
// confirmed before returning so the producer can account for every chunk that
// did or did not make it onto the queue.
type ChunkPublisher interface {
	Publish(ctx context.Context, msg *types.ChunkMessage) error
	// Stop flushes any outstanding publishes.
	Stop()
}

// GooglePubsubPublisherConfig holds configuration for the chunk publisher.
type GooglePubsubPublisherConfig struct {
	ProjectID      string
	TopicID        string
	PublishTimeout time.Duration
}

// LoadGooglePubsubPublisherConfigFromEnv loads publisher configuration from
// environment variables.
func LoadGooglePubsubPublisherConfigFromEnv() (*GooglePubsubPublisherConfig, error) {
	cfg := &GooglePubsubPublisherConfig{
		ProjectID:      os.Getenv("GCP_PROJECT_ID"),
		TopicID:        os.Getenv("PUBSUB_TOPIC_ID_EMAIL_CHUNKS"),
		PublishTimeout: 10 * time.Second,
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID environment variable not set for Pub/Sub publisher")
	}
	if cfg.TopicID == "" {
		return nil, errors.New("PUBSUB_TOPIC_ID_EMAIL_CHUNKS environment variable not set for Pub/Sub publisher")
	}
	return cfg, nil
}

// GooglePubsubPublisher implements ChunkPublisher over a Pub/Sub topic.
type GooglePubsubPublisher struct {
	topic          *pubsub.Topic
	publishTimeout time.Duration
	logger         zerolog.Logger
}

// NewGooglePubsubPublisher creates a publisher for the configured topic. It
// takes an existing *pubsub.Client instance, allowing for dependency
// injection; the caller owns the client's lifecycle.
func NewGooglePubsubPublisher(client *pubsub.Client, cfg *GooglePubsubPublisherConfig, logger zerolog.Logger) (*GooglePubsubPublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil for publisher")
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GooglePubsubPublisher{
		topic:          client.Topic(cfg.TopicID),
		publishTimeout: timeout,
		logger:         logger.With().Str("component", "GooglePubsubPublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish enqueues one chunk message and waits for the broker's confirmation.
// The chunk ID and batch name ride along as attributes for queue-side
// filtering and observability.
func (p *GooglePubsubPublisher) Publish(ctx context.Context, msg *types.ChunkMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chunk %s: %w", msg.ChunkID, err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	res := p.topic.Publish(publishCtx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"batchName": msg.BatchName,
			"chunkId":   msg.ChunkID,
		},
	})
	msgID, err := res.Get(publishCtx)
	if err != nil {
		return fmt.Errorf("publish chunk %s: %w", msg.ChunkID, err)
	}

	p.logger.Debug().
		Str("chunk_id", msg.ChunkID).
		Str("pubsub_msg_id", msgID).
		Int("recipients", len(msg.Recipients)).
		Msg("Chunk published and confirmed by Pub/Sub.")
	return nil
}

// Stop flushes the topic's outstanding messages.
func (p *GooglePubsubPublisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
