package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// MessageConsumer is the interface for a message source. It is responsible
// for fetching raw messages from the broker; redelivery and dead-lettering
// stay with the broker's subscription configuration.
type MessageConsumer interface {
	// Messages returns a read-only channel from which messages are consumed.
	Messages() <-chan types.ConsumedMessage
	// Start initiates the consumption of messages.
	Start(ctx context.Context) error
	// Stop gracefully ceases message consumption.
	Stop() error
	// Done returns a channel that is closed when the consumer has fully stopped.
	Done() <-chan struct{}
}

// GooglePubsubConsumerConfig holds configuration for the Pub/Sub consumer.
type GooglePubsubConsumerConfig struct {
	ProjectID              string
	SubscriptionID         string
	CredentialsFile        string // Optional
	MaxOutstandingMessages int
	NumGoroutines          int
}

// LoadGooglePubsubConsumerConfigFromEnv loads consumer configuration from
// environment variables. subscriptionEnv names the variable carrying the
// subscription ID, since each service listens on its own subscription.
func LoadGooglePubsubConsumerConfigFromEnv(subscriptionEnv string) (*GooglePubsubConsumerConfig, error) {
	cfg := &GooglePubsubConsumerConfig{
		ProjectID:              os.Getenv("GCP_PROJECT_ID"),
		SubscriptionID:         os.Getenv(subscriptionEnv),
		CredentialsFile:        os.Getenv("GCP_PUBSUB_CREDENTIALS_FILE"),
		MaxOutstandingMessages: 100,
		NumGoroutines:          5,
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID environment variable not set for Pub/Sub consumer")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("%s environment variable not set for Pub/Sub consumer", subscriptionEnv)
	}
	return cfg, nil
}

// GooglePubsubConsumer implements MessageConsumer over a Pub/Sub
// subscription. One queue message maps to one ConsumedMessage; attributes are
// passed through for storage-notification parsing.
type GooglePubsubConsumer struct {
	client             *pubsub.Client
	subscription       *pubsub.Subscription
	logger             zerolog.Logger
	outputChan         chan types.ConsumedMessage
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	wg                 sync.WaitGroup
	doneChan           chan struct{}
}

// NewGooglePubsubConsumer creates a consumer for the configured subscription.
func NewGooglePubsubConsumer(ctx context.Context, cfg *GooglePubsubConsumerConfig, logger zerolog.Logger) (*GooglePubsubConsumer, error) {
	var opts []option.ClientOption
	pubsubEmulatorHost := os.Getenv("PUBSUB_EMULATOR_HOST")
	if pubsubEmulatorHost != "" {
		logger.Info().Str("emulator_host", pubsubEmulatorHost).Str("subscription_id", cfg.SubscriptionID).Msg("Using Pub/Sub emulator for consumer.")
		opts = append(opts, option.WithEndpoint(pubsubEmulatorHost), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	if cfg.MaxOutstandingMessages <= 0 {
		cfg.MaxOutstandingMessages = 100
	}
	if cfg.NumGoroutines <= 0 {
		cfg.NumGoroutines = 5
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient for subscription %s: %w", cfg.SubscriptionID, err)
	}
	sub := client.Subscription(cfg.SubscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	logger.Info().Str("subscription_id", cfg.SubscriptionID).Msg("Listening for messages")

	return &GooglePubsubConsumer{
		client:       client,
		subscription: sub,
		logger:       logger.With().Str("component", "GooglePubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:   make(chan types.ConsumedMessage, cfg.MaxOutstandingMessages),
		doneChan:     make(chan struct{}),
	}, nil
}

// NewGooglePubsubConsumerWithClient creates a consumer over an existing
// client, for tests and callers that manage the client lifecycle themselves.
// The consumer will not close the injected client.
func NewGooglePubsubConsumerWithClient(client *pubsub.Client, subscriptionID string, bufferSize int, logger zerolog.Logger) (*GooglePubsubConsumer, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &GooglePubsubConsumer{
		subscription: client.Subscription(subscriptionID),
		logger:       logger.With().Str("component", "GooglePubsubConsumer").Str("subscription_id", subscriptionID).Logger(),
		outputChan:   make(chan types.ConsumedMessage, bufferSize),
		doneChan:     make(chan struct{}),
	}, nil
}

// Messages returns the consumed message channel.
func (c *GooglePubsubConsumer) Messages() <-chan types.ConsumedMessage { return c.outputChan }

// Start begins receiving from the subscription until ctx is cancelled or
// Stop is called.
func (c *GooglePubsubConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.outputChan)
		defer c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")

		err := c.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			payloadCopy := make([]byte, len(msg.Data))
			copy(payloadCopy, msg.Data)

			consumedMsg := types.ConsumedMessage{
				ID:          msg.ID,
				Payload:     payloadCopy,
				Attributes:  msg.Attributes,
				PublishTime: msg.PublishTime,
				Ack:         msg.Ack,
				Nack:        msg.Nack,
			}

			select {
			case c.outputChan <- consumedMsg:
			case <-receiveCtx.Done():
				msg.Nack()
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message.")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
		close(c.doneChan)
	}()
	return nil
}

// Stop cancels the subscription receive loop and closes the client it owns.
func (c *GooglePubsubConsumer) Stop() error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelSubscription != nil {
			c.cancelSubscription()
		}
		select {
		case <-c.Done():
			c.logger.Info().Msg("Pub/Sub Receive goroutine confirmed stopped.")
		case <-time.After(30 * time.Second):
			c.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
		}
		if c.client != nil {
			if err := c.client.Close(); err != nil {
				c.logger.Error().Err(err).Msg("Error closing Pub/Sub client")
			}
		}
	})
	return nil
}

// Done returns a channel closed once the receive goroutine has exited.
func (c *GooglePubsubConsumer) Done() <-chan struct{} { return c.doneChan }
