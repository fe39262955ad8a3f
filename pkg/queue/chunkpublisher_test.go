package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/illmade-knight/go-mailbatch/pkg/queue"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// setupTestPubsub starts an in-process Pub/Sub server with one topic and
// subscription and returns a connected client.
func setupTestPubsub(t *testing.T, projectID, topicID, subID string) *pubsub.Client {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	opts := []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	require.NoError(t, err)

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, client.Close())
		require.NoError(t, srv.Close())
	})
	return client
}

func TestGooglePubsubPublisher_PublishAndConsumeRoundTrip(t *testing.T) {
	projectID := "test-project"
	topicID := "email-chunks"
	subID := "email-chunks-sub"
	client := setupTestPubsub(t, projectID, topicID, subID)

	publisher, err := queue.NewGooglePubsubPublisher(client, &queue.GooglePubsubPublisherConfig{
		ProjectID: projectID,
		TopicID:   topicID,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer publisher.Stop()

	chunk := &types.ChunkMessage{
		BatchName:   "list-20240101T000000-abc123",
		ChunkID:     "list-20240101T000000-abc123-0",
		TemplateKey: "templates/welcome.html",
		Recipients: []types.RecipientRecord{
			{"email": "a@x.com", "name": "Ann"},
		},
	}
	require.NoError(t, publisher.Publish(context.Background(), chunk))

	consumer, err := queue.NewGooglePubsubConsumerWithClient(client, subID, 10, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))

	var msg types.ConsumedMessage
	select {
	case msg = <-consumer.Messages():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for chunk message")
	}

	var received types.ChunkMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &received))
	assert.Equal(t, chunk.ChunkID, received.ChunkID)
	assert.Equal(t, chunk.BatchName, received.BatchName)
	require.Len(t, received.Recipients, 1)
	assert.Equal(t, "a@x.com", received.Recipients[0].Get("email"))

	// The chunk identity rides along as attributes for queue-side tooling.
	assert.Equal(t, chunk.BatchName, msg.Attributes["batchName"])
	assert.Equal(t, chunk.ChunkID, msg.Attributes["chunkId"])
	msg.Ack()

	require.NoError(t, consumer.Stop())
	select {
	case <-consumer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for consumer to stop")
	}
}

func TestLoadGooglePubsubPublisherConfigFromEnv(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		t.Setenv("GCP_PROJECT_ID", "test-project")
		t.Setenv("PUBSUB_TOPIC_ID_EMAIL_CHUNKS", "email-chunks")

		cfg, err := queue.LoadGooglePubsubPublisherConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "test-project", cfg.ProjectID)
		assert.Equal(t, "email-chunks", cfg.TopicID)
	})

	t.Run("missing topic", func(t *testing.T) {
		t.Setenv("GCP_PROJECT_ID", "test-project")
		t.Setenv("PUBSUB_TOPIC_ID_EMAIL_CHUNKS", "")

		_, err := queue.LoadGooglePubsubPublisherConfigFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PUBSUB_TOPIC_ID_EMAIL_CHUNKS")
	})
}

func TestLoadGooglePubsubConsumerConfigFromEnv(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		t.Setenv("GCP_PROJECT_ID", "test-project")
		t.Setenv("PUBSUB_SUBSCRIPTION_ID_EMAIL_CHUNKS", "email-chunks-sub")

		cfg, err := queue.LoadGooglePubsubConsumerConfigFromEnv("PUBSUB_SUBSCRIPTION_ID_EMAIL_CHUNKS")
		require.NoError(t, err)
		assert.Equal(t, "email-chunks-sub", cfg.SubscriptionID)
	})

	t.Run("missing subscription", func(t *testing.T) {
		t.Setenv("GCP_PROJECT_ID", "test-project")
		t.Setenv("PUBSUB_SUBSCRIPTION_ID_EMAIL_CHUNKS", "")

		_, err := queue.LoadGooglePubsubConsumerConfigFromEnv("PUBSUB_SUBSCRIPTION_ID_EMAIL_CHUNKS")
		require.Error(t, err)
	})
}
