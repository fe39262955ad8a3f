package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/mailer"
	"github.com/illmade-knight/go-mailbatch/pkg/objectstore"
	"github.com/illmade-knight/go-mailbatch/pkg/pipelineconfig"
	"github.com/illmade-knight/go-mailbatch/pkg/producer"
	"github.com/illmade-knight/go-mailbatch/pkg/queue"
	"github.com/illmade-knight/go-mailbatch/pkg/templatemeta"
	"github.com/illmade-knight/go-mailbatch/pkg/templates"
	"github.com/illmade-knight/go-mailbatch/pkg/tracker"
)

func main() {
	configPath := flag.String("config", "pipeline.yaml", "path to the pipeline resources file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger().With().Str("service", "batch-producer").Logger()

	pipeline, err := pipelineconfig.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load pipeline config")
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer storageClient.Close()
	gcsClient := objectstore.NewGCSClientAdapter(storageClient)

	firestoreClient, err := firestore.NewClient(ctx, pipeline.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create firestore client")
	}
	defer firestoreClient.Close()

	metadataStore, err := templatemeta.NewFirestoreStore(firestoreClient, &templatemeta.FirestoreStoreConfig{
		ProjectID:      pipeline.ProjectID,
		CollectionName: pipeline.Firestore.TemplateMetadataCollection,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create metadata store")
	}

	redisCfg, err := templatemeta.LoadRedisConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid Redis configuration")
	}
	metadataCache, cacheCleanup, err := templatemeta.NewChainedSource(ctx, metadataStore, redisCfg, templatemeta.DefaultCacheCapacity, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build metadata cache chain")
	}
	defer func() {
		if err := cacheCleanup(); err != nil {
			log.Error().Err(err).Msg("Failed to close metadata cache")
		}
	}()

	batchTracker, err := tracker.NewFirestoreTracker(firestoreClient, &tracker.FirestoreTrackerConfig{
		ProjectID:      pipeline.ProjectID,
		CollectionName: pipeline.Firestore.BatchTrackerCollection,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create batch tracker")
	}

	pubsubClient, err := pubsub.NewClient(ctx, pipeline.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pubsub client")
	}
	defer pubsubClient.Close()

	publisher, err := queue.NewGooglePubsubPublisher(pubsubClient, &queue.GooglePubsubPublisherConfig{
		ProjectID: pipeline.ProjectID,
		TopicID:   pipeline.Messaging.ChunkTopic,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create chunk publisher")
	}
	defer publisher.Stop()

	notifier := buildNotifier(pipeline, gcsClient, log)

	archiver, err := objectstore.NewArchiver(gcsClient, objectstore.ArchiverConfig{
		ErrorPrefix: pipeline.Storage.ErrorPrefix,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create archiver")
	}

	producerCfg, err := producer.LoadConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load producer config")
	}
	producerCfg.SendPrefix = pipeline.Storage.SendPrefix
	producerCfg.ScheduledPrefix = pipeline.Storage.ScheduledPrefix
	producerCfg.TemplatesPrefix = pipeline.Storage.TemplatesPrefix

	service, err := producer.NewService(*producerCfg, gcsClient, archiver, metadataCache, publisher, batchTracker, notifier, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create producer service")
	}

	uploadConsumer, err := queue.NewGooglePubsubConsumer(ctx, &queue.GooglePubsubConsumerConfig{
		ProjectID:      pipeline.ProjectID,
		SubscriptionID: pipeline.Messaging.UploadSubscription,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create upload notification consumer")
	}

	loop, err := queue.NewStorageEventLoop(2, uploadConsumer, service.HandleEvent, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event loop")
	}
	if err := loop.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start event loop")
	}

	log.Info().
		Str("subscription", pipeline.Messaging.UploadSubscription).
		Str("chunk_topic", pipeline.Messaging.ChunkTopic).
		Msg("Batch producer started")

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	if err := loop.Stop(); err != nil {
		log.Error().Err(err).Msg("Event loop shutdown error")
	}
}

// buildNotifier wires the admin notifier when operator addresses are
// configured; without them, aborts and partial failures are logged only.
func buildNotifier(pipeline *pipelineconfig.PipelineConfig, gcsClient objectstore.Client, log zerolog.Logger) producer.Notifier {
	notifierCfg, err := mailer.LoadAdminNotifierConfigFromEnv()
	if err != nil {
		log.Warn().Err(err).Msg("Admin notifications disabled")
		return nil
	}
	resendCfg, err := mailer.LoadResendConfigFromEnv()
	if err != nil {
		log.Warn().Err(err).Msg("Admin notifications disabled, no mail sender configured")
		return nil
	}
	sender := mailer.NewResendSender(resendCfg, log)

	contentStore, err := templates.NewContentStore(gcsClient, pipeline.Storage.Bucket, log)
	if err != nil {
		log.Warn().Err(err).Msg("Admin notifications disabled, no content store")
		return nil
	}
	content := templates.NewContentCache(contentStore, templates.DefaultContentCacheCapacity, log)

	notifier, err := mailer.NewAdminNotifier(notifierCfg, sender, content, log)
	if err != nil {
		log.Warn().Err(err).Msg("Admin notifications disabled")
		return nil
	}
	return notifier
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
