package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/consumer"
	"github.com/illmade-knight/go-mailbatch/pkg/mailer"
	"github.com/illmade-knight/go-mailbatch/pkg/objectstore"
	"github.com/illmade-knight/go-mailbatch/pkg/pipelineconfig"
	"github.com/illmade-knight/go-mailbatch/pkg/queue"
	"github.com/illmade-knight/go-mailbatch/pkg/templates"
	"github.com/illmade-knight/go-mailbatch/pkg/tracker"
)

func main() {
	configPath := flag.String("config", "pipeline.yaml", "path to the pipeline resources file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger().With().Str("service", "batch-consumer").Logger()

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

	batchTracker, err := tracker.NewFirestoreTracker(firestoreClient, &tracker.FirestoreTrackerConfig{
		ProjectID:      pipeline.ProjectID,
		CollectionName: pipeline.Firestore.BatchTrackerCollection,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create batch tracker")
	}

	contentStore, err := templates.NewContentStore(gcsClient, pipeline.Storage.Bucket, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create template content store")
	}
	contentCache := templates.NewContentCache(contentStore, templates.DefaultContentCacheCapacity, log)

	resendCfg, err := mailer.LoadResendConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load mail sender config")
	}
	sender := mailer.NewResendSender(resendCfg, log)

	handler, err := consumer.NewChunkHandler(mailer.DefaultBuildConfig(), contentCache, sender, batchTracker, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create chunk handler")
	}

	chunkConsumer, err := queue.NewGooglePubsubConsumer(ctx, &queue.GooglePubsubConsumerConfig{
		ProjectID:      pipeline.ProjectID,
		SubscriptionID: pipeline.Messaging.ChunkSubscription,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create chunk consumer")
	}

	numWorkers := consumer.DefaultNumWorkers
	if nw := os.Getenv("CONSUMER_NUM_WORKERS"); nw != "" {
		if val, err := strconv.Atoi(nw); err == nil && val > 0 {
			numWorkers = val
		}
	}

	service, err := consumer.NewService(numWorkers, chunkConsumer, handler, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create consumer service")
	}
	if err := service.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start consumer service")
	}

	log.Info().
		Str("subscription", pipeline.Messaging.ChunkSubscription).
		Int("num_workers", numWorkers).
		Msg("Batch consumer started")

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	if err := service.Stop(); err != nil {
		log.Error().Err(err).Msg("Consumer service shutdown error")
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
