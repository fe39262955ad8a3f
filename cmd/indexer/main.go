package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/mailer"
	"github.com/illmade-knight/go-mailbatch/pkg/objectstore"
	"github.com/illmade-knight/go-mailbatch/pkg/pipelineconfig"
	"github.com/illmade-knight/go-mailbatch/pkg/queue"
	"github.com/illmade-knight/go-mailbatch/pkg/templatemeta"
	"github.com/illmade-knight/go-mailbatch/pkg/templates"
)

func main() {
	configPath := flag.String("config", "pipeline.yaml", "path to the pipeline resources file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger().With().Str("service", "template-indexer").Logger()

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

	// The indexer reads bodies uncached: it must always see the content the
	// notification announced, not an earlier version.
	contentStore, err := templates.NewContentStore(gcsClient, pipeline.Storage.Bucket, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create template content store")
	}

	indexer, err := templates.NewIndexer(templates.IndexerConfig{
		TemplatesPrefix: pipeline.Storage.TemplatesPrefix,
	}, contentStore, metadataStore, buildNotifier(pipeline, gcsClient, log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create indexer")
	}

	templateConsumer, err := queue.NewGooglePubsubConsumer(ctx, &queue.GooglePubsubConsumerConfig{
		ProjectID:      pipeline.ProjectID,
		SubscriptionID: pipeline.Messaging.TemplateSubscription,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create template notification consumer")
	}

	loop, err := queue.NewStorageEventLoop(2, templateConsumer, indexer.HandleEvent, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event loop")
	}
	if err := loop.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start event loop")
	}

	log.Info().
		Str("subscription", pipeline.Messaging.TemplateSubscription).
		Str("templates_prefix", pipeline.Storage.TemplatesPrefix).
		Msg("Template indexer started")

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	if err := loop.Stop(); err != nil {
		log.Error().Err(err).Msg("Event loop shutdown error")
	}
}

func buildNotifier(pipeline *pipelineconfig.PipelineConfig, gcsClient objectstore.Client, log zerolog.Logger) templates.FailureNotifier {
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
