package producer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/illmade-knight/go-mailbatch/pkg/mailer"
	"github.com/illmade-knight/go-mailbatch/pkg/objectstore"
	"github.com/illmade-knight/go-mailbatch/pkg/queue"
	"github.com/illmade-knight/go-mailbatch/pkg/templatemeta"
	"github.com/illmade-knight/go-mailbatch/pkg/tracker"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// DefaultChunkSize bounds recipients per work-queue message when no size is
// configured.
const DefaultChunkSize = 50

// Notifier raises operator notifications for aborted and partially failed
// batches.
type Notifier interface {
	NotifyBatchFailure(ctx context.Context, report mailer.FailureReport) error
}

// Config holds configuration for the batch producer.
type Config struct {
	// SendPrefix triggers batch production; ScheduledPrefix belongs to the
	// external scheduler and is ignored here.
	SendPrefix      string
	ScheduledPrefix string
	// TemplatesPrefix is prepended to the template name taken from the
	// upload's path to form the template key.
	TemplatesPrefix string
	// ChunkSize is the maximum recipients per chunk message (R).
	ChunkSize int
	// RequiredFields are globally required row fields, independent of any
	// template.
	RequiredFields []string
	// AddressField is the row field carrying the delivery address.
	AddressField string
	// PublishParallelism bounds concurrent chunk publishes.
	PublishParallelism int
}

// LoadConfigFromEnv loads producer configuration from environment variables.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		SendPrefix:         "send/",
		ScheduledPrefix:    "scheduled/",
		TemplatesPrefix:    "templates/",
		ChunkSize:          DefaultChunkSize,
		AddressField:       "email",
		PublishParallelism: 4,
	}
	if rpm := os.Getenv("RECIPIENTS_PER_MESSAGE"); rpm != "" {
		val, err := strconv.Atoi(rpm)
		if err != nil || val <= 0 {
			return nil, fmt.Errorf("invalid RECIPIENTS_PER_MESSAGE value %q", rpm)
		}
		cfg.ChunkSize = val
	}
	if rf := os.Getenv("EMAIL_REQUIRED_FIELDS"); rf != "" {
		for _, field := range strings.Split(rf, ",") {
			if field = strings.TrimSpace(field); field != "" {
				cfg.RequiredFields = append(cfg.RequiredFields, field)
			}
		}
	}
	if af := os.Getenv("EMAIL_ADDRESS_FIELD"); af != "" {
		cfg.AddressField = af
	}
	return cfg, nil
}

// Service is the batch producer: it turns one recipient-list upload into a
// tracked batch of size-bounded chunk messages on the work queue.
type Service struct {
	config    Config
	storage   objectstore.Client
	archiver  *objectstore.Archiver
	metadata  templatemeta.Source
	publisher queue.ChunkPublisher
	tracker   tracker.BatchTracker
	notifier  Notifier
	logger    zerolog.Logger
}

// NewService creates a producer. The metadata source is expected to be the
// caching chain, constructed once per worker and shared across events.
func NewService(
	cfg Config,
	storage objectstore.Client,
	archiver *objectstore.Archiver,
	metadata templatemeta.Source,
	publisher queue.ChunkPublisher,
	batchTracker tracker.BatchTracker,
	notifier Notifier,
	logger zerolog.Logger,
) (*Service, error) {
	if storage == nil || archiver == nil || metadata == nil || publisher == nil || batchTracker == nil {
		return nil, errors.New("producer requires storage, archiver, metadata, publisher and tracker collaborators")
	}
	if cfg.SendPrefix == "" {
		cfg.SendPrefix = "send/"
	}
	if cfg.TemplatesPrefix == "" {
		cfg.TemplatesPrefix = "templates/"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.AddressField == "" {
		cfg.AddressField = "email"
	}
	if cfg.PublishParallelism <= 0 {
		cfg.PublishParallelism = 4
	}
	return &Service{
		config:    cfg,
		storage:   storage,
		archiver:  archiver,
		metadata:  metadata,
		publisher: publisher,
		tracker:   batchTracker,
		notifier:  notifier,
		logger:    logger.With().Str("component", "BatchProducer").Logger(),
	}, nil
}

// HandleEvent processes one storage notification. Uploads outside the send
// layout are skipped. Validation failures terminate the batch without retry:
// the input is archived and the operator notified. Infrastructure failures
// are returned so the trigger's redelivery policy applies.
func (s *Service) HandleEvent(ctx context.Context, ev types.StorageEvent) (skipped bool, err error) {
	if ev.EventType != types.StorageObjectFinalize || !ev.Matches(s.config.SendPrefix, ".csv") {
		s.logger.Debug().Str("object", ev.Object).Str("event_type", ev.EventType).Msg("Event outside send layout, skipping.")
		return true, nil
	}

	logger := s.logger.With().Str("object", ev.Object).Logger()
	target := ev.Bucket + "/" + ev.Object

	templateKey, err := s.templateKeyFromPath(ev.Object)
	if err != nil {
		logger.Error().Err(err).Msg("Upload path does not name a template, aborting batch.")
		s.abortBatch(ctx, ev, mailer.FailureReport{
			Subject: "Batch Email Service - Email Initiation Failed",
			Target:  target,
			Detail:  err.Error(),
		})
		return false, nil
	}

	md, err := s.metadata.Get(ctx, templateKey)
	if err != nil {
		if errors.Is(err, templatemeta.ErrTemplateNotFound) {
			logger.Error().Str("template_key", templateKey).Msg("Template metadata not found, aborting batch.")
			s.abortBatch(ctx, ev, mailer.FailureReport{
				Subject: "Batch Email Service - Email Initiation Failed",
				Target:  target,
				Detail:  fmt.Sprintf("template does not exist: %s", templateKey),
			})
			return false, nil
		}
		return false, fmt.Errorf("resolve template metadata %s: %w", templateKey, err)
	}

	reader, err := objectstore.OpenObject(ctx, s.storage, ev.Bucket, ev.Object)
	if err != nil {
		return false, fmt.Errorf("open recipient list %s: %w", target, err)
	}
	list, parseErrors, err := ParseRecipientCSV(reader)
	closeErr := reader.Close()
	if err != nil {
		logger.Error().Err(err).Msg("Recipient list is malformed, aborting batch.")
		s.abortBatch(ctx, ev, mailer.FailureReport{
			Subject: "Batch Email Service - Email Initiation Failed",
			Target:  target,
			Detail:  fmt.Sprintf("malformed recipient list: %v", err),
		})
		return false, nil
	}
	if closeErr != nil {
		logger.Warn().Err(closeErr).Msg("Error closing recipient list reader.")
	}

	valid, validationErrors := ValidateRows(list, s.config.AddressField, s.config.RequiredFields, md.RequiredVariables)
	rowErrors := append(parseErrors, validationErrors...)

	if len(valid.Rows) == 0 {
		logger.Error().Int("row_errors", len(rowErrors)).Msg("Every row failed validation, aborting batch.")
		s.abortBatch(ctx, ev, mailer.FailureReport{
			Subject:     "Batch Email Service - Email Initiation Failed",
			Target:      target,
			Detail:      "all rows failed validation",
			Header:      list.Header,
			RowErrors:   rowErrors,
			FailedCount: len(rowErrors),
		})
		return false, nil
	}

	batchName := s.batchName(ev.Object)
	chunks := Chunk(valid.Rows, s.config.ChunkSize)

	logger.Info().
		Str("batch_name", batchName).
		Str("template_key", templateKey).
		Int("valid_rows", len(valid.Rows)).
		Int("excluded_rows", len(rowErrors)).
		Int("chunks", len(chunks)).
		Msg("Recipient list partitioned")

	// The descriptor is created before publishing and always reflects the
	// full surviving-row count; chunks that fail to enqueue are reported as
	// failed below so the batch still reaches a terminal status.
	if err := s.tracker.Create(ctx, &types.BatchDescriptor{
		BatchName:       batchName,
		TemplateKey:     templateKey,
		TotalRecipients: int64(len(valid.Rows)),
	}); err != nil {
		return false, fmt.Errorf("create batch descriptor %s: %w", batchName, err)
	}

	publishErrs := s.publishChunks(ctx, batchName, templateKey, chunks)

	if len(rowErrors) > 0 && s.notifier != nil {
		report := mailer.FailureReport{
			Subject:        "Batch Email Service - Batch Partially Initiated",
			Target:         target,
			Detail:         fmt.Sprintf("%d of %d rows excluded before send", len(rowErrors), len(rowErrors)+len(valid.Rows)),
			Header:         list.Header,
			RowErrors:      rowErrors,
			SucceededCount: len(valid.Rows),
			FailedCount:    len(rowErrors),
		}
		if err := s.notifier.NotifyBatchFailure(ctx, report); err != nil {
			logger.Error().Err(err).Msg("Failed to send partial-failure notification")
		}
	}

	if len(publishErrs) > 0 {
		return false, fmt.Errorf("failed to enqueue %d of %d chunks for batch %s: %w",
			len(publishErrs), len(chunks), batchName, errors.Join(publishErrs...))
	}
	return false, nil
}

// publishChunks enqueues every chunk, bounding concurrency, and reports any
// chunk that could not be enqueued to the tracker as wholly failed.
func (s *Service) publishChunks(ctx context.Context, batchName, templateKey string, chunks [][]types.RecipientRecord) []error {
	var mu sync.Mutex
	var publishErrs []error

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.PublishParallelism)

	for i, recipients := range chunks {
		msg := &types.ChunkMessage{
			BatchName:   batchName,
			ChunkID:     fmt.Sprintf("%s-%d", batchName, i),
			TemplateKey: templateKey,
			Recipients:  recipients,
		}
		g.Go(func() error {
			if err := s.publisher.Publish(gCtx, msg); err != nil {
				s.logger.Error().Err(err).Str("chunk_id", msg.ChunkID).Msg("Failed to enqueue chunk")
				if _, trackErr := s.tracker.ApplyChunkResult(ctx, types.ChunkResult{
					BatchName: batchName,
					ChunkID:   msg.ChunkID,
					Failed:    int64(len(msg.Recipients)),
				}); trackErr != nil {
					s.logger.Error().Err(trackErr).Str("chunk_id", msg.ChunkID).Msg("Failed to record unenqueued chunk in tracker")
				}
				mu.Lock()
				publishErrs = append(publishErrs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return publishErrs
}

// abortBatch archives the failed input and raises the operator notification.
// No descriptor exists at this point and no chunk has been enqueued.
func (s *Service) abortBatch(ctx context.Context, ev types.StorageEvent, report mailer.FailureReport) {
	if dest, err := s.archiver.Archive(ctx, ev.Bucket, ev.Object); err != nil {
		s.logger.Error().Err(err).Str("object", ev.Object).Msg("Failed to archive aborted input")
	} else {
		s.logger.Info().Str("archived_to", dest).Msg("Aborted input archived")
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyBatchFailure(ctx, report); err != nil {
			s.logger.Error().Err(err).Str("target", report.Target).Msg("Failed to send abort notification")
		}
	}
}

// templateKeyFromPath extracts the template key from an upload path of the
// form send/<template-file>/<list>.csv.
func (s *Service) templateKeyFromPath(object string) (string, error) {
	rel := strings.TrimPrefix(object, s.config.SendPrefix)
	dir := path.Dir(rel)
	if dir == "." || dir == "/" || strings.Contains(dir, "/") {
		return "", fmt.Errorf("upload path %q must be %s<template-file>/<list>.csv", object, s.config.SendPrefix)
	}
	return s.config.TemplatesPrefix + dir, nil
}

// batchName derives a unique, readable batch identifier from the upload path.
func (s *Service) batchName(object string) string {
	base := strings.TrimSuffix(path.Base(object), path.Ext(object))
	return fmt.Sprintf("%s-%s-%s", base, time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
}
