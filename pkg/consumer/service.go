package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/queue"
	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// DefaultNumWorkers bounds concurrent chunk handling within one consumer
// instance.
const DefaultNumWorkers = 5

// Service drains chunk messages from the work queue and hands each to the
// chunk handler, applying the ack contract: handled chunks are acked,
// infrastructure failures are nacked so the queue redelivers.
type Service struct {
	numWorkers int
	consumer   queue.MessageConsumer
	handler    *ChunkHandler
	logger     zerolog.Logger

	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
	shutdownMu sync.Mutex
}

// NewService creates the consumer service.
func NewService(numWorkers int, messageConsumer queue.MessageConsumer, handler *ChunkHandler, logger zerolog.Logger) (*Service, error) {
	if messageConsumer == nil || handler == nil {
		return nil, errors.New("consumer service requires a message consumer and a chunk handler")
	}
	if numWorkers <= 0 {
		numWorkers = DefaultNumWorkers
	}
	return &Service{
		numWorkers: numWorkers,
		consumer:   messageConsumer,
		handler:    handler,
		logger:     logger.With().Str("component", "ChunkConsumerService").Logger(),
	}, nil
}

// Start begins consuming and processing chunk messages. It returns once the
// consumer and workers are running.
func (s *Service) Start(ctx context.Context) error {
	serviceCtx, cancel := context.WithCancel(ctx)
	s.shutdownMu.Lock()
	s.cancelFunc = cancel
	s.shutdownMu.Unlock()

	s.logger.Info().Int("num_workers", s.numWorkers).Msg("Starting chunk consumer service...")
	if err := s.consumer.Start(serviceCtx); err != nil {
		cancel()
		return err
	}

	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(serviceCtx, i)
	}
	return nil
}

// Stop gracefully shuts down: the consumer stops first so no new messages
// arrive, then workers drain what is already buffered.
func (s *Service) Stop() error {
	s.logger.Info().Msg("Stopping chunk consumer service...")
	err := s.consumer.Stop()

	s.shutdownMu.Lock()
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
	s.shutdownMu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Chunk consumer service stopped.")
	return err
}

func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := s.logger.With().Int("worker_id", id).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				logger.Debug().Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.processMessage(ctx, logger, msg)
		}
	}
}

// processMessage decodes and handles one queue message. Messages that cannot
// decode are acked and dropped: redelivery cannot fix a malformed payload.
func (s *Service) processMessage(ctx context.Context, logger zerolog.Logger, msg types.ConsumedMessage) {
	var chunk types.ChunkMessage
	if err := json.Unmarshal(msg.Payload, &chunk); err != nil {
		logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Discarding undecodable chunk message")
		msg.Ack()
		return
	}

	if _, err := s.handler.HandleChunk(ctx, &chunk); err != nil {
		logger.Error().Err(err).
			Str("msg_id", msg.ID).
			Str("chunk_id", chunk.ChunkID).
			Msg("Chunk handling failed, leaving message for redelivery")
		msg.Nack()
		return
	}
	msg.Ack()
}
