package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// StorageEventHandler processes one parsed storage notification. skipped
// marks events outside the handler's layout; they are acknowledged without
// being treated as failures.
type StorageEventHandler func(ctx context.Context, ev types.StorageEvent) (skipped bool, err error)

// StorageEventLoop drains bucket-notification messages from a consumer,
// parses them into storage events and dispatches each to a handler. Handler
// failures nack the message so the subscription redelivers; unparseable
// notifications are acked and dropped.
type StorageEventLoop struct {
	numWorkers int
	consumer   MessageConsumer
	handler    StorageEventHandler
	logger     zerolog.Logger

	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
	shutdownMu sync.Mutex
}

// NewStorageEventLoop creates an event loop around the given consumer and
// handler.
func NewStorageEventLoop(numWorkers int, consumer MessageConsumer, handler StorageEventHandler, logger zerolog.Logger) (*StorageEventLoop, error) {
	if consumer == nil || handler == nil {
		return nil, errors.New("storage event loop requires a consumer and a handler")
	}
	if numWorkers <= 0 {
		numWorkers = 2
	}
	return &StorageEventLoop{
		numWorkers: numWorkers,
		consumer:   consumer,
		handler:    handler,
		logger:     logger.With().Str("component", "StorageEventLoop").Logger(),
	}, nil
}

// Start begins consuming and dispatching notifications.
func (l *StorageEventLoop) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	l.shutdownMu.Lock()
	l.cancelFunc = cancel
	l.shutdownMu.Unlock()

	l.logger.Info().Int("num_workers", l.numWorkers).Msg("Starting storage event loop...")
	if err := l.consumer.Start(loopCtx); err != nil {
		cancel()
		return err
	}

	for i := 0; i < l.numWorkers; i++ {
		l.wg.Add(1)
		go l.worker(loopCtx)
	}
	return nil
}

// Stop shuts the loop down, draining buffered notifications first.
func (l *StorageEventLoop) Stop() error {
	l.logger.Info().Msg("Stopping storage event loop...")
	err := l.consumer.Stop()

	l.shutdownMu.Lock()
	if l.cancelFunc != nil {
		l.cancelFunc()
		l.cancelFunc = nil
	}
	l.shutdownMu.Unlock()

	l.wg.Wait()
	l.logger.Info().Msg("Storage event loop stopped.")
	return err
}

func (l *StorageEventLoop) worker(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-l.consumer.Messages():
			if !ok {
				return
			}
			l.dispatch(ctx, msg)
		}
	}
}

func (l *StorageEventLoop) dispatch(ctx context.Context, msg types.ConsumedMessage) {
	ev, err := types.ParseStorageEvent(msg.Attributes)
	if err != nil {
		l.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Discarding unparseable storage notification")
		msg.Ack()
		return
	}

	skipped, err := l.handler(ctx, ev)
	if err != nil {
		l.logger.Error().Err(err).
			Str("msg_id", msg.ID).
			Str("object", ev.Object).
			Msg("Event handling failed, leaving notification for redelivery")
		msg.Nack()
		return
	}
	if skipped {
		l.logger.Debug().Str("object", ev.Object).Msg("Event skipped.")
	}
	msg.Ack()
}
