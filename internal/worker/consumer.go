package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/metrics"
	"github.com/lalithlochan/slotwise/internal/sqs"
)

// Queue is the subset of the SQS consumer the loop needs.
type Queue interface {
	Receive(ctx context.Context) ([]sqs.Received, error)
	Delete(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, seconds int32) error
}

// QueueConsumer scans businesses as scan requests arrive on the queue.
type QueueConsumer struct {
	queue   Queue
	scanner Scanner
	logger  *zap.Logger

	// idle is how long to wait after a failed receive.
	idle time.Duration
}

func NewQueueConsumer(queue Queue, scanner Scanner, logger *zap.Logger) *QueueConsumer {
	return &QueueConsumer{queue: queue, scanner: scanner, logger: logger, idle: 5 * time.Second}
}

// Start polls until ctx is done.
func (c *QueueConsumer) Start(ctx context.Context) {
	c.logger.Info("queue consumer started")
	for {
		if ctx.Err() != nil {
			c.logger.Info("queue consumer stopping")
			return
		}
		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("failed to receive scan requests", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.idle):
			}
		}
	}
}

func (c *QueueConsumer) poll(ctx context.Context) error {
	msgs, err := c.queue.Receive(ctx)
	if err != nil {
		return err
	}

	metrics.SetScanQueueInFlight(len(msgs))
	defer metrics.SetScanQueueInFlight(0)

	for _, m := range msgs {
		c.handle(ctx, m)
	}
	return nil
}

func (c *QueueConsumer) handle(ctx context.Context, m sqs.Received) {
	logger := c.logger.With(
		zap.String("message_id", m.MessageID),
		zap.String("business_id", m.Request.BusinessID),
		zap.String("reason", m.Request.Reason),
	)

	id, err := uuid.Parse(m.Request.BusinessID)
	if err != nil {
		logger.Warn("dropping scan request with invalid business id", zap.Error(err))
		c.ack(ctx, m, logger)
		return
	}

	_, err = c.scanner.ScanBusiness(ctx, id)
	switch {
	case err == nil:
		c.ack(ctx, m, logger)
	case errors.Is(err, db.ErrNotFound):
		logger.Warn("dropping scan request for unknown business")
		c.ack(ctx, m, logger)
	case ctx.Err() != nil:
		// Shutting down; make the message visible again right away.
		if verr := c.queue.ChangeVisibility(context.WithoutCancel(ctx), m.ReceiptHandle, 0); verr != nil {
			logger.Warn("failed to release message", zap.Error(verr))
		}
	default:
		delay := retryDelay(m.ReceiveCount)
		logger.Error("scan failed, will retry",
			zap.Int("receive_count", m.ReceiveCount),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		if verr := c.queue.ChangeVisibility(ctx, m.ReceiptHandle, int32(delay/time.Second)); verr != nil {
			logger.Warn("failed to delay retry", zap.Error(verr))
		}
	}
}

func (c *QueueConsumer) ack(ctx context.Context, m sqs.Received, logger *zap.Logger) {
	if err := c.queue.Delete(ctx, m.ReceiptHandle); err != nil {
		logger.Warn("failed to delete scan request", zap.Error(err))
	}
}

// retryDelay backs off by how often the message has been received. The
// queue's redrive policy moves it to the dead-letter queue eventually.
func retryDelay(receiveCount int) time.Duration {
	delays := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
	}

	idx := receiveCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}
