package consumers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ecommerce-backend/config"
	"ecommerce-backend/logging"
	"ecommerce-backend/rabbitmq"
	"ecommerce-backend/receipts"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	workerTag     = "receipt-worker"
	deadLetterTag = "receipt-worker-dlq"

	retryPublishTimeout = 5 * time.Second
)

type RetryPublisher interface {
	PublishRetry(ctx context.Context, job receipts.Job) error
}

// ReceiptConsumer drives receipt jobs off the broker. Failed jobs are parked
// on the retry queue until MaxRetries, after which they are rejected so the
// broker routes them to the dead-letter queue.
type ReceiptConsumer struct {
	handler   receipts.Handler
	retry     RetryPublisher
	policy    receipts.RetryPolicy
	onOutcome func(receipts.JobKind, string)

	ch *amqp.Channel
	wg sync.WaitGroup
}

func NewReceiptConsumer(handler receipts.Handler, retry RetryPublisher, policy receipts.RetryPolicy, onOutcome func(receipts.JobKind, string)) *ReceiptConsumer {
	if onOutcome == nil {
		onOutcome = func(receipts.JobKind, string) {}
	}
	return &ReceiptConsumer{
		handler:   handler,
		retry:     retry,
		policy:    policy,
		onOutcome: onOutcome,
	}
}

func (c *ReceiptConsumer) Start(ctx context.Context, ch *amqp.Channel, cfg *config.Config) error {
	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		cfg.ReceiptQueue,
		workerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.ReceiptQueue, err)
	}

	dlqMsgs, err := ch.Consume(
		cfg.DeadLetterQueue,
		deadLetterTag,
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.DeadLetterQueue, err)
	}

	c.ch = ch
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for msg := range msgs {
			c.HandleDelivery(ctx, msg)
		}
	}()
	go func() {
		defer c.wg.Done()
		for msg := range dlqMsgs {
			c.HandleDeadLetter(ctx, msg)
		}
	}()

	logging.FromContext(ctx).Info("receipt_consumer_started",
		zap.String("queue", cfg.ReceiptQueue),
		zap.String("dead_letter_queue", cfg.DeadLetterQueue),
	)
	return nil
}

// Stop cancels both consumers and waits for in-flight deliveries.
func (c *ReceiptConsumer) Stop(ctx context.Context) error {
	if c.ch != nil {
		for _, tag := range []string{workerTag, deadLetterTag} {
			if err := c.ch.Cancel(tag, false); err != nil {
				logging.FromContext(ctx).Warn("receipt_consumer_cancel_failed", zap.String("tag", tag), zap.Error(err))
			}
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ReceiptConsumer) HandleDelivery(ctx context.Context, msg amqp.Delivery) {
	logger := logging.FromContext(ctx).With(zap.Uint64("delivery_tag", msg.DeliveryTag))

	job, err := receipts.DecodeJob(msg.Body)
	if err != nil {
		logger.Warn("receipt_message_malformed", zap.ByteString("body", msg.Body), zap.Error(err))
		c.onOutcome(job.Kind, receipts.OutcomeDeadLetter)
		nack(logger, msg)
		return
	}
	if attempt := rabbitmq.RetryCount(msg.Headers); attempt > job.Attempt {
		job.Attempt = attempt
	}

	logger = logger.With(
		zap.String("kind", string(job.Kind)),
		zap.String("order_id", job.OrderID),
		zap.Int("attempt", job.Attempt),
	)
	err = receipts.Run(logging.ContextWithLogger(ctx, logger), c.handler, c.policy.ProcessTimeout, job)
	if err == nil {
		c.onOutcome(job.Kind, receipts.OutcomeSuccess)
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Warn("receipt_ack_failed", zap.Error(ackErr))
		}
		return
	}

	if !c.policy.ShouldRetry(job, err) {
		logger.Error("receipt_job_dead_lettered", zap.Error(err))
		c.onOutcome(job.Kind, receipts.OutcomeDeadLetter)
		nack(logger, msg)
		return
	}

	next := job
	next.Attempt++
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), retryPublishTimeout)
	defer cancel()
	if pubErr := c.retry.PublishRetry(pubCtx, next); pubErr != nil {
		// Put the original back; it will be redelivered with the same attempt.
		logger.Error("receipt_retry_publish_failed", zap.Error(pubErr))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Warn("receipt_nack_failed", zap.Error(nackErr))
		}
		return
	}

	logger.Warn("receipt_job_retry_scheduled", zap.Error(err))
	c.onOutcome(job.Kind, receipts.OutcomeRetry)
	if ackErr := msg.Ack(false); ackErr != nil {
		logger.Warn("receipt_ack_failed", zap.Error(ackErr))
	}
}

// HandleDeadLetter records a dead-lettered job for an operator and drops it.
func (c *ReceiptConsumer) HandleDeadLetter(ctx context.Context, msg amqp.Delivery) {
	logger := logging.FromContext(ctx)
	fields := []zap.Field{
		zap.ByteString("body", msg.Body),
		zap.Int("attempt", rabbitmq.RetryCount(msg.Headers)),
	}
	if deaths, ok := msg.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		if death, ok := deaths[0].(amqp.Table); ok {
			fields = append(fields, zap.Any("reason", death["reason"]), zap.Any("queue", death["queue"]))
		}
	}
	logger.Error("receipt_dead_letter_received", fields...)
	if err := msg.Ack(false); err != nil {
		logger.Warn("receipt_ack_failed", zap.Error(err))
	}
}

func nack(logger *zap.Logger, msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		logger.Warn("receipt_nack_failed", zap.Error(err))
	}
}
