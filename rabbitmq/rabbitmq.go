package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ecommerce-backend/config"
	"ecommerce-backend/receipts"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RetryCountHeader carries the attempt number across the retry queue.
const RetryCountHeader = "x-retry-count"

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Cfg     *config.Config
}

func NewRabbitMQ(cfg *config.Config) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &RabbitMQ{
		Conn:    conn,
		Channel: ch,
		Cfg:     cfg,
	}, nil
}

// DeadLetterExchange is the exchange rejected receipt jobs are routed through.
func (r *RabbitMQ) DeadLetterExchange() string {
	return r.Cfg.DeadLetterQueue + "_exchange"
}

// SetupQueues declares the receipt topology:
//
//	ReceiptExchange --ReceiptQueue--> ReceiptQueue --nack--> DLX --> DeadLetterQueue
//	ReceiptRetryQueue --ttl--> ReceiptExchange
func (r *RabbitMQ) SetupQueues() error {
	dlx := r.DeadLetterExchange()

	if err := r.Channel.ExchangeDeclare(
		dlx,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare %s: %w", dlx, err)
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-queue-type": "classic",
		},
	); err != nil {
		return fmt.Errorf("declare %s: %w", r.Cfg.DeadLetterQueue, err)
	}

	// The main queue dead-letters with this routing key, so bind on it.
	if err := r.Channel.QueueBind(
		r.Cfg.DeadLetterQueue,
		r.Cfg.DeadLetterQueue,
		dlx,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("bind %s: %w", r.Cfg.DeadLetterQueue, err)
	}

	if err := r.Channel.ExchangeDeclare(
		r.Cfg.ReceiptExchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare %s: %w", r.Cfg.ReceiptExchange, err)
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.ReceiptQueue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    dlx,
			"x-dead-letter-routing-key": r.Cfg.DeadLetterQueue,
		},
	); err != nil {
		return fmt.Errorf("declare %s: %w", r.Cfg.ReceiptQueue, err)
	}

	if err := r.Channel.QueueBind(
		r.Cfg.ReceiptQueue,
		r.Cfg.ReceiptQueue,
		r.Cfg.ReceiptExchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("bind %s: %w", r.Cfg.ReceiptQueue, err)
	}

	// Messages wait out the TTL here, then expire back onto the work exchange.
	if _, err := r.Channel.QueueDeclare(
		r.Cfg.ReceiptRetryQueue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-message-ttl":             r.Cfg.ReceiptRetryDelay.Milliseconds(),
			"x-dead-letter-exchange":    r.Cfg.ReceiptExchange,
			"x-dead-letter-routing-key": r.Cfg.ReceiptQueue,
		},
	); err != nil {
		return fmt.Errorf("declare %s: %w", r.Cfg.ReceiptRetryQueue, err)
	}

	return nil
}

// Publish sends a receipt job to the work exchange.
func (r *RabbitMQ) Publish(ctx context.Context, job receipts.Job) error {
	return r.publish(ctx, r.Cfg.ReceiptExchange, r.Cfg.ReceiptQueue, job)
}

// PublishRetry parks a job on the retry queue until its TTL expires.
func (r *RabbitMQ) PublishRetry(ctx context.Context, job receipts.Job) error {
	return r.publish(ctx, "", r.Cfg.ReceiptRetryQueue, job)
}

func (r *RabbitMQ) publish(ctx context.Context, exchange, key string, job receipts.Job) error {
	msg, err := NewPublishing(job)
	if err != nil {
		return err
	}
	return r.Channel.PublishWithContext(
		ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		msg,
	)
}

// NewPublishing encodes a job as a persistent JSON message.
func NewPublishing(job receipts.Job) (amqp.Publishing, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode receipt job: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Type:         string(job.Kind),
		Body:         body,
		Headers: amqp.Table{
			RetryCountHeader: int32(job.Attempt),
		},
	}, nil
}

// RetryCount reads the attempt header, tolerating the integer widths
// different clients use.
func RetryCount(headers amqp.Table) int {
	switch v := headers[RetryCountHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

func (r *RabbitMQ) Close() error {
	var firstErr error
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			firstErr = err
		}
	}
	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
