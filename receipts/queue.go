package receipts

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"ecommerce-backend/logging"

	"go.uber.org/zap"
)

const (
	OutcomeSuccess    = "success"
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "dead_letter"
)

var ErrQueueClosed = errors.New("receipt queue closed")

type Handler func(ctx context.Context, job Job) error

type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	ProcessTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     5,
		BaseDelay:      time.Second,
		MaxDelay:       time.Minute,
		ProcessTimeout: 30 * time.Second,
	}
}

// Backoff returns BaseDelay * 2^attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether a failed job gets another attempt.
func (p RetryPolicy) ShouldRetry(job Job, err error) bool {
	return !errors.Is(err, ErrPermanent) && !errors.Is(err, ErrMalformedJob) && job.Attempt < p.MaxRetries
}

// Queue is the in-process receipt pipeline used when no broker is configured.
// Jobs are lost on restart.
type Queue struct {
	jobs      chan Job
	handler   Handler
	policy    RetryPolicy
	workers   int
	onOutcome func(kind JobKind, outcome string)

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewQueue(handler Handler, policy RetryPolicy, workers int, onOutcome func(JobKind, string)) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if onOutcome == nil {
		onOutcome = func(JobKind, string) {}
	}
	return &Queue{
		jobs:      make(chan Job, 1024),
		handler:   handler,
		policy:    policy,
		workers:   workers,
		onOutcome: onOutcome,
	}
}

func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					q.process(ctx, job)
				}
			}
		}()
	}
	logging.FromContext(ctx).Info("receipt_queue_started", zap.Int("workers", q.workers))
}

func (q *Queue) Publish(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the workers and waits for in-flight jobs up to ctx's deadline.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	logger := logging.FromContext(ctx).With(
		zap.String("kind", string(job.Kind)),
		zap.String("order_id", job.OrderID),
		zap.Int("attempt", job.Attempt),
	)
	err := Run(logging.ContextWithLogger(ctx, logger), q.handler, q.policy.ProcessTimeout, job)
	if err == nil {
		q.onOutcome(job.Kind, OutcomeSuccess)
		return
	}

	if !q.policy.ShouldRetry(job, err) {
		q.onOutcome(job.Kind, OutcomeDeadLetter)
		logger.Error("receipt_job_dead_lettered", zap.Error(err))
		return
	}

	q.onOutcome(job.Kind, OutcomeRetry)
	delay := q.policy.Backoff(job.Attempt)
	logger.Warn("receipt_job_retry_scheduled", zap.Duration("delay", delay), zap.Error(err))
	job.Attempt++
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.Publish(ctx, job); err != nil {
			logger.Warn("receipt_job_requeue_failed", zap.Error(err))
		}
	})
}

// Run calls handler under an optional timeout. A panic is logged and reported
// as ErrPermanent so the job is not retried.
func Run(ctx context.Context, handler Handler, timeout time.Duration, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error("receipt_job_panic",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = ErrPermanent
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return handler(ctx, job)
}
