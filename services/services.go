package services

import (
	"context"
	"time"

	"ecommerce-backend/logging"
	"ecommerce-backend/receipts"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const publishTimeout = 300 * time.Millisecond

var tracer = otel.Tracer("ecommerce-backend/services")

// JobPublisher hands receipt jobs to the asynchronous pipeline.
type JobPublisher interface {
	Publish(ctx context.Context, job receipts.Job) error
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "services."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// enqueueReceipt runs after commit. Failures are logged only; the business
// transition has already happened.
func enqueueReceipt(ctx context.Context, publisher JobPublisher, job receipts.Job) {
	if publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := publisher.Publish(pubCtx, job); err != nil {
		logging.FromContext(ctx).Warn("receipt_job_publish_failed",
			zap.String("kind", string(job.Kind)),
			zap.String("order_id", job.OrderID),
			zap.String("refund_id", job.RefundID),
			zap.Error(err),
		)
	}
}
