package receipts

import (
	"encoding/json"
	"errors"
	"fmt"
)

type JobKind string

const (
	KindOrder  JobKind = "order"
	KindRefund JobKind = "refund"
)

// Job asks for a receipt to be rendered, stored and emailed.
type Job struct {
	Kind     JobKind `json:"kind"`
	OrderID  string  `json:"order_id"`
	RefundID string  `json:"refund_id,omitempty"`
	Attempt  int     `json:"attempt"`
}

var ErrMalformedJob = errors.New("malformed receipt job")

func (j Job) Validate() error {
	switch j.Kind {
	case KindOrder:
		if j.OrderID == "" {
			return fmt.Errorf("%w: order job without order_id", ErrMalformedJob)
		}
	case KindRefund:
		if j.RefundID == "" {
			return fmt.Errorf("%w: refund job without refund_id", ErrMalformedJob)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, j.Kind)
	}
	return nil
}

func DecodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	return job, job.Validate()
}

func OrderJob(orderID string) Job {
	return Job{Kind: KindOrder, OrderID: orderID}
}

func RefundJob(orderID, refundID string) Job {
	return Job{Kind: KindRefund, OrderID: orderID, RefundID: refundID}
}
