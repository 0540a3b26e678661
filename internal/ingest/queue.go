package ingest

import (
	"context"
	"errors"
)

var (
	ErrQueueClosed = errors.New("ingest queue closed")
	ErrQueueFull   = errors.New("ingest queue full")
)

// Delivery is a job handed to a worker. Exactly one of Ack or DeadLetter
// must be called; a delivery left unsettled is redelivered by durable
// backends. DeadLetter records job, which carries the worker's attempt count,
// in place of the delivered payload.
type Delivery interface {
	Job() Job
	Ack(ctx context.Context) error
	DeadLetter(ctx context.Context, job Job, reason string) error
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Consume starts delivering jobs. The channel is closed once ctx is done.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}
