package ingest

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// memoryDeadLetterCap bounds the dead letters a MemoryQueue keeps; older
// entries are dropped first.
const memoryDeadLetterCap = 256

type DeadLetter struct {
	Job    Job
	Reason string
}

// MemoryQueue is a bounded in-process queue. Jobs do not survive a restart.
type MemoryQueue struct {
	jobs chan Job

	mu     sync.Mutex
	closed bool
	acked  int
	dead   []DeadLetter
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{jobs: make(chan Job, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-q.jobs:
				select {
				case out <- &memoryDelivery{queue: q, job: job}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Acked returns how many deliveries were acknowledged.
func (q *MemoryQueue) Acked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

// DeadLetters returns the most recent dead letters, oldest first.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

func (q *MemoryQueue) recordDeadLetter(dl DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.dead) == memoryDeadLetterCap {
		copy(q.dead, q.dead[1:])
		q.dead = q.dead[:len(q.dead)-1]
	}
	q.dead = append(q.dead, dl)
}

type memoryDelivery struct {
	queue *MemoryQueue
	job   Job
}

func (d *memoryDelivery) Job() Job { return d.job }

func (d *memoryDelivery) Ack(ctx context.Context) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	d.queue.acked++
	return nil
}

func (d *memoryDelivery) DeadLetter(ctx context.Context, job Job, reason string) error {
	log.Warn().Str("jobId", job.ID).Int("attempts", job.Attempts).Str("reason", reason).Msg("dead-lettering in-memory ingest job")
	d.queue.recordDeadLetter(DeadLetter{Job: job, Reason: reason})
	return nil
}
