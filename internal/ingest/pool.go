package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/audit"
	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/metrics"
)

const settleTimeout = 5 * time.Second

type Handler interface {
	Process(ctx context.Context, job Job) error
}

// WorkerPool drains a Queue with a fixed number of workers.
type WorkerPool struct {
	queue   Queue
	handler Handler
	workers int
	policy  RetryPolicy

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(queue Queue, handler Handler, workers int, policy RetryPolicy) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &WorkerPool{
		queue:   queue,
		handler: handler,
		workers: workers,
		policy:  policy,
	}
}

func (p *WorkerPool) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	deliveries, err := p.queue.Consume(ctx)
	if err != nil {
		cancel()
		return err
	}
	p.cancel = cancel

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func(workerID int) {
			defer p.wg.Done()
			for d := range deliveries {
				p.handle(ctx, workerID, d)
			}
		}(i)
	}

	log.Info().
		Int("workers", p.workers).
		Int("maxAttempts", p.policy.MaxAttempts).
		Dur("delay", p.policy.Delay).
		Msg("ingest worker pool started")
	return nil
}

// Stop cancels consumption and waits for in-flight jobs. Jobs interrupted
// mid-retry stay unacknowledged.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	log.Info().Msg("ingest worker pool stopped")
}

func (p *WorkerPool) handle(ctx context.Context, workerID int, d Delivery) {
	job := d.Job()

	metrics.IngestJobsInFlight.Inc()
	defer metrics.IngestJobsInFlight.Dec()

	var err error
	attempts := 0
	for attempts < p.policy.MaxAttempts {
		attempts++
		job.Attempts++
		err = p.handler.Process(ctx, job)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			log.Warn().Str("jobId", job.ID).Msg("shutdown interrupted ingest job")
			return
		}

		log.Warn().
			Err(err).
			Int("worker", workerID).
			Str("jobId", job.ID).
			Str("channelId", job.ChannelID).
			Int("attempt", attempts).
			Msg("ingest attempt failed")

		if apperrors.IsValidation(err) {
			break
		}
		if attempts < p.policy.MaxAttempts {
			if !wait(ctx, p.policy.Backoff(attempts)) {
				return
			}
		}
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err == nil {
		if ackErr := d.Ack(settleCtx); ackErr != nil {
			log.Error().Err(ackErr).Str("jobId", job.ID).Msg("failed to ack ingest job")
		}
		metrics.IngestJobsProcessed.WithLabelValues("ok").Inc()
		return
	}

	if dlErr := d.DeadLetter(settleCtx, job, err.Error()); dlErr != nil {
		log.Error().Err(errors.Join(err, dlErr)).Str("jobId", job.ID).Msg("failed to dead-letter ingest job")
	}
	metrics.IngestJobsProcessed.WithLabelValues("dead_lettered").Inc()
	metrics.IngestDeadLettered.WithLabelValues(job.TenantID).Inc()

	log.Error().
		Err(err).
		Str("jobId", job.ID).
		Str("channelId", job.ChannelID).
		Str("tenantId", job.TenantID).
		Int("attempts", job.Attempts).
		Msg("ingest job dead-lettered")

	audit.Log(settleCtx, audit.Event{
		Type:      audit.EventIngestFailed,
		TenantID:  job.TenantID,
		ChannelID: job.ChannelID,
		Details: map[string]interface{}{
			"jobId":             job.ID,
			"providerMessageId": job.Message.Key.ID,
			"attempts":          job.Attempts,
			"error":             err,
		},
	})
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
