package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/config"
	redisclient "github.com/relaydesk/channel-server/internal/redis"
)

const (
	streamReadCount  = 10
	streamClaimCount = 50
	readErrorBackoff = time.Second
)

// StreamQueue is a Queue on a Redis stream consumed through a consumer group.
// Entries left pending by a crashed consumer are claimed back after
// IngestClaimMinIdle; entries delivered more than maxDeliveries times go
// straight to the dead-letter stream.
type StreamQueue struct {
	streams       *redisclient.Streams
	stream        string
	group         string
	consumer      string
	maxDeliveries int64
}

func NewStreamQueue(streams *redisclient.Streams, stream, group string, maxDeliveries int) *StreamQueue {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return &StreamQueue{
		streams:       streams,
		stream:        stream,
		group:         group,
		consumer:      fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		maxDeliveries: int64(maxDeliveries),
	}
}

func (q *StreamQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := q.streams.Publish(ctx, q.stream, payload); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func (q *StreamQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	if err := q.streams.CreateGroup(ctx, q.stream, q.group); err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	out := make(chan Delivery)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		q.readLoop(ctx, out)
	}()
	go func() {
		defer wg.Done()
		q.claimLoop(ctx, out)
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	log.Info().
		Str("stream", q.stream).
		Str("group", q.group).
		Str("consumer", q.consumer).
		Msg("stream consumer started")

	return out, nil
}

func (q *StreamQueue) readLoop(ctx context.Context, out chan<- Delivery) {
	for ctx.Err() == nil {
		entries, err := q.streams.Read(ctx, q.stream, q.group, q.consumer, streamReadCount, config.IngestBlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("stream", q.stream).Msg("stream read failed")
			sleep(ctx, readErrorBackoff)
			continue
		}

		for _, entry := range entries {
			if !q.deliver(ctx, out, entry) {
				return
			}
		}
	}
}

func (q *StreamQueue) claimLoop(ctx context.Context, out chan<- Delivery) {
	ticker := time.NewTicker(config.IngestClaimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.reclaim(ctx, out)
		}
	}
}

func (q *StreamQueue) reclaim(ctx context.Context, out chan<- Delivery) {
	pending, err := q.streams.Pending(ctx, q.stream, q.group, config.IngestClaimMinIdle, streamClaimCount)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Str("stream", q.stream).Msg("failed to list pending entries")
		}
		return
	}

	for _, p := range pending {
		entries, err := q.streams.Claim(ctx, q.stream, q.group, q.consumer, config.IngestClaimMinIdle, p.ID)
		if err != nil {
			log.Error().Err(err).Str("entryId", p.ID).Msg("failed to claim pending entry")
			continue
		}

		for _, entry := range entries {
			if p.RetryCount > q.maxDeliveries {
				d := &streamDelivery{queue: q, entryID: entry.ID, payload: entry.Payload}
				if err := d.deadLetterPayload(ctx, entry.Payload, "delivery limit exceeded"); err != nil {
					log.Error().Err(err).Str("entryId", entry.ID).Msg("failed to dead-letter entry")
				}
				continue
			}

			log.Warn().
				Str("entryId", entry.ID).
				Int64("deliveries", p.RetryCount).
				Msg("reclaimed stale stream entry")

			if !q.deliver(ctx, out, entry) {
				return
			}
		}
	}
}

// deliver decodes entry and hands it to a worker. It returns false when ctx
// ended first.
func (q *StreamQueue) deliver(ctx context.Context, out chan<- Delivery, entry redisclient.StreamEntry) bool {
	d := &streamDelivery{queue: q, entryID: entry.ID, payload: entry.Payload}

	if err := json.Unmarshal(entry.Payload, &d.job); err != nil {
		log.Error().Err(err).Str("entryId", entry.ID).Msg("undecodable stream entry")
		if err := d.deadLetterPayload(ctx, entry.Payload, "undecodable payload"); err != nil {
			log.Error().Err(err).Str("entryId", entry.ID).Msg("failed to dead-letter entry")
		}
		return true
	}

	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *StreamQueue) Close() error {
	return nil
}

type streamDelivery struct {
	queue   *StreamQueue
	entryID string
	payload []byte
	job     Job
}

func (d *streamDelivery) Job() Job { return d.job }

func (d *streamDelivery) Ack(ctx context.Context) error {
	return d.queue.streams.Ack(ctx, d.queue.stream, d.queue.group, d.entryID)
}

func (d *streamDelivery) DeadLetter(ctx context.Context, job Job, reason string) error {
	payload, err := json.Marshal(job)
	if err != nil {
		log.Error().Err(err).Str("entryId", d.entryID).Msg("failed to marshal dead letter, keeping original payload")
		payload = d.payload
	}
	return d.deadLetterPayload(ctx, payload, reason)
}

func (d *streamDelivery) deadLetterPayload(ctx context.Context, payload []byte, reason string) error {
	if _, err := d.queue.streams.DeadLetter(ctx, d.queue.stream, payload, reason); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	return d.Ack(ctx)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
