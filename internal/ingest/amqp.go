package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const (
	amqpPublishTimeout = 5 * time.Second
	amqpDialAttempts   = 8
	amqpDialDelay      = 500 * time.Millisecond
	amqpMaxDialDelay   = 30 * time.Second
)

var errQueueClosed = errors.New("amqp queue closed")

type amqpDialFunc func(url string) (*amqp.Connection, error)

// AMQPQueue is a Queue on a durable RabbitMQ queue. Rejected deliveries are
// routed by the broker to the "<queue>.dlq" queue. A dropped connection is
// re-dialed with exponential backoff by both the publisher and the consumer.
type AMQPQueue struct {
	url      string
	queue    string
	prefetch int
	dial     amqpDialFunc

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

func NewAMQPQueue(ctx context.Context, url, queue string, prefetch int) (*AMQPQueue, error) {
	q := &AMQPQueue{url: url, queue: queue, prefetch: prefetch, dial: amqp.Dial}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.publishChannel(ctx); err != nil {
		_ = q.closeLocked()
		return nil, err
	}
	return q, nil
}

// amqpBackoff returns the wait after the given failed dial attempt (1-based),
// doubling from base and capped at ceiling.
func amqpBackoff(attempt int, base, ceiling time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

func dialWithRetry(ctx context.Context, dial amqpDialFunc, url string, attempts int) (*amqp.Connection, error) {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := dial(url)
		if err == nil {
			if i > 1 {
				log.Info().Int("attempt", i).Msg("amqp connected")
			}
			return conn, nil
		}
		lastErr = err

		sleep := amqpBackoff(i, amqpDialDelay, amqpMaxDialDelay)
		log.Warn().Err(err).Int("attempt", i).Dur("sleep", sleep).Msg("amqp dial failed")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("amqp dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("amqp dial failed after %d attempts: %w", attempts, lastErr)
}

// connection returns the live connection, re-dialing when it has dropped.
// Callers hold q.mu.
func (q *AMQPQueue) connection(ctx context.Context) (*amqp.Connection, error) {
	if q.closed {
		return nil, errQueueClosed
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn, nil
	}
	conn, err := dialWithRetry(ctx, q.dial, q.url, amqpDialAttempts)
	if err != nil {
		return nil, err
	}
	q.conn = conn
	q.ch = nil
	return conn, nil
}

// publishChannel returns the publish channel, reopening it (and the
// connection) when closed. The queue topology is declared on every reopen.
// Callers hold q.mu.
func (q *AMQPQueue) publishChannel(ctx context.Context) (*amqp.Channel, error) {
	if q.ch != nil && !q.ch.IsClosed() && !q.conn.IsClosed() {
		return q.ch, nil
	}
	conn, err := q.connection(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := declareTopology(ch, q.queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	q.ch = ch
	return ch, nil
}

func declareTopology(ch *amqp.Channel, queue string) error {
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", dlq, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	return nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.publish(ctx, q.queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Body:         body,
		Timestamp:    time.Now(),
	})
}

func (q *AMQPQueue) publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	// One retry covers a channel that died between the liveness check and
	// the publish.
	for attempt := 1; ; attempt++ {
		ch, err := q.publishChannel(ctx)
		if err != nil {
			return err
		}

		pctx, cancel := context.WithTimeout(ctx, amqpPublishTimeout)
		err = ch.PublishWithContext(pctx, "", routingKey, false, false, msg)
		cancel()
		if err == nil {
			return nil
		}
		if !errors.Is(err, amqp.ErrClosed) || attempt > 1 {
			return fmt.Errorf("amqp publish: %w", err)
		}
		log.Warn().Err(err).Str("queue", q.queue).Msg("amqp publish channel closed, reopening")
		q.ch = nil
	}
}

// subscribe opens a dedicated consumer channel on the live connection.
func (q *AMQPQueue) subscribe(ctx context.Context) (*amqp.Channel, <-chan amqp.Delivery, error) {
	q.mu.Lock()
	conn, err := q.connection(ctx)
	q.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("qos: %w", err)
	}
	msgs, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("consume: %w", err)
	}
	return ch, msgs, nil
}

// Consume delivers jobs until ctx ends. When the broker drops the consumer,
// it re-subscribes with backoff instead of closing the returned channel.
func (q *AMQPQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	ch, msgs, err := q.subscribe(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)

		for {
			q.pump(ctx, msgs, out)
			_ = ch.Close()
			if ctx.Err() != nil {
				return
			}

			log.Warn().Str("queue", q.queue).Msg("amqp delivery channel closed, resubscribing")
			for attempt := 1; ; attempt++ {
				ch, msgs, err = q.subscribe(ctx)
				if err == nil {
					break
				}
				if errors.Is(err, errQueueClosed) || ctx.Err() != nil {
					return
				}
				sleep := amqpBackoff(attempt, amqpDialDelay, amqpMaxDialDelay)
				log.Error().Err(err).Str("queue", q.queue).Dur("sleep", sleep).Msg("amqp resubscribe failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(sleep):
				}
			}
			log.Info().Str("queue", q.queue).Msg("amqp consumer resubscribed")
		}
	}()

	log.Info().Str("queue", q.queue).Int("prefetch", q.prefetch).Msg("amqp consumer started")
	return out, nil
}

// pump forwards deliveries until msgs closes or ctx ends.
func (q *AMQPQueue) pump(ctx context.Context, msgs <-chan amqp.Delivery, out chan<- Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}

			delivery := &amqpDelivery{queue: q, d: d}
			if err := json.Unmarshal(d.Body, &delivery.job); err != nil {
				log.Error().Err(err).Str("queue", q.queue).Msg("undecodable amqp message")
				_ = d.Nack(false, false)
				continue
			}

			select {
			case out <- delivery:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closeLocked()
}

func (q *AMQPQueue) closeLocked() error {
	q.closed = true
	if q.ch != nil {
		_ = q.ch.Close()
		q.ch = nil
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}

type amqpDelivery struct {
	queue *AMQPQueue
	d     amqp.Delivery
	job   Job
}

func (d *amqpDelivery) Job() Job { return d.job }

func (d *amqpDelivery) Ack(ctx context.Context) error {
	return d.d.Ack(false)
}

// DeadLetter publishes job to the dead letter queue and acks the original.
// If that publish fails the delivery is rejected instead, and the broker
// routes the original body to the same queue.
func (d *amqpDelivery) DeadLetter(ctx context.Context, job Job, reason string) error {
	log.Warn().Str("jobId", job.ID).Int("attempts", job.Attempts).Str("reason", reason).Msg("dead-lettering amqp message")

	body, err := json.Marshal(job)
	if err == nil {
		err = d.queue.publish(ctx, d.queue.queue+".dlq", amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Headers:      amqp.Table{"x-failure-reason": reason},
			Body:         body,
			Timestamp:    time.Now(),
		})
	}
	if err != nil {
		log.Error().Err(err).Str("jobId", job.ID).Msg("failed to publish dead letter, rejecting delivery")
		return d.d.Nack(false, false)
	}
	return d.d.Ack(false)
}
