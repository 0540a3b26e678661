package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	payloadField = "data"
	dlqMaxLen    = 10000
)

// StreamEntry is one stream entry carrying a JSON payload.
type StreamEntry struct {
	ID      string
	Payload []byte
}

// Streams wraps the Redis Streams commands used by consumer groups.
type Streams struct {
	client redis.UniversalClient
}

func NewStreams(client redis.UniversalClient) *Streams {
	return &Streams{client: client}
}

func (s *Streams) Publish(ctx context.Context, stream string, payload []byte) (string, error) {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: string(payload)},
	}).Result()
}

// CreateGroup creates the consumer group, and the stream if needed. An
// existing group is not an error.
func (s *Streams) CreateGroup(ctx context.Context, stream, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Read returns up to count new entries for the consumer, blocking up to block.
// It returns nil without error when nothing arrived.
func (s *Streams) Read(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamEntry, error) {
	results, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []StreamEntry
	for _, result := range results {
		entries = append(entries, toEntries(result.Messages)...)
	}
	return entries, nil
}

func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.XAck(ctx, stream, group, ids...).Err()
}

// Pending lists entries delivered to some consumer but never acknowledged.
func (s *Streams) Pending(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]redis.XPendingExt, error) {
	return s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
}

// Claim moves idle pending entries to consumer.
func (s *Streams) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamEntry, error) {
	messages, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}
	return toEntries(messages), nil
}

// DeadLetter copies payload into the stream's dead-letter stream together
// with the failure reason.
func (s *Streams) DeadLetter(ctx context.Context, stream string, payload []byte, reason string) (string, error) {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(stream),
		MaxLen: dlqMaxLen,
		Approx: true,
		Values: map[string]any{
			payloadField: string(payload),
			"reason":     reason,
			"failedAt":   time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
}

func (s *Streams) Len(ctx context.Context, stream string) (int64, error) {
	return s.client.XLen(ctx, stream).Result()
}

// Trim trims a stream to approximately maxLen entries.
func (s *Streams) Trim(ctx context.Context, stream string, maxLen int64) (int64, error) {
	return s.client.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Result()
}

func toEntries(messages []redis.XMessage) []StreamEntry {
	entries := make([]StreamEntry, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values[payloadField].(string)
		if !ok {
			continue
		}
		entries = append(entries, StreamEntry{ID: msg.ID, Payload: []byte(data)})
	}
	return entries
}
