package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

const eventChannelPrefix = "events:"

// EventChannelPattern matches every tenant's event channel.
const EventChannelPattern = eventChannelPrefix + "*"

// EventChannel is the pub/sub channel carrying one tenant's realtime events.
func EventChannel(tenantID string) string {
	return eventChannelPrefix + tenantID
}

// TenantFromEventChannel is the inverse of EventChannel.
func TenantFromEventChannel(channel string) (string, bool) {
	tenantID, ok := strings.CutPrefix(channel, eventChannelPrefix)
	return tenantID, ok && tenantID != ""
}

// DeadLetterStream is where entries of stream go once retries are exhausted.
func DeadLetterStream(stream string) string {
	return stream + ":dlq"
}
