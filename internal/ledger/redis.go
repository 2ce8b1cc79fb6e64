package ledger

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on a pub/sub channel for live consumers.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink parses a redis:// URL and verifies the server is reachable.
func NewRedisSink(ctx context.Context, url, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisSink{client: client, channel: channel}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Record(ctx context.Context, e Event) error {
	data, err := e.marshal()
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}

func (s *RedisSink) Close() error { return s.client.Close() }
