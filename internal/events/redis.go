package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink republishes bus events on a Redis pub/sub channel so that
// collaborators in other processes can consume them.
type RedisSink struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisSink connects to Redis at url and verifies the connection.
func NewRedisSink(ctx context.Context, url, channel string, logger *zap.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisSink(rdb, channel, logger), nil
}

func newRedisSink(rdb *redis.Client, channel string, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{rdb: rdb, channel: channel, logger: logger}
}

// Run forwards events from sub until ctx is done or the subscription closes.
// Publish failures are logged and the event is skipped.
func (s *RedisSink) Run(ctx context.Context, sub *Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			data, err := e.JSON()
			if err != nil {
				s.logger.Error("encoding event", zap.String("type", e.Type), zap.Error(err))
				continue
			}
			if err := s.rdb.Publish(ctx, s.channel, data).Err(); err != nil {
				s.logger.Warn("publishing event to redis",
					zap.String("channel", s.channel),
					zap.String("type", e.Type),
					zap.Error(err))
				continue
			}
			s.logger.Debug("published event", zap.String("channel", s.channel), zap.String("type", e.Type))
		}
	}
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
