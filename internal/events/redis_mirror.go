package events

import (
	"context"
	"encoding/json"
	"fmt"

	"arbibot/internal/core"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher is the slice of *redis.Client the mirror needs
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisMirror forwards bus events as JSON to Redis pub/sub on
// "<prefix>:<topic>" so dashboards outside the process can follow along.
type RedisMirror struct {
	rdb    RedisPublisher
	prefix string
	sub    core.ISubscription
	logger core.ILogger
}

// NewRedisClient dials Redis and verifies connectivity
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// MirroredTopics are forwarded to Redis. Raw quotes stay in-process so a
// tick burst cannot crowd alerts and trades out of the mirror's buffer.
var MirroredTopics = []string{
	core.TopicSpreadUpdate,
	core.TopicDecision,
	core.TopicTradeOpened,
	core.TopicTradeClosed,
	core.TopicEntryRejected,
	core.TopicConnectionStatus,
	core.TopicCriticalAlert,
	core.TopicError,
}

// NewRedisMirror subscribes to MirroredTopics on bus
func NewRedisMirror(bus core.IEventBus, rdb RedisPublisher, prefix string, buffer int, logger core.ILogger) *RedisMirror {
	return &RedisMirror{
		rdb:    rdb,
		prefix: prefix,
		sub:    bus.Subscribe(buffer, MirroredTopics...),
		logger: logger.WithField("component", "redis_mirror"),
	}
}

// Channel returns the Redis channel used for topic
func (m *RedisMirror) Channel(topic string) string {
	return m.prefix + ":" + topic
}

// Run forwards events until ctx is done or the bus closes
func (m *RedisMirror) Run(ctx context.Context) error {
	defer m.sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-m.sub.C():
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				m.logger.Warn("Failed to encode event", "topic", ev.Topic, "error", err)
				continue
			}
			if err := m.rdb.Publish(ctx, m.Channel(ev.Topic), payload).Err(); err != nil {
				m.logger.Warn("Redis publish failed", "topic", ev.Topic, "error", err)
			}
		}
	}
}
