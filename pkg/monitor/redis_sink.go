package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
	"github.com/synaptica-ai/trainwatch/pkg/series"
)

const (
	redisKeyPrefix   = "trainwatch:chart"
	redisCallTimeout = 2 * time.Second
	defaultChartTTL  = time.Hour
)

// RedisSink mirrors a session's series into capped Redis lists and
// announces redraws on a pub/sub channel for a remote chart renderer.
type RedisSink struct {
	client    redis.Cmdable
	sessionID string
	capacity  int64
	ttl       time.Duration

	mu     sync.Mutex
	closed bool
}

func NewRedisSink(client redis.Cmdable, sessionID string, capacity int, ttl time.Duration) *RedisSink {
	if capacity <= 0 {
		capacity = series.DefaultCapacity
	}
	if ttl <= 0 {
		ttl = defaultChartTTL
	}
	return &RedisSink{client: client, sessionID: sessionID, capacity: int64(capacity), ttl: ttl}
}

// RedisSinkFactory binds every new session to client.
func RedisSinkFactory(client redis.Cmdable, capacity int, ttl time.Duration) SinkFactory {
	return func(sessionID string) ChartSink {
		return NewRedisSink(client, sessionID, capacity, ttl)
	}
}

func ChartKey(sessionID, seriesName string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, sessionID, seriesName)
}

func ChartChannel(sessionID string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, sessionID)
}

func (s *RedisSink) Append(seriesName string, point series.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	payload, err := json.Marshal(point)
	if err != nil {
		logger.WithSession(s.sessionID).WithError(err).Error("Failed to encode chart point")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisCallTimeout)
	defer cancel()

	key := ChartKey(s.sessionID, seriesName)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -s.capacity, -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.WithSession(s.sessionID).WithError(err).WithField("series", seriesName).Warn("Failed to append chart point")
	}
}

func (s *RedisSink) Render() {
	s.notify("render")
}

// Close publishes a detach notice. The lists are left to expire so a
// renderer can still draw the final chart.
func (s *RedisSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.publish("detach")
}

func (s *RedisSink) notify(message string) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if err := s.publish(message); err != nil {
		logger.WithSession(s.sessionID).WithError(err).Warn("Failed to notify chart renderer")
	}
}

func (s *RedisSink) publish(message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisCallTimeout)
	defer cancel()
	if err := s.client.Publish(ctx, ChartChannel(s.sessionID), message).Err(); err != nil {
		return fmt.Errorf("failed to publish %s for session %s: %w", message, s.sessionID, err)
	}
	return nil
}
