package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	snapshotKey = "futures_guard:metrics:latest"
	snapshotTTL = 5 * time.Minute
)

// RedisSink keeps only the most recent snapshot, keyed per metric, with a
// TTL so a stopped collector leaves no stale dashboard data behind.
type RedisSink struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisSink connects to Redis. A ping failure is returned so the caller
// can decide to run without the sink.
func NewRedisSink(ctx context.Context, addr, password string, db int, logger zerolog.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisSink{
		client: client,
		logger: logger.With().Str("component", "metrics_redis").Logger(),
	}, nil
}

// Write stores each point in the snapshot hash under source:name:labels
func (s *RedisSink) Write(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(points))
	for _, p := range points {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal metric point: %w", err)
		}
		fields[fieldKey(p)] = payload
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, snapshotKey, fields)
	pipe.Expire(ctx, snapshotKey, snapshotTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write metric snapshot: %w", err)
	}
	return nil
}

// Snapshot returns the latest stored points
func (s *RedisSink) Snapshot(ctx context.Context) ([]Point, error) {
	raw, err := s.client.HGetAll(ctx, snapshotKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read metric snapshot: %w", err)
	}

	points := make([]Point, 0, len(raw))
	for _, v := range raw {
		var p Point
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			s.logger.Warn().Err(err).Msg("skipping corrupt metric snapshot entry")
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// Close releases the Redis connection
func (s *RedisSink) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("closing redis metrics sink")
	}
}

// fieldKey builds a stable hash field name so repeated samples of the same
// series overwrite each other.
func fieldKey(p Point) string {
	keys := make([]string, 0, len(p.Labels))
	for k := range p.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	field := p.Source + ":" + p.Name
	for _, k := range keys {
		field += ":" + k + "=" + p.Labels[k]
	}
	return field
}
