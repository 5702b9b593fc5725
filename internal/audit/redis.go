package audit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink appends records to a Redis stream. Entry ids carry the insert
// time, so pruning is an XTRIM by minimum id.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// OpenRedis connects using a redis:// URL and checks the connection.
func OpenRedis(ctx context.Context, url, stream string, maxLen int64) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("audit redis: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("audit redis: ping: %w", err)
	}
	return NewRedisSink(client, stream, maxLen), nil
}

func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = "geechat:audit"
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Record(ctx context.Context, rec Record) error {
	actions, err := rec.actionsJSON()
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"request_id":  rec.RequestID,
			"transport":   rec.Transport,
			"text":        rec.Text,
			"reply":       rec.Reply,
			"actions":     actions,
			"outcome":     rec.Outcome,
			"duration_ms": strconv.FormatInt(rec.Duration.Milliseconds(), 10),
			"created_at":  strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("audit redis: xadd: %w", err)
	}
	return nil
}

func (s *RedisSink) Prune(ctx context.Context, before time.Time) (int64, error) {
	minID := strconv.FormatInt(before.UnixMilli(), 10) + "-0"
	n, err := s.client.XTrimMinID(ctx, s.stream, minID).Result()
	if err != nil {
		return 0, fmt.Errorf("audit redis: xtrim: %w", err)
	}
	return n, nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
