package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lotbuy/internal/domain"
	applog "lotbuy/internal/log"
)

const (
	streamMaxLen = 10000
	sentTTL      = 7 * 24 * time.Hour
)

// RedisConfig holds connection parameters for the event stream.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
}

// NewRedisClient connects and pings, returning an error if Redis is
// unreachable.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// streamClient is the subset of the Redis client the sink uses.
type streamClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// StreamSink appends events to a Redis stream for email and push workers.
// A per-key marker, written after a successful append, keeps redelivered
// events out of the stream. A crash between the append and the marker can
// repeat an entry; consumers dedupe on "key".
type StreamSink struct {
	rdb    streamClient
	stream string
}

func NewStreamSink(rdb streamClient, stream string) *StreamSink {
	return &StreamSink{rdb: rdb, stream: stream}
}

func (s *StreamSink) Name() string { return "stream" }

func (s *StreamSink) Deliver(ctx context.Context, e domain.Event) error {
	marker := s.stream + ":sent:" + e.Key()
	n, err := s.rdb.Exists(ctx, marker).Result()
	if err != nil {
		return fmt.Errorf("redis: check %s: %w", e.Key(), err)
	}
	if n > 0 {
		return nil
	}
	users, _ := json.Marshal(e.UserIDs)
	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"key":        e.Key(),
			"seq":        e.Seq,
			"entityType": string(e.EntityType),
			"entityId":   e.EntityID,
			"oldStatus":  e.OldStatus,
			"newStatus":  e.NewStatus,
			"actorId":    e.ActorID,
			"lotId":      e.LotID,
			"userIds":    string(users),
			"reason":     e.Reason,
			"occurredAt": e.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", s.stream, err)
	}
	// The entry is in the stream; a missing marker only risks a duplicate.
	if err := s.rdb.Set(ctx, marker, e.Seq, sentTTL).Err(); err != nil {
		applog.Fail("stream", "mark", err, map[string]any{"key": e.Key(), "seq": e.Seq})
	}
	return nil
}
