package trace

import (
	"context"
	"encoding/json"
	"fmt"

	commonredis "github.com/fmzchao/studio/common/redis"
)

// RedisStreamSink fans events out to a per-run Redis stream for live
// consumers, and optionally publishes a pub/sub notification per event
type RedisStreamSink struct {
	client       *commonredis.Client
	streamPrefix string
	channel      string
}

// RedisStreamSinkOpts configures a RedisStreamSink
type RedisStreamSinkOpts struct {
	Client *commonredis.Client
	// StreamPrefix defaults to "trace:events:"; the run id is appended
	StreamPrefix string
	// Channel, when set, receives a pub/sub copy of every event
	Channel string
}

// NewRedisStreamSink creates a Redis-stream-backed trace sink
func NewRedisStreamSink(opts RedisStreamSinkOpts) *RedisStreamSink {
	prefix := opts.StreamPrefix
	if prefix == "" {
		prefix = "trace:events:"
	}
	return &RedisStreamSink{
		client:       opts.Client,
		streamPrefix: prefix,
		channel:      opts.Channel,
	}
}

// Append adds the event to the run's stream
func (s *RedisStreamSink) Append(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trace event: %w", err)
	}

	stream := s.streamPrefix + event.RunID
	if _, err := s.client.AddToStream(ctx, stream, map[string]interface{}{
		"event":    string(data),
		"sequence": event.Sequence,
	}); err != nil {
		return err
	}

	if s.channel != "" {
		if err := s.client.PublishEvent(ctx, s.channel, string(data)); err != nil {
			return err
		}
	}
	return nil
}
