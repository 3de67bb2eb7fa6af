package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commonredis "github.com/fmzchao/studio/common/redis"
	"github.com/fmzchao/studio/engine/wferrors"
)

const defaultBlobTTL = 24 * time.Hour

// redisEnvelope wraps object bytes with their metadata in one value
type redisEnvelope struct {
	Data []byte         `json:"data"`
	Meta ObjectMetadata `json:"meta"`
}

// RedisStore persists objects in Redis under a key prefix, with a TTL so
// abandoned spill blobs age out
type RedisStore struct {
	client *commonredis.Client
	prefix string
	ttl    time.Duration
}

// RedisStoreOpts configures a RedisStore
type RedisStoreOpts struct {
	Client *commonredis.Client
	Prefix string
	TTL    time.Duration
}

// NewRedisStore creates a Redis-backed object store
func NewRedisStore(opts RedisStoreOpts) *RedisStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "studio:blob:"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultBlobTTL
	}
	return &RedisStore{
		client: opts.Client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Upload stores data under id
func (s *RedisStore) Upload(ctx context.Context, id, name string, data []byte, mime string) error {
	envelope := redisEnvelope{
		Data: data,
		Meta: ObjectMetadata{
			Name:      name,
			Mime:      mime,
			Size:      int64(len(data)),
			CreatedAt: time.Now(),
		},
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal object %s: %w", id, err)
	}
	if err := s.client.Set(ctx, s.key(id), encoded, s.ttl); err != nil {
		return wferrors.NewServiceError("redis", fmt.Sprintf("store object %s", id), err)
	}
	return nil
}

// Download returns the object bytes and metadata for id
func (s *RedisStore) Download(ctx context.Context, id string) ([]byte, *ObjectMetadata, error) {
	encoded, err := s.client.Get(ctx, s.key(id))
	if err != nil {
		if errors.Is(err, commonredis.ErrKeyNotFound) {
			return nil, nil, wferrors.NewNotFoundError("object", id)
		}
		return nil, nil, wferrors.NewServiceError("redis", fmt.Sprintf("fetch object %s", id), err)
	}
	var envelope redisEnvelope
	if err := json.Unmarshal(encoded, &envelope); err != nil {
		return nil, nil, fmt.Errorf("unmarshal object %s: %w", id, err)
	}
	return envelope.Data, &envelope.Meta, nil
}

// Delete removes the object for id
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Delete(ctx, s.key(id)); err != nil {
		return wferrors.NewServiceError("redis", fmt.Sprintf("delete object %s", id), err)
	}
	return nil
}
