package store

import (
	"context"
	"errors"
	"time"

	"broker-observer/src/helpers"
	"broker-observer/src/logger"
	"broker-observer/src/models"

	"github.com/redis/go-redis/v9"
)

// -----------------------------------------------------------------------------

// RedisStore implements interfaces.IStateStore on a Redis connection.
type RedisStore struct {
	client *redis.Client
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewRedisStore(cfg models.MRedisConfig, log *logger.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client, Logger: log}
}

// NewTokenStore opens a second connection against the token database. The
// credential-capture process writes there, everything else lives in the
// primary database.
func NewTokenStore(cfg models.MRedisConfig, log *logger.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.TokenDB,
	})
	return &RedisStore{client: client, Logger: log}
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return helpers.NewStoreError("store ping failed", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", helpers.NewStoreError("hget failed", err)
	}
	return val, nil
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", helpers.NewStoreError("get failed", err)
	}
	return val, nil
}

// -----------------------------------------------------------------------------

// HSetBatch commits all hash writes in one transactional pipeline.
func (s *RedisStore) HSetBatch(ctx context.Context, writes []models.MHashWrite) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			pipe.HSet(ctx, w.Key, w.Field, w.Value)
		}
		return nil
	})
	if err != nil {
		return helpers.NewStoreError("hash batch write failed", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return helpers.NewStoreError("publish failed", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Subscribe listens on the given channels and forwards messages until ctx is
// cancelled. The pubsub connection is closed on exit.
func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) (<-chan models.MChannelMessage, error) {
	sub := s.client.Subscribe(ctx, channels...)

	// Force the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, helpers.NewStoreError("subscribe failed", err)
	}

	out := make(chan models.MChannelMessage, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- models.MChannelMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *RedisStore) XAdd(ctx context.Context, stream string, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
		return helpers.NewStoreError("stream append failed", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return helpers.NewStoreError("delete failed", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *RedisStore) ExpireAt(ctx context.Context, key string, at time.Time) error {
	if err := s.client.ExpireAt(ctx, key, at).Err(); err != nil {
		return helpers.NewStoreError("expire failed", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Close() error {
	return s.client.Close()
}
