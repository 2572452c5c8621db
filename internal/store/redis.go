package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "meeting:"

// maxWatchRetries bounds optimistic transaction retries on key conflicts
const maxWatchRetries = 10

// Redis stores each meeting document under a single key and uses WATCH/MULTI
// for atomic read-modify-write
type Redis struct {
	documents

	client *redis.Client
	prefix string
}

// RedisOptions configures the Redis store
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return NewRedisFromClient(client, opts.Prefix), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	r := &Redis{client: client, prefix: prefix}
	r.documents = documents{engine: r}
	return r
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

func (r *Redis) load(ctx context.Context, id string) ([]byte, error) {
	doc, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return doc, nil
}

func (r *Redis) mutate(ctx context.Context, id string, fn mutateFunc) error {
	key := r.key(id)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			current = nil
		} else if err != nil {
			return err
		}

		out, err := fn(current)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return fmt.Errorf("mutate %s: too many write conflicts", id)
}

// Close closes the Redis client
func (r *Redis) Close() error {
	return r.client.Close()
}
