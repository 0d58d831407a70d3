package durable

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// RedisStore stores values as plain Redis strings under a key prefix.
// Writes refused by maxmemory (OOM replies) surface as ErrQuota.
type RedisStore struct {
	name   string
	client redis.UniversalClient
	prefix string
	owned  bool
}

// NewRedisStore wraps a client owned by the caller; Close leaves it open.
func NewRedisStore(name string, client redis.UniversalClient, prefix string) *RedisStore {
	if name == "" {
		name = "redis"
	}
	return &RedisStore{name: name, client: client, prefix: prefix}
}

func (s *RedisStore) Name() string { return s.name }

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ErrUnavailable.Wrap(err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return s.mapWriteErr(key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return ErrUnavailable.Wrap(err)
	}
	return nil
}

// Keys scans every master in cluster mode, the single node otherwise.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var (
		mu   sync.Mutex
		keys []string
	)
	collect := func(ctx context.Context, c redis.Cmdable) error {
		iter := c.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
		var local []string
		for iter.Next(ctx) {
			local = append(local, strings.TrimPrefix(iter.Val(), s.prefix))
		}
		if err := iter.Err(); err != nil {
			return err
		}
		mu.Lock()
		keys = append(keys, local...)
		mu.Unlock()
		return nil
	}

	var err error
	if cc, ok := s.client.(*redis.ClusterClient); ok {
		err = cc.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return collect(ctx, c)
		})
	} else {
		err = collect(ctx, s.client)
	}
	if err != nil {
		return nil, ErrUnavailable.Wrap(err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return ErrUnavailable.Wrap(err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) mapWriteErr(key string, err error) error {
	if strings.HasPrefix(err.Error(), "OOM") {
		return ErrQuota.WithData("key", key).Wrap(err)
	}
	return ErrUnavailable.Wrap(err)
}
