package registry

// Redis layout:
//
//	Key:   {prefix}:{ServiceName}:{ip:port}
//	Value: JSON-encoded ServiceInstance
//
// Ephemeral keys carry a TTL that a heartbeat goroutine refreshes every TTL/3 while
// the registry is open, the Redis counterpart of an etcd lease.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"
)

var errRedisClosed = errors.New("redis registry is closed")

// RedisRegistry implements Registry on Redis.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger log.Logger

	mu        sync.Mutex
	ephemeral map[string][]byte // key -> value of the instances renewed by the heartbeat
	started   bool
	closed    bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewRedisUniversalClient builds a client from a redis:// URL.
func NewRedisUniversalClient(redisAddr string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(redisAddr)
	if err != nil {
		return nil, fmt.Errorf("cant parse redis url: %w", err)
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{opts.Addr},
		DB:           opts.DB,
		Username:     opts.Username,
		Password:     opts.Password,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		TLSConfig:    opts.TLSConfig,
	}), nil
}

// NewRedisRegistry wraps an existing client. The registry owns the client from now on
// and closes it in Close.
func NewRedisRegistry(client redis.UniversalClient, prefix string, ttl time.Duration, logger log.Logger) *RedisRegistry {
	return &RedisRegistry{
		client:    client,
		prefix:    prefix,
		ttl:       ttl,
		logger:    log.WithPrefix(logger, "component", "RedisRegistry"),
		ephemeral: make(map[string][]byte),
		done:      make(chan struct{}),
	}
}

func (r *RedisRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance) error {
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return errRedisClosed
	}

	key := r.key(serviceName, instance.Addr())
	var ttl time.Duration
	if instance.Ephemeral {
		ttl = r.ttl
	}
	if err := r.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("can't write instance to redis (key='%s'), err: %w", key, err)
	}

	if instance.Ephemeral {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			// Close won the race: the key expires after ttl.
			return errRedisClosed
		}
		r.ephemeral[key] = val
		if !r.started {
			r.started = true
			r.wg.Add(1)
			go r.heartbeat()
		}
	}
	return nil
}

// heartbeat pushes the expiry of every ephemeral key forward until Close. A key that
// already expired (Redis restart, eviction, outage longer than ttl) is written again.
func (r *RedisRegistry) heartbeat() {
	defer r.wg.Done()

	interval := r.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		r.refresh(ctx)
		cancel()
	}
}

func (r *RedisRegistry) refresh(ctx context.Context) {
	r.mu.Lock()
	entries := make(map[string][]byte, len(r.ephemeral))
	for k, v := range r.ephemeral {
		entries[k] = v
	}
	r.mu.Unlock()
	if len(entries) == 0 {
		return
	}

	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.BoolCmd, len(entries))
	for k := range entries {
		cmds[k] = pipe.Expire(ctx, k, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		level.Warn(r.logger).Log("msg", "Heartbeat failed", "keys", len(entries), "err", err)
		return
	}

	for k, cmd := range cmds {
		if cmd.Val() {
			continue
		}
		r.mu.Lock()
		_, tracked := r.ephemeral[k]
		r.mu.Unlock()
		if !tracked {
			continue // deregistered meanwhile
		}
		level.Warn(r.logger).Log("msg", "Ephemeral key expired, writing it again", "key", k)
		if err := r.client.Set(ctx, k, entries[k], r.ttl).Err(); err != nil {
			level.Warn(r.logger).Log("msg", "Can't restore ephemeral key", "key", k, "err", err)
		}
	}
}

func (r *RedisRegistry) Deregister(ctx context.Context, serviceName string, instance ServiceInstance) error {
	key := r.key(serviceName, instance.Addr())

	r.mu.Lock()
	delete(r.ephemeral, key)
	r.mu.Unlock()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("can't delete instance from redis (key='%s'), err: %w", key, err)
	}
	return nil
}

// Discover lists the keys of serviceName and then fetches their values.
func (r *RedisRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	keys, err := r.client.Keys(ctx, r.servicePrefix(serviceName)+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("redis get keys error, err: %w", err)
	}
	if len(keys) == 0 {
		return []ServiceInstance{}, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget error, err: %w", err)
	}

	instances := make([]ServiceInstance, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // expired between KEYS and MGET
		}
		var instance ServiceInstance
		if err := json.Unmarshal([]byte(s), &instance); err != nil {
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops the heartbeat and closes the client; ephemeral keys then expire on their own.
func (r *RedisRegistry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
	return r.client.Close()
}

func (r *RedisRegistry) servicePrefix(serviceName string) string {
	// "*", "?" and "[" in route patterns would turn into KEYS wildcards.
	return r.prefix + ":" + escapePattern(serviceName) + ":"
}

func (r *RedisRegistry) key(serviceName, addr string) string {
	return r.prefix + ":" + serviceName + ":" + addr
}

var patternEscaper = strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`, `\`, `\\`)

func escapePattern(s string) string {
	return patternEscaper.Replace(s)
}
