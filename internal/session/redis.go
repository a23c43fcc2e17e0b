package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis so several orchestrator
// instances behind a load balancer can share call state. The gateway
// pins a single call's webhooks to sequential delivery, so cross-
// instance contention on one call id is rare; Update still guards it
// with an optimistic transaction.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for session keys (default:
	// "voxloop:call:").
	Prefix string
	// KeyTTL is a hard expiry applied to every session key as a
	// second safety net behind Reap (0 = no expiry).
	KeyTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

const defaultRedisPrefix = "voxloop:call:"

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix, ttl: cfg.KeyTTL}, nil
}

// NewRedisStoreFromClient wraps an existing client. Useful for testing
// with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(callID string) string {
	return r.prefix + callID
}

func (r *RedisStore) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrStoreClosed
	}
	return nil
}

// GetOrCreate creates the session with SETNX so concurrent first-touch
// yields exactly one session.
func (r *RedisStore) GetOrCreate(ctx context.Context, callID string) (*Session, bool, error) {
	if err := r.checkOpen(); err != nil {
		return nil, false, err
	}

	fresh := &Session{
		CallID:    callID,
		StartedAt: time.Now().UTC(),
		Status:    StatusActive,
	}
	data, err := json.Marshal(fresh)
	if err != nil {
		return nil, false, fmt.Errorf("marshal session: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.key(callID), data, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx session: %w", err)
	}
	if created {
		return fresh, true, nil
	}

	sess, err := r.load(ctx, callID)
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

// Get returns the stored session.
func (r *RedisStore) Get(ctx context.Context, callID string) (*Session, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return r.load(ctx, callID)
}

func (r *RedisStore) load(ctx context.Context, callID string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// maxUpdateRetries bounds optimistic-transaction retries under
// cross-instance contention.
const maxUpdateRetries = 5

// Update applies fn inside a WATCH transaction so a concurrent write
// from another instance aborts and retries the mutation.
func (r *RedisStore) Update(ctx context.Context, callID string, fn func(*Session) error) (*Session, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	key := r.key(callID)
	var result *Session
	var termErr error

	txn := func(tx *redis.Tx) error {
		termErr = nil
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}

		if sess.Terminated() {
			result = &sess
			termErr = ErrSessionTerminated
			return nil
		}

		if err := fn(&sess); err != nil {
			return err
		}

		next, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = &sess
		return nil
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := r.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, termErr
	}
	return nil, fmt.Errorf("update session %s: transaction contention", callID)
}

// Delete removes a session key.
func (r *RedisStore) Delete(ctx context.Context, callID string) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(callID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Reap scans session keys and removes terminated or expired ones.
func (r *RedisStore) Reap(ctx context.Context, idleTTL time.Duration) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-idleTTL)
	reaped := 0

	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return reaped, fmt.Errorf("get session: %w", err)
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			// Unreadable state is reaped rather than kept forever.
			_ = r.client.Del(ctx, key).Err()
			reaped++
			continue
		}
		if sess.Terminated() || sess.StartedAt.Before(cutoff) {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return reaped, fmt.Errorf("delete session: %w", err)
			}
			reaped++
		}
	}
	if err := iter.Err(); err != nil {
		return reaped, fmt.Errorf("scan sessions: %w", err)
	}
	return reaped, nil
}

// Len counts live session keys.
func (r *RedisStore) Len(ctx context.Context) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	n := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}
	return n, nil
}

// Close marks the store closed and releases the connection pool.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}
