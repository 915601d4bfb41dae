package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore shares sessions and turn locks across processes.
// Data model:
//   - prefix+"session:"+id => JSON(Session) with TTL
//   - prefix+"lock:"+id    => owner token with a short TTL
type RedisSessionStore struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	lockTTL time.Duration
	retry   time.Duration
	tries   int
}

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`)

// NewRedisSessionStore connects to the server at url (redis://host:port/db)
func NewRedisSessionStore(url string, ttl time.Duration) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisSessionStoreFromClient(redis.NewClient(opts), ttl), nil
}

// NewRedisSessionStoreFromClient wraps an existing client
func NewRedisSessionStoreFromClient(client redis.UniversalClient, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{
		client:  client,
		prefix:  "groundwork:",
		ttl:     ttl,
		lockTTL: 5 * time.Minute,
		retry:   100 * time.Millisecond,
		tries:   300,
	}
}

func (r *RedisSessionStore) sessKey(id string) string { return r.prefix + "session:" + id }
func (r *RedisSessionStore) lockKey(id string) string { return r.prefix + "lock:" + id }

// Ping checks the connection
func (r *RedisSessionStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Load reads a session
func (r *RedisSessionStore) Load(ctx context.Context, id string) (*Session, bool, error) {
	data, err := r.client.Get(ctx, r.sessKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, true, nil
}

// Save writes a session and refreshes its TTL
func (r *RedisSessionStore) Save(ctx context.Context, s *Session) error {
	s.UpdatedAt = time.Now()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := r.client.Set(ctx, r.sessKey(s.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// Delete removes a session
func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.sessKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Lock acquires the session's turn lock, polling until it is free.
// It gives up with ErrSessionLocked after a bounded number of attempts.
func (r *RedisSessionStore) Lock(ctx context.Context, id string) (func(), error) {
	token := uuid.NewString()
	key := r.lockKey(id)

	for i := 0; i < r.tries; i++ {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock session %s: %w", id, err)
		}
		if ok {
			return func() {
				_ = unlockScript.Run(context.Background(), r.client, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-time.After(r.retry):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrSessionLocked, ctx.Err())
		}
	}
	return nil, ErrSessionLocked
}

// Close releases the connection pool
func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}
