package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemorySessionStore keeps sessions in process memory with expiry
type MemorySessionStore struct {
	cache *cache.Cache

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is held in the locks map only while some caller holds or
// waits for it
type sessionLock struct {
	sem  chan struct{}
	refs int
}

// NewMemorySessionStore creates a store whose sessions expire after ttl of inactivity
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemorySessionStore{
		cache: cache.New(ttl, 10*time.Minute),
		locks: make(map[string]*sessionLock),
	}
}

// Load returns a copy of the stored session
func (m *MemorySessionStore) Load(ctx context.Context, id string) (*Session, bool, error) {
	v, found := m.cache.Get(id)
	if !found {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("session %s: unexpected cached type %T", id, v)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("session %s: %w", id, err)
	}
	return &s, true, nil
}

// Save stores a snapshot of the session and refreshes its expiry
func (m *MemorySessionStore) Save(ctx context.Context, s *Session) error {
	s.UpdatedAt = time.Now()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}
	m.cache.Set(s.ID, data, cache.DefaultExpiration)
	return nil
}

// Delete removes a session
func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}

// Lock blocks until the session is free or ctx ends
func (m *MemorySessionStore) Lock(ctx context.Context, id string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{sem: make(chan struct{}, 1)}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(id, l)
		return nil, fmt.Errorf("%w: %v", ErrSessionLocked, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			m.release(id, l)
		})
	}, nil
}

func (m *MemorySessionStore) release(id string, l *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}
