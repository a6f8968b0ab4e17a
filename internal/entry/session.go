package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore keeps at most one draft per user.
// Get returns ErrNoSession when the user has none.
type SessionStore interface {
	Get(ctx context.Context, userID string) (*Draft, error)
	Put(ctx context.Context, d *Draft) error
	Delete(ctx context.Context, userID string) error
}

// Lister is implemented by stores that can enumerate their drafts, which
// lets Machine.Expire find idle ones.
type Lister interface {
	List(ctx context.Context) ([]*Draft, error)
}

var (
	_ SessionStore = (*MemoryStore)(nil)
	_ Lister       = (*MemoryStore)(nil)
	_ SessionStore = (*RedisStore)(nil)
)

// MemoryStore holds drafts in process memory. Drafts are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	drafts map[string]*Draft
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[string]*Draft)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[userID]
	if !ok {
		return nil, ErrNoSession
	}
	return d.clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, d *Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[d.UserID] = d.clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, userID)
	return nil
}

// List returns every draft ordered by user id.
func (s *MemoryStore) List(_ context.Context) ([]*Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Draft, 0, len(s.drafts))
	for _, d := range s.drafts {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Len returns the number of open drafts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drafts)
}

const redisKeyPrefix = "warikan:draft:"

// RedisStore keeps drafts as JSON values whose TTL is refreshed on every
// write, so idle drafts disappear without a sweeper and survive bot restarts.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*Draft, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var d Draft
	if err := json.Unmarshal(val, &d); err != nil {
		return nil, fmt.Errorf("decode draft for %s: %w", userID, err)
	}
	return &d, nil
}

func (s *RedisStore) Put(ctx context.Context, d *Draft) error {
	val, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+d.UserID, val, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}
