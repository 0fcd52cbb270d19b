package oauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const statePrefix = "hh-autopilot:oauth-state:"

// StateStore keeps anti-CSRF handshake states. A state can be taken once.
type StateStore interface {
	Put(ctx context.Context, state, userID string, ttl time.Duration) error
	Take(ctx context.Context, state string) (string, error)
}

// RedisStates stores states as expiring keys.
type RedisStates struct {
	client *redis.Client
}

func NewRedisStates(client *redis.Client) *RedisStates {
	return &RedisStates{client: client}
}

func (s *RedisStates) Put(ctx context.Context, state, userID string, ttl time.Duration) error {
	return s.client.Set(ctx, statePrefix+state, userID, ttl).Err()
}

func (s *RedisStates) Take(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", ErrUnknownState
	}

	userID, err := s.client.GetDel(ctx, statePrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownState
	}
	if err != nil {
		return "", err
	}

	return userID, nil
}

// MemoryStates is a process-local StateStore.
type MemoryStates struct {
	mu     sync.Mutex
	states map[string]memoryState
	now    func() time.Time
}

type memoryState struct {
	userID  string
	expires time.Time
}

func NewMemoryStates() *MemoryStates {
	return &MemoryStates{
		states: make(map[string]memoryState),
		now:    time.Now,
	}
}

func (s *MemoryStates) Put(_ context.Context, state, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state] = memoryState{userID: userID, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStates) Take(_ context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.states[state]
	if !ok {
		return "", ErrUnknownState
	}
	delete(s.states, state)

	if !s.now().Before(entry.expires) {
		return "", ErrUnknownState
	}

	return entry.userID, nil
}
