package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Unlock when the key expired or was taken over.
var ErrNotHeld = errors.New("lock is not held by this holder")

// Release only the holder's own key.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Extend only while the holder still owns the key.
var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Mutex is a non-blocking lock on a single Redis key. The key expires after
// ttl unless the holder keeps renewing it, so a crashed holder cannot wedge
// the lock. A Mutex can be locked and unlocked repeatedly.
type Mutex struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
	stop  chan struct{}
	done  chan struct{}
}

// NewMutex returns a mutex on key.
func NewMutex(client redis.UniversalClient, key string, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Mutex{client: client, key: key, ttl: ttl}
}

func (m *Mutex) Key() string {
	return m.key
}

// TryLock acquires the key if nobody holds it. It reports false without
// error when another holder has it.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" {
		return false, nil
	}

	token := uuid.NewString()
	acquired, err := m.client.SetNX(ctx, m.key, token, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", m.key, err)
	}
	if !acquired {
		return false, nil
	}

	m.token = token
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.renew(token, m.stop, m.done)
	return true, nil
}

// Unlock releases the key. It returns ErrNotHeld when the key was lost
// before the call.
func (m *Mutex) Unlock(ctx context.Context) error {
	m.mu.Lock()
	token, stop, done := m.token, m.stop, m.done
	m.token, m.stop, m.done = "", nil, nil
	m.mu.Unlock()

	if token == "" {
		return ErrNotHeld
	}
	close(stop)
	<-done

	released, err := releaseScript.Run(ctx, m.client, []string{m.key}, token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", m.key, err)
	}
	if released == 0 {
		return ErrNotHeld
	}
	return nil
}

// renew extends the key at half its ttl until stopped or the key is lost.
func (m *Mutex) renew(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.ttl/2)
			extended, err := extendScript.Run(ctx, m.client, []string{m.key}, token, m.ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && extended == 0 {
				return
			}
		}
	}
}
