package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lease struct {
	token   Token
	expires time.Time
}

// InMemory implements Provider using local memory. It only coordinates
// goroutines of one process; use Redis when more than one instance runs.
type InMemory struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	leases map[string]lease
}

// NewInMemory returns a process-local provider. A non-positive ttl uses DefaultTTL.
func NewInMemory(ttl time.Duration) *InMemory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemory{
		ttl:    ttl,
		now:    time.Now,
		leases: make(map[string]lease),
	}
}

// TryAcquire attempts to obtain the lock without waiting.
func (l *InMemory) TryAcquire(_ context.Context, key string) (Token, bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expires) {
		return "", false, nil
	}
	token := Token(uuid.NewString())
	l.leases[key] = lease{token: token, expires: now.Add(l.ttl)}
	return token, true, nil
}

// Release frees key if token still owns it.
func (l *InMemory) Release(_ context.Context, key string, token Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[key]; ok && cur.token == token {
		delete(l.leases, key)
	}
	return nil
}
