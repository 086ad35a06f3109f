package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider records calls and returns canned acquisition results.
type stubProvider struct {
	mu       sync.Mutex
	ok       bool
	err      error
	acquired []string
	released []string
}

func (s *stubProvider) TryAcquire(_ context.Context, key string) (Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || !s.ok {
		return "", false, s.err
	}
	s.acquired = append(s.acquired, key)
	return Token("t-" + key), true, nil
}

func (s *stubProvider) Release(ctx context.Context, key string, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.released = append(s.released, key+"/"+string(token))
	return nil
}

func TestExecutorRunReleasesAfterAction(t *testing.T) {
	p := &stubProvider{ok: true}
	e := NewExecutor(p, nil, 0)

	ran := false
	err := e.Run(context.Background(), "k", func(ctx context.Context) error {
		ran = true
		assert.Empty(t, p.released, "lock must be held while the action runs")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []string{"k/t-k"}, p.released)
}

func TestExecutorRunReleasesOnFailure(t *testing.T) {
	p := &stubProvider{ok: true}
	e := NewExecutor(p, nil, 0)
	boom := errors.New("boom")

	err := e.Run(context.Background(), "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Len(t, p.released, 1)
}

func TestExecutorRunReleasesOnPanic(t *testing.T) {
	p := &stubProvider{ok: true}
	e := NewExecutor(p, nil, 0)

	assert.Panics(t, func() {
		_ = e.Run(context.Background(), "k", func(ctx context.Context) error { panic("boom") })
	})
	assert.Len(t, p.released, 1)
}

func TestExecutorReleasesAfterCallerCancel(t *testing.T) {
	p := &stubProvider{ok: true}
	e := NewExecutor(p, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	err := e.Run(ctx, "k", func(ctx context.Context) error {
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, p.released, 1, "release must survive cancellation of the caller's context")
}

func TestExecutorBusySkipsAction(t *testing.T) {
	p := &stubProvider{ok: false}
	e := NewExecutor(p, nil, 0)

	ran := false
	err := e.Run(context.Background(), "k", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, ran)
	assert.Empty(t, p.released)
}

func TestCallBusyDoesNotRunComputation(t *testing.T) {
	p := &stubProvider{ok: false}
	e := NewExecutor(p, nil, 0)

	calls := 0
	got, err := Call(context.Background(), e, "k", func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Zero(t, got)
	assert.Zero(t, calls, "computation must not run unprotected")
}

func TestCallReturnsValue(t *testing.T) {
	p := &stubProvider{ok: true}
	e := NewExecutor(p, nil, 0)

	got, err := Call(context.Background(), e, "k", func(ctx context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Len(t, p.released, 1)
}

func TestExecutorBackendFailureIsUnavailable(t *testing.T) {
	p := &stubProvider{err: errors.New("dial tcp: connection refused")}
	e := NewExecutor(p, nil, 0)

	ran := false
	_, err := Call(context.Background(), e, "k", func(ctx context.Context) (bool, error) {
		ran = true
		return true, nil
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrBusy)
	assert.False(t, ran, "must not fall back to running unprotected")
}

func TestExecutorSerializesSameKey(t *testing.T) {
	e := NewExecutor(NewInMemory(time.Second), nil, 0)
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside, done := 0, 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := e.Run(ctx, "k", func(ctx context.Context) error {
					mu.Lock()
					inside++
					if inside > maxInside {
						maxInside = inside
					}
					mu.Unlock()
					time.Sleep(time.Millisecond)
					mu.Lock()
					inside--
					done++
					mu.Unlock()
					return nil
				})
				if !errors.Is(err, ErrBusy) {
					assert.NoError(t, err)
					return
				}
				time.Sleep(100 * time.Microsecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 100, done)
}

func TestExecutorCanceledCallerIsNotUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	p := &stubProvider{err: ctx.Err()}
	e := NewExecutor(p, nil, 0)

	ran := false
	err := e.Run(ctx, "k", func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.False(t, ran)
}
