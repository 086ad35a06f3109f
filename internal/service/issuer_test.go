package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kkkkikiki/couponguard/internal/lock"
	"github.com/kkkkikiki/couponguard/internal/model"
	"github.com/kkkkikiki/couponguard/internal/repository"
)

const (
	numberOfMembers        = 10
	issueRequestsPerMember = 20
	issueLimit             = 150
)

func runIssueContention(t *testing.T, locks *lock.Executor) {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	coupon := seedLimitedCoupon(t, store, issueLimit)
	issuer := NewCouponIssuer(store, locks, WithClock(fixedClock()))

	var issued, soldOut atomic.Int32
	var g errgroup.Group
	for member := int64(1); member <= numberOfMembers; member++ {
		for i := 0; i < issueRequestsPerMember; i++ {
			g.Go(func() error {
				res, err := issueUntilDecided(ctx, issuer, coupon.ID, member)
				if err != nil {
					return err
				}
				switch res.Outcome {
				case IssueIssued:
					issued.Add(1)
				case IssueSoldOut:
					soldOut.Add(1)
				default:
					t.Errorf("unexpected outcome %s", res.Outcome)
				}
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(issueLimit), issued.Load())
	assert.Equal(t, int32(numberOfMembers*issueRequestsPerMember-issueLimit), soldOut.Load())

	got, err := store.GetCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(issueLimit), got.IssueCount)
	assert.Equal(t, model.CouponStatusSoldOut, got.Status)

	grants := 0
	for member := int64(1); member <= numberOfMembers; member++ {
		mcs, err := store.ListMemberCoupons(ctx, member)
		require.NoError(t, err)
		grants += len(mcs)
	}
	assert.Equal(t, issueLimit, grants, "exactly one grant per successful issue")
}

func TestIssueConcurrentRequestsNeverOverissue(t *testing.T) {
	runIssueContention(t, newExecutor())
}

func TestIssueConcurrentRequestsWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 64})
	t.Cleanup(func() { _ = client.Close() })

	runIssueContention(t, lock.NewExecutor(lock.NewRedis(client, time.Second), nil, 0))
}

func TestIssueCountIsMonotonicAndBounded(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	coupon := seedLimitedCoupon(t, store, 40)
	issuer := NewCouponIssuer(store, newExecutor(), WithClock(fixedClock()))

	done := make(chan struct{})
	var observer sync.WaitGroup
	observer.Add(1)
	go func() {
		defer observer.Done()
		last := int64(0)
		for {
			select {
			case <-done:
				return
			default:
			}
			c, err := store.GetCoupon(ctx, coupon.ID)
			if !assert.NoError(t, err) {
				return
			}
			assert.GreaterOrEqual(t, c.IssueCount, last, "issue count decreased")
			assert.LessOrEqual(t, c.IssueCount, int64(40), "issue count exceeded limit")
			last = c.IssueCount
		}
	}()

	var g errgroup.Group
	for i := 0; i < 80; i++ {
		member := int64(i%5 + 1)
		g.Go(func() error {
			_, err := issueUntilDecided(ctx, issuer, coupon.ID, member)
			return err
		})
	}
	require.NoError(t, g.Wait())
	close(done)
	observer.Wait()
}

func TestIssueAfterWindowIsNotIssuable(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	coupon := seedLimitedCoupon(t, store, 150)
	afterEnd := coupon.IssueEndedAt.Add(time.Minute)
	issuer := NewCouponIssuer(store, newExecutor(), WithClock(func() time.Time { return afterEnd }))

	res, err := issuer.Issue(ctx, coupon.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, IssueNotIssuable, res.Outcome)
	assert.Nil(t, res.Grant)

	got, err := store.GetCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CouponStatusExpired, got.Status)
	assert.Zero(t, got.IssueCount, "quota untouched")
}

func TestIssueBeforeWindowIsNotIssuable(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	coupon := seedLimitedCoupon(t, store, 150)
	beforeStart := coupon.IssueStartedAt.Add(-time.Minute)
	issuer := NewCouponIssuer(store, newExecutor(), WithClock(func() time.Time { return beforeStart }))

	res, err := issuer.Issue(ctx, coupon.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, IssueNotIssuable, res.Outcome)

	got, err := store.GetCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CouponStatusIssuable, got.Status, "not started is not expired")
}

func TestIssueReachingLimitMarksSoldOut(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	coupon := seedLimitedCoupon(t, store, 2)
	issuer := NewCouponIssuer(store, newExecutor(), WithClock(fixedClock()))

	first, err := issuer.Issue(ctx, coupon.ID, 1)
	require.NoError(t, err)
	require.Equal(t, IssueIssued, first.Outcome)
	assert.Equal(t, int64(1), first.Coupon.Remaining())
	assert.Equal(t, coupon.UseEndedAt, first.Grant.UseEndedAt)
	assert.Equal(t, testNow, first.Grant.IssuedAt)
	assert.False(t, first.Grant.Used)

	second, err := issuer.Issue(ctx, coupon.ID, 2)
	require.NoError(t, err)
	require.Equal(t, IssueIssued, second.Outcome)
	assert.Equal(t, model.CouponStatusSoldOut, second.Coupon.Status)

	third, err := issuer.Issue(ctx, coupon.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, IssueSoldOut, third.Outcome)

	got, err := store.GetCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.IssueCount)
	assert.Equal(t, model.CouponStatusSoldOut, got.Status)
}

func TestIssueUnboundedCouponNeverSellsOut(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	coupon := seedLimitedCoupon(t, store, -1)
	issuer := NewCouponIssuer(store, newExecutor(), WithClock(fixedClock()))

	for i := 0; i < 25; i++ {
		res, err := issuer.Issue(ctx, coupon.ID, 1)
		require.NoError(t, err)
		require.Equal(t, IssueIssued, res.Outcome)
		assert.Equal(t, int64(-1), res.Coupon.Remaining())
	}

	got, err := store.GetCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), got.IssueCount)
	assert.Equal(t, model.CouponStatusIssuable, got.Status)
}

func TestIssueBusyNeverRunsCriticalSection(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: repository.NewMemoryStore()}
	coupon := seedLimitedCoupon(t, store, 150)
	issuer := NewCouponIssuer(store, lock.NewExecutor(busyProvider{}, nil, 0), WithClock(fixedClock()))

	res, err := issuer.Issue(ctx, coupon.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, IssueBusy, res.Outcome)
	assert.Zero(t, store.txCalls, "critical section must not run without the lock")

	got, err := store.GetCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Zero(t, got.IssueCount)
}

func TestIssueHeldLockIsBusy(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	coupon := seedLimitedCoupon(t, store, 150)
	provider := lock.NewInMemory(time.Minute)
	issuer := NewCouponIssuer(store, lock.NewExecutor(provider, nil, 0), WithClock(fixedClock()))

	// another instance holds the coupon's lock
	_, ok, err := provider.TryAcquire(ctx, CouponLockKey(coupon.ID))
	require.NoError(t, err)
	require.True(t, ok)

	res, err := issuer.Issue(ctx, coupon.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, IssueBusy, res.Outcome)

	// a different coupon is not blocked
	other := seedLimitedCoupon(t, store, 150)
	res, err = issuer.Issue(ctx, other.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, IssueIssued, res.Outcome)
}

func TestIssueCoordinationUnavailable(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: repository.NewMemoryStore()}
	coupon := seedLimitedCoupon(t, store, 150)
	issuer := NewCouponIssuer(store, lock.NewExecutor(downProvider{}, nil, 0), WithClock(fixedClock()))

	_, err := issuer.Issue(ctx, coupon.ID, 1)
	assert.ErrorIs(t, err, lock.ErrUnavailable)
	assert.Zero(t, store.txCalls, "must not fall back to running unprotected")
}

func TestIssueCanceledCallerIsNotCoordinationFailure(t *testing.T) {
	store := &countingStore{MemoryStore: repository.NewMemoryStore()}
	coupon := seedLimitedCoupon(t, store, 150)
	client := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	t.Cleanup(func() { _ = client.Close() })
	issuer := NewCouponIssuer(store, lock.NewExecutor(lock.NewRedis(client, time.Second), nil, 0), WithClock(fixedClock()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := issuer.Issue(ctx, coupon.ID, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, lock.ErrUnavailable)
	assert.Equal(t, connect.CodeCanceled, connect.CodeOf(toConnectError(err)))
	assert.Zero(t, store.txCalls)
}

func TestIssueRetriesOnceOnConflict(t *testing.T) {
	ctx := context.Background()
	store := &conflictStore{MemoryStore: repository.NewMemoryStore(), conflicts: 1}
	coupon := seedLimitedCoupon(t, store, 150)
	issuer := NewCouponIssuer(store, newExecutor(), WithClock(fixedClock()))

	res, err := issuer.Issue(ctx, coupon.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, IssueIssued, res.Outcome)
	assert.Equal(t, 2, store.txCalls)
}

func TestIssueSurfacesPersistentConflict(t *testing.T) {
	ctx := context.Background()
	store := &conflictStore{MemoryStore: repository.NewMemoryStore(), conflicts: 2}
	coupon := seedLimitedCoupon(t, store, 150)
	issuer := NewCouponIssuer(store, newExecutor(), WithClock(fixedClock()))

	res, err := issuer.Issue(ctx, coupon.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, IssuePersistenceConflict, res.Outcome)
	assert.Equal(t, 2, store.txCalls, "retried at most once")

	got, err := store.GetCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Zero(t, got.IssueCount)
}

func TestIssueUnknownCoupon(t *testing.T) {
	issuer := NewCouponIssuer(repository.NewMemoryStore(), newExecutor(), WithClock(fixedClock()))

	_, err := issuer.Issue(context.Background(), 404, 1)
	assert.ErrorIs(t, err, ErrCouponNotFound)
}
