package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kkkkikiki/couponguard/internal/model"
)

type benefitKey struct {
	memberID int64
	period   model.Period
}

// MemoryStore implements Store in process memory. Transactions stage their
// writes and validate versions at commit, so a writer that bypasses the lock
// is detected as ErrConflict the same way the PostgreSQL store detects it.
type MemoryStore struct {
	mu            sync.Mutex
	seq           atomic.Int64
	coupons       map[int64]model.Coupon
	memberCoupons map[int64]model.MemberCoupon
	benefits      map[benefitKey]model.MonthlyBenefit
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		coupons:       make(map[int64]model.Coupon),
		memberCoupons: make(map[int64]model.MemberCoupon),
		benefits:      make(map[benefitKey]model.MonthlyBenefit),
	}
}

// WithinTx runs fn against a staging transaction and commits it atomically.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		store:         s,
		coupons:       make(map[int64]stagedCoupon),
		memberCoupons: make(map[int64]model.MemberCoupon),
		benefits:      make(map[benefitKey]stagedBenefit),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, st := range tx.coupons {
		if cur := s.coupons[id]; cur.Version != st.baseVersion {
			return fmt.Errorf("coupon %d version %d: %w", id, st.baseVersion, ErrConflict)
		}
	}
	for id, mc := range tx.memberCoupons {
		if cur, ok := s.memberCoupons[id]; ok && mc.Used && cur.Used {
			return fmt.Errorf("member coupon %d already used: %w", id, ErrConflict)
		}
	}
	for key, st := range tx.benefits {
		cur, exists := s.benefits[key]
		if st.create && exists {
			return fmt.Errorf("benefit %d/%s: %w", key.memberID, key.period, ErrConflict)
		}
		if !st.create && (!exists || cur.Version != st.baseVersion) {
			return fmt.Errorf("benefit %d version %d: %w", st.row.ID, st.baseVersion, ErrConflict)
		}
	}

	for id, st := range tx.coupons {
		s.coupons[id] = st.row
	}
	for id, mc := range tx.memberCoupons {
		s.memberCoupons[id] = mc
	}
	for key, st := range tx.benefits {
		s.benefits[key] = st.row
	}
	return nil
}

func (s *MemoryStore) CreateCoupon(_ context.Context, c *model.Coupon) error {
	now := time.Now()
	c.ID = s.seq.Add(1)
	c.CreatedAt = now
	c.ModifiedAt = now
	if c.Status == "" {
		c.Status = model.CouponStatusIssuable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[c.ID] = *c
	return nil
}

func (s *MemoryStore) GetCoupon(_ context.Context, id int64) (*model.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[id]
	if !ok {
		return nil, fmt.Errorf("coupon %d: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (s *MemoryStore) ListIssuableCoupons(_ context.Context, now time.Time) ([]model.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupons := []model.Coupon{}
	for _, c := range s.coupons {
		if c.Status == model.CouponStatusIssuable && c.InIssueWindow(now) {
			coupons = append(coupons, c)
		}
	}
	sort.Slice(coupons, func(i, j int) bool {
		if !coupons[i].IssueStartedAt.Equal(coupons[j].IssueStartedAt) {
			return coupons[i].IssueStartedAt.Before(coupons[j].IssueStartedAt)
		}
		return coupons[i].ID < coupons[j].ID
	})
	return coupons, nil
}

func (s *MemoryStore) ListMemberCoupons(_ context.Context, memberID int64) ([]model.MemberCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupons := []model.MemberCoupon{}
	for _, mc := range s.memberCoupons {
		if mc.MemberID == memberID {
			coupons = append(coupons, mc)
		}
	}
	sort.Slice(coupons, func(i, j int) bool {
		if !coupons[i].IssuedAt.Equal(coupons[j].IssuedAt) {
			return coupons[i].IssuedAt.After(coupons[j].IssuedAt)
		}
		return coupons[i].ID > coupons[j].ID
	})
	return coupons, nil
}

func (s *MemoryStore) GetMonthlyBenefit(_ context.Context, memberID int64, period model.Period) (*model.MonthlyBenefit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.benefits[benefitKey{memberID: memberID, period: period}]
	if !ok {
		return nil, fmt.Errorf("benefit %d/%s: %w", memberID, period, ErrNotFound)
	}
	return &b, nil
}

func (s *MemoryStore) CountUsedMemberCoupons(_ context.Context, couponID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, mc := range s.memberCoupons {
		if mc.CouponID == couponID && mc.Used {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) TopMonthlyBenefit(_ context.Context, period model.Period) (*model.MonthlyBenefit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var top *model.MonthlyBenefit
	for key, b := range s.benefits {
		if key.period != period {
			continue
		}
		if top == nil || b.CouponDiscountAmount > top.CouponDiscountAmount ||
			(b.CouponDiscountAmount == top.CouponDiscountAmount && b.ID < top.ID) {
			b := b
			top = &b
		}
	}
	if top == nil {
		return nil, fmt.Errorf("benefits in %s: %w", period, ErrNotFound)
	}
	return top, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

type stagedCoupon struct {
	row         model.Coupon
	baseVersion int64
}

type stagedBenefit struct {
	row         model.MonthlyBenefit
	create      bool
	baseVersion int64
}

// memTx reads through its own staged writes before falling back to the store.
type memTx struct {
	store         *MemoryStore
	coupons       map[int64]stagedCoupon
	memberCoupons map[int64]model.MemberCoupon
	benefits      map[benefitKey]stagedBenefit
}

func (t *memTx) GetCoupon(ctx context.Context, id int64) (*model.Coupon, error) {
	if st, ok := t.coupons[id]; ok {
		c := st.row
		return &c, nil
	}
	return t.store.GetCoupon(ctx, id)
}

func (t *memTx) UpdateCouponIssue(ctx context.Context, c *model.Coupon) error {
	st, staged := t.coupons[c.ID]
	if !staged {
		cur, err := t.store.GetCoupon(ctx, c.ID)
		if err != nil {
			return err
		}
		st = stagedCoupon{row: *cur, baseVersion: cur.Version}
	}
	if st.row.Version != c.Version {
		return fmt.Errorf("coupon %d version %d: %w", c.ID, c.Version, ErrConflict)
	}

	c.Version++
	c.ModifiedAt = time.Now()
	st.row.IssueCount = c.IssueCount
	st.row.Status = c.Status
	st.row.Version = c.Version
	st.row.ModifiedAt = c.ModifiedAt
	t.coupons[c.ID] = st
	return nil
}

func (t *memTx) CreateMemberCoupon(_ context.Context, mc *model.MemberCoupon) error {
	mc.ID = t.store.seq.Add(1)
	t.memberCoupons[mc.ID] = *mc
	return nil
}

func (t *memTx) GetMemberCoupon(_ context.Context, id int64) (*model.MemberCoupon, error) {
	if mc, ok := t.memberCoupons[id]; ok {
		return &mc, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	mc, ok := t.store.memberCoupons[id]
	if !ok {
		return nil, fmt.Errorf("member coupon %d: %w", id, ErrNotFound)
	}
	return &mc, nil
}

func (t *memTx) MarkMemberCouponUsed(ctx context.Context, mc *model.MemberCoupon) error {
	cur, err := t.GetMemberCoupon(ctx, mc.ID)
	if err != nil {
		return err
	}
	if cur.Used {
		return fmt.Errorf("member coupon %d already used: %w", mc.ID, ErrConflict)
	}
	cur.Used = true
	cur.UsedAt = mc.UsedAt
	t.memberCoupons[mc.ID] = *cur
	return nil
}

func (t *memTx) FindMonthlyBenefit(ctx context.Context, memberID int64, period model.Period) (*model.MonthlyBenefit, error) {
	if st, ok := t.benefits[benefitKey{memberID: memberID, period: period}]; ok {
		b := st.row
		return &b, nil
	}
	return t.store.GetMonthlyBenefit(ctx, memberID, period)
}

func (t *memTx) CreateMonthlyBenefit(ctx context.Context, b *model.MonthlyBenefit) error {
	key := benefitKey{memberID: b.MemberID, period: b.Period()}
	if _, err := t.FindMonthlyBenefit(ctx, b.MemberID, b.Period()); err == nil {
		return fmt.Errorf("benefit %d/%s: %w", b.MemberID, key.period, ErrConflict)
	}
	b.ID = t.store.seq.Add(1)
	t.benefits[key] = stagedBenefit{row: *b, create: true}
	return nil
}

func (t *memTx) UpdateMonthlyBenefit(ctx context.Context, b *model.MonthlyBenefit) error {
	key := benefitKey{memberID: b.MemberID, period: b.Period()}
	st, staged := t.benefits[key]
	if !staged {
		cur, err := t.store.GetMonthlyBenefit(ctx, b.MemberID, b.Period())
		if err != nil {
			return err
		}
		st = stagedBenefit{row: *cur, baseVersion: cur.Version}
	}
	if st.row.Version != b.Version {
		return fmt.Errorf("benefit %d version %d: %w", b.ID, b.Version, ErrConflict)
	}

	b.Version++
	st.row.CouponDiscountAmount = b.CouponDiscountAmount
	st.row.ModifiedAt = b.ModifiedAt
	st.row.Version = b.Version
	t.benefits[key] = st
	return nil
}
