package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/couponguard/internal/api"
)

// PerfResult gathers aggregated counters for the run.
// Latencies are in nanoseconds.
type PerfResult struct {
	TotalRequests int64
	Issued        int64
	SoldOut       int64
	Busy          int64
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64
}

const (
	baseURL           = "http://localhost:8080"
	fixedMembers      = 10
	requestsPerMember = 20
	fixedIssueLimit   = 150
	fixedRPSTarget    = 700
	maxBusyRetries    = 200
	defaultTimeout    = 30 * time.Second
)

func main() {
	transport := &http.Transport{
		MaxIdleConns:        fixedMembers * requestsPerMember,
		MaxIdleConnsPerHost: fixedMembers * requestsPerMember,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
	client := api.NewCouponServiceClient(httpClient, baseURL)

	couponID, err := createLimitedCoupon(client, fixedIssueLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create coupon: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("==========================================")
	fmt.Println("🚀 선착순 쿠폰 발급 동시성 테스트")
	fmt.Println("==========================================")
	fmt.Printf("쿠폰 ID    : %d (발급 한도 %d)\n", couponID, fixedIssueLimit)
	fmt.Printf("요청       : 회원 %d명 x %d건\n", fixedMembers, requestsPerMember)
	fmt.Printf("RPS        : %d\n", fixedRPSTarget)
	fmt.Println("==========================================")

	limiter := rate.NewLimiter(rate.Limit(fixedRPSTarget), fixedMembers*requestsPerMember)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var result PerfResult
	latencies := make([]int64, fixedMembers*requestsPerMember)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for member := int64(1); member <= fixedMembers; member++ {
		for i := 0; i < requestsPerMember; i++ {
			slot := int(member-1)*requestsPerMember + i
			g.Go(func() error {
				latency, err := issueWithRetry(gctx, client, limiter, couponID, member, &result)
				latencies[slot] = latency.Nanoseconds()
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "run aborted: %v\n", err)
		os.Exit(1)
	}
	totalDur := time.Since(start)
	result.P95Latency = p95(latencies)

	fmt.Println("==========================================")
	fmt.Println("📊 테스트 결과")
	fmt.Println("==========================================")
	fmt.Printf("테스트 시간        : %.2f초\n", totalDur.Seconds())
	fmt.Printf("총 요청 수         : %d\n", result.TotalRequests)
	fmt.Printf("발급 성공          : %d\n", result.Issued)
	fmt.Printf("소진 응답          : %d\n", result.SoldOut)
	fmt.Printf("재시도(busy)       : %d\n", result.Busy)
	fmt.Printf("실패한 요청        : %d\n", result.ErrorCount)

	var avgLatency time.Duration
	if result.TotalRequests > 0 {
		avgLatency = time.Duration(result.LatencySum / result.TotalRequests)
	}
	fmt.Printf("평균 레이턴시      : %v\n", avgLatency)
	fmt.Printf("P95 레이턴시       : %v\n", time.Duration(result.P95Latency))
	fmt.Println("==========================================")

	fmt.Println("🔍 데이터 정합성 검증")
	fmt.Println("==========================================")
	if err := verifyDataConsistency(client, couponID, result.Issued); err != nil {
		fmt.Printf("❌ 정합성 검증 실패: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ 데이터 정합성 확인 완료")
	fmt.Println("==========================================")
}

func createLimitedCoupon(client *api.CouponServiceClient, limit int64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	now := time.Now()
	resp, err := client.CreateCoupon(ctx, connect.NewRequest(&api.CreateCouponRequest{
		Name:              "perf-limited",
		DiscountAmount:    3500,
		MinimumOrderPrice: 10000,
		IssueLimit:        &limit,
		IssueStartedAt:    now.Add(-time.Minute),
		IssueEndedAt:      now.Add(time.Hour),
		UseEndedAt:        now.Add(24 * time.Hour),
	}))
	if err != nil {
		return 0, fmt.Errorf("create coupon failed: %w", err)
	}
	return resp.Msg.Coupon.ID, nil
}

// issueWithRetry sends one logical issue request, retrying while the coupon
// lock is held by another request.
func issueWithRetry(ctx context.Context, client *api.CouponServiceClient, limiter *rate.Limiter, couponID, memberID int64, result *PerfResult) (time.Duration, error) {
	start := time.Now()
	defer func() {
		atomic.AddInt64(&result.TotalRequests, 1)
		atomic.AddInt64(&result.LatencySum, time.Since(start).Nanoseconds())
	}()

	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return time.Since(start), err
		}
		_, err := client.IssueCoupon(ctx, connect.NewRequest(&api.IssueCouponRequest{
			CouponID: couponID,
			MemberID: memberID,
		}))
		switch connect.CodeOf(err) {
		case connect.CodeUnavailable:
			atomic.AddInt64(&result.Busy, 1)
			continue
		case connect.CodeResourceExhausted:
			atomic.AddInt64(&result.SoldOut, 1)
			return time.Since(start), nil
		case connect.CodeAborted:
			atomic.AddInt64(&result.ErrorCount, 1)
			return time.Since(start), nil
		}
		if err != nil {
			atomic.AddInt64(&result.ErrorCount, 1)
			return time.Since(start), err
		}
		atomic.AddInt64(&result.Issued, 1)
		return time.Since(start), nil
	}
	atomic.AddInt64(&result.ErrorCount, 1)
	return time.Since(start), nil
}

func p95(latencies []int64) int64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// verifyDataConsistency checks the server's issue count against what the run observed
func verifyDataConsistency(client *api.CouponServiceClient, couponID int64, expectedIssued int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.GetCoupon(ctx, connect.NewRequest(&api.GetCouponRequest{CouponID: couponID}))
	if err != nil {
		return fmt.Errorf("failed to get coupon: %w", err)
	}
	coupon := resp.Msg.Coupon

	var granted int64
	for member := int64(1); member <= fixedMembers; member++ {
		mine, err := client.ListMemberCoupons(ctx, connect.NewRequest(&api.ListMemberCouponsRequest{MemberID: member}))
		if err != nil {
			return fmt.Errorf("failed to list member coupons: %w", err)
		}
		for _, mc := range mine.Msg.MemberCoupons {
			if mc.CouponID == couponID {
				granted++
			}
		}
	}

	fmt.Printf("발급 수 (DB)       : %d\n", coupon.IssueCount)
	fmt.Printf("발급 내역 (DB)     : %d\n", granted)
	fmt.Printf("발급 수 (테스트)   : %d\n", expectedIssued)
	fmt.Printf("쿠폰 상태          : %s\n", coupon.Status)

	if coupon.IssueLimit != nil && coupon.IssueCount > *coupon.IssueLimit {
		return fmt.Errorf("over-issuance 발생: 발급=%d > 한도=%d", coupon.IssueCount, *coupon.IssueLimit)
	}
	if coupon.IssueCount != granted {
		return fmt.Errorf("발급 수와 발급 내역 불일치: count=%d, rows=%d", coupon.IssueCount, granted)
	}
	if coupon.IssueCount != expectedIssued {
		return fmt.Errorf("데이터 불일치: DB=%d, 테스트=%d", coupon.IssueCount, expectedIssued)
	}
	return nil
}
