// Package api defines the coupon service's connect procedures, messages and
// client. Messages are plain Go structs carried by JSONCodec.
package api

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// CouponServiceName is the fully-qualified name of the coupon service.
const CouponServiceName = "coupon.v1.CouponService"

const (
	CreateCouponProcedure        = "/" + CouponServiceName + "/CreateCoupon"
	GetCouponProcedure           = "/" + CouponServiceName + "/GetCoupon"
	IssueCouponProcedure         = "/" + CouponServiceName + "/IssueCoupon"
	ListIssuableCouponsProcedure = "/" + CouponServiceName + "/ListIssuableCoupons"
	ListMemberCouponsProcedure   = "/" + CouponServiceName + "/ListMemberCoupons"
	UseMemberCouponProcedure     = "/" + CouponServiceName + "/UseMemberCoupon"
	AccumulateBenefitProcedure   = "/" + CouponServiceName + "/AccumulateBenefit"
	GetMonthlyBenefitProcedure   = "/" + CouponServiceName + "/GetMonthlyBenefit"
	GetCouponUsageProcedure      = "/" + CouponServiceName + "/GetCouponUsage"
	GetTopBenefitMemberProcedure = "/" + CouponServiceName + "/GetTopBenefitMember"
)

// CouponServiceHandler is implemented by the server.
type CouponServiceHandler interface {
	CreateCoupon(context.Context, *connect.Request[CreateCouponRequest]) (*connect.Response[CreateCouponResponse], error)
	GetCoupon(context.Context, *connect.Request[GetCouponRequest]) (*connect.Response[GetCouponResponse], error)
	IssueCoupon(context.Context, *connect.Request[IssueCouponRequest]) (*connect.Response[IssueCouponResponse], error)
	ListIssuableCoupons(context.Context, *connect.Request[ListIssuableCouponsRequest]) (*connect.Response[ListIssuableCouponsResponse], error)
	ListMemberCoupons(context.Context, *connect.Request[ListMemberCouponsRequest]) (*connect.Response[ListMemberCouponsResponse], error)
	UseMemberCoupon(context.Context, *connect.Request[UseMemberCouponRequest]) (*connect.Response[UseMemberCouponResponse], error)
	AccumulateBenefit(context.Context, *connect.Request[AccumulateBenefitRequest]) (*connect.Response[AccumulateBenefitResponse], error)
	GetMonthlyBenefit(context.Context, *connect.Request[GetMonthlyBenefitRequest]) (*connect.Response[GetMonthlyBenefitResponse], error)
	GetCouponUsage(context.Context, *connect.Request[GetCouponUsageRequest]) (*connect.Response[GetCouponUsageResponse], error)
	GetTopBenefitMember(context.Context, *connect.Request[GetTopBenefitMemberRequest]) (*connect.Response[GetTopBenefitMemberResponse], error)
}

// NewCouponServiceHandler builds an HTTP handler for every procedure and
// returns the path prefix to mount it on.
func NewCouponServiceHandler(svc CouponServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateCouponProcedure, connect.NewUnaryHandler(CreateCouponProcedure, svc.CreateCoupon, opts...))
	mux.Handle(GetCouponProcedure, connect.NewUnaryHandler(GetCouponProcedure, svc.GetCoupon, opts...))
	mux.Handle(IssueCouponProcedure, connect.NewUnaryHandler(IssueCouponProcedure, svc.IssueCoupon, opts...))
	mux.Handle(ListIssuableCouponsProcedure, connect.NewUnaryHandler(ListIssuableCouponsProcedure, svc.ListIssuableCoupons, opts...))
	mux.Handle(ListMemberCouponsProcedure, connect.NewUnaryHandler(ListMemberCouponsProcedure, svc.ListMemberCoupons, opts...))
	mux.Handle(UseMemberCouponProcedure, connect.NewUnaryHandler(UseMemberCouponProcedure, svc.UseMemberCoupon, opts...))
	mux.Handle(AccumulateBenefitProcedure, connect.NewUnaryHandler(AccumulateBenefitProcedure, svc.AccumulateBenefit, opts...))
	mux.Handle(GetMonthlyBenefitProcedure, connect.NewUnaryHandler(GetMonthlyBenefitProcedure, svc.GetMonthlyBenefit, opts...))
	mux.Handle(GetCouponUsageProcedure, connect.NewUnaryHandler(GetCouponUsageProcedure, svc.GetCouponUsage, opts...))
	mux.Handle(GetTopBenefitMemberProcedure, connect.NewUnaryHandler(GetTopBenefitMemberProcedure, svc.GetTopBenefitMember, opts...))
	return "/" + CouponServiceName + "/", mux
}

// CouponServiceClient calls the coupon service.
type CouponServiceClient struct {
	createCoupon        *connect.Client[CreateCouponRequest, CreateCouponResponse]
	getCoupon           *connect.Client[GetCouponRequest, GetCouponResponse]
	issueCoupon         *connect.Client[IssueCouponRequest, IssueCouponResponse]
	listIssuableCoupons *connect.Client[ListIssuableCouponsRequest, ListIssuableCouponsResponse]
	listMemberCoupons   *connect.Client[ListMemberCouponsRequest, ListMemberCouponsResponse]
	useMemberCoupon     *connect.Client[UseMemberCouponRequest, UseMemberCouponResponse]
	accumulateBenefit   *connect.Client[AccumulateBenefitRequest, AccumulateBenefitResponse]
	getMonthlyBenefit   *connect.Client[GetMonthlyBenefitRequest, GetMonthlyBenefitResponse]
	getCouponUsage      *connect.Client[GetCouponUsageRequest, GetCouponUsageResponse]
	getTopBenefitMember *connect.Client[GetTopBenefitMemberRequest, GetTopBenefitMemberResponse]
}

// NewCouponServiceClient creates a client for the service at baseURL.
func NewCouponServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *CouponServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &CouponServiceClient{
		createCoupon:        connect.NewClient[CreateCouponRequest, CreateCouponResponse](httpClient, baseURL+CreateCouponProcedure, opts...),
		getCoupon:           connect.NewClient[GetCouponRequest, GetCouponResponse](httpClient, baseURL+GetCouponProcedure, opts...),
		issueCoupon:         connect.NewClient[IssueCouponRequest, IssueCouponResponse](httpClient, baseURL+IssueCouponProcedure, opts...),
		listIssuableCoupons: connect.NewClient[ListIssuableCouponsRequest, ListIssuableCouponsResponse](httpClient, baseURL+ListIssuableCouponsProcedure, opts...),
		listMemberCoupons:   connect.NewClient[ListMemberCouponsRequest, ListMemberCouponsResponse](httpClient, baseURL+ListMemberCouponsProcedure, opts...),
		useMemberCoupon:     connect.NewClient[UseMemberCouponRequest, UseMemberCouponResponse](httpClient, baseURL+UseMemberCouponProcedure, opts...),
		accumulateBenefit:   connect.NewClient[AccumulateBenefitRequest, AccumulateBenefitResponse](httpClient, baseURL+AccumulateBenefitProcedure, opts...),
		getMonthlyBenefit:   connect.NewClient[GetMonthlyBenefitRequest, GetMonthlyBenefitResponse](httpClient, baseURL+GetMonthlyBenefitProcedure, opts...),
		getCouponUsage:      connect.NewClient[GetCouponUsageRequest, GetCouponUsageResponse](httpClient, baseURL+GetCouponUsageProcedure, opts...),
		getTopBenefitMember: connect.NewClient[GetTopBenefitMemberRequest, GetTopBenefitMemberResponse](httpClient, baseURL+GetTopBenefitMemberProcedure, opts...),
	}
}

func (c *CouponServiceClient) CreateCoupon(ctx context.Context, req *connect.Request[CreateCouponRequest]) (*connect.Response[CreateCouponResponse], error) {
	return c.createCoupon.CallUnary(ctx, req)
}

func (c *CouponServiceClient) GetCoupon(ctx context.Context, req *connect.Request[GetCouponRequest]) (*connect.Response[GetCouponResponse], error) {
	return c.getCoupon.CallUnary(ctx, req)
}

func (c *CouponServiceClient) IssueCoupon(ctx context.Context, req *connect.Request[IssueCouponRequest]) (*connect.Response[IssueCouponResponse], error) {
	return c.issueCoupon.CallUnary(ctx, req)
}

func (c *CouponServiceClient) ListIssuableCoupons(ctx context.Context, req *connect.Request[ListIssuableCouponsRequest]) (*connect.Response[ListIssuableCouponsResponse], error) {
	return c.listIssuableCoupons.CallUnary(ctx, req)
}

func (c *CouponServiceClient) ListMemberCoupons(ctx context.Context, req *connect.Request[ListMemberCouponsRequest]) (*connect.Response[ListMemberCouponsResponse], error) {
	return c.listMemberCoupons.CallUnary(ctx, req)
}

func (c *CouponServiceClient) UseMemberCoupon(ctx context.Context, req *connect.Request[UseMemberCouponRequest]) (*connect.Response[UseMemberCouponResponse], error) {
	return c.useMemberCoupon.CallUnary(ctx, req)
}

func (c *CouponServiceClient) AccumulateBenefit(ctx context.Context, req *connect.Request[AccumulateBenefitRequest]) (*connect.Response[AccumulateBenefitResponse], error) {
	return c.accumulateBenefit.CallUnary(ctx, req)
}

func (c *CouponServiceClient) GetMonthlyBenefit(ctx context.Context, req *connect.Request[GetMonthlyBenefitRequest]) (*connect.Response[GetMonthlyBenefitResponse], error) {
	return c.getMonthlyBenefit.CallUnary(ctx, req)
}

func (c *CouponServiceClient) GetCouponUsage(ctx context.Context, req *connect.Request[GetCouponUsageRequest]) (*connect.Response[GetCouponUsageResponse], error) {
	return c.getCouponUsage.CallUnary(ctx, req)
}

func (c *CouponServiceClient) GetTopBenefitMember(ctx context.Context, req *connect.Request[GetTopBenefitMemberRequest]) (*connect.Response[GetTopBenefitMemberResponse], error) {
	return c.getTopBenefitMember.CallUnary(ctx, req)
}
