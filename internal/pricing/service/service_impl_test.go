package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	"github.com/vyomcloud/vyom/internal/clock"
	pricingdomain "github.com/vyomcloud/vyom/internal/pricing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dbSeq int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:pricing%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&pricingdomain.Coupon{},
		&pricingdomain.CouponRedemption{},
	))
	return gdb
}

func newTestService(t *testing.T, gdb *gorm.DB, clk clock.Clock) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	return svc.(*Service)
}

func int64Ptr(v int64) *int64 { return &v }

func TestQuoteBuiltInCycleDiscounts(t *testing.T) {
	svc := newTestService(t, newTestDB(t), clock.NewSystemClock())

	plan := catalogdomain.Plan{MonthlyPrice: 29900}

	monthly, err := svc.Quote(plan, catalogdomain.CycleMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(29900), monthly)

	// 3 months at 5% off: 89700 * 0.95
	quarterly, err := svc.Quote(plan, catalogdomain.CycleQuarterly)
	require.NoError(t, err)
	assert.Equal(t, int64(85215), quarterly)

	// 12 months at 15% off: 358800 * 0.85
	yearly, err := svc.Quote(plan, catalogdomain.CycleYearly)
	require.NoError(t, err)
	assert.Equal(t, int64(304980), yearly)

	_, err = svc.Quote(plan, catalogdomain.BillingCycle("weekly"))
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidCycle)
}

func TestQuotePrefersOverridePrices(t *testing.T) {
	svc := newTestService(t, newTestDB(t), clock.NewSystemClock())

	plan := catalogdomain.Plan{
		MonthlyPrice:   29900,
		QuarterlyPrice: int64Ptr(80000),
		YearlyPrice:    int64Ptr(299000),
	}

	quarterly, err := svc.Quote(plan, catalogdomain.CycleQuarterly)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), quarterly)

	yearly, err := svc.Quote(plan, catalogdomain.CycleYearly)
	require.NoError(t, err)
	assert.Equal(t, int64(299000), yearly)
}

func TestApplyCouponPercentageWithCap(t *testing.T) {
	svc := newTestService(t, newTestDB(t), clock.NewSystemClock())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	coupon := pricingdomain.Coupon{
		DiscountType:  pricingdomain.DiscountPercentage,
		DiscountValue: 10,
		IsActive:      true,
		StartsAt:      now.Add(-time.Hour),
		ExpiresAt:     now.Add(time.Hour),
	}

	// yearly price of the small plan, 10% off
	final, discount, err := svc.ApplyCoupon(304980, coupon, now)
	require.NoError(t, err)
	assert.Equal(t, int64(30498), discount)
	assert.Equal(t, int64(274482), final)

	coupon.MaxDiscountAmount = int64Ptr(20000)
	final, discount, err = svc.ApplyCoupon(304980, coupon, now)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), discount)
	assert.Equal(t, int64(284980), final)
}

func TestApplyCouponFixedNeverGoesNegative(t *testing.T) {
	svc := newTestService(t, newTestDB(t), clock.NewSystemClock())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	coupon := pricingdomain.Coupon{
		DiscountType:  pricingdomain.DiscountFixed,
		DiscountValue: 50000,
		IsActive:      true,
		StartsAt:      now.Add(-time.Hour),
		ExpiresAt:     now.Add(time.Hour),
	}

	final, discount, err := svc.ApplyCoupon(29900, coupon, now)
	require.NoError(t, err)
	assert.Equal(t, int64(29900), discount)
	assert.Equal(t, int64(0), final)
}

func TestApplyCouponValidationOrder(t *testing.T) {
	svc := newTestService(t, newTestDB(t), clock.NewSystemClock())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	base := pricingdomain.Coupon{
		DiscountType:  pricingdomain.DiscountPercentage,
		DiscountValue: 10,
		IsActive:      true,
		StartsAt:      now.Add(-time.Hour),
		ExpiresAt:     now.Add(time.Hour),
	}

	inactive := base
	inactive.IsActive = false
	_, _, err := svc.ApplyCoupon(10000, inactive, now)
	assert.ErrorIs(t, err, pricingdomain.ErrCouponInactive)

	expired := base
	expired.ExpiresAt = now.Add(-time.Minute)
	_, _, err = svc.ApplyCoupon(10000, expired, now)
	assert.ErrorIs(t, err, pricingdomain.ErrCouponExpired)

	notStarted := base
	notStarted.StartsAt = now.Add(time.Minute)
	_, _, err = svc.ApplyCoupon(10000, notStarted, now)
	assert.ErrorIs(t, err, pricingdomain.ErrCouponExpired)

	exhausted := base
	exhausted.UsageLimit = int64Ptr(5)
	exhausted.UsedCount = 5
	_, _, err = svc.ApplyCoupon(10000, exhausted, now)
	assert.ErrorIs(t, err, pricingdomain.ErrCouponExhausted)

	minOrder := base
	minOrder.MinOrderAmount = 50000
	_, _, err = svc.ApplyCoupon(10000, minOrder, now)
	assert.ErrorIs(t, err, pricingdomain.ErrCouponMinOrder)
}

func TestRedeemRespectsUsageLimit(t *testing.T) {
	gdb := newTestDB(t)
	svc := newTestService(t, gdb, clock.NewSystemClock())
	ctx := context.Background()

	coupon, err := svc.Create(ctx, pricingdomain.CreateCouponRequest{
		Code:          "launch10",
		DiscountType:  pricingdomain.DiscountPercentage,
		DiscountValue: 10,
		UsageLimit:    int64Ptr(1),
		StartsAt:      time.Now().Add(-time.Hour),
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "LAUNCH10", coupon.Code)

	node, _ := snowflake.NewNode(2)
	customerA := node.Generate()
	customerB := node.Generate()

	require.NoError(t, svc.Redeem(ctx, nil, coupon.ID, node.Generate(), customerA))

	err = svc.Redeem(ctx, nil, coupon.ID, node.Generate(), customerB)
	assert.ErrorIs(t, err, pricingdomain.ErrCouponExhausted)

	var usedCount int64
	require.NoError(t, gdb.Raw(`SELECT used_count FROM coupons WHERE id = ?`, coupon.ID).Scan(&usedCount).Error)
	assert.Equal(t, int64(1), usedCount)
}

func TestRedeemPerUserLimitAndDuplicateOrder(t *testing.T) {
	gdb := newTestDB(t)
	svc := newTestService(t, gdb, clock.NewSystemClock())
	ctx := context.Background()

	coupon, err := svc.Create(ctx, pricingdomain.CreateCouponRequest{
		Code:          "ONCE",
		DiscountType:  pricingdomain.DiscountFixed,
		DiscountValue: 5000,
		PerUserLimit:  1,
		StartsAt:      time.Now().Add(-time.Hour),
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	node, _ := snowflake.NewNode(2)
	customer := node.Generate()
	orderA := node.Generate()

	require.NoError(t, svc.Redeem(ctx, nil, coupon.ID, orderA, customer))

	err = svc.Redeem(ctx, nil, coupon.ID, orderA, customer)
	assert.ErrorIs(t, err, pricingdomain.ErrCouponPerUserLimit)

	otherCustomer := node.Generate()
	require.NoError(t, svc.Redeem(ctx, nil, coupon.ID, node.Generate(), otherCustomer))
}

func TestCreateCouponRejectsBadInput(t *testing.T) {
	svc := newTestService(t, newTestDB(t), clock.NewSystemClock())
	ctx := context.Background()

	_, err := svc.Create(ctx, pricingdomain.CreateCouponRequest{
		Code:          "BAD",
		DiscountType:  pricingdomain.DiscountPercentage,
		DiscountValue: 150,
		StartsAt:      time.Now(),
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidCoupon)

	_, err = svc.Create(ctx, pricingdomain.CreateCouponRequest{
		Code:          "BAD",
		DiscountType:  pricingdomain.DiscountFixed,
		DiscountValue: 100,
		StartsAt:      time.Now().Add(time.Hour),
		ExpiresAt:     time.Now(),
	})
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidCoupon)
}

func TestCreateCouponCodeCollision(t *testing.T) {
	svc := newTestService(t, newTestDB(t), clock.NewSystemClock())
	ctx := context.Background()

	req := pricingdomain.CreateCouponRequest{
		Code:          "twice",
		DiscountType:  pricingdomain.DiscountFixed,
		DiscountValue: 100,
		StartsAt:      time.Now().Add(-time.Hour),
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	_, err := svc.Create(ctx, req)
	require.NoError(t, err)

	req.Code = "TWICE"
	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, pricingdomain.ErrCouponCodeTaken)
}
