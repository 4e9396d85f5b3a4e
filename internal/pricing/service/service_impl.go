package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	"github.com/vyomcloud/vyom/internal/clock"
	pricingdomain "github.com/vyomcloud/vyom/internal/pricing/domain"
	"github.com/vyomcloud/vyom/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// built-in multi-month discounts, applied only when no override price exists
const (
	quarterlyPct = 95 // 5% off
	yearlyPct    = 85 // 15% off
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) pricingdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("pricing.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// percentOf applies pct% to amount in paise, rounding half up.
func percentOf(amount, pct int64) int64 {
	return (amount*pct + 50) / 100
}

func (s *Service) Quote(plan catalogdomain.Plan, cycle catalogdomain.BillingCycle) (int64, error) {
	switch cycle {
	case catalogdomain.CycleMonthly:
		return plan.MonthlyPrice, nil
	case catalogdomain.CycleQuarterly:
		if plan.QuarterlyPrice != nil {
			return *plan.QuarterlyPrice, nil
		}
		return percentOf(plan.MonthlyPrice*3, quarterlyPct), nil
	case catalogdomain.CycleYearly:
		if plan.YearlyPrice != nil {
			return *plan.YearlyPrice, nil
		}
		return percentOf(plan.MonthlyPrice*12, yearlyPct), nil
	default:
		return 0, pricingdomain.ErrInvalidCycle
	}
}

func (s *Service) ApplyCoupon(basePrice int64, coupon pricingdomain.Coupon, now time.Time) (int64, int64, error) {
	if !coupon.IsActive {
		return basePrice, 0, pricingdomain.ErrCouponInactive
	}
	if now.Before(coupon.StartsAt) || now.After(coupon.ExpiresAt) {
		return basePrice, 0, pricingdomain.ErrCouponExpired
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return basePrice, 0, pricingdomain.ErrCouponExhausted
	}
	if basePrice < coupon.MinOrderAmount {
		return basePrice, 0, pricingdomain.ErrCouponMinOrder
	}

	var discount int64
	switch coupon.DiscountType {
	case pricingdomain.DiscountPercentage:
		discount = percentOf(basePrice, coupon.DiscountValue)
		if coupon.MaxDiscountAmount != nil && discount > *coupon.MaxDiscountAmount {
			discount = *coupon.MaxDiscountAmount
		}
	case pricingdomain.DiscountFixed:
		discount = coupon.DiscountValue
	default:
		return basePrice, 0, pricingdomain.ErrInvalidCoupon
	}

	final := basePrice - discount
	if final < 0 {
		discount = basePrice
		final = 0
	}
	return final, discount, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (pricingdomain.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return pricingdomain.Coupon{}, pricingdomain.ErrInvalidCoupon
	}
	var coupon pricingdomain.Coupon
	err := s.db.WithContext(ctx).First(&coupon, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pricingdomain.Coupon{}, pricingdomain.ErrCouponNotFound
	}
	if err != nil {
		return pricingdomain.Coupon{}, err
	}
	return coupon, nil
}

func (s *Service) Redeem(ctx context.Context, tx *gorm.DB, couponID, orderID, customerID snowflake.ID) error {
	if tx == nil {
		tx = s.db
	}

	var coupon pricingdomain.Coupon
	err := tx.WithContext(ctx).First(&coupon, "id = ?", couponID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pricingdomain.ErrCouponNotFound
	}
	if err != nil {
		return err
	}

	if coupon.PerUserLimit > 0 {
		var used int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT COUNT(1) FROM coupon_redemptions WHERE coupon_id = ? AND customer_id = ?`,
			couponID,
			customerID,
		).Scan(&used).Error; err != nil {
			return err
		}
		if used >= coupon.PerUserLimit {
			return pricingdomain.ErrCouponPerUserLimit
		}
	}

	redemption := pricingdomain.CouponRedemption{
		ID:         s.genID.Generate(),
		CouponID:   couponID,
		OrderID:    orderID,
		CustomerID: customerID,
		CreatedAt:  s.clock.Now(),
	}
	if err := tx.WithContext(ctx).Create(&redemption).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return pricingdomain.ErrCouponRedeemed
		}
		return err
	}

	// The increment is conditional on the usage limit still holding, so two
	// racers on a limit-1 coupon get exactly one success.
	var res *gorm.DB
	if coupon.UsageLimit != nil {
		res = tx.WithContext(ctx).Exec(
			`UPDATE coupons
			 SET used_count = used_count + 1, updated_at = ?
			 WHERE id = ? AND used_count < usage_limit`,
			s.clock.Now(),
			couponID,
		)
	} else {
		res = tx.WithContext(ctx).Exec(
			`UPDATE coupons
			 SET used_count = used_count + 1, updated_at = ?
			 WHERE id = ?`,
			s.clock.Now(),
			couponID,
		)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pricingdomain.ErrCouponExhausted
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req pricingdomain.CreateCouponRequest) (pricingdomain.Coupon, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" || req.DiscountValue <= 0 {
		return pricingdomain.Coupon{}, pricingdomain.ErrInvalidCoupon
	}
	switch req.DiscountType {
	case pricingdomain.DiscountPercentage:
		if req.DiscountValue > 100 {
			return pricingdomain.Coupon{}, pricingdomain.ErrInvalidCoupon
		}
	case pricingdomain.DiscountFixed:
	default:
		return pricingdomain.Coupon{}, pricingdomain.ErrInvalidCoupon
	}
	if !req.ExpiresAt.After(req.StartsAt) {
		return pricingdomain.Coupon{}, pricingdomain.ErrInvalidCoupon
	}

	now := s.clock.Now()
	coupon := pricingdomain.Coupon{
		ID:                s.genID.Generate(),
		Code:              code,
		DiscountType:      req.DiscountType,
		DiscountValue:     req.DiscountValue,
		MinOrderAmount:    req.MinOrderAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		UsageLimit:        req.UsageLimit,
		PerUserLimit:      req.PerUserLimit,
		IsActive:          true,
		StartsAt:          req.StartsAt.UTC(),
		ExpiresAt:         req.ExpiresAt.UTC(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.db.WithContext(ctx).Create(&coupon).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return pricingdomain.Coupon{}, pricingdomain.ErrCouponCodeTaken
		}
		return pricingdomain.Coupon{}, err
	}
	return coupon, nil
}

func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE coupons SET is_active = ?, updated_at = ? WHERE id = ?`,
		false,
		s.clock.Now(),
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pricingdomain.ErrCouponNotFound
	}
	return nil
}
