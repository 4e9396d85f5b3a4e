// Package domain contains coupon models and the pricing service contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	"gorm.io/gorm"
)

// DiscountType is how a coupon's value is interpreted.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon is an admin-defined discount. Codes are stored upper-cased so the
// unique index makes them case-insensitive-unique.
type Coupon struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	Code              string       `gorm:"type:text;not null;uniqueIndex:ux_coupons_code"`
	DiscountType      DiscountType `gorm:"type:text;not null"`
	DiscountValue     int64        `gorm:"not null"`
	MinOrderAmount    int64        `gorm:"not null;default:0"`
	MaxDiscountAmount *int64       `gorm:""`
	UsageLimit        *int64       `gorm:""`
	UsedCount         int64        `gorm:"not null;default:0"`
	PerUserLimit      int64        `gorm:"not null;default:0"`
	IsActive          bool         `gorm:"not null;default:true"`
	StartsAt          time.Time    `gorm:"not null"`
	ExpiresAt         time.Time    `gorm:"not null"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Coupon) TableName() string { return "coupons" }

// CouponRedemption records one coupon applied to one order. The unique
// (coupon_id, order_id) pair makes redemption idempotent.
type CouponRedemption struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	CouponID   snowflake.ID `gorm:"not null;uniqueIndex:ux_coupon_redemptions_coupon_order,priority:1"`
	OrderID    snowflake.ID `gorm:"not null;uniqueIndex:ux_coupon_redemptions_coupon_order,priority:2"`
	CustomerID snowflake.ID `gorm:"not null;index"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CouponRedemption) TableName() string { return "coupon_redemptions" }

type CreateCouponRequest struct {
	Code              string       `json:"code"`
	DiscountType      DiscountType `json:"discount_type"`
	DiscountValue     int64        `json:"discount_value"`
	MinOrderAmount    int64        `json:"min_order_amount"`
	MaxDiscountAmount *int64       `json:"max_discount_amount"`
	UsageLimit        *int64       `json:"usage_limit"`
	PerUserLimit      int64        `json:"per_user_limit"`
	StartsAt          time.Time    `json:"starts_at"`
	ExpiresAt         time.Time    `json:"expires_at"`
}

type Service interface {
	// Quote returns the cycle price in paise for a plan.
	Quote(plan catalogdomain.Plan, cycle catalogdomain.BillingCycle) (int64, error)
	// ApplyCoupon validates the coupon against basePrice and returns
	// (finalPrice, discount). It performs no writes.
	ApplyCoupon(basePrice int64, coupon Coupon, now time.Time) (int64, int64, error)
	GetByCode(ctx context.Context, code string) (Coupon, error)
	// Redeem writes the redemption record and increments used_count inside the
	// caller's transaction; the increment is gated on the usage limit so a
	// racing caller fails instead of over-redeeming.
	Redeem(ctx context.Context, tx *gorm.DB, couponID, orderID, customerID snowflake.ID) error
	Create(ctx context.Context, req CreateCouponRequest) (Coupon, error)
	Deactivate(ctx context.Context, id snowflake.ID) error
}

var (
	ErrInvalidCycle       = errors.New("invalid_billing_cycle")
	ErrInvalidCoupon      = errors.New("invalid_coupon")
	ErrCouponNotFound     = errors.New("coupon_not_found")
	ErrCouponInactive     = errors.New("coupon_inactive")
	ErrCouponExpired      = errors.New("coupon_expired")
	ErrCouponExhausted    = errors.New("coupon_exhausted")
	ErrCouponMinOrder     = errors.New("coupon_min_order_not_met")
	ErrCouponPerUserLimit = errors.New("coupon_per_user_limit_reached")
	ErrCouponRedeemed     = errors.New("coupon_already_redeemed")
	ErrCouponCodeTaken    = errors.New("coupon_code_taken")
)
