// Package domain contains persistence models for the plan catalog.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// BillingCycle is the recurrence unit governing price and expiry.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
)

// Months returns the cycle length in months, or 0 for an unknown cycle.
func (c BillingCycle) Months() int {
	switch c {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	case CycleYearly:
		return 12
	default:
		return 0
	}
}

func (c BillingCycle) Valid() bool { return c.Months() > 0 }

// Plan is a purchasable VPS configuration. Prices are int64 paise; quarterly
// and yearly prices are optional overrides of the built-in multi-month discount.
type Plan struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	Code           string       `gorm:"type:text;not null;uniqueIndex:ux_plans_code"`
	Name           string       `gorm:"type:text;not null"`
	CPUCores       int          `gorm:"not null"`
	RAMMB          int          `gorm:"not null"`
	StorageGB      int          `gorm:"not null"`
	BandwidthGB    int          `gorm:"not null"`
	MonthlyPrice   int64        `gorm:"not null"`
	QuarterlyPrice *int64       `gorm:""`
	YearlyPrice    *int64       `gorm:""`
	PanelPlanID    *string      `gorm:"type:text"`
	IsActive       bool         `gorm:"not null;default:true"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

type CreatePlanRequest struct {
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	CPUCores       int     `json:"cpu_cores"`
	RAMMB          int     `json:"ram_mb"`
	StorageGB      int     `json:"storage_gb"`
	BandwidthGB    int     `json:"bandwidth_gb"`
	MonthlyPrice   int64   `json:"monthly_price"`
	QuarterlyPrice *int64  `json:"quarterly_price"`
	YearlyPrice    *int64  `json:"yearly_price"`
	PanelPlanID    *string `json:"panel_plan_id"`
}

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (Plan, error)
	GetByCode(ctx context.Context, code string) (Plan, error)
	List(ctx context.Context, activeOnly bool) ([]Plan, error)
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	Deactivate(ctx context.Context, id snowflake.ID) error
}

var (
	ErrPlanNotFound  = errors.New("plan_not_found")
	ErrInvalidPlan   = errors.New("invalid_plan")
	ErrPlanCodeTaken = errors.New("plan_code_taken")
)
