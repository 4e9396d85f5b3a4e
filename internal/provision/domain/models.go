// Package domain contains the VPS instance model and the provisioning
// contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
)

// InstanceStatus mirrors the panel-side machine state we track locally.
type InstanceStatus string

const (
	InstanceRunning    InstanceStatus = "running"
	InstanceStopped    InstanceStatus = "stopped"
	InstanceSuspended  InstanceStatus = "suspended"
	InstanceTerminated InstanceStatus = "terminated"
)

// VPSInstance is the locally recorded result of a successful panel create.
// The unique order_id index guarantees at most one instance per order.
type VPSInstance struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	OrderID         snowflake.ID   `gorm:"not null;uniqueIndex:ux_vps_instances_order"`
	CustomerID      snowflake.ID   `gorm:"not null"`
	PlanID          snowflake.ID   `gorm:"not null"`
	Hostname        string         `gorm:"type:text;not null"`
	OSTemplateID    string         `gorm:"type:text;not null"`
	IPAddress       *string        `gorm:"type:text"`
	PanelInstanceID string         `gorm:"type:text;not null"`
	Status          InstanceStatus `gorm:"type:text;not null;default:'running'"`
	Username        string         `gorm:"type:text;not null;default:'root'"`
	RootPassword    string         `gorm:"type:text;not null"`
	ExpiresAt       time.Time      `gorm:"not null"`
	LastRenewedAt   *time.Time     `gorm:""`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (VPSInstance) TableName() string { return "vps_instances" }

type Service interface {
	// Provision creates the panel VM for a paid order. The order is moved to
	// provisioning before the panel call; a panel failure parks it there with a
	// note rather than rolling back, so an operator can retry.
	Provision(ctx context.Context, orderID snowflake.ID) (VPSInstance, error)
	// Retry re-attempts a parked order (status provisioning, no instance yet).
	Retry(ctx context.Context, orderID snowflake.ID) (VPSInstance, error)
	// Renew extends the instance's expiry by one billing cycle, anchored at the
	// current expiry when that is still in the future.
	Renew(ctx context.Context, orderID snowflake.ID, cycle catalogdomain.BillingCycle) (VPSInstance, error)
	GetForOrder(ctx context.Context, orderID snowflake.ID) (VPSInstance, error)
	Suspend(ctx context.Context, orderID snowflake.ID) error
	Unsuspend(ctx context.Context, orderID snowflake.ID) error
}

var (
	ErrOrderNotPaid     = errors.New("order_not_paid")
	ErrInstanceExists   = errors.New("instance_already_exists")
	ErrInstanceNotFound = errors.New("instance_not_found")
	ErrPanelUnreachable = errors.New("panel_unreachable")
	ErrPanelAuthFailed  = errors.New("panel_auth_failed")
	ErrPanelRequest     = errors.New("panel_request_failed")
)
