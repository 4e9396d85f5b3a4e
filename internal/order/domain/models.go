// Package domain contains the Order and Invoice entities and their state
// machines.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
)

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderPending      OrderStatus = "pending"
	OrderPaid         OrderStatus = "paid"
	OrderProvisioning OrderStatus = "provisioning"
	OrderActive       OrderStatus = "active"
	OrderSuspended    OrderStatus = "suspended"
	OrderCancelled    OrderStatus = "cancelled"
	OrderExpired      OrderStatus = "expired"
)

// orderTransitions is the only legal path through the order state machine.
// Nothing skips paid on the way to provisioning/active.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:      {OrderPaid, OrderCancelled},
	OrderPaid:         {OrderProvisioning},
	OrderProvisioning: {OrderActive, OrderCancelled},
	OrderActive:       {OrderSuspended, OrderCancelled, OrderExpired},
	OrderSuspended:    {OrderActive, OrderCancelled, OrderExpired},
}

// CanTransition reports whether from → to is a legal order transition.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvoiceStatus is the invoice lifecycle state.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
	InvoiceRefunded  InvoiceStatus = "refunded"
)

// InvoicePurpose distinguishes order invoices from orderless wallet top-ups.
type InvoicePurpose string

const (
	PurposeOrder       InvoicePurpose = "order"
	PurposeWalletTopup InvoicePurpose = "wallet_topup"
)

// Order is a customer's request to acquire or renew a plan. Orders are never
// physically deleted; cancellation is a status.
type Order struct {
	ID                snowflake.ID               `gorm:"primaryKey"`
	OrderNumber       string                     `gorm:"type:text;not null;uniqueIndex:ux_orders_number"`
	CustomerID        snowflake.ID               `gorm:"not null;index"`
	PlanID            snowflake.ID               `gorm:"not null;index"`
	BillingCycle      catalogdomain.BillingCycle `gorm:"type:text;not null"`
	Amount            int64                      `gorm:"not null"`
	Hostname          string                     `gorm:"type:text;not null"`
	OSTemplateID      string                     `gorm:"type:text;not null;default:''"`
	Status            OrderStatus                `gorm:"type:text;not null;default:'pending'"`
	Notes             string                     `gorm:"type:text;not null;default:''"`
	GatewayOrderID    *string                    `gorm:"type:text;index"`
	GatewayTrackingID *string                    `gorm:"type:text"`
	CreatedAt         time.Time                  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time                  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// Invoice is the billable record derived from an order. OrderID is nil for
// wallet top-up invoices.
type Invoice struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	InvoiceNumber  string         `gorm:"type:text;not null;uniqueIndex:ux_invoices_number"`
	OrderID        *snowflake.ID  `gorm:"index"`
	CustomerID     snowflake.ID   `gorm:"not null;index"`
	Purpose        InvoicePurpose `gorm:"type:text;not null;default:'order'"`
	SubtotalAmount int64          `gorm:"not null"`
	TaxAmount      int64          `gorm:"not null"`
	TotalAmount    int64          `gorm:"not null"`
	Status         InvoiceStatus  `gorm:"type:text;not null;default:'pending'"`
	DueAt          time.Time      `gorm:"not null"`
	PaidAt         *time.Time     `gorm:""`
	GatewayOrderID *string        `gorm:"type:text"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

type CreateOrderRequest struct {
	CustomerID   snowflake.ID               `json:"customer_id"`
	PlanID       snowflake.ID               `json:"plan_id"`
	Cycle        catalogdomain.BillingCycle `json:"billing_cycle"`
	Hostname     string                     `json:"hostname"`
	OSTemplateID string                     `json:"os_template_id"`
	CouponCode   string                     `json:"coupon_code"`
}

type CreateOrderResponse struct {
	Order          Order   `json:"order"`
	Invoice        Invoice `json:"invoice"`
	DiscountAmount int64   `json:"discount_amount"`
	// CouponWarning is set when a coupon was supplied but could not be applied;
	// checkout proceeds at full price by policy.
	CouponWarning string `json:"coupon_warning,omitempty"`
}

type Actor struct {
	Type string
	ID   string
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (Order, error)
	GetInvoiceForOrder(ctx context.Context, orderID snowflake.ID) (Invoice, error)
	// Transition moves the order along the state machine with an optimistic
	// predicate on the current status.
	Transition(ctx context.Context, orderID snowflake.ID, to OrderStatus, actor Actor) error
	// CancelOrder is the customer abandon path, limited to pending orders
	// inside the grace window.
	CancelOrder(ctx context.Context, orderID snowflake.ID, actor Actor) error
	// PayFromWallet settles the order's invoice from the customer's wallet.
	PayFromWallet(ctx context.Context, orderID snowflake.ID) (Order, error)
	// CreateTopupInvoice creates an orderless invoice used to add wallet funds
	// through the gateway.
	CreateTopupInvoice(ctx context.Context, customerID snowflake.ID, amount int64) (Invoice, error)
	// AppendNote appends a timestamped line to the order's notes.
	AppendNote(ctx context.Context, orderID snowflake.ID, note string) error
}

// AbandonGraceWindow is how long a customer may abandon their own pending order.
const AbandonGraceWindow = 72 * time.Hour

var (
	ErrOrderNotFound      = errors.New("order_not_found")
	ErrInvoiceNotFound    = errors.New("invoice_not_found")
	ErrInvalidHostname    = errors.New("invalid_hostname")
	ErrInvalidOrder       = errors.New("invalid_order")
	ErrInvalidTransition  = errors.New("invalid_order_transition")
	ErrTransitionConflict = errors.New("order_transition_conflict")
	ErrOrderAlreadyPaid   = errors.New("order_already_paid")
	ErrAbandonWindow      = errors.New("abandon_window_closed")
)
