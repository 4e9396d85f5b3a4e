// Package domain contains the gateway payment transaction model and the
// reconciliation contract.
package domain

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the normalized outcome of a gateway transaction.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusAborted Status = "aborted"
	// StatusInvalid covers unrecognized gateway statuses and amount mismatches.
	// Invalid transactions are recorded but never advance an invoice.
	StatusInvalid Status = "invalid"
)

// MapStatus normalizes the gateway's order_status field. Gateways are not
// consistent about casing.
func MapStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success":
		return StatusSuccess
	case "failure", "failed":
		return StatusFailure
	case "aborted":
		return StatusAborted
	default:
		return StatusInvalid
	}
}

// PaymentTransaction is one gateway callback, recorded verbatim. The unique
// tracking_id index is what makes reconciliation replay-safe.
type PaymentTransaction struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	OrderID        *snowflake.ID `gorm:"index"`
	InvoiceID      *snowflake.ID `gorm:""`
	TrackingID     string        `gorm:"type:text;not null;uniqueIndex:ux_payment_transactions_tracking"`
	GatewayOrderID string        `gorm:"type:text;not null"`
	Amount         int64         `gorm:"not null"`
	Currency       string        `gorm:"type:text;not null"`
	Status         Status        `gorm:"type:text;not null"`
	// GatewayStatus keeps the gateway's own wording for audits.
	GatewayStatus   string         `gorm:"type:text;not null"`
	ResponseCode    string         `gorm:"type:text;not null;default:''"`
	ResponseMessage string         `gorm:"type:text;not null;default:''"`
	BankRefNo       string         `gorm:"type:text;not null;default:''"`
	RawPayload      datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentTransaction) TableName() string { return "payment_transactions" }

// Callback is the decoded gateway response posted to our callback URL.
type Callback struct {
	GatewayOrderID string
	TrackingID     string
	OrderStatus    string
	// Amount is in paise, already parsed from the gateway's decimal string.
	Amount          int64
	Currency        string
	ResponseCode    string
	ResponseMessage string
	BankRefNo       string
	RawPayload      []byte
}

// PaymentRequest is everything the storefront needs to hand a pending invoice
// to the gateway's hosted page.
type PaymentRequest struct {
	GatewayOrderID string `json:"gateway_order_id"`
	MerchantID     string `json:"merchant_id"`
	Endpoint       string `json:"endpoint"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// ReconcileResult reports what a callback did to the referenced invoice.
type ReconcileResult struct {
	Transaction PaymentTransaction
	// Replayed is true when the tracking id had already been recorded and the
	// callback changed nothing.
	Replayed bool
	// InvoicePaid is true when this callback (not a replay) settled the invoice.
	InvoicePaid bool
}

type Service interface {
	// InitiatePayment stamps a pending invoice with a fresh gateway order id and
	// returns the hosted-page parameters.
	InitiatePayment(ctx context.Context, invoiceID snowflake.ID) (PaymentRequest, error)
	// Reconcile records the callback and, exactly once per tracking id, advances
	// the invoice and order (or credits the wallet for top-up invoices).
	Reconcile(ctx context.Context, cb Callback) (ReconcileResult, error)
	ListForOrder(ctx context.Context, orderID snowflake.ID) ([]PaymentTransaction, error)
}

var (
	ErrUnknownGatewayOrder = errors.New("unknown_gateway_order")
	ErrInvoiceNotPayable   = errors.New("invoice_not_payable")
	ErrMissingTrackingID   = errors.New("missing_tracking_id")
	ErrInvalidAmount       = errors.New("invalid_callback_amount")
)

// ParseAmount converts the gateway's decimal rupee string ("1234.56") into
// paise. Gateways send at most two fractional digits.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}

	whole, frac := raw, ""
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		whole, frac = raw[:i], raw[i+1:]
	}
	if len(frac) > 2 {
		return 0, ErrInvalidAmount
	}
	for len(frac) < 2 {
		frac += "0"
	}

	rupees, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || rupees < 0 {
		return 0, ErrInvalidAmount
	}
	paise, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return rupees*100 + paise, nil
}
