package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/vyomcloud/vyom/internal/audit/domain"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	"github.com/vyomcloud/vyom/internal/clock"
	obsmetrics "github.com/vyomcloud/vyom/internal/observability/metrics"
	orderdomain "github.com/vyomcloud/vyom/internal/order/domain"
	pricingdomain "github.com/vyomcloud/vyom/internal/pricing/domain"
	"github.com/vyomcloud/vyom/internal/sequence"
	"github.com/vyomcloud/vyom/internal/settings"
	walletdomain "github.com/vyomcloud/vyom/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const invoiceDueWindow = 7 * 24 * time.Hour

// hostnameLabel is an RFC 1123 label.
var hostnameLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	CatalogSvc  catalogdomain.Service
	PricingSvc  pricingdomain.Service
	WalletSvc   walletdomain.Service
	SettingsSvc *settings.Service
	SequenceSvc *sequence.Service
	AuditSvc    auditdomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	catalogSvc  catalogdomain.Service
	pricingSvc  pricingdomain.Service
	walletSvc   walletdomain.Service
	settingsSvc *settings.Service
	sequenceSvc *sequence.Service
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) orderdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("order.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		catalogSvc:  p.CatalogSvc,
		pricingSvc:  p.PricingSvc,
		walletSvc:   p.WalletSvc,
		settingsSvc: p.SettingsSvc,
		sequenceSvc: p.SequenceSvc,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

func validateHostname(hostname string) (string, error) {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if len(hostname) < 3 || len(hostname) > 253 {
		return "", orderdomain.ErrInvalidHostname
	}
	for _, label := range strings.Split(hostname, ".") {
		if !hostnameLabel.MatchString(label) {
			return "", orderdomain.ErrInvalidHostname
		}
	}
	return hostname, nil
}

// taxOf applies a basis-point rate, rounding half up.
func taxOf(amount, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}

func (s *Service) CreateOrder(ctx context.Context, req orderdomain.CreateOrderRequest) (orderdomain.CreateOrderResponse, error) {
	if req.CustomerID == 0 {
		return orderdomain.CreateOrderResponse{}, orderdomain.ErrInvalidOrder
	}
	if !req.Cycle.Valid() {
		return orderdomain.CreateOrderResponse{}, pricingdomain.ErrInvalidCycle
	}
	hostname, err := validateHostname(req.Hostname)
	if err != nil {
		return orderdomain.CreateOrderResponse{}, err
	}

	plan, err := s.catalogSvc.GetByID(ctx, req.PlanID)
	if err != nil {
		return orderdomain.CreateOrderResponse{}, err
	}
	if !plan.IsActive {
		return orderdomain.CreateOrderResponse{}, catalogdomain.ErrPlanNotFound
	}

	basePrice, err := s.pricingSvc.Quote(plan, req.Cycle)
	if err != nil {
		return orderdomain.CreateOrderResponse{}, err
	}

	// A bad coupon never blocks checkout: the order proceeds at full price
	// with a warning instead.
	finalPrice := basePrice
	var discount int64
	var coupon *pricingdomain.Coupon
	var warning string
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		found, err := s.pricingSvc.GetByCode(ctx, code)
		if err != nil {
			warning = couponWarning(err)
		} else {
			discounted, d, err := s.pricingSvc.ApplyCoupon(basePrice, found, s.clock.Now())
			if err != nil {
				warning = couponWarning(err)
			} else {
				finalPrice = discounted
				discount = d
				coupon = &found
			}
		}
	}

	taxBps, err := s.settingsSvc.TaxRateBps(ctx)
	if err != nil {
		return orderdomain.CreateOrderResponse{}, err
	}

	resp, err := s.createOrderTx(ctx, req, plan, hostname, finalPrice, taxBps, coupon)
	if err != nil && coupon != nil && isCouponError(err) {
		// The coupon raced to exhaustion between validation and redemption.
		// Retry once at full price rather than failing checkout.
		warning = couponWarning(err)
		discount = 0
		resp, err = s.createOrderTx(ctx, req, plan, hostname, basePrice, taxBps, nil)
	}
	if err != nil {
		return orderdomain.CreateOrderResponse{}, err
	}

	resp.DiscountAmount = discount
	resp.CouponWarning = warning

	if s.obsMetrics != nil {
		s.obsMetrics.RecordOrderCreated(string(req.Cycle))
	}
	customer := req.CustomerID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeCustomer, &customer, "order.created", "order", strPtr(resp.Order.ID.String()), map[string]any{
		"order_number": resp.Order.OrderNumber,
		"plan_code":    plan.Code,
		"cycle":        string(req.Cycle),
		"amount":       resp.Order.Amount,
		"discount":     discount,
	})
	return resp, nil
}

// createOrderTx persists the order, its invoice and the coupon redemption as
// one atomic unit. If any insert fails nothing survives.
func (s *Service) createOrderTx(
	ctx context.Context,
	req orderdomain.CreateOrderRequest,
	plan catalogdomain.Plan,
	hostname string,
	subtotal int64,
	taxBps int64,
	coupon *pricingdomain.Coupon,
) (orderdomain.CreateOrderResponse, error) {

	orderNumber, err := s.sequenceSvc.OrderNumber(ctx)
	if err != nil {
		return orderdomain.CreateOrderResponse{}, err
	}
	invoiceNumber, err := s.sequenceSvc.InvoiceNumber(ctx)
	if err != nil {
		return orderdomain.CreateOrderResponse{}, err
	}

	now := s.clock.Now()
	tax := taxOf(subtotal, taxBps)

	order := orderdomain.Order{
		ID:           s.genID.Generate(),
		OrderNumber:  orderNumber,
		CustomerID:   req.CustomerID,
		PlanID:       plan.ID,
		BillingCycle: req.Cycle,
		Amount:       subtotal,
		Hostname:     hostname,
		OSTemplateID: strings.TrimSpace(req.OSTemplateID),
		Status:       orderdomain.OrderPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	orderID := order.ID
	invoice := orderdomain.Invoice{
		ID:             s.genID.Generate(),
		InvoiceNumber:  invoiceNumber,
		OrderID:        &orderID,
		CustomerID:     req.CustomerID,
		Purpose:        orderdomain.PurposeOrder,
		SubtotalAmount: subtotal,
		TaxAmount:      tax,
		TotalAmount:    subtotal + tax,
		Status:         orderdomain.InvoicePending,
		DueAt:          now.Add(invoiceDueWindow),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(&order).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
			return err
		}
		if coupon != nil {
			if err := s.pricingSvc.Redeem(ctx, tx, coupon.ID, order.ID, req.CustomerID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return orderdomain.CreateOrderResponse{}, err
	}

	return orderdomain.CreateOrderResponse{Order: order, Invoice: invoice}, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (orderdomain.Order, error) {
	var order orderdomain.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orderdomain.Order{}, orderdomain.ErrOrderNotFound
	}
	if err != nil {
		return orderdomain.Order{}, err
	}
	return order, nil
}

func (s *Service) GetInvoiceForOrder(ctx context.Context, orderID snowflake.ID) (orderdomain.Invoice, error) {
	var invoice orderdomain.Invoice
	err := s.db.WithContext(ctx).First(&invoice, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orderdomain.Invoice{}, orderdomain.ErrInvoiceNotFound
	}
	if err != nil {
		return orderdomain.Invoice{}, err
	}
	return invoice, nil
}

func (s *Service) Transition(ctx context.Context, orderID snowflake.ID, to orderdomain.OrderStatus, actor orderdomain.Actor) error {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !orderdomain.CanTransition(order.Status, to) {
		return orderdomain.ErrInvalidTransition
	}

	res := s.db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		s.clock.Now(),
		orderID,
		order.Status,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return orderdomain.ErrTransitionConflict
	}

	_ = s.auditSvc.AuditLog(ctx, actor.Type, actorID(actor), "order.transitioned", "order", strPtr(orderID.String()), map[string]any{
		"from": string(order.Status),
		"to":   string(to),
	})
	return nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID snowflake.ID, actor orderdomain.Actor) error {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != orderdomain.OrderPending {
		return orderdomain.ErrInvalidTransition
	}
	if actor.Type == auditdomain.ActorTypeCustomer &&
		s.clock.Now().After(order.CreatedAt.Add(orderdomain.AbandonGraceWindow)) {
		return orderdomain.ErrAbandonWindow
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).Exec(
			`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			orderdomain.OrderCancelled,
			now,
			orderID,
			orderdomain.OrderPending,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return orderdomain.ErrTransitionConflict
		}
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices SET status = ?, updated_at = ? WHERE order_id = ? AND status = ?`,
			orderdomain.InvoiceCancelled,
			now,
			orderID,
			orderdomain.InvoicePending,
		).Error; err != nil {
			return err
		}
		_ = s.auditSvc.AuditLog(ctx, actor.Type, actorID(actor), "order.cancelled", "order", strPtr(orderID.String()), nil)
		return nil
	})
}

func (s *Service) PayFromWallet(ctx context.Context, orderID snowflake.ID) (orderdomain.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return orderdomain.Order{}, err
	}
	if order.Status == orderdomain.OrderPaid {
		return orderdomain.Order{}, orderdomain.ErrOrderAlreadyPaid
	}
	if order.Status != orderdomain.OrderPending {
		return orderdomain.Order{}, orderdomain.ErrInvalidTransition
	}

	invoice, err := s.GetInvoiceForOrder(ctx, orderID)
	if err != nil {
		return orderdomain.Order{}, err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		refID := orderID
		if _, err := s.walletSvc.Debit(ctx, tx, order.CustomerID, invoice.TotalAmount, walletdomain.SourceOrderPayment, &refID); err != nil {
			return err
		}

		res := tx.WithContext(ctx).Exec(
			`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			orderdomain.OrderPaid,
			now,
			orderID,
			orderdomain.OrderPending,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return orderdomain.ErrTransitionConflict
		}

		return tx.WithContext(ctx).Exec(
			`UPDATE invoices SET status = ?, paid_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			orderdomain.InvoicePaid,
			now,
			now,
			invoice.ID,
			orderdomain.InvoicePending,
		).Error
	})
	if err != nil {
		return orderdomain.Order{}, err
	}

	customer := order.CustomerID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeCustomer, &customer, "order.paid_from_wallet", "order", strPtr(orderID.String()), map[string]any{
		"amount": invoice.TotalAmount,
	})

	order.Status = orderdomain.OrderPaid
	order.UpdatedAt = now
	return order, nil
}

func (s *Service) CreateTopupInvoice(ctx context.Context, customerID snowflake.ID, amount int64) (orderdomain.Invoice, error) {
	if customerID == 0 || amount <= 0 {
		return orderdomain.Invoice{}, orderdomain.ErrInvalidOrder
	}

	invoiceNumber, err := s.sequenceSvc.InvoiceNumber(ctx)
	if err != nil {
		return orderdomain.Invoice{}, err
	}

	now := s.clock.Now()
	invoice := orderdomain.Invoice{
		ID:             s.genID.Generate(),
		InvoiceNumber:  invoiceNumber,
		CustomerID:     customerID,
		Purpose:        orderdomain.PurposeWalletTopup,
		SubtotalAmount: amount,
		TaxAmount:      0,
		TotalAmount:    amount,
		Status:         orderdomain.InvoicePending,
		DueAt:          now.Add(invoiceDueWindow),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&invoice).Error; err != nil {
		return orderdomain.Invoice{}, err
	}
	return invoice, nil
}

func (s *Service) AppendNote(ctx context.Context, orderID snowflake.ID, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}

	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	line := fmt.Sprintf("[%s] %s", now.Format(time.RFC3339), note)
	notes := order.Notes
	if notes != "" {
		notes += "\n"
	}
	notes += line

	return s.db.WithContext(ctx).Exec(
		`UPDATE orders SET notes = ?, updated_at = ? WHERE id = ?`,
		notes,
		now,
		orderID,
	).Error
}

func couponWarning(err error) string {
	switch {
	case errors.Is(err, pricingdomain.ErrCouponNotFound), errors.Is(err, pricingdomain.ErrInvalidCoupon):
		return "coupon code is not valid"
	case errors.Is(err, pricingdomain.ErrCouponInactive):
		return "coupon is no longer active"
	case errors.Is(err, pricingdomain.ErrCouponExpired):
		return "coupon is outside its validity window"
	case errors.Is(err, pricingdomain.ErrCouponExhausted):
		return "coupon usage limit has been reached"
	case errors.Is(err, pricingdomain.ErrCouponMinOrder):
		return "order amount is below the coupon minimum"
	case errors.Is(err, pricingdomain.ErrCouponPerUserLimit):
		return "coupon already used the maximum number of times"
	default:
		return "coupon could not be applied"
	}
}

func isCouponError(err error) bool {
	return errors.Is(err, pricingdomain.ErrCouponExhausted) ||
		errors.Is(err, pricingdomain.ErrCouponPerUserLimit) ||
		errors.Is(err, pricingdomain.ErrCouponRedeemed) ||
		errors.Is(err, pricingdomain.ErrCouponNotFound)
}

func actorID(actor orderdomain.Actor) *string {
	if actor.ID == "" {
		return nil
	}
	id := actor.ID
	return &id
}

func strPtr(s string) *string { return &s }
