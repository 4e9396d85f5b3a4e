package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auditdomain "github.com/vyomcloud/vyom/internal/audit/domain"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	catalogservice "github.com/vyomcloud/vyom/internal/catalog/service"
	"github.com/vyomcloud/vyom/internal/clock"
	orderdomain "github.com/vyomcloud/vyom/internal/order/domain"
	pricingdomain "github.com/vyomcloud/vyom/internal/pricing/domain"
	pricingservice "github.com/vyomcloud/vyom/internal/pricing/service"
	"github.com/vyomcloud/vyom/internal/sequence"
	"github.com/vyomcloud/vyom/internal/settings"
	walletdomain "github.com/vyomcloud/vyom/internal/wallet/domain"
	walletservice "github.com/vyomcloud/vyom/internal/wallet/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dbSeq int64

type noopAudit struct{}

func (noopAudit) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clk      *clock.FakeClock
	orderSvc orderdomain.Service
	wallet   walletdomain.Service
	pricing  pricingdomain.Service
	catalog  catalogdomain.Service
	plan     catalogdomain.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:order%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&catalogdomain.Plan{},
		&pricingdomain.Coupon{},
		&pricingdomain.CouponRedemption{},
		&walletdomain.Wallet{},
		&walletdomain.WalletTransaction{},
		&orderdomain.Order{},
		&orderdomain.Invoice{},
	))
	require.NoError(t, gdb.Exec(`CREATE TABLE sequence_counters (name TEXT PRIMARY KEY, value BIGINT NOT NULL DEFAULT 0)`).Error)
	require.NoError(t, gdb.Exec(`CREATE TABLE admin_settings (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TIMESTAMP NOT NULL)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))

	catalogSvc := catalogservice.NewService(catalogservice.Params{DB: gdb, Log: log, GenID: node, Clock: clk})
	pricingSvc := pricingservice.NewService(pricingservice.Params{DB: gdb, Log: log, GenID: node, Clock: clk})
	walletSvc := walletservice.NewService(walletservice.Params{DB: gdb, Log: log, GenID: node, Clock: clk, AuditSvc: noopAudit{}})
	settingsSvc := settings.NewService(settings.Params{DB: gdb, Log: log, Clock: clk})
	sequenceSvc := sequence.NewService(sequence.Params{DB: gdb, Log: log, Clock: clk})

	orderSvc := NewService(Params{
		DB:          gdb,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		CatalogSvc:  catalogSvc,
		PricingSvc:  pricingSvc,
		WalletSvc:   walletSvc,
		SettingsSvc: settingsSvc,
		SequenceSvc: sequenceSvc,
		AuditSvc:    noopAudit{},
	})

	plan, err := catalogSvc.Create(context.Background(), catalogdomain.CreatePlanRequest{
		Code:         "vps-s",
		Name:         "VPS Small",
		CPUCores:     1,
		RAMMB:        1024,
		StorageGB:    20,
		BandwidthGB:  1000,
		MonthlyPrice: 29900,
	})
	require.NoError(t, err)

	return &fixture{
		db:       gdb,
		node:     node,
		clk:      clk,
		orderSvc: orderSvc,
		wallet:   walletSvc,
		pricing:  pricingSvc,
		catalog:  catalogSvc,
		plan:     plan,
	}
}

func TestCreateOrderYearlyWithCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pricing.Create(ctx, pricingdomain.CreateCouponRequest{
		Code:          "SAVE10",
		DiscountType:  pricingdomain.DiscountPercentage,
		DiscountValue: 10,
		StartsAt:      f.clk.Now().Add(-time.Hour),
		ExpiresAt:     f.clk.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	resp, err := f.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		CustomerID: f.node.Generate(),
		PlanID:     f.plan.ID,
		Cycle:      catalogdomain.CycleYearly,
		Hostname:   "web-01.example.com",
		CouponCode: "save10",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.CouponWarning)

	// yearly 304980 minus 10%: ₹2744.82
	assert.Equal(t, int64(30498), resp.DiscountAmount)
	assert.Equal(t, int64(274482), resp.Order.Amount)
	assert.Equal(t, orderdomain.OrderPending, resp.Order.Status)
	assert.Equal(t, "ORD-202606-000001", resp.Order.OrderNumber)

	// default 18% tax in basis points, rounded half up
	assert.Equal(t, int64(274482), resp.Invoice.SubtotalAmount)
	assert.Equal(t, int64(49407), resp.Invoice.TaxAmount)
	assert.Equal(t, int64(323889), resp.Invoice.TotalAmount)
	assert.Equal(t, resp.Invoice.SubtotalAmount+resp.Invoice.TaxAmount, resp.Invoice.TotalAmount)
	assert.Equal(t, "INV-202606-000001", resp.Invoice.InvoiceNumber)
	assert.Equal(t, f.clk.Now().Add(7*24*time.Hour), resp.Invoice.DueAt)

	var redemptions int64
	require.NoError(t, f.db.Model(&pricingdomain.CouponRedemption{}).Count(&redemptions).Error)
	assert.Equal(t, int64(1), redemptions)
}

func TestCreateOrderBadCouponNeverBlocksCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		CustomerID: f.node.Generate(),
		PlanID:     f.plan.ID,
		Cycle:      catalogdomain.CycleMonthly,
		Hostname:   "web-02",
		CouponCode: "NO-SUCH-CODE",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.CouponWarning)
	assert.Equal(t, int64(0), resp.DiscountAmount)
	assert.Equal(t, int64(29900), resp.Order.Amount)
}

func TestCreateOrderCouponRaceFallsBackToFullPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	coupon, err := f.pricing.Create(ctx, pricingdomain.CreateCouponRequest{
		Code:          "ONE-PER-USER",
		DiscountType:  pricingdomain.DiscountFixed,
		DiscountValue: 5000,
		PerUserLimit:  1,
		StartsAt:      f.clk.Now().Add(-time.Hour),
		ExpiresAt:     f.clk.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	customer := f.node.Generate()
	// the customer already burned their one redemption
	require.NoError(t, f.pricing.Redeem(ctx, nil, coupon.ID, f.node.Generate(), customer))

	// validation passes (the per-user check lives in Redeem), so the order
	// creation retries without the coupon
	resp, err := f.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		CustomerID: customer,
		PlanID:     f.plan.ID,
		Cycle:      catalogdomain.CycleMonthly,
		Hostname:   "web-03",
		CouponCode: "ONE-PER-USER",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.CouponWarning)
	assert.Equal(t, int64(0), resp.DiscountAmount)
	assert.Equal(t, int64(29900), resp.Order.Amount)

	// only the pre-existing redemption remains
	var redemptions int64
	require.NoError(t, f.db.Model(&pricingdomain.CouponRedemption{}).Count(&redemptions).Error)
	assert.Equal(t, int64(1), redemptions)
}

func TestCreateOrderValidatesHostname(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, hostname := range []string{"", "ab", "-bad.example.com", "under_score", "spaced host"} {
		_, err := f.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
			CustomerID: f.node.Generate(),
			PlanID:     f.plan.ID,
			Cycle:      catalogdomain.CycleMonthly,
			Hostname:   hostname,
		})
		assert.ErrorIs(t, err, orderdomain.ErrInvalidHostname, "hostname %q", hostname)
	}

	resp, err := f.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		CustomerID: f.node.Generate(),
		PlanID:     f.plan.ID,
		Cycle:      catalogdomain.CycleMonthly,
		Hostname:   "  WEB-01.Example.COM  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "web-01.example.com", resp.Order.Hostname)
}

func TestTransitionEnforcesStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := orderdomain.Actor{Type: auditdomain.ActorTypeAdmin}

	resp, err := f.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		CustomerID: f.node.Generate(),
		PlanID:     f.plan.ID,
		Cycle:      catalogdomain.CycleMonthly,
		Hostname:   "web-04",
	})
	require.NoError(t, err)
	orderID := resp.Order.ID

	// nothing skips paid
	err = f.orderSvc.Transition(ctx, orderID, orderdomain.OrderProvisioning, admin)
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
	err = f.orderSvc.Transition(ctx, orderID, orderdomain.OrderActive, admin)
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)

	require.NoError(t, f.orderSvc.Transition(ctx, orderID, orderdomain.OrderPaid, admin))
	require.NoError(t, f.orderSvc.Transition(ctx, orderID, orderdomain.OrderProvisioning, admin))
	require.NoError(t, f.orderSvc.Transition(ctx, orderID, orderdomain.OrderActive, admin))

	// terminal states accept nothing
	require.NoError(t, f.orderSvc.Transition(ctx, orderID, orderdomain.OrderCancelled, admin))
	err = f.orderSvc.Transition(ctx, orderID, orderdomain.OrderActive, admin)
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
}

func TestCancelOrderGraceWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerActor := orderdomain.Actor{Type: auditdomain.ActorTypeCustomer, ID: "cust"}

	resp, err := f.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		CustomerID: f.node.Generate(),
		PlanID:     f.plan.ID,
		Cycle:      catalogdomain.CycleMonthly,
		Hostname:   "web-05",
	})
	require.NoError(t, err)

	f.clk.Advance(orderdomain.AbandonGraceWindow + time.Hour)
	err = f.orderSvc.CancelOrder(ctx, resp.Order.ID, customerActor)
	assert.ErrorIs(t, err, orderdomain.ErrAbandonWindow)

	// operators are not bound by the window
	admin := orderdomain.Actor{Type: auditdomain.ActorTypeAdmin}
	require.NoError(t, f.orderSvc.CancelOrder(ctx, resp.Order.ID, admin))

	order, err := f.orderSvc.GetByID(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderCancelled, order.Status)

	invoice, err := f.orderSvc.GetInvoiceForOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.InvoiceCancelled, invoice.Status)
}

func TestCancelWithinGraceWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerActor := orderdomain.Actor{Type: auditdomain.ActorTypeCustomer, ID: "cust"}

	resp, err := f.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		CustomerID: f.node.Generate(),
		PlanID:     f.plan.ID,
		Cycle:      catalogdomain.CycleMonthly,
		Hostname:   "web-06",
	})
	require.NoError(t, err)

	f.clk.Advance(24 * time.Hour)
	require.NoError(t, f.orderSvc.CancelOrder(ctx, resp.Order.ID, customerActor))
}

func TestPayFromWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.node.Generate()

	resp, err := f.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		CustomerID: customer,
		PlanID:     f.plan.ID,
		Cycle:      catalogdomain.CycleMonthly,
		Hostname:   "web-07",
	})
	require.NoError(t, err)
	total := resp.Invoice.TotalAmount

	// not enough funds
	_, err = f.wallet.Credit(ctx, nil, customer, total-1, walletdomain.SourceGatewayTopup, nil)
	require.NoError(t, err)
	_, err = f.orderSvc.PayFromWallet(ctx, resp.Order.ID)
	assert.ErrorIs(t, err, walletdomain.ErrInsufficientBalance)

	order, err := f.orderSvc.GetByID(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderPending, order.Status)

	// top up the missing paisa and pay
	_, err = f.wallet.Credit(ctx, nil, customer, 1, walletdomain.SourceGatewayTopup, nil)
	require.NoError(t, err)

	paid, err := f.orderSvc.PayFromWallet(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderPaid, paid.Status)

	balance, err := f.wallet.Balance(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	invoice, err := f.orderSvc.GetInvoiceForOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.InvoicePaid, invoice.Status)
	require.NotNil(t, invoice.PaidAt)

	// paying again is rejected
	_, err = f.orderSvc.PayFromWallet(ctx, resp.Order.ID)
	assert.ErrorIs(t, err, orderdomain.ErrOrderAlreadyPaid)
}

func TestCreateTopupInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invoice, err := f.orderSvc.CreateTopupInvoice(ctx, f.node.Generate(), 100000)
	require.NoError(t, err)
	assert.Nil(t, invoice.OrderID)
	assert.Equal(t, orderdomain.PurposeWalletTopup, invoice.Purpose)
	assert.Equal(t, int64(0), invoice.TaxAmount)
	assert.Equal(t, int64(100000), invoice.TotalAmount)

	_, err = f.orderSvc.CreateTopupInvoice(ctx, f.node.Generate(), 0)
	assert.ErrorIs(t, err, orderdomain.ErrInvalidOrder)
}

func TestAppendNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		CustomerID: f.node.Generate(),
		PlanID:     f.plan.ID,
		Cycle:      catalogdomain.CycleMonthly,
		Hostname:   "web-08",
	})
	require.NoError(t, err)

	require.NoError(t, f.orderSvc.AppendNote(ctx, resp.Order.ID, "first"))
	require.NoError(t, f.orderSvc.AppendNote(ctx, resp.Order.ID, "second"))

	order, err := f.orderSvc.GetByID(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Contains(t, order.Notes, "first")
	assert.Contains(t, order.Notes, "second")
	assert.Contains(t, order.Notes, "\n")
}
