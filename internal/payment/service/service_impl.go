package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	auditdomain "github.com/vyomcloud/vyom/internal/audit/domain"
	"github.com/vyomcloud/vyom/internal/clock"
	obsmetrics "github.com/vyomcloud/vyom/internal/observability/metrics"
	orderdomain "github.com/vyomcloud/vyom/internal/order/domain"
	paymentdomain "github.com/vyomcloud/vyom/internal/payment/domain"
	"github.com/vyomcloud/vyom/internal/settings"
	walletdomain "github.com/vyomcloud/vyom/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	SettingsSvc *settings.Service
	WalletSvc   walletdomain.Service
	AuditSvc    auditdomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	settingsSvc *settings.Service
	walletSvc   walletdomain.Service
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		settingsSvc: p.SettingsSvc,
		walletSvc:   p.WalletSvc,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) InitiatePayment(ctx context.Context, invoiceID snowflake.ID) (paymentdomain.PaymentRequest, error) {
	var invoice orderdomain.Invoice
	err := s.db.WithContext(ctx).First(&invoice, "id = ?", invoiceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return paymentdomain.PaymentRequest{}, orderdomain.ErrInvoiceNotFound
	}
	if err != nil {
		return paymentdomain.PaymentRequest{}, err
	}
	if invoice.Status != orderdomain.InvoicePending {
		return paymentdomain.PaymentRequest{}, paymentdomain.ErrInvoiceNotPayable
	}

	gwCfg, err := s.settingsSvc.GatewayConfig(ctx)
	if err != nil {
		return paymentdomain.PaymentRequest{}, err
	}

	gatewayOrderID := uuid.NewString()
	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices SET gateway_order_id = ?, updated_at = ? WHERE id = ?`,
			gatewayOrderID,
			now,
			invoice.ID,
		).Error; err != nil {
			return err
		}
		if invoice.OrderID != nil {
			return tx.WithContext(ctx).Exec(
				`UPDATE orders SET gateway_order_id = ?, updated_at = ? WHERE id = ?`,
				gatewayOrderID,
				now,
				*invoice.OrderID,
			).Error
		}
		return nil
	})
	if err != nil {
		return paymentdomain.PaymentRequest{}, err
	}

	return paymentdomain.PaymentRequest{
		GatewayOrderID: gatewayOrderID,
		MerchantID:     gwCfg.MerchantID,
		Endpoint:       gwCfg.Endpoint,
		Amount:         invoice.TotalAmount,
		Currency:       "INR",
	}, nil
}

// Reconcile is the single write path for gateway callbacks. The transaction
// insert is gated on the unique tracking id and every invoice/order update is
// gated on its current status, so replaying the same callback is a no-op.
func (s *Service) Reconcile(ctx context.Context, cb paymentdomain.Callback) (paymentdomain.ReconcileResult, error) {
	trackingID := strings.TrimSpace(cb.TrackingID)
	if trackingID == "" {
		return paymentdomain.ReconcileResult{}, paymentdomain.ErrMissingTrackingID
	}

	status := paymentdomain.MapStatus(cb.OrderStatus)
	currency := strings.TrimSpace(cb.Currency)
	if currency == "" {
		currency = "INR"
	}
	raw := cb.RawPayload
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	entry := paymentdomain.PaymentTransaction{
		ID:              s.genID.Generate(),
		TrackingID:      trackingID,
		GatewayOrderID:  strings.TrimSpace(cb.GatewayOrderID),
		Amount:          cb.Amount,
		Currency:        currency,
		Status:          status,
		GatewayStatus:   strings.TrimSpace(cb.OrderStatus),
		ResponseCode:    cb.ResponseCode,
		ResponseMessage: cb.ResponseMessage,
		BankRefNo:       cb.BankRefNo,
		RawPayload:      datatypes.JSON(raw),
		CreatedAt:       s.clock.Now(),
	}

	var invoice orderdomain.Invoice
	err := s.db.WithContext(ctx).First(&invoice, "gateway_order_id = ?", entry.GatewayOrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No invoice claims this callback. Record it anyway, with nil
		// associations, so disputes can be resolved from the raw payload.
		if _, err := s.insertTransaction(ctx, s.db.WithContext(ctx), entry); err != nil {
			return paymentdomain.ReconcileResult{}, err
		}
		s.log.Warn("callback for unknown gateway order recorded",
			zap.String("tracking_id", trackingID),
			zap.String("gateway_order_id", entry.GatewayOrderID))
		return paymentdomain.ReconcileResult{}, paymentdomain.ErrUnknownGatewayOrder
	}
	if err != nil {
		return paymentdomain.ReconcileResult{}, err
	}

	if status == paymentdomain.StatusSuccess && cb.Amount != invoice.TotalAmount {
		// A successful callback for the wrong amount is recorded but never
		// settles the invoice.
		s.log.Warn("callback amount does not match invoice",
			zap.String("tracking_id", trackingID),
			zap.Int64("callback_amount", cb.Amount),
			zap.Int64("invoice_amount", invoice.TotalAmount))
		status = paymentdomain.StatusInvalid
		entry.Status = status
	}
	entry.OrderID = invoice.OrderID
	entry.InvoiceID = &invoice.ID

	result := paymentdomain.ReconcileResult{Transaction: entry}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.insertTransaction(ctx, tx, entry)
		if err != nil {
			return err
		}
		if inserted == 0 {
			var existing paymentdomain.PaymentTransaction
			if err := tx.WithContext(ctx).First(&existing, "tracking_id = ?", trackingID).Error; err != nil {
				return err
			}
			result.Transaction = existing
			result.Replayed = true
			return nil
		}

		if status != paymentdomain.StatusSuccess {
			return nil
		}
		return s.settle(ctx, tx, invoice, trackingID, &result)
	})
	if err != nil {
		return paymentdomain.ReconcileResult{}, err
	}

	if s.obsMetrics != nil && !result.Replayed {
		s.obsMetrics.RecordPaymentReconciled(string(result.Transaction.Status))
	}
	if result.InvoicePaid {
		invoiceID := invoice.ID.String()
		_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeSystem, nil, "payment.reconciled", "invoice", &invoiceID, map[string]any{
			"invoice_number": invoice.InvoiceNumber,
			"tracking_id":    trackingID,
			"amount":         cb.Amount,
		})
	}
	return result, nil
}

// insertTransaction writes a callback record gated on the unique tracking id.
// A zero row count means the tracking id was seen before.
func (s *Service) insertTransaction(ctx context.Context, tx *gorm.DB, entry paymentdomain.PaymentTransaction) (int64, error) {
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions
		 (id, order_id, invoice_id, tracking_id, gateway_order_id, amount, currency,
		  status, gateway_status, response_code, response_message, bank_ref_no, raw_payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tracking_id) DO NOTHING`,
		entry.ID, entry.OrderID, entry.InvoiceID, entry.TrackingID, entry.GatewayOrderID,
		entry.Amount, entry.Currency, entry.Status, entry.GatewayStatus,
		entry.ResponseCode, entry.ResponseMessage, entry.BankRefNo, entry.RawPayload, entry.CreatedAt,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// settle advances the invoice (and its order, or the wallet for top-ups) after
// a successful, amount-matched callback.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, invoice orderdomain.Invoice, trackingID string, result *paymentdomain.ReconcileResult) error {
	now := s.clock.Now()
	res := tx.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, paid_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		orderdomain.InvoicePaid,
		now,
		now,
		invoice.ID,
		orderdomain.InvoicePending,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// already settled through another path (wallet payment, earlier callback)
		return nil
	}
	result.InvoicePaid = true

	switch invoice.Purpose {
	case orderdomain.PurposeWalletTopup:
		refID := invoice.ID
		_, err := s.walletSvc.Credit(ctx, tx, invoice.CustomerID, invoice.TotalAmount, walletdomain.SourceGatewayTopup, &refID)
		return err
	case orderdomain.PurposeOrder:
		if invoice.OrderID == nil {
			return nil
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE orders SET status = ?, gateway_tracking_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
			orderdomain.OrderPaid,
			trackingID,
			now,
			*invoice.OrderID,
			orderdomain.OrderPending,
		).Error
	default:
		return nil
	}
}

func (s *Service) ListForOrder(ctx context.Context, orderID snowflake.ID) ([]paymentdomain.PaymentTransaction, error) {
	var entries []paymentdomain.PaymentTransaction
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
