package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/vyomcloud/vyom/internal/audit/domain"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	orderdomain "github.com/vyomcloud/vyom/internal/order/domain"
	pricingdomain "github.com/vyomcloud/vyom/internal/pricing/domain"
	walletdomain "github.com/vyomcloud/vyom/internal/wallet/domain"
)

func (s *Server) CreateCoupon(c *gin.Context) {
	var req pricingdomain.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	coupon, err := s.pricingSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": coupon})
}

func (s *Server) DeactivateCoupon(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.pricingSvc.Deactivate(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"is_active": false}})
}

type issueGiftCardRequest struct {
	Amount    int64      `json:"amount"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (s *Server) IssueGiftCard(c *gin.Context) {
	var req issueGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	card, err := s.walletSvc.IssueGiftCard(c.Request.Context(), req.Amount, req.ExpiresAt)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": card})
}

type adjustWalletRequest struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// AdjustWallet is the operator correction path; every adjustment is a normal
// ledger entry with source admin_adjustment.
func (s *Server) AdjustWallet(c *gin.Context) {
	customerID, err := parseID(c.Param("customerId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req adjustWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var entry walletdomain.WalletTransaction
	switch walletdomain.TransactionType(strings.TrimSpace(req.Type)) {
	case walletdomain.TransactionCredit:
		entry, err = s.walletSvc.Credit(c.Request.Context(), nil, customerID, req.Amount, walletdomain.SourceAdminAdjustment, nil)
	case walletdomain.TransactionDebit:
		entry, err = s.walletSvc.Debit(c.Request.Context(), nil, customerID, req.Amount, walletdomain.SourceAdminAdjustment, nil)
	default:
		err = ErrInvalidRequest
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := entry.ID.String()
	_ = s.auditSvc.AuditLog(c.Request.Context(), auditdomain.ActorTypeAdmin, nil, "wallet.adjusted", "wallet_transaction", &targetID, map[string]any{
		"customer_id": customerID.String(),
		"type":        req.Type,
		"amount":      req.Amount,
		"reason":      req.Reason,
	})
	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) ReplayWallet(c *gin.Context) {
	walletID, err := parseID(c.Param("walletId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.walletSvc.Replay(c.Request.Context(), walletID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"consistent": true}})
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (s *Server) TransitionOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	actor := orderdomain.Actor{Type: auditdomain.ActorTypeAdmin}
	to := orderdomain.OrderStatus(strings.TrimSpace(req.Status))
	if err := s.orderSvc.Transition(c.Request.Context(), id, to, actor); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": to}})
}

func (s *Server) ProvisionOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	instance, err := s.provisionSvc.Provision(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": instance})
}

func (s *Server) RetryProvisioning(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	instance, err := s.provisionSvc.Retry(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": instance})
}

type renewRequest struct {
	BillingCycle string `json:"billing_cycle"`
}

func (s *Server) RenewInstance(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req renewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	cycle := catalogdomain.BillingCycle(strings.TrimSpace(req.BillingCycle))
	instance, err := s.provisionSvc.Renew(c.Request.Context(), id, cycle)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": instance})
}

func (s *Server) SuspendInstance(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.provisionSvc.Suspend(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": orderdomain.OrderSuspended}})
}

func (s *Server) UnsuspendInstance(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.provisionSvc.Unsuspend(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": orderdomain.OrderActive}})
}

type noteRequest struct {
	Note string `json:"note"`
}

func (s *Server) AppendOrderNote(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.orderSvc.AppendNote(c.Request.Context(), id, req.Note); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"appended": true}})
}

func (s *Server) GetInstance(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	instance, err := s.provisionSvc.GetForOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	// The root password is returned here and nowhere else.
	c.JSON(http.StatusOK, gin.H{"data": instance})
}

func (s *Server) GetSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	value, err := s.settingsSvc.Get(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"key": key, "value": value}})
}

type putSettingRequest struct {
	Value string `json:"value"`
}

func (s *Server) PutSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))

	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.settingsSvc.Set(c.Request.Context(), key, req.Value); err != nil {
		AbortWithError(c, err)
		return
	}

	_ = s.auditSvc.AuditLog(c.Request.Context(), auditdomain.ActorTypeAdmin, nil, "settings.updated", "setting", &key, nil)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"key": key}})
}
