package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/vyomcloud/vyom/internal/payment/domain"
	"go.uber.org/zap"
)

// GatewayCallback receives the gateway's form-encoded payment result. The
// response is always 200 once the callback is recorded; gateways retry on
// anything else and the reconciliation is already idempotent.
func (s *Server) GatewayCallback(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	form := c.Request.PostForm

	amount, err := paymentdomain.ParseAmount(form.Get("amount"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	raw := make(map[string]string, len(form))
	for key := range form {
		raw[key] = form.Get(key)
	}
	rawPayload, err := json.Marshal(raw)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.paymentSvc.Reconcile(c.Request.Context(), paymentdomain.Callback{
		GatewayOrderID:  form.Get("order_id"),
		TrackingID:      form.Get("tracking_id"),
		OrderStatus:     form.Get("order_status"),
		Amount:          amount,
		Currency:        form.Get("currency"),
		ResponseCode:    form.Get("response_code"),
		ResponseMessage: form.Get("status_message"),
		BankRefNo:       form.Get("bank_ref_no"),
		RawPayload:      rawPayload,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.Replayed {
		s.log.Info("gateway callback replayed",
			zap.String("tracking_id", result.Transaction.TrackingID))
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"status":   result.Transaction.Status,
		"replayed": result.Replayed,
	}})
}

func (s *Server) ListOrderPayments(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.paymentSvc.ListForOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}
