package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	orderdomain "github.com/vyomcloud/vyom/internal/order/domain"
	paymentdomain "github.com/vyomcloud/vyom/internal/payment/domain"
	pricingdomain "github.com/vyomcloud/vyom/internal/pricing/domain"
	provisiondomain "github.com/vyomcloud/vyom/internal/provision/domain"
	"github.com/vyomcloud/vyom/internal/sequence"
	"github.com/vyomcloud/vyom/internal/settings"
	walletdomain "github.com/vyomcloud/vyom/internal/wallet/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

// ErrorHandlingMiddleware turns the last gin error into the JSON error
// envelope. Handlers push errors with AbortWithError and never write error
// bodies themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// validationErrors are caller mistakes in the request itself.
var validationErrors = []error{
	ErrInvalidRequest,
	orderdomain.ErrInvalidOrder,
	orderdomain.ErrInvalidHostname,
	catalogdomain.ErrInvalidPlan,
	pricingdomain.ErrInvalidCycle,
	pricingdomain.ErrInvalidCoupon,
	walletdomain.ErrInvalidAmount,
	walletdomain.ErrInvalidGiftCard,
	paymentdomain.ErrMissingTrackingID,
	paymentdomain.ErrInvalidAmount,
}

var notFoundErrors = []error{
	orderdomain.ErrOrderNotFound,
	orderdomain.ErrInvoiceNotFound,
	catalogdomain.ErrPlanNotFound,
	pricingdomain.ErrCouponNotFound,
	walletdomain.ErrWalletNotFound,
	provisiondomain.ErrInstanceNotFound,
	paymentdomain.ErrUnknownGatewayOrder,
	gorm.ErrRecordNotFound,
}

// conflictErrors mean the request was well-formed but lost to current state:
// a racer, a spent resource, or an illegal lifecycle move.
var conflictErrors = []error{
	orderdomain.ErrInvalidTransition,
	orderdomain.ErrTransitionConflict,
	orderdomain.ErrOrderAlreadyPaid,
	orderdomain.ErrAbandonWindow,
	pricingdomain.ErrCouponExhausted,
	pricingdomain.ErrCouponRedeemed,
	pricingdomain.ErrCouponCodeTaken,
	pricingdomain.ErrCouponInactive,
	pricingdomain.ErrCouponExpired,
	pricingdomain.ErrCouponMinOrder,
	pricingdomain.ErrCouponPerUserLimit,
	catalogdomain.ErrPlanCodeTaken,
	walletdomain.ErrInsufficientBalance,
	walletdomain.ErrGiftCardRedeemed,
	paymentdomain.ErrInvoiceNotPayable,
	provisiondomain.ErrInstanceExists,
	provisiondomain.ErrOrderNotPaid,
}

var upstreamErrors = []error{
	provisiondomain.ErrPanelUnreachable,
	provisiondomain.ErrPanelAuthFailed,
	provisiondomain.ErrPanelRequest,
}

// retryableErrors are transient contention; the caller should simply retry.
var retryableErrors = []error{
	walletdomain.ErrWalletContended,
	sequence.ErrSequenceContended,
}

func matchesAny(err error, family []error) bool {
	for _, target := range family {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func mapError(err error) (int, errorPayload) {
	var cfgErr *settings.ConfigurationError
	switch {
	case matchesAny(err, validationErrors):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: err.Error()}
	case matchesAny(err, notFoundErrors):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}
	case matchesAny(err, conflictErrors):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	case matchesAny(err, upstreamErrors):
		return http.StatusBadGateway, errorPayload{Type: "upstream_error", Message: err.Error()}
	case matchesAny(err, retryableErrors):
		return http.StatusServiceUnavailable, errorPayload{Type: "retry_later", Message: err.Error()}
	case errors.As(err, &cfgErr):
		return http.StatusServiceUnavailable, errorPayload{Type: "configuration_incomplete", Message: err.Error()}
	case errors.Is(err, walletdomain.ErrLedgerMismatch):
		return http.StatusInternalServerError, errorPayload{Type: "invariant_violation", Message: err.Error()}
	default:
		// never leak internals
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}
