package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetWalletBalance(c *gin.Context) {
	customerID, err := parseID(c.Query("customer_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.walletSvc.Balance(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"balance": balance}})
}

type topupRequest struct {
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
}

// TopupWallet creates an orderless top-up invoice and hands it straight to
// the gateway; the wallet is credited when the success callback reconciles.
func (s *Server) TopupWallet(c *gin.Context) {
	var req topupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	customerID, err := parseID(req.CustomerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.orderSvc.CreateTopupInvoice(c.Request.Context(), customerID, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payReq, err := s.paymentSvc.InitiatePayment(c.Request.Context(), invoice.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"invoice": invoice,
		"payment": payReq,
	}})
}

type redeemGiftCardRequest struct {
	CustomerID string `json:"customer_id"`
	Code       string `json:"code"`
}

func (s *Server) RedeemGiftCard(c *gin.Context) {
	var req redeemGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	customerID, err := parseID(req.CustomerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entry, err := s.walletSvc.RedeemGiftCard(c.Request.Context(), customerID, req.Code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entry})
}
