package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/vyomcloud/vyom/internal/audit/domain"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	"github.com/vyomcloud/vyom/internal/invoicepdf"
	orderdomain "github.com/vyomcloud/vyom/internal/order/domain"
)

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}

type createOrderRequest struct {
	CustomerID   string `json:"customer_id"`
	PlanID       string `json:"plan_id"`
	BillingCycle string `json:"billing_cycle"`
	Hostname     string `json:"hostname"`
	OSTemplateID string `json:"os_template_id"`
	CouponCode   string `json:"coupon_code"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	customerID, err := parseID(req.CustomerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	planID, err := parseID(req.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.orderSvc.CreateOrder(c.Request.Context(), orderdomain.CreateOrderRequest{
		CustomerID:   customerID,
		PlanID:       planID,
		Cycle:        catalogdomain.BillingCycle(strings.TrimSpace(req.BillingCycle)),
		Hostname:     req.Hostname,
		OSTemplateID: req.OSTemplateID,
		CouponCode:   req.CouponCode,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) GetOrderInvoice(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.orderSvc.GetInvoiceForOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

const invoiceDateLayout = "02 Jan 2006"

// GetOrderInvoicePDF renders the order's invoice as a downloadable document.
func (s *Server) GetOrderInvoicePDF(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	order, err := s.orderSvc.GetByID(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	invoice, err := s.orderSvc.GetInvoiceForOrder(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	plan, err := s.catalogSvc.GetByID(ctx, order.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.pdfRenderer.Render(invoicepdf.InvoiceData{
		InvoiceNumber: invoice.InvoiceNumber,
		IssueDate:     invoice.CreatedAt.Format(invoiceDateLayout),
		DueDate:       invoice.DueAt.Format(invoiceDateLayout),
		Status:        strings.ToUpper(string(invoice.Status)),
		SellerName:    "Vyom Cloud",
		SellerAddress: "support@vyomcloud.example",
		BillToLabel:   "Customer " + order.CustomerID.String(),
		Items: []invoicepdf.LineItem{
			{
				Description: fmt.Sprintf("%s (%s)", plan.Name, order.Hostname),
				Period:      string(order.BillingCycle),
				Amount:      invoicepdf.FormatAmount(invoice.SubtotalAmount),
			},
		},
		Subtotal: invoicepdf.FormatAmount(invoice.SubtotalAmount),
		Tax:      invoicepdf.FormatAmount(invoice.TaxAmount),
		Total:    invoicepdf.FormatAmount(invoice.TotalAmount),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	body, err := io.ReadAll(doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", invoice.InvoiceNumber))
	c.Data(http.StatusOK, "application/pdf", body)
}

func (s *Server) CancelOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		CustomerID string `json:"customer_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	actor := orderdomain.Actor{Type: auditdomain.ActorTypeCustomer, ID: strings.TrimSpace(req.CustomerID)}
	if err := s.orderSvc.CancelOrder(c.Request.Context(), id, actor); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": orderdomain.OrderCancelled}})
}

func (s *Server) PayOrderFromWallet(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.PayFromWallet(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

// PayOrderViaGateway stamps the order's invoice with a gateway order id and
// returns the hosted-page parameters for the storefront to redirect with.
func (s *Server) PayOrderViaGateway(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.orderSvc.GetInvoiceForOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req, err := s.paymentSvc.InitiatePayment(c.Request.Context(), invoice.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": req})
}
