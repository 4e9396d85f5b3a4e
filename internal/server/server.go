// Package server wires the HTTP surface: customer storefront routes, the
// gateway callback, and the admin/operator API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vyomcloud/vyom/internal/audit"
	auditdomain "github.com/vyomcloud/vyom/internal/audit/domain"
	"github.com/vyomcloud/vyom/internal/catalog"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	"github.com/vyomcloud/vyom/internal/config"
	"github.com/vyomcloud/vyom/internal/invoicepdf"
	"github.com/vyomcloud/vyom/internal/observability"
	"github.com/vyomcloud/vyom/internal/order"
	orderdomain "github.com/vyomcloud/vyom/internal/order/domain"
	"github.com/vyomcloud/vyom/internal/payment"
	paymentdomain "github.com/vyomcloud/vyom/internal/payment/domain"
	"github.com/vyomcloud/vyom/internal/pricing"
	pricingdomain "github.com/vyomcloud/vyom/internal/pricing/domain"
	"github.com/vyomcloud/vyom/internal/provision"
	provisiondomain "github.com/vyomcloud/vyom/internal/provision/domain"
	"github.com/vyomcloud/vyom/internal/sequence"
	"github.com/vyomcloud/vyom/internal/settings"
	"github.com/vyomcloud/vyom/internal/wallet"
	walletdomain "github.com/vyomcloud/vyom/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	observability.Module,
	audit.Module,
	sequence.Module,
	settings.Module,
	catalog.Module,
	pricing.Module,
	wallet.Module,
	order.Module,
	payment.Module,
	provision.Module,
	invoicepdf.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, cfg config.Config, registry *prometheus.Registry) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, log *zap.Logger, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	auditSvc     auditdomain.Service
	catalogSvc   catalogdomain.Service
	pricingSvc   pricingdomain.Service
	walletSvc    walletdomain.Service
	orderSvc     orderdomain.Service
	paymentSvc   paymentdomain.Service
	provisionSvc provisiondomain.Service
	settingsSvc  *settings.Service
	pdfRenderer  *invoicepdf.Renderer
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	AuditSvc     auditdomain.Service
	CatalogSvc   catalogdomain.Service
	PricingSvc   pricingdomain.Service
	WalletSvc    walletdomain.Service
	OrderSvc     orderdomain.Service
	PaymentSvc   paymentdomain.Service
	ProvisionSvc provisiondomain.Service
	SettingsSvc  *settings.Service
	PDFRenderer  *invoicepdf.Renderer
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log.Named("http.server"),
		genID:        p.GenID,
		auditSvc:     p.AuditSvc,
		catalogSvc:   p.CatalogSvc,
		pricingSvc:   p.PricingSvc,
		walletSvc:    p.WalletSvc,
		orderSvc:     p.OrderSvc,
		paymentSvc:   p.PaymentSvc,
		provisionSvc: p.ProvisionSvc,
		settingsSvc:  p.SettingsSvc,
		pdfRenderer:  p.PDFRenderer,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.registerAPIRoutes()
	s.registerCallbackRoutes()
	s.registerAdminRoutes()
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Plans --------
	api.GET("/plans", s.ListPlans)

	// -------- Orders --------
	api.POST("/orders", s.CreateOrder)
	api.GET("/orders/:id", s.GetOrder)
	api.GET("/orders/:id/invoice", s.GetOrderInvoice)
	api.GET("/orders/:id/invoice/pdf", s.GetOrderInvoicePDF)
	api.POST("/orders/:id/cancel", s.CancelOrder)
	api.POST("/orders/:id/pay/wallet", s.PayOrderFromWallet)
	api.POST("/orders/:id/pay/gateway", s.PayOrderViaGateway)

	// -------- Wallet --------
	api.GET("/wallet", s.GetWalletBalance)
	api.POST("/wallet/topup", s.TopupWallet)
	api.POST("/wallet/gift-cards/redeem", s.RedeemGiftCard)
}

func (s *Server) registerCallbackRoutes() {
	// The gateway posts form-encoded callbacks here; no auth beyond the
	// tracking-id idempotency and amount check in reconciliation.
	s.engine.POST("/callbacks/gateway", s.GatewayCallback)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	// -------- Plans --------
	admin.GET("/plans", s.AdminListPlans)
	admin.POST("/plans", s.CreatePlan)
	admin.POST("/plans/:id/deactivate", s.DeactivatePlan)

	// -------- Coupons --------
	admin.POST("/coupons", s.CreateCoupon)
	admin.POST("/coupons/:id/deactivate", s.DeactivateCoupon)

	// -------- Gift cards --------
	admin.POST("/gift-cards", s.IssueGiftCard)

	// -------- Wallets --------
	admin.POST("/wallets/:customerId/adjust", s.AdjustWallet)
	admin.POST("/wallets/:walletId/replay", s.ReplayWallet)

	// -------- Orders / provisioning --------
	admin.POST("/orders/:id/transition", s.TransitionOrder)
	admin.POST("/orders/:id/provision", s.ProvisionOrder)
	admin.POST("/orders/:id/provision/retry", s.RetryProvisioning)
	admin.POST("/orders/:id/renew", s.RenewInstance)
	admin.POST("/orders/:id/suspend", s.SuspendInstance)
	admin.POST("/orders/:id/unsuspend", s.UnsuspendInstance)
	admin.POST("/orders/:id/note", s.AppendOrderNote)
	admin.GET("/orders/:id/instance", s.GetInstance)
	admin.GET("/orders/:id/payments", s.ListOrderPayments)

	// -------- Settings --------
	admin.GET("/settings/:key", s.GetSetting)
	admin.PUT("/settings/:key", s.PutSetting)
}
