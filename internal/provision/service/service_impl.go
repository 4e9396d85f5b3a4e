package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/vyomcloud/vyom/internal/audit/domain"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	"github.com/vyomcloud/vyom/internal/clock"
	obsmetrics "github.com/vyomcloud/vyom/internal/observability/metrics"
	orderdomain "github.com/vyomcloud/vyom/internal/order/domain"
	provisiondomain "github.com/vyomcloud/vyom/internal/provision/domain"
	"github.com/vyomcloud/vyom/internal/provision/panelapi"
	"github.com/vyomcloud/vyom/internal/settings"
	"github.com/vyomcloud/vyom/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PanelClient is the slice of the panel API the orchestrator needs.
type PanelClient interface {
	Create(ctx context.Context, req panelapi.CreateRequest) (panelapi.CreateResponse, error)
	Suspend(ctx context.Context, panelInstanceID string) error
	Unsuspend(ctx context.Context, panelInstanceID string) error
}

// PanelClientFactory builds a client from the runtime-editable panel settings.
// Settings can change between calls, so the client is constructed per attempt.
type PanelClientFactory func(cfg settings.PanelConfig) PanelClient

func NewPanelClientFactory(log *zap.Logger) PanelClientFactory {
	return func(cfg settings.PanelConfig) PanelClient {
		return panelapi.New(cfg, log)
	}
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	SettingsSvc  *settings.Service
	CatalogSvc   catalogdomain.Service
	OrderSvc     orderdomain.Service
	PanelFactory PanelClientFactory
	AuditSvc     auditdomain.Service
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	settingsSvc  *settings.Service
	catalogSvc   catalogdomain.Service
	orderSvc     orderdomain.Service
	panelFactory PanelClientFactory
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) provisiondomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("provision.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		settingsSvc:  p.SettingsSvc,
		catalogSvc:   p.CatalogSvc,
		orderSvc:     p.OrderSvc,
		panelFactory: p.PanelFactory,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
	}
}

var systemActor = orderdomain.Actor{Type: auditdomain.ActorTypeSystem}

func (s *Service) Provision(ctx context.Context, orderID snowflake.ID) (provisiondomain.VPSInstance, error) {
	return s.provision(ctx, orderID, false)
}

func (s *Service) Retry(ctx context.Context, orderID snowflake.ID) (provisiondomain.VPSInstance, error) {
	return s.provision(ctx, orderID, true)
}

// provision runs the create saga. The order is committed to provisioning
// before the panel is called; if the panel call fails the order is parked
// there with a note instead of being rolled back, because the panel may have
// partially acted and a blind retry could double-create.
func (s *Service) provision(ctx context.Context, orderID snowflake.ID, retry bool) (provisiondomain.VPSInstance, error) {
	order, err := s.orderSvc.GetByID(ctx, orderID)
	if err != nil {
		return provisiondomain.VPSInstance{}, err
	}

	switch order.Status {
	case orderdomain.OrderPaid, orderdomain.OrderProvisioning:
		if order.Status == orderdomain.OrderProvisioning && !retry {
			return provisiondomain.VPSInstance{}, provisiondomain.ErrOrderNotPaid
		}
	default:
		return provisiondomain.VPSInstance{}, provisiondomain.ErrOrderNotPaid
	}

	// read-only guards first so a doomed call never moves the order
	if _, err := s.GetForOrder(ctx, orderID); err == nil {
		return provisiondomain.VPSInstance{}, provisiondomain.ErrInstanceExists
	} else if !errors.Is(err, provisiondomain.ErrInstanceNotFound) {
		return provisiondomain.VPSInstance{}, err
	}

	plan, err := s.catalogSvc.GetByID(ctx, order.PlanID)
	if err != nil {
		return provisiondomain.VPSInstance{}, err
	}

	if order.Status == orderdomain.OrderPaid {
		if err := s.orderSvc.Transition(ctx, orderID, orderdomain.OrderProvisioning, systemActor); err != nil {
			return provisiondomain.VPSInstance{}, err
		}
	}

	panelCfg, err := s.settingsSvc.PanelConfig(ctx)
	if err != nil {
		return s.park(ctx, order, err)
	}
	if plan.PanelPlanID == nil || *plan.PanelPlanID == "" {
		return s.park(ctx, order, fmt.Errorf("plan %s: %w", plan.Code, &settings.ConfigurationError{Missing: []string{"plan.panel_plan_id"}}))
	}
	panelPlanID := *plan.PanelPlanID
	osID := order.OSTemplateID
	if osID == "" {
		osID = panelCfg.DefaultOSID
	}

	password, err := generatePassword()
	if err != nil {
		return provisiondomain.VPSInstance{}, err
	}

	client := s.panelFactory(panelCfg)
	created, err := client.Create(ctx, panelapi.CreateRequest{
		Hostname:     order.Hostname,
		RootPassword: password,
		PlanID:       panelPlanID,
		OSTemplateID: osID,
	})
	if err != nil {
		return s.park(ctx, order, err)
	}

	now := s.clock.Now()
	instance := provisiondomain.VPSInstance{
		ID:              s.genID.Generate(),
		OrderID:         orderID,
		CustomerID:      order.CustomerID,
		PlanID:          plan.ID,
		Hostname:        order.Hostname,
		OSTemplateID:    osID,
		PanelInstanceID: created.InstanceID,
		Status:          provisiondomain.InstanceRunning,
		Username:        "root",
		RootPassword:    password,
		ExpiresAt:       now.AddDate(0, order.BillingCycle.Months(), 0),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if created.IPAddress != "" {
		ip := created.IPAddress
		instance.IPAddress = &ip
	}

	if err := s.db.WithContext(ctx).Create(&instance).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return provisiondomain.VPSInstance{}, provisiondomain.ErrInstanceExists
		}
		return provisiondomain.VPSInstance{}, err
	}

	if err := s.orderSvc.Transition(ctx, orderID, orderdomain.OrderActive, systemActor); err != nil {
		// The instance row exists; the order can be moved by an operator.
		s.log.Error("order activation after provisioning failed",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err))
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordProvisioningOutcome("success")
	}
	instanceID := instance.ID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeSystem, nil, "instance.provisioned", "vps_instance", &instanceID, map[string]any{
		"order_number":      order.OrderNumber,
		"hostname":          order.Hostname,
		"panel_instance_id": created.InstanceID,
	})
	return instance, nil
}

// park leaves the order in provisioning with a note explaining why, so an
// operator can fix the cause and drive Retry.
func (s *Service) park(ctx context.Context, order orderdomain.Order, cause error) (provisiondomain.VPSInstance, error) {
	s.log.Error("provisioning failed",
		zap.String("order_number", order.OrderNumber),
		zap.Error(cause))
	if s.obsMetrics != nil {
		s.obsMetrics.RecordProvisioningOutcome("failure")
	}
	_ = s.orderSvc.AppendNote(ctx, order.ID, fmt.Sprintf("provisioning failed: %v", cause))
	return provisiondomain.VPSInstance{}, cause
}

func (s *Service) Renew(ctx context.Context, orderID snowflake.ID, cycle catalogdomain.BillingCycle) (provisiondomain.VPSInstance, error) {
	if !cycle.Valid() {
		return provisiondomain.VPSInstance{}, catalogdomain.ErrInvalidPlan
	}

	instance, err := s.GetForOrder(ctx, orderID)
	if err != nil {
		return provisiondomain.VPSInstance{}, err
	}

	now := s.clock.Now()
	anchor := instance.ExpiresAt
	if now.After(anchor) {
		anchor = now
	}
	newExpiry := anchor.AddDate(0, cycle.Months(), 0)

	if err := s.db.WithContext(ctx).Exec(
		`UPDATE vps_instances SET expires_at = ?, last_renewed_at = ?, updated_at = ? WHERE id = ?`,
		newExpiry,
		now,
		now,
		instance.ID,
	).Error; err != nil {
		return provisiondomain.VPSInstance{}, err
	}

	instanceID := instance.ID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeSystem, nil, "instance.renewed", "vps_instance", &instanceID, map[string]any{
		"cycle":      string(cycle),
		"expires_at": newExpiry,
	})

	instance.ExpiresAt = newExpiry
	instance.LastRenewedAt = &now
	instance.UpdatedAt = now
	return instance, nil
}

func (s *Service) GetForOrder(ctx context.Context, orderID snowflake.ID) (provisiondomain.VPSInstance, error) {
	var instance provisiondomain.VPSInstance
	err := s.db.WithContext(ctx).First(&instance, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return provisiondomain.VPSInstance{}, provisiondomain.ErrInstanceNotFound
	}
	if err != nil {
		return provisiondomain.VPSInstance{}, err
	}
	return instance, nil
}

func (s *Service) Suspend(ctx context.Context, orderID snowflake.ID) error {
	return s.setSuspension(ctx, orderID, true)
}

func (s *Service) Unsuspend(ctx context.Context, orderID snowflake.ID) error {
	return s.setSuspension(ctx, orderID, false)
}

func (s *Service) setSuspension(ctx context.Context, orderID snowflake.ID, suspend bool) error {
	instance, err := s.GetForOrder(ctx, orderID)
	if err != nil {
		return err
	}

	panelCfg, err := s.settingsSvc.PanelConfig(ctx)
	if err != nil {
		return err
	}
	client := s.panelFactory(panelCfg)

	target := orderdomain.OrderActive
	status := provisiondomain.InstanceRunning
	if suspend {
		target = orderdomain.OrderSuspended
		status = provisiondomain.InstanceSuspended
		err = client.Suspend(ctx, instance.PanelInstanceID)
	} else {
		err = client.Unsuspend(ctx, instance.PanelInstanceID)
	}
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Exec(
		`UPDATE vps_instances SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		s.clock.Now(),
		instance.ID,
	).Error; err != nil {
		return err
	}
	return s.orderSvc.Transition(ctx, orderID, target, systemActor)
}

// passwordAlphabet is what the generated root password draws from. The panel
// rejects shell-hostile metacharacters, so the set is alphanumeric plus a few
// safe symbols.
const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789@#%+="

const passwordLength = 24

// generatePassword returns a random root password. It is stored but never
// logged.
func generatePassword() (string, error) {
	buf := make([]byte, passwordLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, passwordLength)
	for i, c := range buf {
		out[i] = passwordAlphabet[int(c)%len(passwordAlphabet)]
	}
	return string(out), nil
}
