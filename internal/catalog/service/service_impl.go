package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	"github.com/vyomcloud/vyom/internal/clock"
	"github.com/vyomcloud/vyom/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) catalogdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (catalogdomain.Plan, error) {
	var plan catalogdomain.Plan
	err := s.db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalogdomain.Plan{}, catalogdomain.ErrPlanNotFound
	}
	if err != nil {
		return catalogdomain.Plan{}, err
	}
	return plan, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (catalogdomain.Plan, error) {
	code = slug.Make(code)
	if code == "" {
		return catalogdomain.Plan{}, catalogdomain.ErrInvalidPlan
	}
	var plan catalogdomain.Plan
	err := s.db.WithContext(ctx).First(&plan, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalogdomain.Plan{}, catalogdomain.ErrPlanNotFound
	}
	if err != nil {
		return catalogdomain.Plan{}, err
	}
	return plan, nil
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]catalogdomain.Plan, error) {
	q := s.db.WithContext(ctx).Order("monthly_price ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var plans []catalogdomain.Plan
	if err := q.Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (s *Service) Create(ctx context.Context, req catalogdomain.CreatePlanRequest) (catalogdomain.Plan, error) {
	// plan codes are slugs; "VPS Small" and "vps-small" are the same plan
	req.Code = slug.Make(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	if req.Code == "" || req.Name == "" || req.MonthlyPrice <= 0 {
		return catalogdomain.Plan{}, catalogdomain.ErrInvalidPlan
	}

	now := s.clock.Now()
	plan := catalogdomain.Plan{
		ID:             s.genID.Generate(),
		Code:           req.Code,
		Name:           req.Name,
		CPUCores:       req.CPUCores,
		RAMMB:          req.RAMMB,
		StorageGB:      req.StorageGB,
		BandwidthGB:    req.BandwidthGB,
		MonthlyPrice:   req.MonthlyPrice,
		QuarterlyPrice: req.QuarterlyPrice,
		YearlyPrice:    req.YearlyPrice,
		PanelPlanID:    req.PanelPlanID,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&plan).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return catalogdomain.Plan{}, catalogdomain.ErrPlanCodeTaken
		}
		return catalogdomain.Plan{}, err
	}
	return plan, nil
}

func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE plans SET is_active = ?, updated_at = ? WHERE id = ?`,
		false,
		s.clock.Now(),
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return catalogdomain.ErrPlanNotFound
	}
	return nil
}
