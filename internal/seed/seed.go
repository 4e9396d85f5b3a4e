// Package seed inserts starter data on boot: the default billing settings and
// a small plan catalog. Every insert is idempotent, so running it on an
// existing database changes nothing.
package seed

import (
	"context"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	"github.com/vyomcloud/vyom/internal/clock"
	"github.com/vyomcloud/vyom/internal/settings"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var defaultSettings = map[string]string{
	settings.KeyTaxRateBps:   "1800",
	settings.KeyPanelTimeout: "30",
}

type starterPlan struct {
	Code         string
	Name         string
	CPUCores     int
	RAMMB        int
	StorageGB    int
	BandwidthGB  int
	MonthlyPrice int64
}

var starterPlans = []starterPlan{
	{Code: "vps-s", Name: "VPS Small", CPUCores: 1, RAMMB: 1024, StorageGB: 20, BandwidthGB: 1000, MonthlyPrice: 29900},
	{Code: "vps-m", Name: "VPS Medium", CPUCores: 2, RAMMB: 4096, StorageGB: 60, BandwidthGB: 2000, MonthlyPrice: 69900},
	{Code: "vps-l", Name: "VPS Large", CPUCores: 4, RAMMB: 8192, StorageGB: 120, BandwidthGB: 4000, MonthlyPrice: 129900},
}

func Run(ctx context.Context, db *gorm.DB, genID *snowflake.Node, clk clock.Clock, log *zap.Logger) error {
	now := clk.Now()

	for key, value := range defaultSettings {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO admin_settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (key) DO NOTHING`,
			key,
			value,
			now,
		).Error; err != nil {
			return err
		}
	}

	for _, p := range starterPlans {
		plan := catalogdomain.Plan{
			ID:           genID.Generate(),
			Code:         p.Code,
			Name:         p.Name,
			CPUCores:     p.CPUCores,
			RAMMB:        p.RAMMB,
			StorageGB:    p.StorageGB,
			BandwidthGB:  p.BandwidthGB,
			MonthlyPrice: p.MonthlyPrice,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO plans
			 (id, code, name, cpu_cores, ram_mb, storage_gb, bandwidth_gb, monthly_price, is_active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (code) DO NOTHING`,
			plan.ID, plan.Code, plan.Name, plan.CPUCores, plan.RAMMB, plan.StorageGB,
			plan.BandwidthGB, plan.MonthlyPrice, plan.IsActive, plan.CreatedAt, plan.UpdatedAt,
		).Error; err != nil {
			return err
		}
	}

	log.Info("seed data ensured",
		zap.Int("settings", len(defaultSettings)),
		zap.Int("plans", len(starterPlans)))
	return nil
}

var Module = fx.Module("seed",
	fx.Invoke(func(db *gorm.DB, genID *snowflake.Node, clk clock.Clock, log *zap.Logger) error {
		return Run(context.Background(), db, genID, clk, log)
	}),
)
