// Package settings exposes the admin-editable key/value configuration surface.
// Gateway and panel credentials are runtime-editable, so consumers load them at
// the start of each invocation instead of caching.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vyomcloud/vyom/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	KeyGatewayMerchantID = "gateway.merchant_id"
	KeyGatewayAPIKey     = "gateway.api_key"
	KeyGatewaySecretKey  = "gateway.secret_key"
	KeyGatewayEndpoint   = "gateway.endpoint"

	KeyPanelEndpoint  = "panel.endpoint"
	KeyPanelAPIKey    = "panel.api_key"
	KeyPanelAPIPass   = "panel.api_pass"
	KeyPanelDefaultOS = "panel.default_os_id"
	KeyPanelTimeout   = "panel.timeout_seconds"

	KeyTaxRateBps = "billing.tax_rate_bps"
)

const (
	defaultTaxRateBps   = 1800 // 18% GST
	defaultPanelTimeout = 30 * time.Second
)

// ConfigurationError reports every missing required key at once instead of
// scattering nil checks across callers.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration_incomplete: %s", strings.Join(e.Missing, ", "))
}

// GatewayConfig is the payment gateway connection settings.
type GatewayConfig struct {
	MerchantID string
	APIKey     string
	SecretKey  string
	Endpoint   string
}

// PanelConfig is the virtualization panel connection settings.
type PanelConfig struct {
	Endpoint    string
	APIKey      string
	APIPass     string
	DefaultOSID string
	Timeout     time.Duration
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("settings.service"),
		clock: p.Clock,
	}
}

func (s *Service) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.WithContext(ctx).Raw(
		`SELECT value FROM admin_settings WHERE key = ?`,
		key,
	).Scan(&value).Error
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func (s *Service) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("settings key required")
	}
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO admin_settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		value,
		s.clock.Now(),
	).Error
}

func (s *Service) load(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	type row struct {
		Key   string `gorm:"column:key"`
		Value string `gorm:"column:value"`
	}
	var rows []row
	if err := s.db.WithContext(ctx).Raw(
		`SELECT key, value FROM admin_settings WHERE key IN ?`,
		keys,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, item := range rows {
		out[item.Key] = strings.TrimSpace(item.Value)
	}
	return out, nil
}

// GatewayConfig loads and validates the gateway settings.
func (s *Service) GatewayConfig(ctx context.Context) (GatewayConfig, error) {
	values, err := s.load(ctx, KeyGatewayMerchantID, KeyGatewayAPIKey, KeyGatewaySecretKey, KeyGatewayEndpoint)
	if err != nil {
		return GatewayConfig{}, err
	}

	cfg := GatewayConfig{
		MerchantID: values[KeyGatewayMerchantID],
		APIKey:     values[KeyGatewayAPIKey],
		SecretKey:  values[KeyGatewaySecretKey],
		Endpoint:   values[KeyGatewayEndpoint],
	}

	var missing []string
	if cfg.MerchantID == "" {
		missing = append(missing, KeyGatewayMerchantID)
	}
	if cfg.APIKey == "" {
		missing = append(missing, KeyGatewayAPIKey)
	}
	if cfg.SecretKey == "" {
		missing = append(missing, KeyGatewaySecretKey)
	}
	if cfg.Endpoint == "" {
		missing = append(missing, KeyGatewayEndpoint)
	}
	if len(missing) > 0 {
		return GatewayConfig{}, &ConfigurationError{Missing: missing}
	}
	return cfg, nil
}

// PanelConfig loads and validates the panel settings.
func (s *Service) PanelConfig(ctx context.Context) (PanelConfig, error) {
	values, err := s.load(ctx, KeyPanelEndpoint, KeyPanelAPIKey, KeyPanelAPIPass, KeyPanelDefaultOS, KeyPanelTimeout)
	if err != nil {
		return PanelConfig{}, err
	}

	cfg := PanelConfig{
		Endpoint:    values[KeyPanelEndpoint],
		APIKey:      values[KeyPanelAPIKey],
		APIPass:     values[KeyPanelAPIPass],
		DefaultOSID: values[KeyPanelDefaultOS],
		Timeout:     defaultPanelTimeout,
	}
	if raw := values[KeyPanelTimeout]; raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			cfg.Timeout = time.Duration(seconds) * time.Second
		}
	}

	var missing []string
	if cfg.Endpoint == "" {
		missing = append(missing, KeyPanelEndpoint)
	}
	if cfg.APIKey == "" {
		missing = append(missing, KeyPanelAPIKey)
	}
	if cfg.APIPass == "" {
		missing = append(missing, KeyPanelAPIPass)
	}
	if len(missing) > 0 {
		return PanelConfig{}, &ConfigurationError{Missing: missing}
	}
	return cfg, nil
}

// TaxRateBps returns the configured tax rate in basis points.
func (s *Service) TaxRateBps(ctx context.Context) (int64, error) {
	raw, err := s.Get(ctx, KeyTaxRateBps)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return defaultTaxRateBps, nil
	}
	bps, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || bps < 0 {
		s.log.Warn("invalid tax rate setting, using default", zap.String("value", raw))
		return defaultTaxRateBps, nil
	}
	return bps, nil
}
