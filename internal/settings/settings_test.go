package settings

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vyomcloud/vyom/internal/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dbSeq int64

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:settings%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.Exec(`CREATE TABLE admin_settings (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TIMESTAMP NOT NULL)`).Error)
	return NewService(Params{DB: gdb, Log: zap.NewNop(), Clock: clock.NewSystemClock()})
}

func TestSetUpsertsAndGetTrims(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, KeyGatewayMerchantID, "M123"))
	require.NoError(t, svc.Set(ctx, KeyGatewayMerchantID, " M456 "))

	got, err := svc.Get(ctx, KeyGatewayMerchantID)
	require.NoError(t, err)
	assert.Equal(t, "M456", got)

	assert.Error(t, svc.Set(ctx, "  ", "x"))
}

func TestGatewayConfigListsEveryMissingKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, KeyGatewayMerchantID, "M123"))

	_, err := svc.GatewayConfig(ctx)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ElementsMatch(t, []string{KeyGatewayAPIKey, KeyGatewaySecretKey, KeyGatewayEndpoint}, cfgErr.Missing)

	require.NoError(t, svc.Set(ctx, KeyGatewayAPIKey, "key"))
	require.NoError(t, svc.Set(ctx, KeyGatewaySecretKey, "secret"))
	require.NoError(t, svc.Set(ctx, KeyGatewayEndpoint, "https://gateway.test/pay"))

	cfg, err := svc.GatewayConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "M123", cfg.MerchantID)
	assert.Equal(t, "https://gateway.test/pay", cfg.Endpoint)
}

func TestPanelConfigDefaultsTimeout(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, KeyPanelEndpoint, "https://panel.test/index.php"))
	require.NoError(t, svc.Set(ctx, KeyPanelAPIKey, "key"))
	require.NoError(t, svc.Set(ctx, KeyPanelAPIPass, "pass"))

	cfg, err := svc.PanelConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Timeout)

	require.NoError(t, svc.Set(ctx, KeyPanelTimeout, "5"))
	cfg, err = svc.PanelConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	// garbage falls back rather than failing the call
	require.NoError(t, svc.Set(ctx, KeyPanelTimeout, "soon"))
	cfg, err = svc.PanelConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestTaxRateBpsDefaultsAndValidates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	bps, err := svc.TaxRateBps(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1800), bps)

	require.NoError(t, svc.Set(ctx, KeyTaxRateBps, "500"))
	bps, err = svc.TaxRateBps(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bps)

	require.NoError(t, svc.Set(ctx, KeyTaxRateBps, "-1"))
	bps, err = svc.TaxRateBps(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1800), bps)
}
