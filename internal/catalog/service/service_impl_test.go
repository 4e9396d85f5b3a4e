package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
	"github.com/vyomcloud/vyom/internal/clock"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dbSeq int64

func newTestService(t *testing.T) catalogdomain.Service {
	t.Helper()
	dsn := fmt.Sprintf("file:catalog%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&catalogdomain.Plan{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(Params{DB: gdb, Log: zap.NewNop(), GenID: node, Clock: clock.NewSystemClock()})
}

func TestCreateSlugifiesCode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, catalogdomain.CreatePlanRequest{
		Code:         "VPS Small",
		Name:         "VPS Small",
		CPUCores:     1,
		RAMMB:        1024,
		StorageGB:    20,
		BandwidthGB:  1000,
		MonthlyPrice: 29900,
	})
	require.NoError(t, err)
	assert.Equal(t, "vps-small", plan.Code)

	// lookups accept any spelling that slugs to the same code
	got, err := svc.GetByCode(ctx, "VPS SMALL")
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)

	// and the slugged code is what collides
	_, err = svc.Create(ctx, catalogdomain.CreatePlanRequest{
		Code:         "vps--small",
		Name:         "Duplicate",
		MonthlyPrice: 100,
	})
	assert.ErrorIs(t, err, catalogdomain.ErrPlanCodeTaken)
}

func TestDeactivateHidesFromActiveList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, catalogdomain.CreatePlanRequest{
		Code:         "vps-m",
		Name:         "VPS Medium",
		MonthlyPrice: 69900,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, plan.ID))

	active, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)

	assert.ErrorIs(t, svc.Deactivate(ctx, plan.ID+1), catalogdomain.ErrPlanNotFound)
}

func TestCreateValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, catalogdomain.CreatePlanRequest{Code: "", Name: "x", MonthlyPrice: 100})
	assert.ErrorIs(t, err, catalogdomain.ErrInvalidPlan)

	_, err = svc.Create(ctx, catalogdomain.CreatePlanRequest{Code: "vps-x", Name: "x", MonthlyPrice: 0})
	assert.ErrorIs(t, err, catalogdomain.ErrInvalidPlan)
}
