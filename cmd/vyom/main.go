package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/vyomcloud/vyom/internal/clock"
	"github.com/vyomcloud/vyom/internal/config"
	"github.com/vyomcloud/vyom/internal/logger"
	"github.com/vyomcloud/vyom/internal/migration"
	"github.com/vyomcloud/vyom/internal/seed"
	"github.com/vyomcloud/vyom/internal/server"
	"github.com/vyomcloud/vyom/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		seed.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) *snowflake.Node {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		panic(err)
	}
	return node
}
