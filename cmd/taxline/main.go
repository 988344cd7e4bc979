package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/taxline/internal/config"
	"github.com/smallbiznis/taxline/internal/migration"
	"github.com/smallbiznis/taxline/internal/observability"
	"github.com/smallbiznis/taxline/internal/server"
	"github.com/smallbiznis/taxline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
