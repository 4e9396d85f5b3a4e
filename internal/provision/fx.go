package provision

import (
	"github.com/vyomcloud/vyom/internal/provision/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provision.service",
	fx.Provide(service.NewPanelClientFactory),
	fx.Provide(service.NewService),
)
