package order

import (
	"github.com/vyomcloud/vyom/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(service.NewService),
)
