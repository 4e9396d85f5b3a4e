package invoicepdf

import "go.uber.org/fx"

var Module = fx.Module("invoicepdf",
	fx.Provide(New),
)
