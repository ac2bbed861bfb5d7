package collector

import (
	"go.uber.org/fx"
)

var Module = fx.Module("collector",
	fx.Provide(
		NewService,
	),
)
