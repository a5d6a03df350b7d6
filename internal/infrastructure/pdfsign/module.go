package pdfsign

import "go.uber.org/fx"

var Module = fx.Module("pdfsign",
	fx.Provide(NewSigner),
)
