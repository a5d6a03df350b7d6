package sigimage

import "go.uber.org/fx"

var Module = fx.Module("sigimage",
	fx.Provide(NewComposer),
)
