package contentstore

import "go.uber.org/fx"

var Module = fx.Module("contentstore",
	fx.Provide(NewClient),
)
