package erp

import (
	"go.uber.org/fx"

	"flujos-esign/internal/domain/notifier"
)

var Module = fx.Module("erp",
	fx.Provide(
		fx.Annotate(NewClient, fx.As(new(notifier.Notifier))),
	),
)
