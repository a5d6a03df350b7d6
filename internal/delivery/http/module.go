package http

import (
	"go.uber.org/fx"

	"flujos-esign/internal/delivery/http/handler"
	"flujos-esign/internal/delivery/http/router"
)

var Module = fx.Module("http",
	fx.Provide(
		handler.NewWorkflowHandler,
		handler.NewProfileHandler,
		handler.NewHealthHandler,
		handler.NewLogHandler,
		router.NewRouter,
	),
)
