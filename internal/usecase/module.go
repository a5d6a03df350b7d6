package usecase

import "go.uber.org/fx"

var Module = fx.Module("usecase",
	fx.Provide(NewFolderMaterializer),
	fx.Provide(NewDocumentReconciler),
	fx.Provide(NewSessionFactory),
	fx.Provide(NewWorkflowUsecase),
	fx.Provide(NewProfileUsecase),
)
