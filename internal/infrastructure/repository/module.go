package repository

import (
	"go.uber.org/fx"

	"flujos-esign/internal/domain/repository"
	"flujos-esign/internal/infrastructure/contentstore"
)

var Module = fx.Module("repository",
	fx.Provide(NewSignatureRequestRepository),
	fx.Provide(NewSignatureProfileRepository),
	fx.Provide(NewAPILogRepository),
	// the content store client audits its calls through the same repository
	fx.Provide(func(r repository.APILogRepository) contentstore.APILogSaver { return r }),
)
