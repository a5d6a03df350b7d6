package main

import (
	"go.uber.org/fx"

	"flujos-esign/internal/config"
	deliveryhttp "flujos-esign/internal/delivery/http"
	"flujos-esign/internal/infrastructure/contentstore"
	"flujos-esign/internal/infrastructure/database"
	"flujos-esign/internal/infrastructure/erp"
	"flujos-esign/internal/infrastructure/identity"
	"flujos-esign/internal/infrastructure/logger"
	"flujos-esign/internal/infrastructure/pdfsign"
	"flujos-esign/internal/infrastructure/redis"
	"flujos-esign/internal/infrastructure/repository"
	"flujos-esign/internal/infrastructure/sigimage"
	"flujos-esign/internal/infrastructure/workspace"
	"flujos-esign/internal/server"
	"flujos-esign/internal/usecase"
)

func main() {
	fx.New(
		// Configuration
		config.Module,

		// Infrastructure
		logger.Module,
		database.Module,
		redis.Module,
		contentstore.Module,
		erp.Module,
		identity.Module,
		sigimage.Module,
		pdfsign.Module,
		workspace.Module,
		repository.Module,

		// Business Logic
		usecase.Module,

		// Delivery
		deliveryhttp.Module,

		// Server
		server.Module,
	).Run()
}
