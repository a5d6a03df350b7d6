package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"flujos-esign/internal/config"
	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/infrastructure/database"
	redisinfra "flujos-esign/internal/infrastructure/redis"
)

const healthCheckTimeout = 2 * time.Second

type HealthHandler struct {
	config *config.Config
	db     *database.Database
	redis  *redisinfra.RedisClient
}

func NewHealthHandler(cfg *config.Config, db *database.Database, redisClient *redisinfra.RedisClient) *HealthHandler {
	return &HealthHandler{
		config: cfg,
		db:     db,
		redis:  redisClient,
	}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
}

// Health godoc
// @Summary Health check
// @Description Check if the service and its stores are reachable
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} entity.APIResponse
// @Failure 503 {object} entity.APIResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	if h.db != nil {
		checks["database"] = "ok"
		if err := h.db.DB.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
	}
	if h.redis != nil {
		checks["redis"] = "ok"
		if err := h.redis.Client.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Checks:    checks,
	}
	if !healthy {
		resp.Status = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(&entity.APIResponse{
			Success: false,
			Message: h.config.App.Name + " dependencies are unreachable",
			Data:    resp,
		})
	}
	return c.JSON(entity.NewSuccessResponse(resp, "Service is healthy"))
}
