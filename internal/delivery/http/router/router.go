package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"flujos-esign/internal/config"
	"flujos-esign/internal/delivery/http/handler"
	"flujos-esign/internal/domain/entity"
)

// bodyLimit leaves room for base64 encoded PDFs in request bodies
const bodyLimit = 32 << 20

type Router struct {
	app             *fiber.App
	config          *config.Config
	workflowHandler *handler.WorkflowHandler
	profileHandler  *handler.ProfileHandler
	healthHandler   *handler.HealthHandler
	logHandler      *handler.LogHandler
}

func NewRouter(
	cfg *config.Config,
	workflowHandler *handler.WorkflowHandler,
	profileHandler *handler.ProfileHandler,
	healthHandler *handler.HealthHandler,
	logHandler *handler.LogHandler,
) *Router {
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    bodyLimit,
		ErrorHandler: customErrorHandler,
	})

	return &Router{
		app:             app,
		config:          cfg,
		workflowHandler: workflowHandler,
		profileHandler:  profileHandler,
		healthHandler:   healthHandler,
		logHandler:      logHandler,
	}
}

func (r *Router) Setup() *fiber.App {
	// Middleware
	r.app.Use(recover.New())
	r.app.Use(requestid.New())
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization," + handler.HeaderUserLogin + "," + handler.HeaderUserAdmin,
	}))

	if r.config.IsDevelopment() {
		r.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}

	// Health check route
	r.app.Get("/health", r.healthHandler.Health)

	// Log viewer route (HTML page)
	r.app.Get("/logs", r.logHandler.LogViewer)

	// API v1 routes
	api := r.app.Group("/api/v1")
	{
		// Signature request routes
		requests := api.Group("/requests", handler.RequireActor)
		{
			requests.Post("", r.workflowHandler.Create)
			requests.Get("", r.workflowHandler.List)
			requests.Get("/:id", r.workflowHandler.Get)
			requests.Put("/:id", r.workflowHandler.Update)
			requests.Delete("/:id", r.workflowHandler.Delete)
			requests.Post("/:id/send", r.workflowHandler.Send)
			requests.Post("/:id/sign", r.workflowHandler.Sign)
			requests.Post("/:id/reject", r.workflowHandler.Reject)
			requests.Post("/:id/cancel", r.workflowHandler.Cancel)
			requests.Post("/:id/remind", r.workflowHandler.Remind)
		}

		// Signature profile routes
		profiles := api.Group("/profiles", handler.RequireActor)
		{
			profiles.Get("/:login", r.profileHandler.Get)
			profiles.Put("/:login", r.profileHandler.Save)
		}

		// Log routes
		logs := api.Group("/logs")
		{
			logs.Get("", r.logHandler.GetLogs)
			logs.Get("/search", r.logHandler.SearchLogs)
		}
	}

	return r.app
}

func (r *Router) GetApp() *fiber.App {
	return r.app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(entity.NewErrorResponse(statusCode(code), err.Error()))
}

func statusCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case fiber.StatusInternalServerError:
		return "INTERNAL_ERROR"
	default:
		return "BAD_REQUEST"
	}
}
