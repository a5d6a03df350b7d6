package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"flujos-esign/internal/domain/entity"
)

const (
	HeaderUserLogin = "X-User-Login"
	HeaderUserAdmin = "X-User-Admin"

	actorLocal = "actor"
)

// RequireActor reads the acting user set by the fronting ERP
func RequireActor(c *fiber.Ctx) error {
	// copied out of the pooled header buffer; audit writes read it after the
	// request ends
	login := utils.CopyString(strings.TrimSpace(c.Get(HeaderUserLogin)))
	if login == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(
			entity.NewErrorResponse("UNAUTHORIZED", HeaderUserLogin+" header is required"),
		)
	}

	c.Locals(actorLocal, entity.Actor{
		Login: login,
		Admin: strings.EqualFold(c.Get(HeaderUserAdmin), "true"),
	})
	return c.Next()
}

func currentActor(c *fiber.Ctx) entity.Actor {
	actor, _ := c.Locals(actorLocal).(entity.Actor)
	return actor
}

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid request id")
	}
	return id, nil
}

var kindStatus = map[entity.ErrorKind]struct {
	status int
	code   string
}{
	entity.KindPrecondition: {fiber.StatusUnprocessableEntity, "PRECONDITION_FAILED"},
	entity.KindIdentity:     {fiber.StatusUnprocessableEntity, "BAD_CERTIFICATE"},
	entity.KindSign:         {fiber.StatusUnprocessableEntity, "SIGN_FAILED"},
	entity.KindContentStore: {fiber.StatusBadGateway, "CONTENT_STORE_ERROR"},
	entity.KindConcurrency:  {fiber.StatusConflict, "CONFLICT"},
	entity.KindNotFound:     {fiber.StatusNotFound, "NOT_FOUND"},
	entity.KindForbidden:    {fiber.StatusForbidden, "FORBIDDEN"},
}

// respondError writes err in the response envelope with the status of its kind
func respondError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(entity.NewErrorResponse("BAD_REQUEST", fe.Message))
	}

	var de *entity.Error
	if errors.As(err, &de) {
		if m, ok := kindStatus[de.Kind]; ok {
			logger.Warn("Request failed",
				zap.String("path", c.Path()),
				zap.String("kind", string(de.Kind)),
				zap.Error(err),
			)
			return c.Status(m.status).JSON(entity.NewErrorResponse(m.code, de.Message))
		}
	}

	logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(
		entity.NewErrorResponse("INTERNAL_ERROR", "internal error"),
	)
}
