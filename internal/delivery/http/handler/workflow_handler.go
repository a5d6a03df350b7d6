package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/usecase"
)

type WorkflowHandler struct {
	usecase usecase.WorkflowUsecase
	logger  *zap.Logger
}

func NewWorkflowHandler(usecase usecase.WorkflowUsecase, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		usecase: usecase,
		logger:  logger,
	}
}

type RejectBody struct {
	Notes string `json:"notes"`
}

// Create godoc
// @Summary Create a signature request
// @Description Creates a draft with recipients and local or repository documents
// @Tags requests
// @Accept json
// @Produce json
// @Param X-User-Login header string true "Acting user"
// @Param request body entity.RequestInput true "Request"
// @Success 201 {object} entity.APIResponse
// @Failure 400 {object} entity.APIResponse
// @Failure 422 {object} entity.APIResponse
// @Router /api/v1/requests [post]
func (h *WorkflowHandler) Create(c *fiber.Ctx) error {
	var in entity.RequestInput
	if err := c.BodyParser(&in); err != nil {
		h.logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(
			entity.NewErrorResponse("BAD_REQUEST", "Invalid request body"),
		)
	}

	req, err := h.usecase.Create(c.UserContext(), currentActor(c), &in)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.Status(fiber.StatusCreated).JSON(entity.NewSuccessResponse(req, "Signature request created"))
}

// List godoc
// @Summary List signature requests
// @Tags requests
// @Produce json
// @Param state query string false "State"
// @Param creator query string false "Creator login"
// @Param recipient query string false "Recipient login"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} entity.APIResponse
// @Router /api/v1/requests [get]
func (h *WorkflowHandler) List(c *fiber.Ctx) error {
	filter := entity.RequestFilter{
		State:     entity.RequestState(c.Query("state")),
		Creator:   c.Query("creator"),
		Recipient: c.Query("recipient"),
		Limit:     c.QueryInt("limit", 50),
		Offset:    c.QueryInt("offset", 0),
	}

	reqs, err := h.usecase.List(c.UserContext(), currentActor(c), filter)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(entity.NewPagedResponse(reqs, len(reqs), filter.Limit, filter.Offset,
		"Signature requests retrieved successfully"))
}

// Get godoc
// @Summary Get a signature request
// @Tags requests
// @Produce json
// @Param id path string true "Request id"
// @Success 200 {object} entity.APIResponse
// @Failure 404 {object} entity.APIResponse
// @Router /api/v1/requests/{id} [get]
func (h *WorkflowHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	req, err := h.usecase.Get(c.UserContext(), id, currentActor(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(entity.NewSuccessResponse(req, "Signature request retrieved successfully"))
}

// Update godoc
// @Summary Edit a draft
// @Tags requests
// @Accept json
// @Produce json
// @Param id path string true "Request id"
// @Param request body entity.RequestInput true "Request"
// @Success 200 {object} entity.APIResponse
// @Router /api/v1/requests/{id} [put]
func (h *WorkflowHandler) Update(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	var in entity.RequestInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(
			entity.NewErrorResponse("BAD_REQUEST", "Invalid request body"),
		)
	}

	req, err := h.usecase.Update(c.UserContext(), id, currentActor(c), &in)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(entity.NewSuccessResponse(req, "Signature request updated"))
}

// Delete godoc
// @Summary Delete a signature request
// @Tags requests
// @Param id path string true "Request id"
// @Success 200 {object} entity.APIResponse
// @Router /api/v1/requests/{id} [delete]
func (h *WorkflowHandler) Delete(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	if err := h.usecase.Delete(c.UserContext(), id, currentActor(c)); err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(entity.NewSuccessResponse(nil, "Signature request deleted"))
}

// Send godoc
// @Summary Send a draft for signature
// @Description Uploads local documents into the request folder and notifies every recipient
// @Tags workflow
// @Param id path string true "Request id"
// @Success 200 {object} entity.APIResponse
// @Failure 422 {object} entity.APIResponse
// @Failure 502 {object} entity.APIResponse
// @Router /api/v1/requests/{id}/send [post]
func (h *WorkflowHandler) Send(c *fiber.Ctx) error {
	return h.transition(c, "Signature request sent", h.usecase.SendForSignature)
}

// Sign godoc
// @Summary Sign as the acting recipient
// @Tags workflow
// @Param id path string true "Request id"
// @Success 200 {object} entity.APIResponse
// @Failure 409 {object} entity.APIResponse
// @Failure 422 {object} entity.APIResponse
// @Router /api/v1/requests/{id}/sign [post]
func (h *WorkflowHandler) Sign(c *fiber.Ctx) error {
	return h.transition(c, "Documents signed", h.usecase.Sign)
}

// Reject godoc
// @Summary Reject as the acting recipient
// @Tags workflow
// @Accept json
// @Param id path string true "Request id"
// @Param request body RejectBody true "Rejection notes"
// @Success 200 {object} entity.APIResponse
// @Router /api/v1/requests/{id}/reject [post]
func (h *WorkflowHandler) Reject(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	var body RejectBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(
			entity.NewErrorResponse("BAD_REQUEST", "Invalid request body"),
		)
	}

	req, err := h.usecase.Reject(c.UserContext(), id, currentActor(c), body.Notes)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(entity.NewSuccessResponse(req, "Signature request rejected"))
}

// Cancel godoc
// @Summary Cancel a draft or sent request
// @Tags workflow
// @Param id path string true "Request id"
// @Success 200 {object} entity.APIResponse
// @Router /api/v1/requests/{id}/cancel [post]
func (h *WorkflowHandler) Cancel(c *fiber.Ctx) error {
	return h.transition(c, "Signature request cancelled", h.usecase.Cancel)
}

// Remind godoc
// @Summary Remind pending recipients
// @Tags workflow
// @Param id path string true "Request id"
// @Success 200 {object} entity.APIResponse
// @Router /api/v1/requests/{id}/remind [post]
func (h *WorkflowHandler) Remind(c *fiber.Ctx) error {
	return h.transition(c, "Reminders sent", h.usecase.Remind)
}

type action func(ctx context.Context, id uuid.UUID, actor entity.Actor) (*entity.SignatureRequest, error)

func (h *WorkflowHandler) transition(c *fiber.Ctx, message string, fn action) error {
	id, err := parseID(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	req, err := fn(c.UserContext(), id, currentActor(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(entity.NewSuccessResponse(req, message))
}
