package handler

import (
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/usecase"
)

// maxUploadSize caps each uploaded profile file
const maxUploadSize = 5 << 20

type ProfileHandler struct {
	usecase usecase.ProfileUsecase
	logger  *zap.Logger
}

func NewProfileHandler(usecase usecase.ProfileUsecase, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{
		usecase: usecase,
		logger:  logger,
	}
}

// Get godoc
// @Summary Get a signature profile
// @Description Returns profile metadata; certificate and image bytes are never returned
// @Tags profiles
// @Produce json
// @Param login path string true "User login"
// @Success 200 {object} entity.APIResponse
// @Failure 404 {object} entity.APIResponse
// @Router /api/v1/profiles/{login} [get]
func (h *ProfileHandler) Get(c *fiber.Ctx) error {
	summary, err := h.usecase.Get(c.UserContext(), c.Params("login"), currentActor(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(entity.NewSuccessResponse(summary, "Profile retrieved successfully"))
}

// Save godoc
// @Summary Store a signature profile
// @Tags profiles
// @Accept multipart/form-data
// @Produce json
// @Param login path string true "User login"
// @Param name formData string false "Display name"
// @Param email formData string false "Email"
// @Param passphrase formData string false "PKCS#12 passphrase"
// @Param certificate formData file false "PKCS#12 bundle"
// @Param signature_image formData file false "Handwritten signature image"
// @Success 200 {object} entity.APIResponse
// @Failure 422 {object} entity.APIResponse
// @Router /api/v1/profiles/{login} [put]
func (h *ProfileHandler) Save(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(
			entity.NewErrorResponse("BAD_REQUEST", "multipart form expected"),
		)
	}

	in := &usecase.ProfileInput{
		Name:       formValue(form, "name"),
		Email:      formValue(form, "email"),
		Passphrase: formValue(form, "passphrase"),
	}
	if in.PKCS12, err = formFile(form, "certificate"); err != nil {
		return respondError(c, h.logger, err)
	}
	if in.SignatureImage, err = formFile(form, "signature_image"); err != nil {
		return respondError(c, h.logger, err)
	}

	summary, err := h.usecase.Save(c.UserContext(), c.Params("login"), currentActor(c), in)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(entity.NewSuccessResponse(summary, "Profile saved"))
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func formFile(form *multipart.Form, key string) ([]byte, error) {
	files := form.File[key]
	if len(files) == 0 {
		return nil, nil
	}
	if files[0].Size > maxUploadSize {
		return nil, fiber.NewError(fiber.StatusBadRequest, key+" is too large")
	}

	f, err := files[0].Open()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "cannot read "+key)
	}
	defer f.Close()
	return io.ReadAll(f)
}
