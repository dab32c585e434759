package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-messaging/internal/api/dto"
	"github.com/spec-kit/case-messaging/internal/auth"
	"github.com/spec-kit/case-messaging/internal/service"
	"github.com/spec-kit/case-messaging/pkg/util"
)

// ThreadsHandler manages thread lifecycle endpoints. The same routes serve
// both roles; authorization is per-thread participation.
type ThreadsHandler struct {
	service *service.ThreadService
}

// NewThreadsHandler constructs handler.
func NewThreadsHandler(threadService *service.ThreadService) *ThreadsHandler {
	return &ThreadsHandler{service: threadService}
}

// Open POST /threads.
func (h *ThreadsHandler) Open(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return util.NewUnauthorized("identity required")
	}
	var req dto.OpenThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}

	thread, err := h.service.OpenThread(c.Context(), identity, service.ThreadOpenInput{
		ClientID: req.ClientID,
		LawyerID: req.LawyerID,
		CaseRef:  req.CaseRef,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewThreadResponse(thread, identity)})
}

// List GET /threads.
func (h *ThreadsHandler) List(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return util.NewUnauthorized("identity required")
	}
	threads, err := h.service.ListThreads(c.Context(), identity)
	if err != nil {
		return err
	}
	items := make([]dto.ThreadResponse, 0, len(threads))
	for i := range threads {
		items = append(items, dto.NewThreadResponse(&threads[i], identity))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /threads/:id.
func (h *ThreadsHandler) Get(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return util.NewUnauthorized("identity required")
	}
	thread, err := h.service.GetThread(c.Context(), identity, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewThreadResponse(thread, identity)})
}

// Archive POST /threads/:id/archive.
func (h *ThreadsHandler) Archive(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return util.NewUnauthorized("identity required")
	}
	thread, err := h.service.ArchiveThread(c.Context(), identity, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewThreadResponse(thread, identity)})
}
