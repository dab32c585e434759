package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/case-messaging/internal/api/dto"
	"github.com/spec-kit/case-messaging/internal/auth"
	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/internal/messaging"
	"github.com/spec-kit/case-messaging/pkg/util"
)

// MessagesHandler serves history paging, idempotent sends, and typing
// announcements on a thread.
type MessagesHandler struct {
	store    messaging.Store
	presence func(self domain.Identity) *messaging.PresenceTracker
	pageSize int
}

// NewMessagesHandler constructs handler. presence builds a per-caller
// tracker for typing announcements.
func NewMessagesHandler(store messaging.Store, presence func(self domain.Identity) *messaging.PresenceTracker, pageSize int) *MessagesHandler {
	return &MessagesHandler{store: store, presence: presence, pageSize: pageSize}
}

// History GET /threads/:id/messages?before_id=&limit=.
func (h *MessagesHandler) History(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return util.NewUnauthorized("identity required")
	}
	beforeID := parseInt64(c.Query("before_id"), 0)
	limit := parseInt(c.Query("limit"), h.pageSize)

	msgs, err := h.store.FetchHistory(c.Context(), identity, c.Params("id"), beforeID, limit)
	if err != nil {
		return err
	}

	resp := dto.HistoryResponse{Messages: make([]dto.MessageResponse, 0, len(msgs))}
	for i := range msgs {
		resp.Messages = append(resp.Messages, dto.NewMessageResponse(&msgs[i], identity))
	}
	if len(msgs) == limit && len(msgs) > 0 {
		resp.NextBeforeID = msgs[0].ID
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Send POST /threads/:id/messages.
func (h *MessagesHandler) Send(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return util.NewUnauthorized("identity required")
	}
	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Body) == "" {
		return util.NewValidationError("body required", nil)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	msg, err := h.store.Append(c.Context(), identity, c.Params("id"), req.Body, req.CorrelationID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewMessageResponse(msg, identity)})
}

// Typing POST /threads/:id/typing.
func (h *MessagesHandler) Typing(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return util.NewUnauthorized("identity required")
	}
	var req dto.TypingRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	threadID := c.Params("id")
	if _, err := h.store.Thread(c.Context(), identity, threadID); err != nil {
		return err
	}

	h.presence(identity).Announce(c.Context(), threadID, domain.PresenceState{Online: true, Typing: req.Typing})
	return c.SendStatus(http.StatusAccepted)
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseInt64(val string, def int64) int64 {
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
