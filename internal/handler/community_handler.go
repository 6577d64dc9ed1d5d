package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/middleware"
	"github.com/noah-isme/unigigs-api/internal/service"
	"github.com/noah-isme/unigigs-api/internal/utils"
)

const requestContextLocal = "request_ctx"

// CommunityHandler exposes communities, their message history and the chat socket.
type CommunityHandler struct {
	communities service.CommunityService
	chat        service.ChatService
	logger      zerolog.Logger
}

// NewCommunityHandler constructs a community handler.
func NewCommunityHandler(communities service.CommunityService, chat service.ChatService, logger zerolog.Logger) *CommunityHandler {
	return &CommunityHandler{
		communities: communities,
		chat:        chat,
		logger:      logger.With().Str("component", "community_handler").Logger(),
	}
}

// Register binds the /communities routes.
func (h *CommunityHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("", h.create)
	router.Get("/:id", h.get)
	router.Get("/:id/messages", h.history)
	router.Post("/:id/messages", h.send)

	router.Get("/:id/ws", upgradeGuard, websocket.New(h.handleConnection))
}

func upgradeGuard(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	// The socket outlives the fasthttp request, so detach from its context.
	c.Locals(requestContextLocal, detachedContext(c))
	return c.Next()
}

func (h *CommunityHandler) list(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	communities, err := h.communities.List(requestContext(c), actor)
	if err != nil {
		return handleServiceError(c, h.logger, err, "list communities")
	}
	return utils.SendSuccess(c, "communities", communities)
}

func (h *CommunityHandler) create(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	var req dto.CommunityCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	community, err := h.communities.Create(requestContext(c), actor, req)
	if err != nil {
		return handleServiceError(c, h.logger, err, "create community")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "community created", community)
}

func (h *CommunityHandler) get(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	community, err := h.communities.Get(requestContext(c), actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, h.logger, err, "get community")
	}
	return utils.SendSuccess(c, "community", community)
}

func (h *CommunityHandler) history(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	query := dto.MessageHistoryQuery{CommunityID: c.Params("id")}
	if before := c.Query("before"); before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		query.Before = &parsed
		query.BeforeID = strings.TrimSpace(c.Query("before_id"))
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	query.Limit = limit

	messages, err := h.chat.History(requestContext(c), actor, query)
	if err != nil {
		return handleServiceError(c, h.logger, err, "message history")
	}
	return utils.SendSuccess(c, "messages", messages)
}

func (h *CommunityHandler) send(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	var req dto.MessageSendRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.chat.Send(requestContext(c), actor, c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, h.logger, err, "send message")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *CommunityHandler) handleConnection(conn *websocket.Conn) {
	actor, ok := conn.Locals(middleware.LocalIdentity).(dto.Identity)
	if !ok || actor.UID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"))
		_ = conn.Close()
		return
	}

	communityID := conn.Params("id")
	baseCtx, _ := conn.Locals(requestContextLocal).(context.Context)
	trace := middleware.TraceFromContext(baseCtx)
	trace.UserID = actor.UID

	opts := service.ChatConnectionOptions{
		Actor:       actor,
		CommunityID: communityID,
		Trace:       trace,
		Context:     baseCtx,
	}

	logger := trace.Logger(h.logger).With().Str("community_id", communityID).Logger()
	logger.Info().Msg("chat websocket connected")
	h.chat.ServeConnection(conn, opts)
	logger.Info().Msg("chat websocket disconnected")
}
