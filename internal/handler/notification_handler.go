package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/middleware"
	"github.com/noah-isme/unigigs-api/internal/service"
	"github.com/noah-isme/unigigs-api/internal/utils"
)

// NotificationHandler manages SSE notification streams and read state.
type NotificationHandler struct {
	service service.NotificationService
	logger  zerolog.Logger
	timeout time.Duration
}

// NewNotificationHandler constructs a handler instance. timeout is the
// keep-alive period of the event stream.
func NewNotificationHandler(service service.NotificationService, logger zerolog.Logger, timeout time.Duration) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("component", "notification_handler").Logger(),
		timeout: timeout,
	}
}

// Register binds the notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Get("/stream", h.stream)
	router.Patch("/:id/read", h.markRead)
	router.Post("/read-all", h.markAllRead)
}

func (h *NotificationHandler) list(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	notifications, err := h.service.List(requestContext(c), actor, limit, offset)
	if err != nil {
		return handleServiceError(c, h.logger, err, "list notifications")
	}

	return utils.OK(c, notifications, "notifications", utils.PageMeta{Limit: limit, Offset: offset, Count: len(notifications)})
}

func (h *NotificationHandler) stream(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	// The stream writer runs after this handler returns, so it cannot use the
	// request context.
	ctx, cancel := context.WithCancel(detachedContext(c))

	snapshots := make(chan dto.NotificationSnapshot, 1)
	sub, err := h.service.Subscribe(ctx, actor, func(snapshot dto.NotificationSnapshot) {
		// Keep only the newest undelivered snapshot.
		select {
		case <-snapshots:
		default:
		}
		snapshots <- snapshot
	})
	if err != nil {
		cancel()
		return handleServiceError(c, h.logger, err, "subscribe notifications")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	keepAliveInterval := h.timeout
	if keepAliveInterval <= 0 {
		keepAliveInterval = 30 * time.Second
	}
	logger := middleware.TraceFromContext(ctx).Logger(h.logger)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			sub.Cancel()
			cancel()
		}()

		ticker := time.NewTicker(keepAliveInterval / 2)
		defer ticker.Stop()

		for {
			select {
			case snapshot := <-snapshots:
				if err := writeNotificationEvent(w, snapshot); err != nil {
					logger.Debug().Err(err).Msg("failed to write notification event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					logger.Debug().Err(err).Msg("failed to write notification keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func (h *NotificationHandler) markRead(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	id := c.Params("id")
	if id == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "notification id required")
	}

	notification, err := h.service.MarkRead(requestContext(c), actor, id)
	if err != nil {
		return handleServiceError(c, h.logger, err, "mark notification read")
	}

	return utils.SendSuccess(c, "notification updated", notification)
}

func (h *NotificationHandler) markAllRead(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	updated, err := h.service.MarkAllRead(requestContext(c), actor)
	if err != nil {
		return handleServiceError(c, h.logger, err, "mark all notifications read")
	}

	return utils.SendSuccess(c, "notifications updated", fiber.Map{"updated": updated})
}

func writeNotificationEvent(w *bufio.Writer, snapshot dto.NotificationSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: notifications\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
