package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/service"
	"github.com/noah-isme/unigigs-api/internal/utils"
)

const profilePhotoField = "photo"

// ProfileHandler serves the caller's profile, settings and public profiles.
type ProfileHandler struct {
	profiles service.ProfileService
	gigs     service.GigService
	push     service.PushService
	logger   zerolog.Logger
}

// NewProfileHandler constructs a profile handler.
func NewProfileHandler(profiles service.ProfileService, gigs service.GigService, push service.PushService, logger zerolog.Logger) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		gigs:     gigs,
		push:     push,
		logger:   logger.With().Str("component", "profile_handler").Logger(),
	}
}

// RegisterMe binds the /me routes.
func (h *ProfileHandler) RegisterMe(router fiber.Router) {
	router.Get("", h.me)
	router.Patch("", h.update)
	router.Get("/settings", h.settings)
	router.Patch("/settings", h.updateSettings)
	router.Get("/overview", h.overview)
	router.Get("/saved-gigs", h.savedGigs)
	router.Put("/push-subscriptions", h.registerPush)
	router.Delete("/push-subscriptions", h.unregisterPush)
}

// RegisterUsers binds the public profile routes.
func (h *ProfileHandler) RegisterUsers(router fiber.Router) {
	router.Get("/:id", h.user)
}

func (h *ProfileHandler) me(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	profile, err := h.profiles.Get(requestContext(c), actor, actor.UID)
	if err != nil {
		return handleServiceError(c, h.logger, err, "get profile")
	}
	return utils.SendSuccess(c, "profile", profile)
}

func (h *ProfileHandler) user(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	profile, err := h.profiles.Get(requestContext(c), actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, h.logger, err, "get user")
	}
	return utils.SendSuccess(c, "profile", profile)
}

func (h *ProfileHandler) update(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	var req dto.ProfileUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	var upload *service.Upload
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		if file, err := c.FormFile(profilePhotoField); err == nil {
			content, err := file.Open()
			if err != nil {
				return utils.SendError(c, fiber.StatusBadRequest, "unreadable photo upload")
			}
			defer content.Close()
			upload = &service.Upload{Filename: file.Filename, Size: file.Size, Content: content}
		}
	}

	profile, err := h.profiles.Update(requestContext(c), actor, req, upload)
	if err != nil {
		return handleServiceError(c, h.logger, err, "update profile")
	}
	return utils.SendSuccess(c, "profile updated", profile)
}

func (h *ProfileHandler) settings(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	settings, err := h.profiles.Settings(requestContext(c), actor)
	if err != nil {
		return handleServiceError(c, h.logger, err, "get settings")
	}
	return utils.SendSuccess(c, "settings", settings)
}

func (h *ProfileHandler) updateSettings(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	var req dto.SettingsUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	settings, err := h.profiles.UpdateSettings(requestContext(c), actor, req)
	if err != nil {
		return handleServiceError(c, h.logger, err, "update settings")
	}
	return utils.SendSuccess(c, "settings updated", settings)
}

func (h *ProfileHandler) overview(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	overview, err := h.profiles.Overview(requestContext(c), actor)
	if err != nil {
		return handleServiceError(c, h.logger, err, "profile overview")
	}
	return utils.SendSuccess(c, "profile overview", overview)
}

func (h *ProfileHandler) savedGigs(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	gigs, err := h.gigs.ListSaved(requestContext(c), actor)
	if err != nil {
		return handleServiceError(c, h.logger, err, "saved gigs")
	}
	return utils.SendSuccess(c, "saved gigs", gigs)
}

func (h *ProfileHandler) registerPush(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	var req dto.PushSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.push.Register(requestContext(c), actor, req); err != nil {
		return handleServiceError(c, h.logger, err, "register push")
	}
	return utils.SendSuccess(c, "push subscription saved", nil)
}

func (h *ProfileHandler) unregisterPush(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	var req dto.PushUnsubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.push.Unregister(requestContext(c), actor, req); err != nil {
		return handleServiceError(c, h.logger, err, "unregister push")
	}
	return utils.SendSuccess(c, "push subscription removed", nil)
}

// VAPIDPublicKey returns the key browsers need to subscribe to push messages.
func VAPIDPublicKey(push service.PushService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := push.PublicKey()
		if key == "" {
			return utils.SendError(c, fiber.StatusNotFound, "push messaging is not configured")
		}
		return utils.SendSuccess(c, "vapid public key", fiber.Map{"public_key": key})
	}
}
