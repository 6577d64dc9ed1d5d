package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/service"
	"github.com/noah-isme/unigigs-api/internal/utils"
)

// GigHandler exposes gig posting, browsing and applications.
type GigHandler struct {
	gigs         service.GigService
	applications service.ApplicationService
	logger       zerolog.Logger
}

// NewGigHandler constructs a gig handler.
func NewGigHandler(gigs service.GigService, applications service.ApplicationService, logger zerolog.Logger) *GigHandler {
	return &GigHandler{
		gigs:         gigs,
		applications: applications,
		logger:       logger.With().Str("component", "gig_handler").Logger(),
	}
}

// Register binds the /gigs routes. applyLimiter may be nil.
func (h *GigHandler) Register(router fiber.Router, applyLimiter fiber.Handler) {
	router.Get("", h.list)
	router.Post("", h.post)
	router.Get("/:id", h.get)
	router.Post("/:id/close", h.close)
	router.Post("/:id/save", h.save)
	router.Delete("/:id/save", h.unsave)
	router.Get("/:id/applications", h.applicants)
	if applyLimiter != nil {
		router.Post("/:id/applications", applyLimiter, h.apply)
	} else {
		router.Post("/:id/applications", h.apply)
	}
}

// RegisterApplications binds the /applications routes.
func (h *GigHandler) RegisterApplications(router fiber.Router) {
	router.Get("/mine", h.mine)
	router.Patch("/:id/status", h.decide)
}

func (h *GigHandler) list(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	var query dto.GigListQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	gigs, err := h.gigs.ListForUniversity(requestContext(c), actor, query)
	if err != nil {
		return handleServiceError(c, h.logger, err, "list gigs")
	}

	meta := utils.PageMeta{Limit: query.Limit, Offset: query.Offset, Count: len(gigs)}
	return utils.OK(c, gigs, "gigs", meta)
}

func (h *GigHandler) post(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	var req dto.GigCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	gig, err := h.gigs.Post(requestContext(c), actor, req)
	if err != nil {
		return handleServiceError(c, h.logger, err, "post gig")
	}

	requestLogger(h.logger, c).Info().Str("gig_id", gig.ID).Str("poster_id", actor.UID).Msg("gig posted")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "gig posted", gig)
}

func (h *GigHandler) get(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	detail, err := h.gigs.Get(requestContext(c), actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, h.logger, err, "get gig")
	}
	return utils.SendSuccess(c, "gig", detail)
}

func (h *GigHandler) close(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	gig, err := h.gigs.Close(requestContext(c), actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, h.logger, err, "close gig")
	}
	return utils.SendSuccess(c, "gig closed", gig)
}

func (h *GigHandler) save(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	if err := h.gigs.Save(requestContext(c), actor, c.Params("id")); err != nil {
		return handleServiceError(c, h.logger, err, "save gig")
	}
	return utils.SendSuccess(c, "gig saved", nil)
}

func (h *GigHandler) unsave(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	if err := h.gigs.Unsave(requestContext(c), actor, c.Params("id")); err != nil {
		return handleServiceError(c, h.logger, err, "unsave gig")
	}
	return utils.SendSuccess(c, "gig removed from saved", nil)
}

func (h *GigHandler) applicants(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	applications, err := h.applications.ListForGig(requestContext(c), actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, h.logger, err, "list applicants")
	}
	return utils.SendSuccess(c, "applications", applications)
}

func (h *GigHandler) apply(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	application, err := h.applications.Apply(requestContext(c), actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, h.logger, err, "apply")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "application submitted", application)
}

func (h *GigHandler) mine(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	applications, err := h.applications.ListMine(requestContext(c), actor)
	if err != nil {
		return handleServiceError(c, h.logger, err, "list my applications")
	}
	return utils.SendSuccess(c, "applications", applications)
}

func (h *GigHandler) decide(c *fiber.Ctx) error {
	actor, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	var req dto.ApplicationDecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	application, err := h.applications.Decide(requestContext(c), actor, c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, h.logger, err, "decide application")
	}
	return utils.SendSuccess(c, "application updated", application)
}
