package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/middleware"
	"github.com/noah-isme/unigigs-api/internal/service"
	"github.com/noah-isme/unigigs-api/internal/utils"
)

// AuthHandler exposes sign-up, sign-in and session endpoints.
type AuthHandler struct {
	service   service.AuthService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAuthHandler constructs an auth handler.
func NewAuthHandler(service service.AuthService, validate *validator.Validate, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		service:   service,
		validator: validate,
		logger:    logger.With().Str("component", "auth_handler").Logger(),
	}
}

// RegisterPublic binds the unauthenticated auth routes. limiter guards the
// credential endpoints and may be nil.
func (h *AuthHandler) RegisterPublic(router fiber.Router, limiter fiber.Handler) {
	var credentials []fiber.Handler
	if limiter != nil {
		credentials = append(credentials, limiter)
	}

	router.Post("/signup", chain(credentials, h.signup)...)
	router.Post("/login", chain(credentials, h.login)...)
	router.Post("/refresh", h.refresh)
	router.Get("/providers", h.providers)
	router.Get("/social/:provider", h.socialRedirect)
	router.Get("/social/:provider/callback", h.socialCallback)
}

// RegisterProtected binds the routes that need a verified token. The guards
// run per route because the public auth routes share the prefix.
func (h *AuthHandler) RegisterProtected(router fiber.Router, guards ...fiber.Handler) {
	router.Post("/logout", chain(guards, h.logout)...)
	router.Get("/session", chain(guards, h.session)...)
}

func (h *AuthHandler) signup(c *fiber.Ctx) error {
	var req dto.SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	resp, err := h.service.Signup(requestContext(c), req)
	if err != nil {
		return handleServiceError(c, h.logger, err, "signup")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "account created", resp)
}

func (h *AuthHandler) login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	resp, err := h.service.Login(requestContext(c), req)
	if err != nil {
		return handleServiceError(c, h.logger, err, "login")
	}

	return utils.SendSuccess(c, "signed in", resp)
}

func (h *AuthHandler) refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return handleServiceError(c, h.logger, err, "refresh")
	}

	resp, err := h.service.Refresh(requestContext(c), req.RefreshToken)
	if err != nil {
		return handleServiceError(c, h.logger, err, "refresh")
	}

	return utils.SendSuccess(c, "session refreshed", resp)
}

func (h *AuthHandler) providers(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "sign-in providers", h.service.Providers())
}

func (h *AuthHandler) socialRedirect(c *fiber.Ctx) error {
	provider := c.Params("provider")
	consentURL, err := h.service.SocialAuthURL(requestContext(c), provider)
	if err != nil {
		return handleServiceError(c, h.logger, err, "social redirect")
	}

	if strings.EqualFold(c.Query("redirect"), "false") {
		return utils.SendSuccess(c, "sign-in url", dto.SocialRedirectResponse{
			Provider: strings.ToLower(provider),
			URL:      consentURL,
		})
	}
	return c.Redirect(consentURL, fiber.StatusFound)
}

func (h *AuthHandler) socialCallback(c *fiber.Ctx) error {
	if reason := c.Query("error"); reason != "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "sign-in was cancelled")
	}

	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "code is required")
	}

	resp, err := h.service.SignInWithSocial(requestContext(c), c.Params("provider"), code, c.Query("state"))
	if err != nil {
		return handleServiceError(c, h.logger, err, "social callback")
	}

	status := fiber.StatusOK
	if resp.Created {
		status = fiber.StatusCreated
	}
	return utils.SendSuccessWithStatus(c, status, "signed in", resp)
}

func (h *AuthHandler) logout(c *fiber.Ctx) error {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		return unauthenticated(c)
	}

	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	if err := h.service.Logout(requestContext(c), claims, req.RefreshToken); err != nil {
		return handleServiceError(c, h.logger, err, "logout")
	}

	return utils.SendSuccess(c, "signed out", nil)
}

func (h *AuthHandler) session(c *fiber.Ctx) error {
	identity, ok := identityFromContext(c)
	if !ok {
		return unauthenticated(c)
	}
	return utils.SendSuccess(c, "session", identity)
}
