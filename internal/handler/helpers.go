package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/middleware"
	"github.com/noah-isme/unigigs-api/internal/service"
	"github.com/noah-isme/unigigs-api/internal/utils"
)

const internalErrorMessage = "internal server error"

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func identityFromContext(c *fiber.Ctx) (dto.Identity, bool) {
	return middleware.IdentityFromContext(c)
}

// requestContext returns the request context carrying the request trace.
func requestContext(c *fiber.Ctx) context.Context {
	return middleware.WithTrace(c.UserContext(), middleware.RequestTrace(c))
}

// detachedContext carries the request trace without the request's lifetime,
// for streams that keep running after the handler returns.
func detachedContext(c *fiber.Ctx) context.Context {
	return middleware.WithTrace(context.Background(), middleware.RequestTrace(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := middleware.RequestTrace(c).Logger(base)
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

// validationDetails lists the failing fields of a validator error.
func validationDetails(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
	}
	return details
}

// statusFor maps a service error category onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation), isValidationError(err):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrAuth):
		return fiber.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// handleServiceError writes the envelope for err. Internal failures are logged
// and answered with a generic message.
func handleServiceError(c *fiber.Ctx, logger zerolog.Logger, err error, action string) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		requestLogger(logger, c).Error().Err(err).Str("action", action).Msg("request failed")
		return utils.SendError(c, status, internalErrorMessage)
	}
	var details interface{}
	if fields := validationDetails(err); len(fields) > 0 {
		details = fields
	}
	return utils.Fail(c, status, err.Error(), details)
}

// chain returns guards followed by final in a fresh slice.
func chain(guards []fiber.Handler, final fiber.Handler) []fiber.Handler {
	handlers := make([]fiber.Handler, 0, len(guards)+1)
	handlers = append(handlers, guards...)
	return append(handlers, final)
}

func unauthenticated(c *fiber.Ctx) error {
	return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
}
