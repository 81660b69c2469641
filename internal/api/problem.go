package api

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
)

// ProblemDetail is the error payload of every failed request. Error is only
// set on 500-class responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
	Instance string `json:"instance"`
}

func problemResponse(c *fiber.Ctx, status int, errType, title, message string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Message:  message,
		Instance: c.Path(),
	})
}

// writeError renders a classified error.
func writeError(c *fiber.Ctx, err error) error {
	status := perrors.HTTPStatus(err)
	p := ProblemDetail{
		Type:     string(perrors.KindOf(err)),
		Title:    http.StatusText(status),
		Status:   status,
		Message:  perrors.MessageOf(err),
		Instance: c.Path(),
	}
	if status >= fiber.StatusInternalServerError {
		p.Error = err.Error()
	}
	return c.Status(status).JSON(p)
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Int("status", code).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unhandled error")
		}

		message := err.Error()
		if code == fiber.StatusInternalServerError {
			message = "An internal error occurred"
		}
		if code == fiber.StatusRequestEntityTooLarge {
			message = "File too large."
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "http_error",
			Title:    http.StatusText(code),
			Status:   code,
			Message:  message,
			Instance: c.Path(),
		})
	}
}
