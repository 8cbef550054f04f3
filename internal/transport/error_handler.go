package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/email-dispatch/internal/domain"
	"github.com/kursadbilgin/email-dispatch/internal/observability"
	"go.uber.org/zap"
)

const internalErrorMessage = "internal server error"

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// DetailedError carries structured details into the error envelope.
type DetailedError struct {
	Err     error
	Details any
}

func (e *DetailedError) Error() string { return e.Err.Error() }

func (e *DetailedError) Unwrap() error { return e.Err }

func WithDetails(err error, details any) error {
	if err == nil {
		return nil
	}
	return &DetailedError{Err: err, Details: details}
}

// StatusFor maps an error to its HTTP status and envelope code.
func StatusFor(err error) (int, string) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, codeForStatus(fiberErr.Code)
	}

	switch code := domain.ErrorCode(err); code {
	case domain.CodeValidation:
		return fiber.StatusBadRequest, code
	case domain.CodeNotFound:
		return fiber.StatusNotFound, code
	case domain.CodeRateLimitExceeded:
		return fiber.StatusTooManyRequests, code
	case domain.CodeMaxRetriesExceeded, domain.CodeCircuitOpen:
		return fiber.StatusServiceUnavailable, code
	default:
		return fiber.StatusInternalServerError, domain.CodeInternal
	}
}

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		status, code := StatusFor(err)

		message := err.Error()
		if status >= fiber.StatusInternalServerError && code == domain.CodeInternal {
			message = internalErrorMessage
		}

		var details any
		var detailed *DetailedError
		if errors.As(err, &detailed) {
			details = detailed.Details
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.String("code", code),
			zap.Error(err),
		}
		reqLogger := observability.WithContextLogger(logger, c.UserContext())
		if status >= fiber.StatusInternalServerError {
			reqLogger.Error("request failed", fields...)
		} else {
			reqLogger.Warn("request rejected", fields...)
		}

		return c.Status(status).JSON(ErrorResponse{
			Error: ErrorBody{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return domain.CodeValidation
	case fiber.StatusNotFound:
		return domain.CodeNotFound
	case fiber.StatusTooManyRequests:
		return domain.CodeRateLimitExceeded
	case fiber.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	}
	if status >= fiber.StatusInternalServerError {
		return domain.CodeInternal
	}
	return "REQUEST_ERROR"
}
