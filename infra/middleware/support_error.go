package middleware

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"support_server/pkg/apperr"
	"support_server/pkg/logger"
	"support_server/pkg/metrics"
	"support_server/pkg/telemetry"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	LocalRequestID  = "request_id"
	LocalOperatorID = "operator_id"
	LocalRole       = "role"
)

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler renders every handler error as an ErrorResponse. 5xx errors are reported to Sentry.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals(LocalRequestID).(string)
		ctx := c.UserContext()

		response := ErrorResponse{
			Success:   false,
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		var status int
		var appErr *apperr.AppError
		var fiberErr *fiber.Error

		switch {
		case errors.As(err, &appErr):
			status = appErr.HTTPStatus()
			response.Error = ErrorDetail{
				Code:    appErr.Code,
				Message: appErr.Message,
				Details: appErr.Details,
			}

			log := logger.WithContext(ctx).
				WithField("error_code", appErr.Code).
				WithError(appErr.Err)
			if status >= 500 {
				log.Error("Internal error: %s", appErr.Message)
				telemetry.CaptureError(ctx, err)
			} else {
				log.Warn("Client error: %s", appErr.Message)
			}

		case errors.As(err, &fiberErr):
			status = fiberErr.Code
			response.Error = ErrorDetail{
				Code:    mapHTTPStatusToCode(fiberErr.Code),
				Message: fiberErr.Message,
			}

		default:
			status = fiber.StatusInternalServerError
			response.Error = ErrorDetail{
				Code:    apperr.CodeInternalError,
				Message: "An unexpected error occurred",
			}
			logger.WithContext(ctx).WithError(err).
				WithField("stack", string(debug.Stack())).
				Error("Unexpected error: %s", err.Error())
			telemetry.CaptureError(ctx, err)
		}

		return c.Status(status).JSON(response)
	}
}

// RequestID assigns a request id and binds it, together with a Sentry hub, to the user context.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Locals(LocalRequestID, requestID)
		c.Set("X-Request-ID", requestID)

		ctx := logger.ContextWithRequestID(c.UserContext(), requestID)
		ctx = telemetry.WithHub(ctx, map[string]string{
			"request_id": requestID,
			"route":      c.Path(),
		})
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// RequestLogger logs incoming requests and their responses
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()
		if err != nil {
			// Let the error handler set the final status before logging it.
			if handlerErr := c.App().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		duration := time.Since(start)
		metrics.RecordLatency(c.Method()+" "+c.Route().Path, duration)

		status := c.Response().StatusCode()
		log := logger.WithContext(c.UserContext()).WithFields(map[string]any{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": float64(duration.Microseconds()) / 1000.0,
			"ip":          c.IP(),
		})
		if operatorID, ok := c.Locals(LocalOperatorID).(string); ok && operatorID != "" {
			log = log.WithField("operator_id", operatorID)
		}

		switch {
		case status >= 500:
			log.Error("Request failed: %s %s -> %d", c.Method(), c.Path(), status)
		case status >= 400:
			log.Warn("Request error: %s %s -> %d", c.Method(), c.Path(), status)
		default:
			log.Info("Request completed: %s %s -> %d", c.Method(), c.Path(), status)
		}
		return nil
	}
}

// Recover turns a handler panic into a 500 and reports it.
func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				ctx := c.UserContext()
				telemetry.Recover(ctx, r)
				logger.WithContext(ctx).WithFields(map[string]any{
					"panic":  fmt.Sprintf("%v", r),
					"path":   c.Path(),
					"method": c.Method(),
					"stack":  string(debug.Stack()),
				}).Error("Panic recovered")
				err = apperr.Internal("An unexpected error occurred")
			}
		}()
		return c.Next()
	}
}

func mapHTTPStatusToCode(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusUnprocessableEntity:
		return apperr.CodeBadRequest
	case fiber.StatusUnauthorized:
		return apperr.CodeUnauthorized
	case fiber.StatusForbidden:
		return apperr.CodeForbidden
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return apperr.CodeNotFound
	case fiber.StatusConflict:
		return apperr.CodeInvalidState
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	case fiber.StatusGatewayTimeout, fiber.StatusRequestTimeout:
		return apperr.CodeTimeout
	case fiber.StatusBadGateway, fiber.StatusServiceUnavailable:
		return apperr.CodeDependencyError
	default:
		if status >= 500 {
			return apperr.CodeInternalError
		}
		return apperr.CodeBadRequest
	}
}
