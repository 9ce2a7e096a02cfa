package http

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/observability"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger, metrics))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				domainErr := toHTTPError(err)
				metrics.RecordError(c.Route().Path, c.Method(), domainErr.Code)
				_ = writeError(c, domainErr)
				if domainErr.HTTPStatus >= 500 {
					logger.Error("request failed", zap.Error(domainErr))
				}
				err = nil
			}
		}()
		return c.Next()
	}
}

// ErrorHandler renders errors that escape the middleware chain, e.g. body
// limit violations raised by fasthttp before any handler runs.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		domainErr := toHTTPError(err)
		if domainErr.HTTPStatus >= 500 {
			logger.Error("unhandled error", zap.Error(domainErr))
		}
		return writeError(c, domainErr)
	}
}

func writeError(c *fiber.Ctx, domainErr *apperrors.DomainError) error {
	body := fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}
	if len(domainErr.Details) > 0 {
		body["details"] = domainErr.Details
	}
	return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{"error": body})
}

// toHTTPError extends ToDomainError with framework and context errors.
func toHTTPError(err error) *apperrors.DomainError {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fromFiberError(fiberErr)
	}
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) && errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewDomainError("TIMEOUT", "request timed out", http.StatusGatewayTimeout, nil)
	}
	return apperrors.ToDomainError(err)
}

func fromFiberError(fe *fiber.Error) *apperrors.DomainError {
	switch fe.Code {
	case http.StatusNotFound:
		return apperrors.NewDomainError(apperrors.CodeNotFound, fe.Message, fe.Code, nil)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.NewDomainError(apperrors.CodeValidation, fe.Message, http.StatusBadRequest, nil)
	}
	code := strings.ToUpper(strings.ReplaceAll(http.StatusText(fe.Code), " ", "_"))
	if code == "" {
		code = apperrors.CodeInternal
	}
	return apperrors.NewDomainError(code, fe.Message, fe.Code, nil)
}
