package middleware

import (
	"encoding/json"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"fundarb/internal/errors"
	"fundarb/internal/logger"
)

// ErrorHandler recovers from panics and renders them as AppError responses.
func ErrorHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		var err error

		if recovered != nil {
			logger.Error("Panic recovered",
				"error", recovered,
				"stack", string(debug.Stack()),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			err = errors.NewAppError(
				errors.ErrCodeInternal,
				"Internal server error",
				nil,
			).WithRequestID(GetRequestID(c))
		}

		handleError(c, err)
	})
}

// HandleError renders errors attached to the gin context after the handler
// chain has run.
func HandleError(c *gin.Context) {
	c.Next()

	if len(c.Errors) > 0 {
		err := c.Errors.Last().Err
		handleError(c, err)
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var appErr *errors.AppError
	if errors.IsAppError(err) {
		appErr = errors.GetAppError(err)
	} else {
		appErr = errors.WrapError(err, errors.ErrCodeInternal, "Internal server error")
	}

	if appErr.RequestID == "" {
		appErr = appErr.WithRequestID(GetRequestID(c))
	}

	logError(c, appErr)

	response := errors.NewErrorResponse(appErr, c.Request.URL.Path)

	c.Header("Content-Type", "application/json")
	c.JSON(appErr.HTTPStatus(), response)
	c.Abort()
}

func logError(c *gin.Context, err *errors.AppError) {
	fields := []interface{}{
		"error_code", err.Code,
		"message", err.Message,
		"severity", err.Severity,
		"request_id", err.RequestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"ip", c.ClientIP(),
	}

	if err.Details != "" {
		fields = append(fields, "details", err.Details)
	}

	if len(err.Context) > 0 {
		contextJSON, _ := json.Marshal(err.Context)
		fields = append(fields, "context", string(contextJSON))
	}

	if err.Cause != nil {
		fields = append(fields, "cause", err.Cause.Error())
	}

	switch err.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		logger.Error("Request failed", fields...)
	case errors.SeverityMedium:
		logger.Warn("Request failed", fields...)
	default:
		logger.Info("Request failed", fields...)
	}
}

// GetRequestID returns the request ID set by the RequestID middleware.
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(ContextKeyRequestID); exists {
		if rid, ok := requestID.(string); ok {
			return rid
		}
	}
	return c.GetHeader(HeaderRequestID)
}

// ValidationErrorHandler wraps binding failures as validation errors.
func ValidationErrorHandler(err error) *errors.AppError {
	if err == nil {
		return nil
	}

	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}

	return errors.NewAppError(
		errors.ErrCodeValidation,
		"Validation failed",
		err,
	)
}
