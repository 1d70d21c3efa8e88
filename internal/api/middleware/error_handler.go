// Package middleware provides HTTP middleware for the clearing house API.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "datahub.migas.id/clearinghouse/internal/pkg/errors"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
)

// ErrorHandler renders the last error added via c.Error() as a JSON body.
// AppErrors keep their status and code; anything else becomes a 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		rid := GetRequestID(c.Request.Context())

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			fields := []zap.Field{
				zap.String("code", appErr.Code),
				zap.String("message", appErr.Message),
				zap.Int("status", appErr.HTTPStatus),
				zap.String("request_id", rid),
				zap.String("route", c.FullPath()),
			}
			if appErr.Err != nil {
				fields = append(fields, zap.Error(appErr.Err))
			}
			if appErr.HTTPStatus >= http.StatusInternalServerError {
				logger.Error("Request failed", fields...)
			} else {
				logger.Warn("Request error", fields...)
			}

			body := gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			}
			if len(appErr.Params) > 0 {
				body["params"] = appErr.Params
			}
			if rid != "" {
				body["request_id"] = rid
			}
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		logger.Error("Unhandled request error",
			zap.Error(err),
			zap.String("request_id", rid),
			zap.String("route", c.FullPath()),
		)
		body := gin.H{
			"code":    apperrors.CodeInternal,
			"message": "An internal error occurred",
		}
		if rid != "" {
			body["request_id"] = rid
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}
