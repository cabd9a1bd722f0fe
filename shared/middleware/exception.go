package middleware

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ExceptionHandler turns errors left on the context by later handlers into a
// 500 response. In dev the details are written as plain text; otherwise
// fallback renders the error page. Nothing happens once a response has been
// written.
func ExceptionHandler(dev bool, logger *zap.Logger, fallback gin.HandlerFunc) gin.HandlerFunc {
	logger = logger.With(zap.String("component", "exceptions"))
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		handleException(c, dev, logger, fallback)
	}
}

// Recovery converts panics into the same path as ExceptionHandler.
func Recovery(dev bool, logger *zap.Logger, fallback gin.HandlerFunc) gin.HandlerFunc {
	logger = logger.With(zap.String("component", "exceptions"))
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		_ = c.Error(fmt.Errorf("panic: %v", recovered))
		if c.Writer.Written() {
			logger.Error("panic after response started", zap.Any("panic", recovered), zap.String("request_id", GetRequestID(c)))
			c.Abort()
			return
		}
		handleException(c, dev, logger, fallback)
		c.Abort()
	})
}

func handleException(c *gin.Context, dev bool, logger *zap.Logger, fallback gin.HandlerFunc) {
	logger.Error("unhandled request error",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", GetRequestID(c)),
		zap.String("errors", c.Errors.String()),
	)

	if dev {
		ApplyCacheProfile(c.Writer.Header(), NoStoreProfile)
		c.String(http.StatusInternalServerError,
			"An unhandled exception occurred while processing the request.\n\nRequest ID: %s\n\n%s",
			GetRequestID(c), c.Errors.String())
		return
	}

	fallback(c)
	if !c.Writer.Written() {
		c.String(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}
