package middleware

import (
	"net/http"

	"github.com/eaglebank/bank-application/shared/antiforgery"
	"github.com/gin-gonic/gin"
)

// RequestValidator accepts or rejects an unsafe request before its handler runs.
type RequestValidator interface {
	Validate(r *http.Request) error
}

// RequireAntiforgery rejects requests whose anti-forgery tokens do not check
// out. metrics may be nil.
func RequireAntiforgery(v RequestValidator, metrics *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.Validate(c.Request); err != nil {
			metrics.AntiforgeryRejected(antiforgery.Reason(err))
			_ = c.Error(err).SetType(gin.ErrorTypePublic)
			RespondWithError(c, http.StatusBadRequest, "The antiforgery token could not be validated")
			c.Abort()
			return
		}
		c.Next()
	}
}
