package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/eaglebank/bank-application/shared/middleware"
	"github.com/eaglebank/bank-application/shared/models"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

const (
	ViewIndex   = "home/index"
	ViewPrivacy = "home/privacy"
	ViewError   = "shared/error"
)

// AntiforgeryTokens issues the request token embedded in the home form.
type AntiforgeryTokens interface {
	GetAndStoreTokens(w http.ResponseWriter, r *http.Request) (string, error)
	FormFieldName() string
}

// ActivitySource exposes the tracing activity of the current request, if any.
type ActivitySource interface {
	CurrentActivityID(ctx context.Context) (string, bool)
}

// HomeHandler serves the home, privacy and error pages.
type HomeHandler struct {
	logger     *zap.Logger
	tokens     AntiforgeryTokens
	activities ActivitySource
}

func NewHomeHandler(logger *zap.Logger, tokens AntiforgeryTokens, activities ActivitySource) *HomeHandler {
	return &HomeHandler{
		logger:     logger.With(zap.String("component", "home_handler")),
		tokens:     tokens,
		activities: activities,
	}
}

func (h *HomeHandler) Index(c *gin.Context) {
	token, err := h.tokens.GetAndStoreTokens(c.Writer, c.Request)
	if err != nil {
		_ = c.Error(fmt.Errorf("issue antiforgery tokens: %w", err))
		c.Abort()
		return
	}

	c.HTML(http.StatusOK, ViewIndex, models.HomeView{
		AntiforgeryField: h.tokens.FormFieldName(),
		AntiforgeryToken: token,
	})
}

// Submit echoes the posted account back. Only form fields are read; other
// bodies leave both values empty. Nothing is stored.
func (h *HomeHandler) Submit(c *gin.Context) {
	var account models.BankAccount
	if err := c.ShouldBindWith(&account, binding.Form); err != nil {
		h.logger.Debug("form binding incomplete", zap.Error(err))
	}

	h.logger.Debug("account form submitted", zap.String("account_number", account.AccountNumber))

	c.String(http.StatusOK, "Account : %s has been updated with new Pin: %s", account.AccountNumber, account.Pin)
}

func (h *HomeHandler) Privacy(c *gin.Context) {
	c.HTML(http.StatusOK, ViewPrivacy, nil)
}

// Error renders the error page for a direct request.
func (h *HomeHandler) Error(c *gin.Context) {
	h.renderError(c, http.StatusOK)
}

// Exception renders the error page for a request that failed elsewhere.
func (h *HomeHandler) Exception(c *gin.Context) {
	h.renderError(c, http.StatusInternalServerError)
}

func (h *HomeHandler) renderError(c *gin.Context, status int) {
	middleware.ApplyCacheProfile(c.Writer.Header(), middleware.NoStoreProfile)
	c.HTML(status, ViewError, models.ErrorViewModel{RequestID: h.requestID(c)})
}

func (h *HomeHandler) requestID(c *gin.Context) string {
	if h.activities != nil {
		if id, ok := h.activities.CurrentActivityID(c.Request.Context()); ok {
			return id
		}
	}
	return middleware.GetRequestID(c)
}
