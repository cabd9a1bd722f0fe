package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/eaglebank/bank-application/shared/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PageStore is the storage behind OutputCache. redis.ViewCache satisfies it.
type PageStore interface {
	Get(ctx context.Context, key string) (*models.CachedPage, bool)
	Set(ctx context.Context, key string, page *models.CachedPage)
}

// OutputCache replays stored GET responses and stores fresh ones. Responses
// that set cookies or forbid storage are passed through untouched.
func OutputCache(store PageStore, keyPrefix string, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.With(zap.String("component", "output_cache"))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := keyPrefix + c.Request.URL.Path
		ctx := c.Request.Context()

		if page, ok := store.Get(ctx, key); ok {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, page.ContentType, page.Body)
			c.Abort()
			return
		}

		c.Header("X-Cache", "MISS")
		w := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()
		c.Writer = w.ResponseWriter

		if !cacheable(w) {
			return
		}
		store.Set(ctx, key, &models.CachedPage{
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		})
		logger.Debug("page stored", zap.String("key", key), zap.Int("bytes", w.body.Len()))
	}
}

func cacheable(w *capturingWriter) bool {
	if w.Status() != http.StatusOK || w.body.Len() == 0 {
		return false
	}
	h := w.Header()
	if h.Get("Set-Cookie") != "" {
		return false
	}
	return !strings.Contains(h.Get("Cache-Control"), "no-store")
}

type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
