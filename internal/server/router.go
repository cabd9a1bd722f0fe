package server

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/eaglebank/bank-application/internal/assets"
	"github.com/eaglebank/bank-application/internal/config"
	"github.com/eaglebank/bank-application/internal/handler"
	"github.com/eaglebank/bank-application/internal/view"
	"github.com/eaglebank/bank-application/shared/middleware"
	"github.com/eaglebank/bank-application/shared/tracing"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const pageCachePrefix = "bankapp:page:"

// Antiforgery is what the router needs from the token manager.
type Antiforgery interface {
	handler.AntiforgeryTokens
	middleware.RequestValidator
}

type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Deps are the collaborators built by main. Nil optional fields switch the
// matching feature off.
type Deps struct {
	Logger      *zap.Logger
	Antiforgery Antiforgery
	Web         fs.FS

	Tracer    trace.Tracer
	Metrics   *middleware.HTTPMetrics
	Gatherer  prometheus.Gatherer
	PageStore middleware.PageStore
	Redis     HealthChecker
}

func NewRouter(cfg *config.Config, deps Deps) (*gin.Engine, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Antiforgery == nil {
		return nil, fmt.Errorf("antiforgery manager is required")
	}

	renderer, err := view.New(deps.Web)
	if err != nil {
		return nil, fmt.Errorf("load views: %w", err)
	}
	static, err := assets.New(deps.Web, !cfg.IsDev())
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.HTMLRender = renderer
	router.RedirectFixedPath = true

	home := handler.NewHomeHandler(deps.Logger, deps.Antiforgery, tracing.ActivitySource{})

	router.Use(middleware.RequestID())
	if deps.Tracer != nil {
		router.Use(middleware.Tracing(deps.Tracer))
	}
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(
		middleware.Recovery(cfg.IsDev(), deps.Logger, home.Exception),
		middleware.ExceptionHandler(cfg.IsDev(), deps.Logger, home.Exception),
	)

	router.GET("/health", healthHandler(cfg.ServiceName, deps.Redis))
	if deps.Metrics != nil && deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	static.Register(router)

	antiforgery := middleware.RequireAntiforgery(deps.Antiforgery, deps.Metrics)
	for _, p := range []string{"/", "/Home", "/Home/Index"} {
		router.GET(p, home.Index)
		router.HEAD(p, home.Index)
		router.POST(p, antiforgery, home.Submit)
	}

	privacy := []gin.HandlerFunc{home.Privacy}
	if deps.PageStore != nil {
		privacy = append([]gin.HandlerFunc{middleware.OutputCache(deps.PageStore, pageCachePrefix, deps.Logger)}, privacy...)
	}
	router.GET("/Home/Privacy", privacy...)
	router.HEAD("/Home/Privacy", home.Privacy)

	router.Any("/Home/Error", middleware.ResponseCache(middleware.NoStoreProfile), home.Error)

	return router, nil
}

func healthHandler(service string, redis HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok", "service": service}
		if redis == nil {
			c.JSON(http.StatusOK, body)
			return
		}
		if err := redis.Healthy(c.Request.Context()); err != nil {
			body["status"] = "degraded"
			body["redis"] = "down"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["redis"] = "up"
		c.JSON(http.StatusOK, body)
	}
}
