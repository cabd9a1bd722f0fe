package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eaglebank/bank-application/internal/config"
	"github.com/eaglebank/bank-application/internal/server"
	"github.com/eaglebank/bank-application/shared/antiforgery"
	"github.com/eaglebank/bank-application/shared/middleware"
	"github.com/eaglebank/bank-application/shared/models"
	redisClient "github.com/eaglebank/bank-application/shared/redis"
	"github.com/eaglebank/bank-application/shared/tracing"
	"github.com/eaglebank/bank-application/web"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

func main() {
	app := &cli.App{
		Name:  "bankapp",
		Usage: "Bank Application web front",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "bankapp.yml",
				Usage:   "path to the YAML config file",
				EnvVars: []string{"BANKAPP_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "env", Usage: "dev or prod, overrides the config"},
					&cli.StringFlag{Name: "port", Usage: "listen port, overrides the config"},
				},
				Action: serve,
			},
			{
				Name:   "config",
				Usage:  "Validate the config and print the effective values",
				Action: printConfig,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("env") {
		cfg.Env = c.String("env")
	}
	if c.IsSet("port") {
		cfg.Port = c.String("port")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printConfig(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(out)
	return err
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	manager, err := antiforgery.NewManager(antiforgery.Options{
		Secret: cfg.AntiforgerySecret,
		Secure: cfg.SecureCookies,
	}, logger)
	if err != nil {
		return err
	}

	deps := server.Deps{
		Logger:      logger,
		Antiforgery: manager,
		Web:         web.FS,
	}

	if cfg.TracingEnabled {
		tp := tracing.NewTracerProvider(cfg.ServiceName, tracing.NewLogExporter(logger))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("tracer provider shutdown", zap.Error(err))
			}
		}()
		deps.Tracer = tp.Tracer("github.com/eaglebank/bank-application")
	}

	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		deps.Metrics = middleware.NewHTTPMetrics(reg)
		deps.Gatherer = reg
	}

	if cfg.RedisAddr != "" {
		redis, err := redisClient.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer redis.Close()
		deps.Redis = redis
		deps.PageStore = redisClient.NewViewCache[models.CachedPage](redis.Client, cfg.PageCacheTTL, logger)
		logger.Info("page cache enabled", zap.String("redis_addr", cfg.RedisAddr), zap.Duration("ttl", cfg.PageCacheTTL))
	}

	router, err := server.NewRouter(cfg, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("bank application starting",
		zap.String("env", cfg.Env),
		zap.String("addr", cfg.Addr()),
		zap.Bool("tracing", cfg.TracingEnabled),
		zap.Bool("metrics", cfg.MetricsEnabled),
	)
	return server.Run(ctx, cfg.Addr(), router, cfg.ShutdownTimeout, logger)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.IsDev() {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", cfg.ServiceName)), nil
}
