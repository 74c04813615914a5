package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/modelmux/modelmux/common/client"
	"github.com/modelmux/modelmux/common/config"
	"github.com/modelmux/modelmux/common/logger"
	"github.com/modelmux/modelmux/common/metrics"
	"github.com/modelmux/modelmux/model"
	"github.com/modelmux/modelmux/relay/adaptor"
	"github.com/modelmux/modelmux/relay/adaptor/anthropic"
	"github.com/modelmux/modelmux/relay/adaptor/deepseek"
	"github.com/modelmux/modelmux/relay/adaptor/elevenlabs"
	"github.com/modelmux/modelmux/relay/adaptor/gemini"
	"github.com/modelmux/modelmux/relay/adaptor/groq"
	"github.com/modelmux/modelmux/relay/adaptor/ollama"
	"github.com/modelmux/modelmux/relay/adaptor/openai"
	"github.com/modelmux/modelmux/relay/audit"
	"github.com/modelmux/modelmux/relay/cache"
	relaycontroller "github.com/modelmux/modelmux/relay/controller"
	"github.com/modelmux/modelmux/relay/keymgr"
	"github.com/modelmux/modelmux/relay/quota"
	"github.com/modelmux/modelmux/relay/registry"
	"github.com/modelmux/modelmux/router"
)

func main() {
	config.LoadConfig()
	client.Init()

	providers, err := config.LoadProviders()
	if err != nil {
		logger.Logger.Fatal("load provider configuration", zap.Error(err))
	}
	if len(providers) == 0 {
		logger.Logger.Fatal("no providers configured")
	}

	if config.SQLDSN != "" {
		if err := model.InitDB(config.SQLDSN); err != nil {
			logger.Logger.Fatal("initialize database", zap.Error(err))
		}
	}

	respCache := buildCache()
	quotaMgr := buildQuota()
	auditLog := buildAudit()
	setupMetrics()

	keys := keymgr.New()
	reg := registry.New()
	reg.SetFallbackOrder(config.FallbackOrder)

	deps := adaptor.Dependencies{
		Cache: respCache,
		Quota: quotaMgr,
		Audit: auditLog,
		Keys:  keys,
	}
	for _, cfg := range providers {
		codec := codecFor(cfg.Name)
		if codec == nil {
			logger.Logger.Warn("skipping unknown provider", zap.String("provider", cfg.Name))
			continue
		}
		keys.Register(codec.Name(), cfg.APIKey)
		reg.Register(adaptor.NewBase(codec, cfg, deps))
		logger.Logger.Info("registered provider",
			zap.String("provider", codec.Name()),
			zap.Int("priority", cfg.Priority),
			zap.Bool("enabled", cfg.IsEnabled))
	}

	orch := relaycontroller.New(reg, quotaMgr)

	if !config.DebugEnabled {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	router.SetRouter(engine, orch)

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Logger.Info("server listening", zap.String("port", config.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Logger.Error("server exited", zap.Error(err))
	}
	auditLog.Close()
	logger.Logger.Info("shutdown complete")
}

func buildCache() cache.Cache {
	if !config.EnableCaching {
		return cache.NullCache{}
	}
	if config.RedisConnString != "" {
		rc, err := cache.NewRedisCache(config.RedisConnString)
		if err != nil {
			logger.Logger.Warn("redis unavailable, using in-memory cache", zap.Error(err))
			return cache.NewMemoryCache()
		}
		logger.Logger.Info("using redis response cache")
		return rc
	}
	return cache.NewMemoryCache()
}

func buildQuota() quota.Manager {
	if !config.EnableQuotaManagement {
		return quota.NullManager{}
	}
	cfg, err := quota.ParseConfig([]byte(config.QuotaLimitsJSON))
	if err != nil {
		logger.Logger.Fatal("parse quota limits", zap.Error(err))
	}
	if model.DB != nil {
		logger.Logger.Info("using sql quota manager")
		return quota.NewSqlManager(cfg)
	}
	return quota.NewMemoryManager(cfg)
}

func buildAudit() audit.Logger {
	if !config.EnableAuditLogging || model.DB == nil {
		return audit.NullLogger{}
	}
	return audit.NewSqlLogger()
}

func setupMetrics() {
	var recorders []metrics.Recorder
	if config.EnablePrometheusMetrics {
		recorders = append(recorders, metrics.NewPrometheusRecorder())
	}
	if config.EnableMetricsCollection && model.DB != nil {
		recorders = append(recorders, metrics.NewSqlRecorder())
	}
	switch len(recorders) {
	case 0:
	case 1:
		metrics.GlobalRecorder = recorders[0]
	default:
		metrics.GlobalRecorder = &metrics.MultiRecorder{Recorders: recorders}
	}
}

func codecFor(name string) adaptor.Codec {
	switch strings.ToLower(name) {
	case "openai":
		return openai.NewCodec()
	case "anthropic", "claude":
		return anthropic.NewCodec()
	case "gemini", "google":
		return gemini.NewCodec()
	case "groq":
		return groq.NewCodec()
	case "deepseek":
		return deepseek.NewCodec()
	case "ollama":
		return ollama.NewCodec()
	case "elevenlabs":
		return elevenlabs.NewCodec()
	}
	return nil
}
