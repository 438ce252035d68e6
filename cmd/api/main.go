package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"phonescreen-console/internal/audit"
	"phonescreen-console/internal/callstore"
	"phonescreen-console/internal/config"
	"phonescreen-console/internal/events"
	"phonescreen-console/internal/httpapi"
	"phonescreen-console/internal/metrics"
	"phonescreen-console/internal/reconcile"
	"phonescreen-console/internal/reporting"
	"phonescreen-console/internal/summary"
	"phonescreen-console/internal/telephony"
	"phonescreen-console/pkg/logger"
	"phonescreen-console/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.Registry(cfg.Metrics.Namespace)

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		redisCfg := utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		if cfg.Redis.URL != "" {
			if redisCfg, err = utils.RedisConfigFromURL(cfg.Redis.URL); err != nil {
				log.Error("redis url invalid", "err", err)
				os.Exit(1)
			}
		}
		rdb, err = utils.OpenRedis(rootCtx, redisCfg)
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	store, checks, closeStore, err := openStore(rootCtx, cfg, rdb)
	if err != nil {
		log.Error("call store init failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	var broker events.Broker
	switch cfg.Events.Backend {
	case "redis":
		broker = events.NewRedisBus(rdb, cfg.Events.Channel, log)
	default:
		broker = events.NewBus()
	}
	notifying := callstore.NewNotifying(store, broker, log, m)

	gateway := telephony.NewVapiGateway(telephony.VapiConfig{
		BaseURL:       cfg.Vapi.BaseURL,
		APIKey:        cfg.Vapi.APIKey,
		AssistantID:   cfg.Vapi.AssistantID,
		PhoneNumberID: cfg.Vapi.PhoneNumberID,
		Timeout:       cfg.Reconcile.ProviderTimeout,
		Persona: telephony.Persona{
			FirstMessage:  cfg.Vapi.FirstMessage,
			SystemPrompt:  cfg.Vapi.SystemPrompt,
			ModelProvider: cfg.Vapi.ModelProvider,
			Model:         cfg.Vapi.Model,
		},
	}, log, m)

	generator := summary.NewGenerator(summary.Config{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		BaseURL: cfg.OpenAI.BaseURL,
		Timeout: cfg.Reconcile.ProviderTimeout,
	}, log, m)

	auditSvc := audit.NewService(audit.NewMemoryRepo(10000), log)

	driver := reconcile.NewDriver(notifying, gateway, generator, auditSvc, log, m, reconcile.Config{
		Tick:          cfg.Reconcile.Tick,
		FetchDelay:    cfg.Reconcile.FetchDelay,
		RemoteTimeout: cfg.Reconcile.ProviderTimeout,
	})

	stats := reporting.NewStatsView(reporting.NewService(notifying), broker, log)
	go stats.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Gateway:    gateway,
		Summarizer: generator,
		Store:      notifying,
		Driver:     driver,
		Stats:      stats,
		Audit:      auditSvc,
		Checks:     checks,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Summaries and provider calls can take a while.
		WriteTimeout: cfg.Reconcile.ProviderTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Backend, "events", cfg.Events.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := driver.Shutdown(shutdownCtx); err != nil {
		log.Error("driver shutdown failed", "err", err)
	}
}
