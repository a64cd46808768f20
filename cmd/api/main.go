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

	"dialdesk/internal/auth"
	"dialdesk/internal/billing"
	"dialdesk/internal/calls"
	"dialdesk/internal/config"
	"dialdesk/internal/crm"
	"dialdesk/internal/httpapi"
	"dialdesk/internal/realtime"
	"dialdesk/internal/users"
	"dialdesk/internal/voice"
	"dialdesk/pkg/logger"
	"dialdesk/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	oauth := auth.NewOAuth(cfg.OAuth, rdb)
	userRepo := users.NewRepo(db)

	hub := realtime.NewHub(log)
	go hub.Run(rootCtx)

	syncer := crm.NewSyncer(crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.APIKey), log)
	go syncer.Run(rootCtx)

	voiceClient := voice.NewClient(cfg.Voice)

	callLog := calls.NewLogRepo(db)

	callService := calls.NewService(calls.ServiceDeps{
		Registry:  calls.NewRegistry(),
		Provider:  voiceClient,
		Logs:      callLog,
		Broadcast: hub,
		CRM:       syncer,
		Policy:    calls.InboundControlPolicy(cfg.Calls.InboundControlPolicy),
		Logger:    log,
	})

	billingService := billing.NewService(billing.ServiceDeps{
		Store: billing.NewRepo(db),
		Provider: billing.NewClient(billing.ClientConfig{
			BaseURL:    cfg.Billing.BaseURL,
			SecretKey:  cfg.Billing.APIKey,
			SuccessURL: cfg.Billing.SuccessURL,
			CancelURL:  cfg.Billing.CancelURL,
		}),
		Redis:  rdb,
		Notify: syncer,
		Logger: log,
	})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:  cfg,
		db:   db,
		auth: authManager,
		hub:  hub,
		handlers: httpapi.Handlers{
			Auth:    authManager,
			OAuth:   oauth,
			Users:   userRepo,
			Calls:   callService,
			CallLog: callLog,
			Billing: billingService,
			CRM:     syncer,

			Production: cfg.IsProduction(),
		},
		webhooks: httpapi.Webhooks{
			Calls:   callService,
			Billing: billingService,
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
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
}
