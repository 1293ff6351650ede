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

	"lms-platform/internal/audit"
	"lms-platform/internal/auth"
	"lms-platform/internal/config"
	"lms-platform/internal/guard"
	"lms-platform/internal/httpapi"
	"lms-platform/internal/metrics"
	"lms-platform/internal/rbac"
	"lms-platform/internal/session"
	"lms-platform/internal/users"
	"lms-platform/pkg/logger"
	"lms-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is optional; real deployments inject the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env load failed", "err", err)
	}

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

	if err := run(rootCtx, stop, cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, log *slog.Logger) error {
	tokens, err := auth.NewManager(cfg.Auth, rbac.RoleNames()...)
	if err != nil {
		return err
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		PingTimeout:     cfg.DB.PingTimeout,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	userStore := users.NewPostgresStore(db)
	refreshStore := session.NewPostgresRefreshStore(db)

	repos := []audit.Repository{audit.NewPostgresRepo(db)}
	var kw *kafka.Writer
	if len(cfg.Kafka.Brokers) > 0 {
		kw = audit.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		repos = append(repos, audit.NewKafkaRepo(kw))
	}
	auditSvc := audit.NewService(log, repos...)

	limiters, closeLimiters, err := buildLimiters(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiters()

	sessions, err := session.NewService(session.Deps{
		Users:           userStore,
		Refresh:         refreshStore,
		Tokens:          tokens,
		Audit:           auditSvc,
		Limiters:        limiters,
		Metrics:         m,
		Log:             log,
		RequireVerified: cfg.Auth.RequireVerified,
	})
	if err != nil {
		return err
	}

	g := guard.New(guard.Config{
		Authenticator: sessions,
		Users:         userStore,
		Audit:         auditSvc,
		Metrics:       m,
		Log:           log,
		Production:    cfg.IsProduction(),
	})

	h := httpapi.Handlers{
		Sessions: sessions,
		Tokens:   tokens,
		Versions: userStore,
		Logins:   auditSvc,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(m.Middleware())

	registerRoutes(r, routeDeps{
		cfg:      cfg,
		db:       db,
		metrics:  m,
		guard:    g,
		edge:     guard.NewEdgeGuard(guard.DefaultEdgeConfig(), tokens, m),
		handlers: h,
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
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "rate_limit_backend", cfg.RateLimit.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if kw != nil {
		if err := kw.Close(); err != nil {
			log.Error("kafka writer close failed", "err", err)
		}
	}
	return nil
}
