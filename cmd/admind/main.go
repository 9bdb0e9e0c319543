package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eradah-pmo/webvue-core-sub000/pkg/audit"
	"github.com/eradah-pmo/webvue-core-sub000/pkg/config"
	"github.com/eradah-pmo/webvue-core-sub000/pkg/departments"
	"github.com/eradah-pmo/webvue-core-sub000/pkg/observability"
	"github.com/eradah-pmo/webvue-core-sub000/pkg/rbac"
	"github.com/eradah-pmo/webvue-core-sub000/pkg/storage"
)

func main() {
	log := logrus.New()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	configureLogger(log, cfg)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("admind exited with error")
	}
}

func configureLogger(log *logrus.Logger, cfg *config.Config) {
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Run(ctx, db, "rbac_migrations", rbac.Migrations(), log); err != nil {
		return err
	}
	if err := storage.Run(ctx, db, "department_migrations", departments.Migrations(), log); err != nil {
		return err
	}
	if err := storage.Run(ctx, db, "audit_migrations", audit.Migrations(), log); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	rbacStore := rbac.NewStore(db)
	catalog := rbac.NewCatalog(db)

	resolver, redisClient, err := buildResolver(ctx, cfg, rbacStore, metrics)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	auditStore := audit.NewStore(db)
	recorder := audit.NewRecorder(auditStore, log, metrics, audit.RecorderOptions{
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
	})
	defer recorder.Close()

	roleService := rbac.NewService(rbacStore, catalog, resolver, recorder, log)

	if err := roleService.Seed(ctx); err != nil {
		return err
	}
	if _, err := roleService.PurgeDirectGrants(ctx); err != nil {
		return err
	}

	retention := audit.NewRetention(db, audit.RetentionPolicy{
		RetentionDays: cfg.Audit.RetentionDays,
	}, log, metrics)
	if err := retention.Start(cfg.Audit.CleanupCron); err != nil {
		return err
	}
	defer retention.Stop()

	router := mux.NewRouter()
	health := observability.NewHealthChecker(db, redisClient)
	router.Handle("/healthz", health.Handler()).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithField("addr", server.Addr).Info("admind listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func buildResolver(ctx context.Context, cfg *config.Config, store *rbac.Store, metrics *observability.Metrics) (rbac.Resolver, *redis.Client, error) {
	switch cfg.Cache.Backend {
	case "redis":
		client, err := storage.ConnectRedis(ctx, cfg.Cache)
		if err != nil {
			return nil, nil, err
		}
		backend := rbac.NewRedisBackend(client, cfg.Cache.TTL)
		return rbac.NewCachedResolver(store, backend, metrics), client, nil
	case "none":
		return rbac.NewStoreResolver(store), nil, nil
	default:
		backend := rbac.NewMemoryBackend(cfg.Cache.Size, cfg.Cache.TTL)
		return rbac.NewCachedResolver(store, backend, metrics), nil, nil
	}
}
