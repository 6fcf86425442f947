package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/bizledger-backend/internal/credentials"
	"github.com/angelmondragon/bizledger-backend/internal/maintenance"
	"github.com/angelmondragon/bizledger-backend/internal/tenancy"
	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/db"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"github.com/angelmondragon/bizledger-backend/pkg/metrics"
	"github.com/angelmondragon/bizledger-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "maintenance-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "maintenance-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "maintenance worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "maintenance worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	routerMetrics := metrics.NewRouterMetrics(prometheus.DefaultRegisterer)
	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		client, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	}

	routerParams := tenancy.RouterParams{
		Master:   cfg.MasterDB,
		TenantDB: cfg.TenantDB,
		Logger:   logg,
		Metrics:  routerMetrics,
	}
	if redisClient != nil {
		routerParams.RouteCache = redisClient
	}
	router := tenancy.NewRouter(routerParams)
	defer func() {
		if err := router.Close(); err != nil {
			logg.Error(context.Background(), "error closing database pools", err)
		}
	}()

	var sources []maintenance.TenantSource
	if cfg.MultiTenant() {
		if err := router.Initialize(ctx); err != nil {
			return err
		}
		master, err := router.Master()
		if err != nil {
			return err
		}
		sources = append(sources, credentials.NewRepository(master.DB()).ActiveTenantIDs)
	}
	if cfg.Legacy.Enabled {
		tenantID, err := cfg.Legacy.TenantUUID()
		if err != nil {
			return err
		}
		pool := cfg.TenantDB.PoolSettings()
		pool.Driver = cfg.Legacy.Driver
		client, err := db.Open(ctx, db.Options{Name: "legacy", DSN: cfg.Legacy.DSN, Pool: pool}, logg)
		if err != nil {
			return err
		}
		if err := router.RegisterStatic(tenantID, client); err != nil {
			_ = client.Close()
			return err
		}
		sources = append(sources, maintenance.StaticTenants(tenantID))
	}

	purge, err := maintenance.NewSessionPurgeJob(maintenance.SessionPurgeParams{
		Tenants: maintenance.CombineTenants(sources...),
		Router:  router,
		Logger:  logg,
		Metrics: jobMetrics,
	})
	if err != nil {
		return err
	}

	lock, err := newLock(cfg, redisClient)
	if err != nil {
		return err
	}

	jobs, err := maintenance.NewJobSet(purge)
	if err != nil {
		return err
	}
	service, err := maintenance.NewService(maintenance.ServiceParams{
		Logger:   logg,
		Jobs:     jobs,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Maintenance.Interval,
	})
	if err != nil {
		return err
	}

	// Tenant pools opened by a sweep are reclaimed by the same idle eviction
	// the API uses.
	go func() {
		if err := router.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "tenant pool eviction loop stopped", err)
		}
	}()

	logg.Info(logg.WithFields(ctx, map[string]any{
		"interval":     cfg.Maintenance.Interval.String(),
		"multi_tenant": cfg.MultiTenant(),
		"legacy":       cfg.Legacy.Enabled,
	}), "starting maintenance worker")
	return service.Run(ctx)
}

func newLock(cfg *config.Config, redisClient *redis.Client) (maintenance.Lock, error) {
	if redisClient == nil {
		return &maintenance.LocalLock{}, nil
	}
	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	return maintenance.NewRedisLock(redisClient, redisClient.LockKey(fmt.Sprintf("maintenance:%s", env)), cfg.Maintenance.LockTTL)
}
