package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/bizledger-backend/api/controllers"
	"github.com/angelmondragon/bizledger-backend/api/routes"
	"github.com/angelmondragon/bizledger-backend/internal/auth"
	"github.com/angelmondragon/bizledger-backend/internal/credentials"
	"github.com/angelmondragon/bizledger-backend/internal/permissions"
	"github.com/angelmondragon/bizledger-backend/internal/tenancy"
	pkgauth "github.com/angelmondragon/bizledger-backend/pkg/auth"
	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/db"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"github.com/angelmondragon/bizledger-backend/pkg/metrics"
	"github.com/angelmondragon/bizledger-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	routerMetrics := metrics.NewRouterMetrics(registry)
	authMetrics := metrics.NewAuthMetrics(registry)

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

	readiness := []controllers.ReadinessCheck{}
	serviceParams := auth.ServiceParams{
		Router:   router,
		Resolver: permissions.NewResolver(),
		Legacy:   cfg.Legacy,
		Logger:   logg,
		Metrics:  authMetrics,
	}

	if cfg.MultiTenant() {
		if err := router.Initialize(ctx); err != nil {
			return err
		}
		master, err := router.Master()
		if err != nil {
			return err
		}
		store, err := credentials.NewStore(credentials.StoreParams{
			Repo:     credentials.NewRepository(master.DB()),
			Lockout:  cfg.Lockout,
			Password: cfg.Password,
			Logger:   logg,
		})
		if err != nil {
			return err
		}
		serviceParams.Credentials = store
		readiness = append(readiness, controllers.ReadinessCheck{Name: "master_db", Ping: master.Ping})
	}

	if cfg.Legacy.Enabled {
		legacy, err := openLegacy(ctx, cfg, logg, router)
		if err != nil {
			return err
		}
		readiness = append(readiness, controllers.ReadinessCheck{Name: "legacy_db", Ping: legacy.Ping})
	}
	if redisClient != nil {
		readiness = append(readiness, controllers.ReadinessCheck{Name: "redis", Ping: redisClient.Ping})
	}

	codec, err := pkgauth.NewCodec(cfg.JWT)
	if err != nil {
		return err
	}
	serviceParams.Codec = codec

	authService, err := auth.NewService(serviceParams)
	if err != nil {
		return err
	}
	authenticator, err := auth.NewAuthenticator(auth.AuthenticatorParams{
		Codec:   codec,
		Router:  router,
		Legacy:  cfg.Legacy,
		Logger:  logg,
		Metrics: authMetrics,
	})
	if err != nil {
		return err
	}

	deps := routes.Dependencies{
		Config:        cfg,
		Logger:        logg,
		AuthService:   authService,
		Authenticator: authenticator,
		Resolver:      serviceParams.Resolver,
		Readiness:     readiness,
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}
	if redisClient != nil {
		deps.RateLimitStore = redisClient
	}

	go func() {
		if err := router.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "tenant pool eviction loop stopped", err)
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"multi_tenant": cfg.MultiTenant(),
		"legacy":       cfg.Legacy.Enabled,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(deps),
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openLegacy pins the single-tenant database under the configured tenant id.
func openLegacy(ctx context.Context, cfg *config.Config, logg *logger.Logger, router *tenancy.Router) (*db.Client, error) {
	tenantID, err := cfg.Legacy.TenantUUID()
	if err != nil {
		return nil, err
	}
	pool := cfg.TenantDB.PoolSettings()
	pool.Driver = cfg.Legacy.Driver
	client, err := db.Open(ctx, db.Options{Name: "legacy", DSN: cfg.Legacy.DSN, Pool: pool}, logg)
	if err != nil {
		return nil, err
	}
	if err := router.RegisterStatic(tenantID, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
