package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/pkazmin/auth-rbac-service/internal/config"
	"github.com/pkazmin/auth-rbac-service/internal/health"
	"github.com/pkazmin/auth-rbac-service/internal/http/handler"
	"github.com/pkazmin/auth-rbac-service/internal/http/router"
	"github.com/pkazmin/auth-rbac-service/internal/observability"
	"github.com/pkazmin/auth-rbac-service/internal/repository"
	"github.com/pkazmin/auth-rbac-service/internal/security"
	"github.com/pkazmin/auth-rbac-service/internal/service"
)

// sweepInterval is how often inactive-but-expired sessions are reaped.
const sweepInterval = 15 * time.Minute

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime

	db       *gorm.DB
	redis    *redis.Client
	sessions *service.SessionService
}

// Build wires the full dependency graph from config: database, redis,
// repositories, services, handlers and the HTTP server.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := repository.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	permRepo := repository.NewPermissionRepository(db)

	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
	denylist := service.NewRedisDenylistCache(redisClient, cfg.DenylistKeyPrefix)

	abuseGuard := service.NewRedisAuthAbuseGuard(redisClient, "auth_abuse", service.AuthAbusePolicy{})

	authSvc := service.NewAuthService(jwtMgr, userRepo, sessionRepo, denylist, logger,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.MaxSessionsPerUser).
		WithAbuseGuard(abuseGuard)
	userSvc := service.NewUserService(userRepo, logger)
	groupSvc := service.NewGroupService(groupRepo)
	permSvc := service.NewPermissionService(permRepo)
	sessionSvc := service.NewSessionService(sessionRepo, logger)

	handlerDeps := router.Dependencies{
		AuthHandler:       handler.NewAuthHandler(authSvc, userSvc, sessionSvc),
		GroupHandler:      handler.NewGroupHandler(groupSvc),
		PermissionHandler: handler.NewPermissionHandler(permSvc),
		UserAdminHandler:  handler.NewUserAdminHandler(userSvc),
		JWTManager:        jwtMgr,
		Denylist:          denylist,
		Authorizer:        service.NewPermissionEvaluator(),
		Resolver:          service.NewFreshPermissionResolver(userRepo),
		CORSOrigins:       cfg.CORSOrigins,
		AuthRateLimitRPM:  cfg.AuthRateLimitRPM,
		APIRateLimitRPM:   cfg.APIRateLimitRPM,
		Readiness: health.NewProbeRunner(2*time.Second,
			health.DatabaseProbe(db),
			health.RedisProbe(redisClient),
		),
		EnableOTelHTTP: cfg.EnableOTelHTTP,
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(handlerDeps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		db:            db,
		redis:         redisClient,
		sessions:      sessionSvc,
	}, nil
}

// Run serves HTTP until the context is cancelled or a termination signal
// arrives, then drains in-flight requests and shuts dependencies down in
// reverse order of construction.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.sessions.SweepExpired()
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownHTTPDrainTimeout)
		defer cancel()
		return a.Server.Shutdown(drainCtx)
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()
	if cerr := a.close(shutdownCtx); cerr != nil {
		a.Logger.Error("shutdown cleanup failed", "error", cerr)
		if err == nil {
			err = cerr
		}
	}
	return err
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if a.Observability != nil {
		obsCtx, cancel := context.WithTimeout(ctx, a.Config.ShutdownObservabilityTimeout)
		defer cancel()
		if err := a.Observability.Shutdown(obsCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
