package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"portfolio-cms/backend/internal/abuse"
	"portfolio-cms/backend/internal/audit"
	auditrepo "portfolio-cms/backend/internal/audit/repository"
	"portfolio-cms/backend/internal/config"
	"portfolio-cms/backend/internal/db"
	"portfolio-cms/backend/internal/httpapi"
	"portfolio-cms/backend/internal/httpapi/middleware"
	applog "portfolio-cms/backend/internal/logger"
	"portfolio-cms/backend/internal/ratelimit"
	"portfolio-cms/backend/internal/security"
	"portfolio-cms/backend/internal/server"
	sessiondomain "portfolio-cms/backend/internal/session/domain"
	sessionrepo "portfolio-cms/backend/internal/session/repository"
	"portfolio-cms/backend/internal/session/service"
	appotel "portfolio-cms/backend/internal/telemetry/otel"
	"portfolio-cms/backend/internal/twofactor"
	userrepo "portfolio-cms/backend/internal/user/repository"
)

const (
	serviceName     = "portfolio-cms"
	redisKeyPrefix  = "portfolio"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := applog.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	for _, key := range cfg.GeneratedSecrets {
		logger.Warn("secret not configured; using a random value for this process only", zap.String("key", key))
	}

	providers, err := appotel.NewProviders(ctx, appotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Insecure:    cfg.OTLPInsecure,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown", zap.Error(err))
		}
	}()

	enc, err := security.NewEncryptor(cfg.PasswordPepper, cfg.PBKDF2Iterations, security.WithBcryptCost(cfg.BcryptCost))
	if err != nil {
		return err
	}
	tokens := security.NewTokenProvider(cfg.JWTAccessSecret, cfg.JWTRefreshSecret,
		cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
	checks := map[string]httpapi.HealthCheck{}

	var (
		users  userrepo.Repository  = userrepo.NewMemoryRepository()
		events auditrepo.Repository = auditrepo.NewMemoryRepository()
	)
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func(conn *sql.DB) { _ = conn.Close() }(conn)
		users = userrepo.NewPostgresRepository(conn)
		events = auditrepo.NewPostgresRepository(conn)
		checks["database"] = conn.PingContext
	} else {
		logger.Warn("DATABASE_URL not set; users and security events are kept in memory")
	}

	var (
		sessionStore sessionrepo.Store      = sessionrepo.NewMemoryStore()
		pending      twofactor.PendingStore = twofactor.NewMemoryPendingStore()
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()
		sessionStore = sessionrepo.NewRedisStore(client, redisKeyPrefix, cfg.RefreshTTL(), cfg.RefreshTTL(), cfg.Grace())
		pending = twofactor.NewRedisPendingStore(client, redisKeyPrefix)
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	} else {
		logger.Warn("REDIS_URL not set; sessions are kept in memory and lost on restart")
	}

	sessions := service.NewService(sessionStore, tokens, logger, service.Options{
		DeviceVerification: sessiondomain.ParseDeviceVerification(cfg.DeviceVerification),
		CleanupInterval:    cfg.CleanupInterval(),
		Grace:              cfg.Grace(),
	})
	twoFactor := twofactor.NewService(enc, pending, users, sessions, logger, twofactor.Config{
		Issuer:          cfg.TOTPIssuer,
		Window:          uint(cfg.TOTPWindow),
		BackupCodeCount: cfg.BackupCodeCount,
	})

	policy := ""
	if cfg.AbusePolicyFile != "" {
		if policy, err = abuse.LoadPolicyFile(cfg.AbusePolicyFile); err != nil {
			return err
		}
	}
	checker, err := abuse.NewChecker(ctx, abuse.Lists{
		IPBlacklist:       cfg.IPBlacklistList(),
		BlockedCountries:  cfg.BlockedCountriesList(),
		BlockedUserAgents: cfg.BlockedUserAgentsList(),
	}, policy, logger)
	if err != nil {
		return err
	}
	checks["policy"] = checker.HealthCheck

	auditLogger := audit.NewLogger(logger,
		audit.WithRepository(events),
		audit.WithEmitter(appotel.NewEventEmitter(providers.LoggerProvider)),
		audit.WithMeter(providers.MeterProvider.Meter(serviceName+"/audit")),
	)
	defer auditLogger.Wait()

	handler := httpapi.NewHandler(httpapi.Deps{
		Sessions:  sessions,
		TwoFactor: twoFactor,
		Users:     users,
		Passwords: enc,
		Events:    auditLogger,
		Logger:    logger,
		Checks:    checks,
	})
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{
		Auth: middleware.NewAuthenticator(sessions, checker, auditLogger, logger, middleware.AuthOptions{
			StrictIP:      cfg.StrictIPValidation,
			HoneypotField: cfg.HoneypotField,
		}),
		LoginLimiter: ratelimit.New(ratelimit.Rule{Requests: cfg.RateLimitLogin, Window: cfg.LoginWindow()}, 0),
		APILimiter:   ratelimit.New(ratelimit.Rule{Requests: cfg.RateLimitAPI, Window: cfg.APIWindow()}, 0),
		Events:       auditLogger,
		Logger:       logger,
		ServiceName:  serviceName,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthSrv := health.NewServer()
	var (
		grpcLis net.Listener
		grpcSrv *grpc.Server
	)
	if cfg.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return err
		}
		grpcSrv = server.NewServer(server.Deps{
			Sessions: sessions,
			Events:   auditLogger,
			Logger:   logger,
			Health:   healthSrv,
			Checker:  checker,
			StrictIP: cfg.StrictIPValidation,
		})
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		sessions.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		twoFactor.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if grpcLis != nil {
		eg.Go(func() error {
			logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			return grpcSrv.Serve(grpcLis)
		})
		eg.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down gRPC server...")
			healthSrv.Shutdown()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	return eg.Wait()
}
