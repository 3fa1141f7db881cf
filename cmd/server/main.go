// Command caregate-server starts the caregate HTTP and gRPC APIs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/caregate/internal/config"
	pkgcrypto "github.com/and161185/caregate/internal/crypto"
	"github.com/and161185/caregate/internal/gate"
	"github.com/and161185/caregate/internal/limiter"
	"github.com/and161185/caregate/internal/metrics"
	"github.com/and161185/caregate/internal/migrate"
	"github.com/and161185/caregate/internal/repository"
	"github.com/and161185/caregate/internal/repository/memory"
	"github.com/and161185/caregate/internal/repository/postgres"
	"github.com/and161185/caregate/internal/rpc"
	grpcserver "github.com/and161185/caregate/internal/server/grpc"
	httpserver "github.com/and161185/caregate/internal/server/http"
	"github.com/and161185/caregate/internal/service"
	"github.com/and161185/caregate/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("store", cfg.Store),
		zap.String("limiter", cfg.Limiter),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

type stores struct {
	identities repository.IdentityRepository
	apps       repository.ApplicationRepository
	pinger     httpserver.Pinger
	pg         *postgres.DB
	close      func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		m := memory.New()
		return &stores{identities: m.Identities(), apps: m.Applications(), close: func() {}}, nil
	}
	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &stores{
		identities: postgres.NewIdentityRepo(db),
		apps:       postgres.NewApplicationRepo(db),
		pinger:     db,
		pg:         db,
		close:      db.Close,
	}, nil
}

func openLimiter(ctx context.Context, cfg *config.Config, st *stores) (limiter.Limiter, func(), error) {
	policy := limiter.Policy{MaxFails: cfg.LoginMaxFails, Window: cfg.LoginWindow, BlockFor: cfg.LoginBlock}
	switch cfg.Limiter {
	case config.LimiterPostgres:
		return limiter.NewPG(st.pg.Pool, policy), func() {}, nil
	case config.LimiterRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return limiter.NewRedis(rdb, policy, ""), func() { _ = rdb.Close() }, nil
	default:
		return limiter.Noop{}, func() {}, nil
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	lim, closeLim, err := openLimiter(ctx, cfg, st)
	if err != nil {
		return err
	}
	defer closeLim()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	tokens, err := token.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL, token.WithIssuer(cfg.Issuer))
	if err != nil {
		return err
	}

	opts := []service.Option{service.WithLogger(logger), service.WithRecorder(rec)}
	if cfg.GoogleEnabled() {
		gv, err := token.NewGoogleVerifier(ctx, cfg.GoogleClientID, cfg.GoogleJWKSURL, logger)
		if err != nil {
			return err
		}
		defer gv.Close()
		opts = append(opts, service.WithFederatedVerifier(gv))
	}

	authSvc, err := service.NewAuthService(st.identities, tokens, pkgcrypto.NewHasher(pkgcrypto.DefaultParams), lim, opts...)
	if err != nil {
		return err
	}
	appSvc := service.NewApplicationService(st.apps, opts...)

	if cfg.AdminEmail != "" {
		admin, err := authSvc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		logger.Info("admin ready", zap.String("identity_id", admin.ID.String()))
	}

	g := gate.New(tokens, st.identities, rec, logger)

	var authLimiter *httpserver.IPRateLimiter
	if cfg.RateLimitRPS > 0 {
		authLimiter = httpserver.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute)
		defer authLimiter.Stop()
	}

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpserver.NewRouter(httpserver.Deps{
			Auth:         authSvc,
			Applications: appSvc,
			Gate:         g,
			Pinger:       st.pinger,
			Gatherer:     reg,
			AuthLimiter:  authLimiter,
			Recorder:     rec,
			Log:          logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC server with interceptors
	var serverOpts []grpc.ServerOption
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(
		grpcserver.RecoverUnary(logger),
		grpcserver.LoggingUnary(logger),
		grpcserver.MetricsUnary(rec),
		grpcserver.AuthUnary(g, rpc.PublicMethods),
	))
	grpcSrv := grpc.NewServer(serverOpts...)
	rpc.RegisterCaregateServer(grpcSrv, grpcserver.New(authSvc, appSvc))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	if cfg.Dev {
		reflection.Register(grpcSrv)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("tls", cfg.TLSEnabled()))
		var err error
		if cfg.TLSEnabled() {
			err = httpSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLSEnabled()))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	// graceful shutdown
	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	return runErr
}
