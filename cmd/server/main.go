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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logger"
	"github.com/rl1809/storefront/internal/port"
	"github.com/rl1809/storefront/internal/seed"
	"github.com/rl1809/storefront/internal/telemetry"
)

type productStore interface {
	port.ProductRepository
	Seed(ctx context.Context, products []domain.Product) error
}

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{
		Development: cfg.IsDevelopment(),
		Level:       cfg.Logger.Level,
		Encoding:    cfg.Logger.Encoding,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Store.Seed {
		products := seed.Products(seed.DefaultCount, uint64(time.Now().UnixNano()))
		if err := store.Seed(ctx, products); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		log.Info("seeded products", zap.Int("count", len(products)))
	}

	checks := []handler.Pinger{store}

	var idempotency port.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: 100,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		redisAdapter := storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL)
		idempotency = redisAdapter
		checks = append(checks, redisAdapter)
		log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	catalog := service.NewCatalogService(store)
	purchases := service.NewPurchaseService(store, idempotency, log)

	// gRPC health
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	reporter := handler.NewHealthReporter(healthServer, cfg.Server.HealthCheckInterval, log, checks...)
	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go reporter.Run(healthCtx)

	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// HTTP
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	httpHandler := handler.NewHTTPHandler(catalog, purchases, log)
	router := handler.NewRouter(httpHandler, log, handler.RouterConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		log.Error("server failed, shutting down", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	stopHealth()
	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown failed", zap.Error(err))
	}

	log.Info("connections closed")
	return serveErr
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (productStore, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if cfg.IsDevelopment() {
			if err := storage.EnsureDatabase(ctx, cfg.Postgres.URL, log); err != nil {
				return nil, nil, fmt.Errorf("ensure database: %w", err)
			}
		}

		pool, err := storage.OpenPostgres(ctx, storage.PostgresConfig{
			URL:             cfg.Postgres.URL,
			MaxConns:        int32(cfg.Postgres.MaxConns),
			MinConns:        int32(cfg.Postgres.MinConns),
			MaxConnLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnectAttempts: cfg.Postgres.ConnectAttempts,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to postgres")

		if err := storage.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return storage.NewPostgresAdapter(pool), pool.Close, nil

	case config.DriverMySQL:
		db, err := storage.OpenMySQL(ctx, storage.MySQLConfig{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to mysql")

		if err := storage.MigrateMySQL(ctx, cfg.MySQL.DSN); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return storage.NewMySQLAdapter(db), func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
}
