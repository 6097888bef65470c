package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/publisher"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/metrics"
	"github.com/rl1809/storefront/internal/port"
)

const shutdownTimeout = 10 * time.Second

// demoCatalog seeds the in-memory store so the API is usable without a database.
var demoCatalog = []domain.Product{
	{ID: 1, Name: "Kemeja Batik", Price: 185000, Stock: 50, CategoryID: 1},
	{ID: 2, Name: "Celana Chino", Price: 225000, Stock: 40, CategoryID: 1},
	{ID: 3, Name: "Sepatu Lari", Price: 650000, Stock: 10, CategoryID: 2},
	{ID: 4, Name: "Kaos Kaki", Price: 25000, Stock: 200, CategoryID: 2},
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	db, closeDB, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	queue := service.NewEventQueue(cfg.EventQueueSize, logger)
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(metrics.NewCheckoutMetrics(reg)),
		service.WithEventQueue(queue),
		service.WithTxTimeout(cfg.TxTimeout),
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		opts = append(opts, service.WithCache(storage.NewRedisAdapter(rdb)))
		logger.Info().Str("addr", cfg.RedisAddr).Msg("idempotency keys stored in redis")
	}

	var pub port.EventPublisher = publisher.NewLogPublisher(logger)
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kp := publisher.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		defer kp.Close()
		pub = kp
		logger.Info().Strs("brokers", brokers).Str("topic", cfg.KafkaTopic).Msg("publishing order events to kafka")
	}

	// Start publish workers
	var workers sync.WaitGroup
	for i := 0; i < cfg.EventWorkers; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			service.PublishLoop(id, queue.Events(), pub, logger)
		}(i)
	}
	logger.Info().Int("workers", cfg.EventWorkers).Msg("started event workers")

	orderService := service.NewOrderService(db, opts...)
	statusService := service.NewOrderStatusService(db, queue, logger, service.WithStatusTxTimeout(cfg.TxTimeout))

	httpHandler := handler.NewHTTPHandler(orderService, statusService)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Router(logger, metrics.NewServerMetrics(reg, "http"), reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(
		handler.UnaryServerInterceptor(logger, metrics.NewServerMetrics(reg, "grpc")),
	))
	handler.RegisterCheckoutServer(grpcServer, handler.NewGRPCHandler(orderService))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP shutdown")
		}
		logger.Info().Msg("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info().Msg("gRPC server stopped")
		return nil
	})

	err = g.Wait()

	// No producer is left once both servers are down.
	queue.Close()
	workers.Wait()
	logger.Info().Msg("workers stopped")

	return err
}

func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (port.DatabaseRepository, func(), error) {
	switch cfg.DBDriver {
	case config.DriverMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.ApplySchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info().Msg("connected to mysql")
		return adapter, func() { db.Close() }, nil

	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse postgres url: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		adapter := storage.NewPostgresAdapter(pool)
		if err := adapter.ApplySchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Msg("connected to postgres")
		return adapter, pool.Close, nil
	}

	logger.Warn().Int("products", len(demoCatalog)).Msg("using in-memory store with demo catalog")
	return storage.NewMemoryAdapter(demoCatalog...), func() {}, nil
}
