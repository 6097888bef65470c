package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/port"
)

const (
	productID     = int64(7001)
	productPrice  = int64(150000)
	initialStock  = 20
	totalRequests = 50
	queueSize     = 100
)

type store interface {
	port.DatabaseRepository
	UpsertProduct(ctx context.Context, p domain.Product) error
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New("warn", cfg.LogPretty)

	db, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer cleanup()

	// Reset the stress product
	if err := db.UpsertProduct(ctx, domain.Product{ID: productID, Name: "Stress Test Item", Price: productPrice, Stock: initialStock}); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed product")
	}

	queue := service.NewEventQueue(queueSize, logger)
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithEventQueue(queue),
		service.WithTxTimeout(cfg.TxTimeout),
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		opts = append(opts, service.WithCache(storage.NewRedisAdapter(rdb)))
	}
	orderService := service.NewOrderService(db, opts...)

	// Drain the event queue in background
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range queue.Events() {
		}
	}()

	// Counters
	var successCount, insufficientCount, otherCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	runID := time.Now().UnixNano()
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			_, err := orderService.Checkout(ctx, service.CheckoutInput{
				IdempotencyKey:  fmt.Sprintf("stress-%d-%d", runID, userID),
				UserID:          fmt.Sprintf("user-%d", userID),
				ShippingAddress: "Jl. Thamrin 10, Jakarta",
				PaymentMethod:   domain.PaymentBankTransfer,
				Items:           []domain.CartLine{{ProductID: productID, Quantity: 1}},
			})

			var insufficient *domain.InsufficientStockError
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.As(err, &insufficient):
				insufficientCount.Add(1)
			default:
				otherCount.Add(1)
				logger.Error().Err(err).Int("user", userID).Msg("unexpected checkout error")
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)
	queue.Close()
	<-drained

	// Results
	success := successCount.Load()
	fail := insufficientCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", cfg.DBDriver)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", fail)
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	// Verify final stock in the store
	products, err := db.FindProducts(ctx, []int64{productID})
	if err != nil || len(products) != 1 {
		logger.Fatal().Err(err).Msg("failed to read final stock")
	}
	finalStock := products[0].Stock
	fmt.Printf("Final Stock:      %d\n", finalStock)

	if finalStock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", finalStock)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store, func(), error) {
	switch cfg.DBDriver {
	case config.DriverMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.ApplySchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return adapter, func() { db.Close() }, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
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
		return adapter, pool.Close, nil
	}
	return storage.NewMemoryAdapter(), func() {}, nil
}
