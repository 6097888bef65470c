package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

// Product ids 9201..9299 are reserved for the checkout integration tests.

func TestIntegration_MySQLConcurrentCheckout(t *testing.T) {
	runConcurrentCheckout(t, newMySQLHarness(t))
}

func TestIntegration_PostgresConcurrentCheckout(t *testing.T) {
	pool := getPostgresPool(t)
	adapter := NewPostgresAdapter(pool)
	if err := adapter.ApplySchema(context.Background()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	runConcurrentCheckout(t, repoHarness{
		repo: adapter,
		seed: func(t *testing.T, products ...domain.Product) {
			for _, p := range products {
				if err := adapter.UpsertProduct(context.Background(), p); err != nil {
					t.Fatalf("seed product %d: %v", p.ID, err)
				}
			}
		},
		stockOf: func(t *testing.T, id int64) int {
			products, err := adapter.FindProducts(context.Background(), []int64{id})
			if err != nil || len(products) != 1 {
				t.Fatalf("read stock %d: %v", id, err)
			}
			return products[0].Stock
		},
	})
}

func runConcurrentCheckout(t *testing.T, h repoHarness) {
	ctx := context.Background()
	initialStock := 5
	totalRequests := 10

	// Two products locked in opposite cart orders exercise lock ordering.
	h.seed(t,
		domain.Product{ID: 9201, Name: "Sepatu Lari", Price: 300000, Stock: initialStock},
		domain.Product{ID: 9202, Name: "Kaos Kaki", Price: 20000, Stock: 100},
	)

	svc := service.NewOrderService(h.repo)

	var successCount, shortCount atomic.Int32
	var wg sync.WaitGroup
	userID := "it-" + uuid.NewString()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			items := []domain.CartLine{{ProductID: 9201, Quantity: 1}, {ProductID: 9202, Quantity: 1}}
			if i%2 == 1 {
				items[0], items[1] = items[1], items[0]
			}

			_, err := svc.Checkout(ctx, service.CheckoutInput{
				UserID:          userID,
				ShippingAddress: "Jl. Asia Afrika 8, Bandung",
				PaymentMethod:   domain.PaymentCashOnDelivery,
				Items:           items,
			})

			var shortage *domain.InsufficientStockError
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.As(err, &shortage):
				shortCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successful checkouts, got %d", initialStock, successCount.Load())
	}
	if shortCount.Load() != int32(totalRequests-initialStock) {
		t.Errorf("expected %d insufficient stock, got %d", totalRequests-initialStock, shortCount.Load())
	}
	if stock := h.stockOf(t, 9201); stock != 0 {
		t.Errorf("expected stock 0, got %d", stock)
	}
	if stock := h.stockOf(t, 9202); stock != 100-initialStock {
		t.Errorf("expected stock %d, got %d", 100-initialStock, stock)
	}

	orders, err := h.repo.ListOrdersByUser(ctx, userID)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != initialStock {
		t.Fatalf("expected %d orders, got %d", initialStock, len(orders))
	}
	for _, o := range orders {
		if o.TotalAmount != 320000 {
			t.Errorf("order %s: expected total 320000, got %d", o.ID, o.TotalAmount)
		}
		if len(o.Lines) != 2 {
			t.Errorf("order %s: expected 2 lines, got %d", o.ID, len(o.Lines))
		}
	}
}

func TestIntegration_RedisIdempotentCheckout(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	store := NewMemoryAdapter(domain.Product{ID: 1, Name: "Kopi", Price: 25000, Stock: 10})
	svc := service.NewOrderService(store, service.WithCache(NewRedisAdapter(client)))

	ctx := context.Background()
	in := service.CheckoutInput{
		IdempotencyKey:  uuid.NewString(),
		UserID:          "user-1",
		ShippingAddress: "Jl. Braga 1",
		PaymentMethod:   domain.PaymentEWallet,
		Items:           []domain.CartLine{{ProductID: 1, Quantity: 1}},
	}

	first, err := svc.Checkout(ctx, in)
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}

	second, err := svc.Checkout(ctx, in)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Replayed || second.Order.ID != first.Order.ID {
		t.Errorf("expected replay of %s, got %+v", first.Order.ID, second)
	}

	if p, _ := store.Product(1); p.Stock != 9 {
		t.Errorf("expected stock 9, got %d", p.Stock)
	}
}
