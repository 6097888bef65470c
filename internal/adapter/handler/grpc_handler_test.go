package handler

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

func newGRPCClient(t *testing.T, opts ...service.Option) (*CheckoutClient, *storage.MemoryAdapter) {
	t.Helper()
	store := storage.NewMemoryAdapter(domain.Product{ID: 1, Name: "Kemeja Batik", Price: 100000, Stock: 2})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryServerInterceptor(zerolog.Nop(), nil)))
	RegisterCheckoutServer(srv, NewGRPCHandler(service.NewOrderService(store, opts...)))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewCheckoutClient(conn), store
}

func TestGRPCPlaceOrder(t *testing.T) {
	client, store := newGRPCClient(t)

	resp, err := client.PlaceOrder(context.Background(), &PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "Jl. Merdeka 10",
		PaymentMethod:   "QRIS",
		Items:           []CartItemInput{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", resp.Order.Status)
	assert.Equal(t, int64(200000), resp.Order.TotalAmount)

	p, _ := store.Product(1)
	assert.Equal(t, 0, p.Stock)
}

func TestGRPCPlaceOrder_StatusCodes(t *testing.T) {
	client, _ := newGRPCClient(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *PlaceOrderRequest
		code codes.Code
	}{
		{"validation", &PlaceOrderRequest{UserID: "user-1"}, codes.InvalidArgument},
		{"missing product", &PlaceOrderRequest{
			UserID: "user-1", ShippingAddress: "x", PaymentMethod: "QRIS",
			Items: []CartItemInput{{ProductID: 5, Quantity: 1}},
		}, codes.NotFound},
		{"insufficient stock", &PlaceOrderRequest{
			UserID: "user-1", ShippingAddress: "x", PaymentMethod: "QRIS",
			Items: []CartItemInput{{ProductID: 1, Quantity: 3}},
		}, codes.FailedPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.PlaceOrder(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestGRPCPlaceOrder_IdempotencyMetadata(t *testing.T) {
	client, store := newGRPCClient(t, service.WithCache(&stubCache{keys: map[string]string{}}))

	req := &PlaceOrderRequest{
		UserID: "user-1", ShippingAddress: "x", PaymentMethod: "QRIS",
		Items: []CartItemInput{{ProductID: 1, Quantity: 1}},
	}
	ctx := metadata.AppendToOutgoingContext(context.Background(), idempotencyMetadata, "rpc-1")

	first, err := client.PlaceOrder(ctx, req)
	require.NoError(t, err)
	second, err := client.PlaceOrder(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, store.OrderCount())
}
