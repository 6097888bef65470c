package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type repoHarness struct {
	repo    port.DatabaseRepository
	seed    func(t *testing.T, products ...domain.Product)
	stockOf func(t *testing.T, id int64) int
}

var errBoom = errors.New("boom")

// testRepositoryContract checks the behaviour every DatabaseRepository must
// share. Product ids 9101..9199 are reserved for it.
func testRepositoryContract(t *testing.T, h repoHarness) {
	ctx := context.Background()

	newOrder := func(userID string, lines ...domain.OrderLine) *domain.Order {
		now := time.Now().UTC().Truncate(time.Millisecond)
		o := &domain.Order{
			ID:              uuid.NewString(),
			UserID:          userID,
			Status:          domain.OrderStatusPending,
			ShippingAddress: "Jl. Sudirman 1, Jakarta",
			PaymentMethod:   domain.PaymentBankTransfer,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		for _, l := range lines {
			l.ID = uuid.NewString()
			l.OrderID = o.ID
			o.TotalAmount += l.Subtotal()
			o.Lines = append(o.Lines, l)
		}
		return o
	}

	t.Run("FindProducts skips unknown ids", func(t *testing.T) {
		h.seed(t, domain.Product{ID: 9101, Name: "Kopi", Price: 25000, Stock: 5})

		products, err := h.repo.FindProducts(ctx, []int64{9101, 9198})
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, int64(9101), products[0].ID)
		assert.Equal(t, int64(25000), products[0].Price)
		assert.Equal(t, 5, products[0].Stock)
	})

	t.Run("commit persists stock and order together", func(t *testing.T) {
		h.seed(t,
			domain.Product{ID: 9111, Name: "Teh", Price: 10000, Stock: 4},
			domain.Product{ID: 9112, Name: "Gula", Price: 15000, Stock: 3},
		)
		userID := "user-" + uuid.NewString()
		order := newOrder(userID,
			domain.OrderLine{ProductID: 9112, Quantity: 1, UnitPrice: 15000},
			domain.OrderLine{ProductID: 9111, Quantity: 2, UnitPrice: 10000},
		)

		err := h.repo.WithTx(ctx, func(txCtx context.Context) error {
			stock, err := h.repo.LockStock(txCtx, []int64{9111, 9112})
			if err != nil {
				return err
			}
			if stock[9111] != 4 || stock[9112] != 3 {
				t.Errorf("unexpected locked stock %v", stock)
			}
			if err := h.repo.DecrementStock(txCtx, 9111, 2); err != nil {
				return err
			}
			if err := h.repo.DecrementStock(txCtx, 9112, 1); err != nil {
				return err
			}
			return h.repo.CreateOrder(txCtx, order)
		})
		require.NoError(t, err)

		assert.Equal(t, 2, h.stockOf(t, 9111))
		assert.Equal(t, 2, h.stockOf(t, 9112))

		got, err := h.repo.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(35000), got.TotalAmount)
		assert.Equal(t, domain.OrderStatusPending, got.Status)
		assert.Nil(t, got.PaymentProof)
		require.Len(t, got.Lines, 2)
		assert.Equal(t, int64(9112), got.Lines[0].ProductID)
		assert.Equal(t, int64(9111), got.Lines[1].ProductID)
		assert.Equal(t, int64(10000), got.Lines[1].UnitPrice)

		orders, err := h.repo.ListOrdersByUser(ctx, userID)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, order.ID, orders[0].ID)
		assert.Len(t, orders[0].Lines, 2)
	})

	t.Run("error inside tx rolls everything back", func(t *testing.T) {
		h.seed(t, domain.Product{ID: 9121, Name: "Beras", Price: 60000, Stock: 10})
		order := newOrder("user-"+uuid.NewString(), domain.OrderLine{ProductID: 9121, Quantity: 3, UnitPrice: 60000})

		err := h.repo.WithTx(ctx, func(txCtx context.Context) error {
			if err := h.repo.DecrementStock(txCtx, 9121, 3); err != nil {
				return err
			}
			if err := h.repo.CreateOrder(txCtx, order); err != nil {
				return err
			}
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)

		assert.Equal(t, 10, h.stockOf(t, 9121))
		_, err = h.repo.GetOrder(ctx, order.ID)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("guarded decrement refuses to go negative", func(t *testing.T) {
		h.seed(t, domain.Product{ID: 9131, Name: "Minyak", Price: 30000, Stock: 2})

		err := h.repo.WithTx(ctx, func(txCtx context.Context) error {
			return h.repo.DecrementStock(txCtx, 9131, 3)
		})
		assert.ErrorIs(t, err, domain.ErrStockChanged)
		assert.Equal(t, 2, h.stockOf(t, 9131))
	})

	t.Run("non-positive quantities are refused", func(t *testing.T) {
		h.seed(t, domain.Product{ID: 9132, Name: "Garam", Price: 4000, Stock: 3})

		for _, qty := range []int{0, -2} {
			err := h.repo.WithTx(ctx, func(txCtx context.Context) error {
				return h.repo.DecrementStock(txCtx, 9132, qty)
			})
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr, "decrement %d", qty)

			err = h.repo.WithTx(ctx, func(txCtx context.Context) error {
				return h.repo.IncrementStock(txCtx, 9132, qty)
			})
			assert.ErrorAs(t, err, &verr, "increment %d", qty)
		}
		assert.Equal(t, 3, h.stockOf(t, 9132))
	})

	t.Run("context ending before commit is retryable", func(t *testing.T) {
		h.seed(t, domain.Product{ID: 9151, Name: "Tepung", Price: 12000, Stock: 6})
		order := newOrder("user-"+uuid.NewString(), domain.OrderLine{ProductID: 9151, Quantity: 2, UnitPrice: 12000})

		txCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		err := h.repo.WithTx(txCtx, func(inner context.Context) error {
			if err := h.repo.DecrementStock(inner, 9151, 2); err != nil {
				return err
			}
			if err := h.repo.CreateOrder(inner, order); err != nil {
				return err
			}
			cancel()
			return nil
		})
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err), "got %v", err)
		assert.ErrorIs(t, err, context.Canceled)

		assert.Equal(t, 6, h.stockOf(t, 9151))
		_, err = h.repo.GetOrder(ctx, order.ID)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("increment unknown product", func(t *testing.T) {
		err := h.repo.WithTx(ctx, func(txCtx context.Context) error {
			return h.repo.IncrementStock(txCtx, 9199, 1)
		})
		var notFound *domain.ProductNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("status update is compare and set", func(t *testing.T) {
		h.seed(t, domain.Product{ID: 9141, Name: "Sabun", Price: 5000, Stock: 9})
		order := newOrder("user-"+uuid.NewString(), domain.OrderLine{ProductID: 9141, Quantity: 1, UnitPrice: 5000})
		require.NoError(t, h.repo.CreateOrder(ctx, order))

		proof := "https://cdn.example.com/proofs/1.jpg"
		err := h.repo.WithTx(ctx, func(txCtx context.Context) error {
			if _, err := h.repo.GetOrderForUpdate(txCtx, order.ID); err != nil {
				return err
			}
			return h.repo.UpdateOrderStatus(txCtx, order.ID, domain.OrderStatusPending, domain.OrderStatusWaitingConfirmation, &proof)
		})
		require.NoError(t, err)

		err = h.repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		got, err := h.repo.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusWaitingConfirmation, got.Status)
		require.NotNil(t, got.PaymentProof)
		assert.Equal(t, proof, *got.PaymentProof)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := h.repo.GetOrder(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}
