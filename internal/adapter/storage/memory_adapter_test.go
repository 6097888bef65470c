package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func TestMemoryAdapter_Contract(t *testing.T) {
	m := NewMemoryAdapter()
	testRepositoryContract(t, repoHarness{
		repo: m,
		seed: func(t *testing.T, products ...domain.Product) {
			for _, p := range products {
				m.SetProduct(p)
			}
		},
		stockOf: func(t *testing.T, id int64) int {
			p, ok := m.Product(id)
			require.True(t, ok, "product %d missing", id)
			return p.Stock
		},
	})
}

func TestMemoryAdapter_CancelledContextRollsBack(t *testing.T) {
	m := NewMemoryAdapter(domain.Product{ID: 1, Name: "Kopi", Price: 25000, Stock: 5})

	ctx, cancel := context.WithCancel(context.Background())
	err := m.WithTx(ctx, func(txCtx context.Context) error {
		if err := m.DecrementStock(txCtx, 1, 2); err != nil {
			return err
		}
		cancel()
		return nil
	})

	assert.True(t, domain.IsRetryable(err))
	p, _ := m.Product(1)
	assert.Equal(t, 5, p.Stock)
}

func TestMemoryAdapter_NestedTxJoinsOuter(t *testing.T) {
	m := NewMemoryAdapter(domain.Product{ID: 1, Name: "Kopi", Price: 25000, Stock: 5})
	ctx := context.Background()

	err := m.WithTx(ctx, func(txCtx context.Context) error {
		return m.WithTx(txCtx, func(inner context.Context) error {
			if err := m.DecrementStock(inner, 1, 1); err != nil {
				return err
			}
			return errBoom
		})
	})

	require.ErrorIs(t, err, errBoom)
	p, _ := m.Product(1)
	assert.Equal(t, 5, p.Stock)
}
