package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// InventoryGuard re-checks and decrements stock. Reserve must run inside the
// same transaction that persists the order.
type InventoryGuard struct {
	inventory port.InventoryRepository
}

func NewInventoryGuard(inventory port.InventoryRepository) *InventoryGuard {
	return &InventoryGuard{inventory: inventory}
}

// Reserve validates every line against freshly locked stock before touching
// any row, then decrements. The first short line in cart order is reported.
func (g *InventoryGuard) Reserve(ctx context.Context, lines []domain.DraftLine) error {
	requested := make(map[int64]int, len(lines))
	for i, line := range lines {
		if line.Quantity < 1 {
			return &domain.ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Reason: "must be at least 1"}
		}
		// Stock columns are 32-bit.
		if requested[line.ProductID] > math.MaxInt32-line.Quantity {
			return &domain.ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Reason: "total for product out of range"}
		}
		requested[line.ProductID] += line.Quantity
	}

	// Ascending id order keeps lock acquisition consistent across checkouts.
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	stock, err := g.inventory.LockStock(ctx, ids)
	if err != nil {
		return fmt.Errorf("lock stock: %w", err)
	}

	for _, line := range lines {
		available, ok := stock[line.ProductID]
		if !ok {
			return &domain.ProductNotFoundError{ProductID: line.ProductID}
		}
		if want := requested[line.ProductID]; available < want {
			return &domain.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: want,
				Available: available,
			}
		}
	}

	for _, id := range ids {
		if err := g.inventory.DecrementStock(ctx, id, requested[id]); err != nil {
			if errors.Is(err, domain.ErrStockChanged) {
				return &domain.InsufficientStockError{
					ProductID: id,
					Requested: requested[id],
					Available: stock[id],
				}
			}
			return fmt.Errorf("decrement stock for product %d: %w", id, err)
		}
	}

	return nil
}
