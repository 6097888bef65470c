package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

// CatalogReader resolves current product data. Unknown ids are simply absent
// from the result.
type CatalogReader interface {
	FindProducts(ctx context.Context, ids []int64) ([]domain.Product, error)
}

// Transactor runs fn atomically. Repository calls made with the context passed
// to fn join the transaction; any error returned by fn rolls everything back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type InventoryRepository interface {
	// LockStock re-reads stock for ids and holds row locks until the
	// transaction ends. Must be called inside WithTx.
	LockStock(ctx context.Context, ids []int64) (map[int64]int, error)

	// DecrementStock subtracts quantity only if enough stock remains,
	// otherwise returns domain.ErrStockChanged.
	DecrementStock(ctx context.Context, productID int64, quantity int) error

	// IncrementStock puts quantity back (order cancellation).
	IncrementStock(ctx context.Context, productID int64, quantity int) error
}

type OrderRepository interface {
	// CreateOrder persists the order together with all of its lines.
	CreateOrder(ctx context.Context, order *domain.Order) error

	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// GetOrderForUpdate is GetOrder with a row lock on the order.
	GetOrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error)

	ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error)

	// UpdateOrderStatus moves the order from -> to. It returns
	// domain.ErrInvalidTransition when the stored status is no longer from.
	// A non-nil proof replaces the stored payment proof reference.
	UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, proof *string) error
}

type DatabaseRepository interface {
	CatalogReader
	Transactor
	InventoryRepository
	OrderRepository
}
