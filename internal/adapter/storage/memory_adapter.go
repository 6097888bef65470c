package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

type memTxKey struct{}

// MemoryAdapter is a DatabaseRepository held in process memory. Transactions
// are fully serialized and roll back by restoring a snapshot, which gives the
// same guarantees the SQL adapters get from row locks.
type MemoryAdapter struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	orders   map[string]domain.Order
}

func NewMemoryAdapter(products ...domain.Product) *MemoryAdapter {
	m := &MemoryAdapter{
		products: make(map[int64]domain.Product, len(products)),
		orders:   make(map[string]domain.Order),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *MemoryAdapter) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	products, orders := m.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.products, m.orders = products, orders
		return abortIfDone(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		m.products, m.orders = products, orders
		return &domain.TransactionAbortedError{Err: err}
	}
	return nil
}

func (m *MemoryAdapter) FindProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	defer m.lock(ctx)()

	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryAdapter) LockStock(ctx context.Context, ids []int64) (map[int64]int, error) {
	defer m.lock(ctx)()

	stock := make(map[int64]int, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			stock[id] = p.Stock
		}
	}
	return stock, nil
}

func (m *MemoryAdapter) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	if err := checkStockQuantity(quantity); err != nil {
		return err
	}
	defer m.lock(ctx)()

	p, ok := m.products[productID]
	if !ok || p.Stock < quantity {
		return domain.ErrStockChanged
	}
	p.Stock -= quantity
	m.products[productID] = p
	return nil
}

func (m *MemoryAdapter) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	if err := checkStockQuantity(quantity); err != nil {
		return err
	}
	defer m.lock(ctx)()

	p, ok := m.products[productID]
	if !ok {
		return &domain.ProductNotFoundError{ProductID: productID}
	}
	p.Stock += quantity
	m.products[productID] = p
	return nil
}

func (m *MemoryAdapter) CreateOrder(ctx context.Context, order *domain.Order) error {
	defer m.lock(ctx)()

	m.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	defer m.lock(ctx)()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	out := cloneOrder(o)
	return &out, nil
}

func (m *MemoryAdapter) GetOrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error) {
	return m.GetOrder(ctx, orderID)
}

func (m *MemoryAdapter) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	defer m.lock(ctx)()

	var out []domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryAdapter) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, proof *string) error {
	defer m.lock(ctx)()

	o, ok := m.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != from {
		return domain.ErrInvalidTransition
	}
	o.Status = to
	if proof != nil {
		ref := *proof
		o.PaymentProof = &ref
	}
	o.UpdatedAt = time.Now().UTC()
	m.orders[orderID] = o
	return nil
}

// Product returns the stored product, for seeding checks and tests.
func (m *MemoryAdapter) Product(id int64) (domain.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	return p, ok
}

func (m *MemoryAdapter) UpsertProduct(_ context.Context, p domain.Product) error {
	m.SetProduct(p)
	return nil
}

func (m *MemoryAdapter) SetProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *MemoryAdapter) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// lock takes the adapter mutex unless ctx already belongs to a transaction
// that holds it.
func (m *MemoryAdapter) lock(ctx context.Context) func() {
	if inMemTx(ctx) {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryAdapter) snapshot() (map[int64]domain.Product, map[string]domain.Order) {
	products := make(map[int64]domain.Product, len(m.products))
	for k, v := range m.products {
		products[k] = v
	}
	orders := make(map[string]domain.Order, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	return products, orders
}

func inMemTx(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	if o.PaymentProof != nil {
		ref := *o.PaymentProof
		o.PaymentProof = &ref
	}
	return o
}
