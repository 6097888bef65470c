package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	pgSerializationFailure      = "40001"
	pgDeadlockDetected          = "40P01"
	pgLockNotAvailable          = "55P03"
	pgCheckViolation            = "23514"
	pgQueryCanceled             = "57014"
	pgInvalidTextRepresentation = "22P02"
)

type pgTxKey struct{}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func (p *PostgresAdapter) ApplySchema(ctx context.Context) error {
	stmts, err := schemaStatements("postgres")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresAdapter) UpsertProduct(ctx context.Context, pr domain.Product) error {
	const stmt = `
INSERT INTO products (id, name, price, stock)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock, updated_at = NOW()`
	if _, err := p.q(ctx).Exec(ctx, stmt, pr.ID, pr.Name, pr.Price, pr.Stock); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if pgTxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classifyPgError(fmt.Errorf("begin tx: %w", err))
	}

	if err := fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return abortIfDone(ctx, classifyPgError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return abortIfDone(ctx, classifyPgError(fmt.Errorf("commit: %w", err)))
	}
	return nil
}

func (p *PostgresAdapter) FindProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const query = `
SELECT id, name, price, stock, COALESCE(category_id, 0)
FROM products
WHERE id = ANY($1)`
	rows, err := p.q(ctx).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var pr domain.Product
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.Price, &pr.Stock, &pr.CategoryID); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, pr)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate products: %w", rows.Err())
	}
	return products, nil
}

func (p *PostgresAdapter) LockStock(ctx context.Context, ids []int64) (map[int64]int, error) {
	stock := make(map[int64]int, len(ids))
	if len(ids) == 0 {
		return stock, nil
	}

	const query = `
SELECT id, stock
FROM products
WHERE id = ANY($1)
ORDER BY id
FOR UPDATE`
	rows, err := p.q(ctx).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		stock[id] = qty
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate stock: %w", rows.Err())
	}
	return stock, nil
}

func (p *PostgresAdapter) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	if err := checkStockQuantity(quantity); err != nil {
		return err
	}

	const stmt = `
UPDATE products
SET stock = stock - $1, updated_at = NOW()
WHERE id = $2 AND stock >= $1`
	tag, err := p.q(ctx).Exec(ctx, stmt, quantity, productID)
	if err != nil {
		if isPgError(err, pgCheckViolation) {
			return domain.ErrStockChanged
		}
		return fmt.Errorf("update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStockChanged
	}
	return nil
}

func (p *PostgresAdapter) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	if err := checkStockQuantity(quantity); err != nil {
		return err
	}

	const stmt = `
UPDATE products
SET stock = stock + $1, updated_at = NOW()
WHERE id = $2`
	tag, err := p.q(ctx).Exec(ctx, stmt, quantity, productID)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ProductNotFoundError{ProductID: productID}
	}
	return nil
}

func (p *PostgresAdapter) CreateOrder(ctx context.Context, order *domain.Order) error {
	const orderStmt = `
INSERT INTO orders (id, user_id, total_amount, status, shipping_address, payment_method,
	payment_proof, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	const lineStmt = `
INSERT INTO order_lines (id, order_id, line_no, product_id, quantity, unit_price, review_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	q := p.q(ctx)
	_, err := q.Exec(ctx, orderStmt, order.ID, order.UserID, order.TotalAmount, string(order.Status),
		order.ShippingAddress, string(order.PaymentMethod), order.PaymentProof, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Lines {
		_, err := q.Exec(ctx, lineStmt, line.ID, order.ID, i, line.ProductID, line.Quantity,
			line.UnitPrice, line.ReviewID)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

func (p *PostgresAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return p.getOrder(ctx, orderID, "")
}

func (p *PostgresAdapter) GetOrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error) {
	return p.getOrder(ctx, orderID, "\nFOR UPDATE")
}

func (p *PostgresAdapter) getOrder(ctx context.Context, orderID, lockClause string) (*domain.Order, error) {
	query := `
SELECT id, user_id, total_amount, status, shipping_address, payment_method,
	payment_proof, created_at, updated_at
FROM orders
WHERE id = $1` + lockClause

	order, err := scanPgOrder(p.q(ctx).QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isPgError(err, pgInvalidTextRepresentation) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("query order: %w", err)
	}

	lines, err := p.orderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

func (p *PostgresAdapter) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	const query = `
SELECT id, user_id, total_amount, status, shipping_address, payment_method,
	payment_proof, created_at, updated_at
FROM orders
WHERE user_id = $1
ORDER BY created_at DESC`
	rows, err := p.q(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanPgOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate orders: %w", rows.Err())
	}

	for i := range orders {
		lines, err := p.orderLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func (p *PostgresAdapter) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, proof *string) error {
	const stmt = `
UPDATE orders
SET status = $1, payment_proof = COALESCE($2, payment_proof), updated_at = $3
WHERE id = $4 AND status = $5`
	tag, err := p.q(ctx).Exec(ctx, stmt, string(to), proof, time.Now().UTC(), orderID, string(from))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (p *PostgresAdapter) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	const query = `
SELECT id, order_id, product_id, quantity, unit_price, review_id
FROM order_lines
WHERE order_id = $1
ORDER BY line_no`
	rows, err := p.q(ctx).Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &line.UnitPrice, &line.ReviewID); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate order lines: %w", rows.Err())
	}
	return lines, nil
}

func (p *PostgresAdapter) q(ctx context.Context) pgQuerier {
	if tx := pgTxFromContext(ctx); tx != nil {
		return tx
	}
	return p.pool
}

func pgTxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(pgTxKey{}).(pgx.Tx)
	return tx
}

func scanPgOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o       domain.Order
		status  string
		payment string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.TotalAmount, &status, &o.ShippingAddress,
		&payment, &o.PaymentProof, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentMethod = domain.PaymentMethod(payment)
	return &o, nil
}

func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled:
			return &domain.TransactionAbortedError{Err: err}
		}
	}
	return err
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
