package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrCheckViolation  = 3819
)

type sqlTxKey struct{}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// ApplySchema creates missing tables. Safe to run on every start.
func (m *MySQLAdapter) ApplySchema(ctx context.Context) error {
	stmts, err := schemaStatements("mysql")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// UpsertProduct creates or overwrites a catalog row. Used for seeding.
func (m *MySQLAdapter) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := m.q(ctx).ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), price = VALUES(price), stock = VALUES(stock)`,
		p.ID, p.Name, p.Price, p.Stock,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sqlTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyMySQLError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, sqlTxKey{}, tx)); err != nil {
		return abortIfDone(ctx, classifyMySQLError(err))
	}

	if err := tx.Commit(); err != nil {
		return abortIfDone(ctx, classifyMySQLError(fmt.Errorf("commit: %w", err)))
	}
	return nil
}

func (m *MySQLAdapter) FindProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := m.q(ctx).QueryContext(ctx, `
		SELECT id, name, price, stock, COALESCE(category_id, 0)
		FROM products WHERE id IN (`+placeholders(len(ids))+`)`,
		int64Args(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.CategoryID); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (m *MySQLAdapter) LockStock(ctx context.Context, ids []int64) (map[int64]int, error) {
	stock := make(map[int64]int, len(ids))
	if len(ids) == 0 {
		return stock, nil
	}

	rows, err := m.q(ctx).QueryContext(ctx, `
		SELECT id, stock FROM products
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY id
		FOR UPDATE`,
		int64Args(ids)...,
	)
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
	return stock, rows.Err()
}

func (m *MySQLAdapter) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	if err := checkStockQuantity(quantity); err != nil {
		return err
	}

	result, err := m.q(ctx).ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, updated_at = NOW(6)
		WHERE id = ? AND stock >= ?`,
		quantity, productID, quantity,
	)
	if err != nil {
		if isMySQLError(err, mysqlErrCheckViolation) {
			return domain.ErrStockChanged
		}
		return fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrStockChanged
	}
	return nil
}

func (m *MySQLAdapter) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	if err := checkStockQuantity(quantity); err != nil {
		return err
	}

	result, err := m.q(ctx).ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?, updated_at = NOW(6)
		WHERE id = ?`,
		quantity, productID,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &domain.ProductNotFoundError{ProductID: productID}
	}
	return nil
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order *domain.Order) error {
	q := m.q(ctx)

	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, total_amount, status, shipping_address, payment_method,
			payment_proof, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.TotalAmount, order.Status, order.ShippingAddress,
		order.PaymentMethod, nullString(order.PaymentProof), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Lines {
		_, err = q.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, line_no, product_id, quantity, unit_price, review_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			line.ID, order.ID, i, line.ProductID, line.Quantity, line.UnitPrice, nullString(line.ReviewID),
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	return nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return m.getOrder(ctx, orderID, "")
}

func (m *MySQLAdapter) GetOrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error) {
	return m.getOrder(ctx, orderID, " FOR UPDATE")
}

func (m *MySQLAdapter) getOrder(ctx context.Context, orderID, lockClause string) (*domain.Order, error) {
	row := m.q(ctx).QueryRowContext(ctx, `
		SELECT id, user_id, total_amount, status, shipping_address, payment_method,
			payment_proof, created_at, updated_at
		FROM orders WHERE id = ?`+lockClause, orderID,
	)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	lines, err := m.orderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

func (m *MySQLAdapter) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := m.q(ctx).QueryContext(ctx, `
		SELECT id, user_id, total_amount, status, shipping_address, payment_method,
			payment_proof, created_at, updated_at
		FROM orders WHERE user_id = ?
		ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		lines, err := m.orderLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func (m *MySQLAdapter) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, proof *string) error {
	result, err := m.q(ctx).ExecContext(ctx, `
		UPDATE orders
		SET status = ?, payment_proof = COALESCE(?, payment_proof), updated_at = ?
		WHERE id = ? AND status = ?`,
		to, nullString(proof), time.Now().UTC(), orderID, from,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (m *MySQLAdapter) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := m.q(ctx).QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, review_id
		FROM order_lines WHERE order_id = ?
		ORDER BY line_no`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var line domain.OrderLine
		var review sql.NullString
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &line.UnitPrice, &review); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		line.ReviewID = stringPtr(review)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (m *MySQLAdapter) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(sqlTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return m.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var proof sql.NullString
	err := row.Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Status, &o.ShippingAddress,
		&o.PaymentMethod, &proof, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.PaymentProof = stringPtr(proof)
	return &o, nil
}

// classifyMySQLError turns lock conflicts into retryable aborts and leaves
// everything else untouched.
func classifyMySQLError(err error) error {
	if isMySQLError(err, mysqlErrDeadlock) || isMySQLError(err, mysqlErrLockWaitTimeout) {
		return &domain.TransactionAbortedError{Err: err}
	}
	return err
}

func isMySQLError(err error, number uint16) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
