package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/storefront/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func newMySQLHarness(t *testing.T) repoHarness {
	db := getMySQLDB(t)
	adapter := NewMySQLAdapter(db)
	if err := adapter.ApplySchema(context.Background()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	return repoHarness{
		repo: adapter,
		seed: func(t *testing.T, products ...domain.Product) {
			for _, p := range products {
				if err := adapter.UpsertProduct(context.Background(), p); err != nil {
					t.Fatalf("seed product %d: %v", p.ID, err)
				}
			}
		},
		stockOf: func(t *testing.T, id int64) int {
			var stock int
			if err := db.QueryRow(`SELECT stock FROM products WHERE id = ?`, id).Scan(&stock); err != nil {
				t.Fatalf("read stock %d: %v", id, err)
			}
			return stock
		},
	}
}

func TestMySQLAdapter_Contract(t *testing.T) {
	testRepositoryContract(t, newMySQLHarness(t))
}

func TestClassifyMySQLError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"deadlock", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, true},
		{"lock wait timeout", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, true},
		{"wrapped deadlock", errors.Join(errBoom, &mysql.MySQLError{Number: 1213}), true},
		{"duplicate key", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, false},
		{"plain error", errBoom, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyMySQLError(tt.err)
			if domain.IsRetryable(got) != tt.retryable {
				t.Errorf("retryable = %v, want %v (err %v)", domain.IsRetryable(got), tt.retryable, got)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classified error lost the cause: %v", got)
			}
		})
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(3); got != "?,?,?" {
		t.Errorf("placeholders(3) = %q", got)
	}
	if got := placeholders(1); got != "?" {
		t.Errorf("placeholders(1) = %q", got)
	}
}
