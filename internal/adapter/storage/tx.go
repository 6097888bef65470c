package storage

import (
	"context"
	"errors"

	"github.com/rl1809/storefront/internal/core/domain"
)

// abortIfDone reports a failed transaction as retryable once ctx has ended.
// The driver rolls the transaction back on cancellation, so even a commit that
// failed with sql.ErrTxDone left nothing behind.
func abortIfDone(ctx context.Context, err error) error {
	if err == nil || domain.IsRetryable(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &domain.TransactionAbortedError{Err: errors.Join(ctxErr, err)}
	}
	return err
}

func checkStockQuantity(quantity int) error {
	if quantity <= 0 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	return nil
}
