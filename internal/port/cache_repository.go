package port

import "context"

type CacheRepository interface {
	// SetIdempotency claims key for an in-flight checkout, returns false if already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// CompleteIdempotency records the order created under key
	CompleteIdempotency(ctx context.Context, key, orderID string) error

	// GetIdempotency returns the order id stored under key, empty while still in flight
	GetIdempotency(ctx context.Context, key string) (orderID string, found bool, err error)

	// ReleaseIdempotency drops the claim so a failed checkout can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}
