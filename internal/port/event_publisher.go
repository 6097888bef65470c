package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

// EventPublisher announces committed order changes to downstream workflows
// (payment proof review, notifications). Delivery is best effort.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, order domain.Order) error
	PublishStatusChanged(ctx context.Context, order domain.Order, previous domain.OrderStatus) error
}
