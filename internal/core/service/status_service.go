package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// OrderStatusService applies lifecycle transitions requested after checkout:
// payment proof submission by the buyer and admin fulfilment actions.
type OrderStatusService struct {
	db        port.DatabaseRepository
	events    *EventQueue
	logger    zerolog.Logger
	txTimeout time.Duration
}

type StatusOption func(*OrderStatusService)

// WithStatusTxTimeout bounds each status transaction the same way
// WithTxTimeout bounds checkout.
func WithStatusTxTimeout(d time.Duration) StatusOption {
	return func(s *OrderStatusService) { s.txTimeout = d }
}

func NewOrderStatusService(db port.DatabaseRepository, events *EventQueue, logger zerolog.Logger, opts ...StatusOption) *OrderStatusService {
	s := &OrderStatusService{db: db, events: events, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderStatusService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.db.GetOrder(ctx, orderID)
}

func (s *OrderStatusService) ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	return s.db.ListOrdersByUser(ctx, userID)
}

// SubmitPaymentProof attaches the buyer's proof reference and moves the order
// to WAITING_CONFIRMATION.
func (s *OrderStatusService) SubmitPaymentProof(ctx context.Context, orderID, userID, proofRef string) (*domain.Order, error) {
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return nil, &domain.ValidationError{Field: "proof_url", Reason: "required"}
	}

	owner := func(order *domain.Order) error {
		if order.UserID != userID {
			return domain.ErrForbidden
		}
		return nil
	}
	return s.transition(ctx, orderID, domain.OrderStatusWaitingConfirmation, owner, func(_ context.Context, order *domain.Order) error {
		order.PaymentProof = &proofRef
		return nil
	})
}

// UpdateStatus is the admin path. Cancelling returns the order's units to stock
// in the same transaction.
func (s *OrderStatusService) UpdateStatus(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.Order, error) {
	if !to.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", to)}
	}
	if to == domain.OrderStatusWaitingConfirmation {
		return nil, fmt.Errorf("%w: waiting confirmation is reached by submitting a payment proof", domain.ErrInvalidTransition)
	}

	return s.transition(ctx, orderID, to, nil, func(txCtx context.Context, order *domain.Order) error {
		if to != domain.OrderStatusCancelled {
			return nil
		}
		for _, line := range order.Lines {
			if err := s.db.IncrementStock(txCtx, line.ProductID, line.Quantity); err != nil {
				return fmt.Errorf("restock product %d: %w", line.ProductID, err)
			}
		}
		return nil
	})
}

// transition locks the order, checks authorize (if any) before the lifecycle
// rule, then runs apply and persists the new status in one transaction.
func (s *OrderStatusService) transition(
	ctx context.Context,
	orderID string,
	to domain.OrderStatus,
	authorize func(order *domain.Order) error,
	apply func(txCtx context.Context, order *domain.Order) error,
) (*domain.Order, error) {
	var (
		updated  *domain.Order
		previous domain.OrderStatus
	)
	ctx, cancel := withTxTimeout(ctx, s.txTimeout)
	defer cancel()

	err := s.db.WithTx(ctx, func(txCtx context.Context) error {
		order, err := s.db.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		previous = order.Status

		if authorize != nil {
			if err := authorize(order); err != nil {
				return err
			}
		}
		next, err := order.Status.Transition(to)
		if err != nil {
			return err
		}
		if err := apply(txCtx, order); err != nil {
			return err
		}
		if err := s.db.UpdateOrderStatus(txCtx, orderID, previous, next, order.PaymentProof); err != nil {
			return err
		}
		order.Status = next
		order.UpdatedAt = time.Now().UTC()
		updated = order
		return nil
	})
	if err != nil {
		return nil, classifyTxError("update order status", err)
	}

	s.logger.Info().Str("order_id", orderID).Str("from", string(previous)).
		Str("to", string(updated.Status)).Msg("order status changed")
	s.events.enqueue(OrderEvent{Type: EventOrderStatusChanged, Order: *updated, Previous: previous})
	return updated, nil
}
