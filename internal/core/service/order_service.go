package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/metrics"
	"github.com/rl1809/storefront/internal/port"
)

const idempotencyKeyPrefix = "checkout:"

type CheckoutResult struct {
	Order    *domain.Order
	Replayed bool
}

// OrderService places orders. PlaceOrder is the atomic core; Checkout wraps it
// with request idempotency, metrics and event emission.
type OrderService struct {
	db        port.DatabaseRepository
	cache     port.CacheRepository
	events    *EventQueue
	assembler *OrderAssembler
	guard     *InventoryGuard
	metrics   *metrics.CheckoutMetrics
	logger    zerolog.Logger
	now       func() time.Time
	txTimeout time.Duration
}

type Option func(*OrderService)

// WithCache enables Idempotency-Key handling.
func WithCache(cache port.CacheRepository) Option {
	return func(s *OrderService) { s.cache = cache }
}

func WithEventQueue(q *EventQueue) Option {
	return func(s *OrderService) { s.events = q }
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *OrderService) { s.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *OrderService) { s.logger = logger }
}

// WithTxTimeout bounds each order transaction; past it the checkout fails as
// retryable and nothing persists.
func WithTxTimeout(d time.Duration) Option {
	return func(s *OrderService) { s.txTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewOrderService(db port.DatabaseRepository, opts ...Option) *OrderService {
	s := &OrderService{
		db:        db,
		assembler: NewOrderAssembler(db),
		guard:     NewInventoryGuard(db),
		logger:    zerolog.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderService) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	start := time.Now()
	res, err := s.checkout(ctx, in)
	outcome := checkoutOutcome(res, err)
	s.metrics.ObserveCheckout(outcome, time.Since(start))

	log := s.logger.With().Str("user_id", in.UserID).Str("outcome", outcome).Logger()
	switch {
	case err == nil:
		log.Info().Str("order_id", res.Order.ID).Int64("total_amount", res.Order.TotalAmount).
			Bool("replayed", res.Replayed).Msg("checkout completed")
	case domain.IsRetryable(err):
		log.Warn().Err(err).Msg("checkout aborted")
	case outcome == outcomeError:
		log.Error().Err(err).Msg("checkout failed")
	default:
		log.Debug().Err(err).Msg("checkout rejected")
	}
	return res, err
}

func (s *OrderService) checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if in.IdempotencyKey == "" || s.cache == nil {
		order, err := s.assembleAndPlace(ctx, in)
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{Order: order}, nil
	}

	key := fmt.Sprintf("%s%s:%s", idempotencyKeyPrefix, in.UserID, in.IdempotencyKey)
	ok, err := s.cache.SetIdempotency(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return s.replay(ctx, key)
	}

	order, err := s.assembleAndPlace(ctx, in)
	// The request context may already be gone; the key must still settle.
	settleCtx := context.WithoutCancel(ctx)
	if err != nil {
		if relErr := s.cache.ReleaseIdempotency(settleCtx, key); relErr != nil {
			s.logger.Warn().Err(relErr).Str("key", key).Msg("release idempotency key")
		}
		return nil, err
	}
	if err := s.cache.CompleteIdempotency(settleCtx, key, order.ID); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Str("order_id", order.ID).Msg("complete idempotency key")
	}
	return &CheckoutResult{Order: order}, nil
}

func (s *OrderService) replay(ctx context.Context, key string) (*CheckoutResult, error) {
	orderID, found, err := s.cache.GetIdempotency(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if !found || orderID == "" {
		return nil, domain.ErrDuplicateRequest
	}
	order, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load replayed order: %w", err)
	}
	return &CheckoutResult{Order: order, Replayed: true}, nil
}

func (s *OrderService) assembleAndPlace(ctx context.Context, in CheckoutInput) (*domain.Order, error) {
	draft, err := s.assembler.Assemble(ctx, in)
	if err != nil {
		return nil, err
	}
	order, err := s.PlaceOrder(ctx, draft)
	if err != nil {
		return nil, err
	}
	s.events.enqueue(OrderEvent{Type: EventOrderPlaced, Order: *order})
	return order, nil
}

// PlaceOrder re-checks and decrements stock, then inserts the order and its
// lines, all in one transaction. New orders always start PENDING.
func (s *OrderService) PlaceOrder(ctx context.Context, draft domain.OrderDraft) (*domain.Order, error) {
	if len(draft.Lines) == 0 {
		return nil, &domain.ValidationError{Field: "items", Reason: "cart is empty"}
	}

	now := s.now()
	order := &domain.Order{
		ID:              uuid.NewString(),
		UserID:          draft.UserID,
		TotalAmount:     draft.TotalAmount,
		Status:          domain.OrderStatusPending,
		ShippingAddress: draft.ShippingAddress,
		PaymentMethod:   draft.PaymentMethod,
		Lines:           make([]domain.OrderLine, 0, len(draft.Lines)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, line := range draft.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	ctx, cancel := withTxTimeout(ctx, s.txTimeout)
	defer cancel()

	err := s.db.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.guard.Reserve(txCtx, draft.Lines); err != nil {
			return err
		}
		return s.db.CreateOrder(txCtx, order)
	})
	if err != nil {
		return nil, classifyTxError("place order", err)
	}

	return order, nil
}

func withTxTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// classifyTxError passes domain errors through, reports a context that ended
// mid-transaction as a retryable abort and wraps anything else with op.
func classifyTxError(op string, err error) error {
	var (
		validation *domain.ValidationError
		notFound   *domain.ProductNotFoundError
		shortage   *domain.InsufficientStockError
		aborted    *domain.TransactionAbortedError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &notFound),
		errors.As(err, &shortage), errors.As(err, &aborted),
		errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrForbidden):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &domain.TransactionAbortedError{Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

const (
	outcomePlaced            = "placed"
	outcomeReplayed          = "replayed"
	outcomeValidation        = "validation_error"
	outcomeProductNotFound   = "product_not_found"
	outcomeInsufficientStock = "insufficient_stock"
	outcomeDuplicate         = "duplicate_request"
	outcomeAborted           = "aborted"
	outcomeError             = "error"
)

func checkoutOutcome(res *CheckoutResult, err error) string {
	var (
		validation *domain.ValidationError
		notFound   *domain.ProductNotFoundError
		shortage   *domain.InsufficientStockError
	)
	switch {
	case err == nil && res.Replayed:
		return outcomeReplayed
	case err == nil:
		return outcomePlaced
	case errors.As(err, &validation):
		return outcomeValidation
	case errors.As(err, &notFound):
		return outcomeProductNotFound
	case errors.As(err, &shortage):
		return outcomeInsufficientStock
	case errors.Is(err, domain.ErrDuplicateRequest):
		return outcomeDuplicate
	case domain.IsRetryable(err):
		return outcomeAborted
	}
	return outcomeError
}
