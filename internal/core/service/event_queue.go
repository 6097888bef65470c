package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
)

type OrderEvent struct {
	Type     string
	Order    domain.Order
	Previous domain.OrderStatus
}

// EventQueue buffers committed order events for the publish workers so that
// a slow broker never holds up a checkout. A nil queue drops everything.
type EventQueue struct {
	ch     chan OrderEvent
	logger zerolog.Logger
}

func NewEventQueue(size int, logger zerolog.Logger) *EventQueue {
	return &EventQueue{
		ch:     make(chan OrderEvent, size),
		logger: logger,
	}
}

func (q *EventQueue) enqueue(ev OrderEvent) {
	if q == nil {
		return
	}
	select {
	case q.ch <- ev:
	default:
		q.logger.Warn().Str("type", ev.Type).Str("order_id", ev.Order.ID).Msg("event queue full, dropping event")
	}
}

func (q *EventQueue) Events() <-chan OrderEvent {
	return q.ch
}

func (q *EventQueue) Close() {
	close(q.ch)
}

// PublishLoop drains queue until it is closed.
func PublishLoop(id int, queue <-chan OrderEvent, publisher port.EventPublisher, logger zerolog.Logger) {
	for ev := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		var err error
		switch ev.Type {
		case EventOrderPlaced:
			err = publisher.PublishOrderPlaced(ctx, ev.Order)
		case EventOrderStatusChanged:
			err = publisher.PublishStatusChanged(ctx, ev.Order, ev.Previous)
		}
		if err != nil {
			logger.Error().Err(err).Int("worker", id).Str("type", ev.Type).
				Str("order_id", ev.Order.ID).Msg("publish order event")
		} else {
			logger.Debug().Int("worker", id).Str("type", ev.Type).
				Str("order_id", ev.Order.ID).Msg("published order event")
		}

		cancel()
	}
}
