package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OrderEvent struct {
	EventID        string      `json:"event_id"`
	Type           string      `json:"type"`
	OccurredAt     time.Time   `json:"occurred_at"`
	OrderID        string      `json:"order_id"`
	UserID         string      `json:"user_id"`
	Status         string      `json:"status"`
	PreviousStatus string      `json:"previous_status,omitempty"`
	TotalAmount    int64       `json:"total_amount"`
	PaymentMethod  string      `json:"payment_method"`
	Lines          []EventLine `json:"lines,omitempty"`
}

type EventLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

// KafkaPublisher writes order events keyed by order id so every event of one
// order lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 5 * time.Second,
	})
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, now: func() time.Time { return time.Now().UTC() }}
}

func (p *KafkaPublisher) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	ev := p.event(service.EventOrderPlaced, order)
	for _, l := range order.Lines {
		ev.Lines = append(ev.Lines, EventLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return p.publish(ctx, ev)
}

func (p *KafkaPublisher) PublishStatusChanged(ctx context.Context, order domain.Order, previous domain.OrderStatus) error {
	ev := p.event(service.EventOrderStatusChanged, order)
	ev.PreviousStatus = string(previous)
	return p.publish(ctx, ev)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) event(typ string, order domain.Order) OrderEvent {
	return OrderEvent{
		EventID:       uuid.NewString(),
		Type:          typ,
		OccurredAt:    p.now(),
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        string(order.Status),
		TotalAmount:   order.TotalAmount,
		PaymentMethod: string(order.PaymentMethod),
	}
}

func (p *KafkaPublisher) publish(ctx context.Context, ev OrderEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	return nil
}

// LogPublisher stands in for Kafka when no brokers are configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishOrderPlaced(_ context.Context, order domain.Order) error {
	p.logger.Info().Str("type", service.EventOrderPlaced).Str("order_id", order.ID).
		Int64("total_amount", order.TotalAmount).Int("lines", len(order.Lines)).Msg("order event")
	return nil
}

func (p *LogPublisher) PublishStatusChanged(_ context.Context, order domain.Order, previous domain.OrderStatus) error {
	p.logger.Info().Str("type", service.EventOrderStatusChanged).Str("order_id", order.ID).
		Str("from", string(previous)).Str("to", string(order.Status)).Msg("order event")
	return nil
}
