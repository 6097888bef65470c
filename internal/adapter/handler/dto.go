package handler

import (
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

// PlaceOrderRequest is the checkout body for both HTTP and gRPC. Item prices
// are accepted for client convenience and never used.
type PlaceOrderRequest struct {
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	UserID          string          `json:"user_id"`
	ShippingAddress string          `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	Items           []CartItemInput `json:"items"`
}

type CartItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	Price     int64 `json:"price,omitempty"`
}

type PlaceOrderResponse struct {
	Order    OrderResponse `json:"order"`
	Replayed bool          `json:"replayed"`
}

type OrderResponse struct {
	ID              string              `json:"id"`
	UserID          string              `json:"user_id"`
	Status          string              `json:"status"`
	TotalAmount     int64               `json:"total_amount"`
	ShippingAddress string              `json:"shipping_address"`
	PaymentMethod   string              `json:"payment_method"`
	PaymentProof    *string             `json:"payment_proof,omitempty"`
	Items           []OrderLineResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type OrderLineResponse struct {
	ID        string `json:"id"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

type PaymentProofRequest struct {
	UserID   string `json:"user_id"`
	ProofURL string `json:"proof_url"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

func (r PlaceOrderRequest) toInput() service.CheckoutInput {
	items := make([]domain.CartLine, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, domain.CartLine{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	return service.CheckoutInput{
		IdempotencyKey:  r.IdempotencyKey,
		UserID:          r.UserID,
		ShippingAddress: r.ShippingAddress,
		PaymentMethod:   domain.PaymentMethod(r.PaymentMethod),
		Items:           items,
	}
}

func newOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          string(o.Status),
		TotalAmount:     o.TotalAmount,
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   string(o.PaymentMethod),
		PaymentProof:    o.PaymentProof,
		Items:           make([]OrderLineResponse, 0, len(o.Lines)),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, l := range o.Lines {
		resp.Items = append(resp.Items, OrderLineResponse{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Subtotal:  l.Subtotal(),
		})
	}
	return resp
}
