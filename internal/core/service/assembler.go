package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type CheckoutInput struct {
	IdempotencyKey  string
	UserID          string
	ShippingAddress string
	PaymentMethod   domain.PaymentMethod
	Items           []domain.CartLine
}

// OrderAssembler turns an untrusted cart into a priced draft. Prices always
// come from the catalog.
type OrderAssembler struct {
	catalog port.CatalogReader
}

func NewOrderAssembler(catalog port.CatalogReader) *OrderAssembler {
	return &OrderAssembler{catalog: catalog}
}

func (a *OrderAssembler) Assemble(ctx context.Context, in CheckoutInput) (domain.OrderDraft, error) {
	if err := validateCheckout(in); err != nil {
		return domain.OrderDraft{}, err
	}

	ids := distinctProductIDs(in.Items)
	products, err := a.catalog.FindProducts(ctx, ids)
	if err != nil {
		return domain.OrderDraft{}, fmt.Errorf("resolve products: %w", err)
	}

	byID := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	draft := domain.OrderDraft{
		UserID:          in.UserID,
		ShippingAddress: strings.TrimSpace(in.ShippingAddress),
		PaymentMethod:   in.PaymentMethod,
		Lines:           make([]domain.DraftLine, 0, len(in.Items)),
	}
	for _, item := range in.Items {
		product, ok := byID[item.ProductID]
		if !ok {
			return domain.OrderDraft{}, &domain.ProductNotFoundError{ProductID: item.ProductID}
		}
		draft.Lines = append(draft.Lines, domain.DraftLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
		})
		total, ok := addLineTotal(draft.TotalAmount, product.Price, item.Quantity)
		if !ok {
			return domain.OrderDraft{}, &domain.ValidationError{Field: "items", Reason: "order total out of range"}
		}
		draft.TotalAmount = total
	}

	return draft, nil
}

func validateCheckout(in CheckoutInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	if strings.TrimSpace(in.ShippingAddress) == "" {
		return &domain.ValidationError{Field: "shipping_address", Reason: "required"}
	}
	if in.PaymentMethod == "" {
		return &domain.ValidationError{Field: "payment_method", Reason: "required"}
	}
	if !in.PaymentMethod.Valid() {
		return &domain.ValidationError{Field: "payment_method", Reason: fmt.Sprintf("unsupported value %q", in.PaymentMethod)}
	}
	if len(in.Items) == 0 {
		return &domain.ValidationError{Field: "items", Reason: "cart is empty"}
	}
	for i, item := range in.Items {
		if item.ProductID <= 0 {
			return &domain.ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Reason: "must be positive"}
		}
		if item.Quantity < 1 {
			return &domain.ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be at least 1"}
		}
		if item.Quantity > domain.MaxLineQuantity {
			return &domain.ValidationError{
				Field:  fmt.Sprintf("items[%d].quantity", i),
				Reason: fmt.Sprintf("must be at most %d", domain.MaxLineQuantity),
			}
		}
	}
	return nil
}

// addLineTotal adds price*quantity to total, reporting false on int64 overflow.
func addLineTotal(total, price int64, quantity int) (int64, bool) {
	if price < 0 || quantity < 0 {
		return 0, false
	}
	if price != 0 && int64(quantity) > (math.MaxInt64-total)/price {
		return 0, false
	}
	return total + price*int64(quantity), true
}

func distinctProductIDs(items []domain.CartLine) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}
